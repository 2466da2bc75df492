// Package domain holds task, peer, and identity entities plus the document
// shapes exchanged with the store. It has no dependencies on other packages.
package domain

// Fields is a document body keyed by field name.
type Fields map[string]any

// Record is one document as returned by a store read or live query.
type Record struct {
	Key    string `json:"key"`
	Fields Fields `json:"fields"`
}

// Condition is an equality filter on a top-level field.
type Condition struct {
	Field string `json:"field"`
	Value any    `json:"value"`
}

// Order sorts query results by a top-level field.
type Order struct {
	Field string `json:"field"`
	Desc  bool   `json:"desc,omitempty"`
}

// Query selects documents of one collection. Results are ordered by OrderBy,
// then by key so equal sort values still have a stable order.
type Query struct {
	Collection string      `json:"collection"`
	Where      []Condition `json:"where,omitempty"`
	OrderBy    []Order     `json:"order_by,omitempty"`
}

// ResultBatch is the full result set of a live query at change sequence Seq.
type ResultBatch struct {
	Seq     int64    `json:"seq"`
	Records []Record `json:"records"`
}
