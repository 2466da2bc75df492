package domain

import "time"

// Credential usages requested for peer authentication.
const (
	UsageClientAuth = "client-auth"
	UsageServerAuth = "server-auth"
)

// AttrCommonName is the attribute carrying the credential's common name.
const AttrCommonName = "common_name"

// Credential is the identity presented to peers. The token is opaque to the
// core; only NotAfter is inspected.
type Credential struct {
	Label      string            `json:"label"`
	PeerID     string            `json:"peer_id"`
	CommonName string            `json:"common_name"`
	Usages     []string          `json:"usages,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	PublicKey  []byte            `json:"public_key,omitempty"`
	PrivateKey []byte            `json:"-"`
	Token      string            `json:"token,omitempty"`
	IssuedAt   time.Time         `json:"issued_at"`
	NotAfter   time.Time         `json:"not_after"`
}

// Expired reports whether c is no longer valid at now.
func (c *Credential) Expired(now time.Time) bool {
	return c == nil || !now.Before(c.NotAfter)
}
