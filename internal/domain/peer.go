package domain

import (
	"errors"
	"fmt"
	"time"
)

// Activity is the replication activity level reported for a peer.
type Activity string

const (
	ActivityStopped    Activity = "stopped"
	ActivityOffline    Activity = "offline"
	ActivityConnecting Activity = "connecting"
	ActivityIdle       Activity = "idle"
	ActivityBusy       Activity = "busy"
)

// Valid reports whether a is one of the known activity levels.
func (a Activity) Valid() bool {
	switch a {
	case ActivityStopped, ActivityOffline, ActivityConnecting, ActivityIdle, ActivityBusy:
		return true
	}
	return false
}

// Direction tells whether this device drives replication with a peer (active)
// or accepts it (passive).
type Direction string

const (
	DirectionActive  Direction = "active"
	DirectionPassive Direction = "passive"
)

// Valid reports whether d is active or passive.
func (d Direction) Valid() bool {
	return d == DirectionActive || d == DirectionPassive
}

// Role is the display name of the direction, e.g. "active peer".
func (d Direction) Role() string {
	switch d {
	case DirectionActive:
		return "active peer"
	case DirectionPassive:
		return "passive peer"
	}
	return "unknown peer"
}

// Peer is one row of the peer list handed to the UI.
type Peer struct {
	ID        string    `json:"id"`
	Connected bool      `json:"connected"`
	Status    string    `json:"status"`
	Direction Direction `json:"direction,omitempty"`
	Activity  Activity  `json:"activity,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// PeerInfo is the engine's current view of a neighbour.
type PeerInfo struct {
	PeerID    string    `json:"peer_id"`
	Online    bool      `json:"online"`
	Activity  Activity  `json:"activity,omitempty"`
	Direction Direction `json:"direction,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// LinkEvent reports whether the local replication subsystem is running at all.
type LinkEvent struct {
	Online bool      `json:"online"`
	At     time.Time `json:"at"`
}

// DiscoveryEvent reports a neighbour appearing or disappearing.
type DiscoveryEvent struct {
	PeerID string    `json:"peer_id"`
	Online bool      `json:"online"`
	At     time.Time `json:"at"`
}

// ReplicationEvent reports the replication state with one neighbour.
type ReplicationEvent struct {
	PeerID    string    `json:"peer_id"`
	Activity  Activity  `json:"activity"`
	Direction Direction `json:"direction"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// Validate rejects events with no peer id or an unknown activity or direction.
func (e ReplicationEvent) Validate() error {
	if e.PeerID == "" {
		return errors.New("replication event: missing peer id")
	}
	if !e.Activity.Valid() {
		return fmt.Errorf("replication event for %s: unknown activity %q", e.PeerID, e.Activity)
	}
	if !e.Direction.Valid() {
		return fmt.Errorf("replication event for %s: unknown direction %q", e.PeerID, e.Direction)
	}
	return nil
}

// Validate rejects events with no peer id.
func (e DiscoveryEvent) Validate() error {
	if e.PeerID == "" {
		return errors.New("discovery event: missing peer id")
	}
	return nil
}
