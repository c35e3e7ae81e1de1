// Package storage defines the pluggable persistence boundary. The mesh core
// never persists anything itself; whichever layer owns durability calls this
// interface to save and restore named state blobs and point-in-time
// snapshots.
//
// Addressing is hierarchical: every blob belongs to a (network, group)
// scope, and keys are strings so implementations can map them onto object
// stores, KV buckets, or filesystems without translation. Values are opaque
// binary data; callers decide the encoding.
//
// All implementations must be safe for concurrent use.
package storage

import (
	"context"
	"fmt"
	"time"
)

// Address scopes stored state to one group within one mesh network.
type Address struct {
	NetworkID string `json:"network_id"`
	GroupID   string `json:"group_id"`
}

// Validate reports whether both address components are present.
func (a Address) Validate() error {
	if a.NetworkID == "" || a.GroupID == "" {
		return fmt.Errorf("address requires network and group, got %+v", a)
	}
	return nil
}

// String renders the address as a hierarchical prefix.
func (a Address) String() string {
	return a.NetworkID + "." + a.GroupID
}

// Snapshot describes one point-in-time capture of a scope's blobs.
type Snapshot struct {
	ID        string    `json:"id"`
	Address   Address   `json:"address"`
	CreatedAt time.Time `json:"created_at"`
	BlobCount int       `json:"blob_count"`
}

// Store persists named state blobs and snapshots. Save overwrites; Delete is
// idempotent; Load of a missing name reports a not-found error.
type Store interface {
	Save(ctx context.Context, addr Address, name string, data []byte) error
	Load(ctx context.Context, addr Address, name string) ([]byte, error)
	Exists(ctx context.Context, addr Address, name string) (bool, error)
	Delete(ctx context.Context, addr Address, name string) error
	List(ctx context.Context, addr Address) ([]string, error)

	// CreateSnapshot captures every blob currently stored under addr.
	CreateSnapshot(ctx context.Context, addr Address, id string) (Snapshot, error)
	// ListSnapshots returns the snapshots captured for addr, oldest first.
	ListSnapshots(ctx context.Context, addr Address) ([]Snapshot, error)
	// RestoreSnapshot replaces the live blobs under addr with the
	// snapshot's contents.
	RestoreSnapshot(ctx context.Context, addr Address, id string) error
}
