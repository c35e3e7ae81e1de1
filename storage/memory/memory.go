// Package memory provides the in-process storage backend. State survives
// only as long as the process; it exists for tests, demos, and meshes that
// deliberately opt out of durability.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/c360/gadgetmesh/errors"
	"github.com/c360/gadgetmesh/storage"
)

type snapshotRecord struct {
	meta  storage.Snapshot
	blobs map[string][]byte
}

// Store is a thread-safe in-memory implementation of storage.Store.
type Store struct {
	mu        sync.RWMutex
	blobs     map[string]map[string][]byte        // addr -> name -> data
	snapshots map[string]map[string]snapshotRecord // addr -> id -> record
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		blobs:     make(map[string]map[string][]byte),
		snapshots: make(map[string]map[string]snapshotRecord),
	}
}

// Save stores a blob, overwriting any prior value.
func (s *Store) Save(_ context.Context, addr storage.Address, name string, data []byte) error {
	if err := addr.Validate(); err != nil {
		return errors.WrapInvalid(err, "MemoryStore", "Save", "address validation")
	}
	if name == "" {
		return errors.WrapInvalid(
			fmt.Errorf("blob name required"),
			"MemoryStore", "Save", "name validation")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	scope, ok := s.blobs[addr.String()]
	if !ok {
		scope = make(map[string][]byte)
		s.blobs[addr.String()] = scope
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	scope[name] = buf
	return nil
}

// Load retrieves a blob.
func (s *Store) Load(_ context.Context, addr storage.Address, name string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[addr.String()][name]
	if !ok {
		return nil, errors.WrapInvalid(
			fmt.Errorf("blob %q at %s: %w", name, addr, errors.ErrKeyNotFound),
			"MemoryStore", "Load", "blob lookup")
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Exists reports whether a blob is stored.
func (s *Store) Exists(_ context.Context, addr storage.Address, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blobs[addr.String()][name]
	return ok, nil
}

// Delete removes a blob. Removing an absent blob is a no-op.
func (s *Store) Delete(_ context.Context, addr storage.Address, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs[addr.String()], name)
	return nil
}

// List returns the blob names stored under addr in lexicographic order.
func (s *Store) List(_ context.Context, addr storage.Address) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	scope := s.blobs[addr.String()]
	names := make([]string, 0, len(scope))
	for name := range scope {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// CreateSnapshot captures every blob currently stored under addr.
func (s *Store) CreateSnapshot(_ context.Context, addr storage.Address, id string) (storage.Snapshot, error) {
	if err := addr.Validate(); err != nil {
		return storage.Snapshot{}, errors.WrapInvalid(err, "MemoryStore", "CreateSnapshot", "address validation")
	}
	if id == "" {
		return storage.Snapshot{}, errors.WrapInvalid(
			fmt.Errorf("snapshot id required"),
			"MemoryStore", "CreateSnapshot", "id validation")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	scope := s.blobs[addr.String()]
	blobs := make(map[string][]byte, len(scope))
	for name, data := range scope {
		buf := make([]byte, len(data))
		copy(buf, data)
		blobs[name] = buf
	}

	record := snapshotRecord{
		meta: storage.Snapshot{
			ID:        id,
			Address:   addr,
			CreatedAt: time.Now().UTC(),
			BlobCount: len(blobs),
		},
		blobs: blobs,
	}
	snaps, ok := s.snapshots[addr.String()]
	if !ok {
		snaps = make(map[string]snapshotRecord)
		s.snapshots[addr.String()] = snaps
	}
	snaps[id] = record
	return record.meta, nil
}

// ListSnapshots returns the snapshots captured for addr, oldest first.
func (s *Store) ListSnapshots(_ context.Context, addr storage.Address) ([]storage.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snaps := s.snapshots[addr.String()]
	out := make([]storage.Snapshot, 0, len(snaps))
	for _, record := range snaps {
		out = append(out, record.meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// RestoreSnapshot replaces the live blobs under addr with the snapshot's
// contents.
func (s *Store) RestoreSnapshot(_ context.Context, addr storage.Address, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.snapshots[addr.String()][id]
	if !ok {
		return errors.WrapInvalid(
			fmt.Errorf("snapshot %q at %s: %w", id, addr, errors.ErrSnapshotNotFound),
			"MemoryStore", "RestoreSnapshot", "snapshot lookup")
	}

	scope := make(map[string][]byte, len(record.blobs))
	for name, data := range record.blobs {
		buf := make([]byte, len(data))
		copy(buf, data)
		scope[name] = buf
	}
	s.blobs[addr.String()] = scope
	return nil
}
