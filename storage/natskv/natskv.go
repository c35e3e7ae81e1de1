// Package natskv implements the storage boundary on a NATS JetStream
// key-value bucket, giving mesh state the bucket's replication and history
// guarantees. Blob and snapshot names must be valid KV key tokens
// (alphanumerics, '-', '_').
package natskv

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/gadgetmesh/errors"
	"github.com/c360/gadgetmesh/storage"
)

const (
	blobPrefix = "blobs"
	snapPrefix = "snaps"
)

// Store persists mesh state in one JetStream KV bucket. The bucket handle
// is owned by the caller.
type Store struct {
	kv jetstream.KeyValue
}

// New wraps an existing KV bucket.
func New(kv jetstream.KeyValue) (*Store, error) {
	if kv == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "NATSKVStore", "New", "bucket validation")
	}
	return &Store{kv: kv}, nil
}

func blobKey(addr storage.Address, name string) string {
	return strings.Join([]string{blobPrefix, addr.NetworkID, addr.GroupID, name}, ".")
}

func snapMetaKey(addr storage.Address, id string) string {
	return strings.Join([]string{snapPrefix, addr.NetworkID, addr.GroupID, id, "meta"}, ".")
}

func snapBlobKey(addr storage.Address, id, name string) string {
	return strings.Join([]string{snapPrefix, addr.NetworkID, addr.GroupID, id, "data", name}, ".")
}

func validateName(name string) error {
	if name == "" || strings.ContainsAny(name, ". ") {
		return fmt.Errorf("name %q is not a valid key token", name)
	}
	return nil
}

// Save stores a blob, overwriting any prior value.
func (s *Store) Save(ctx context.Context, addr storage.Address, name string, data []byte) error {
	if err := addr.Validate(); err != nil {
		return errors.WrapInvalid(err, "NATSKVStore", "Save", "address validation")
	}
	if err := validateName(name); err != nil {
		return errors.WrapInvalid(err, "NATSKVStore", "Save", "name validation")
	}
	if _, err := s.kv.Put(ctx, blobKey(addr, name), data); err != nil {
		return errors.WrapTransient(err, "NATSKVStore", "Save", "bucket write")
	}
	return nil
}

// Load retrieves a blob.
func (s *Store) Load(ctx context.Context, addr storage.Address, name string) ([]byte, error) {
	entry, err := s.kv.Get(ctx, blobKey(addr, name))
	if err != nil {
		if stderrors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, errors.WrapInvalid(
				fmt.Errorf("blob %q at %s: %w", name, addr, errors.ErrKeyNotFound),
				"NATSKVStore", "Load", "blob lookup")
		}
		return nil, errors.WrapTransient(err, "NATSKVStore", "Load", "bucket read")
	}
	return entry.Value(), nil
}

// Exists reports whether a blob is stored.
func (s *Store) Exists(ctx context.Context, addr storage.Address, name string) (bool, error) {
	_, err := s.kv.Get(ctx, blobKey(addr, name))
	if err != nil {
		if stderrors.Is(err, jetstream.ErrKeyNotFound) {
			return false, nil
		}
		return false, errors.WrapTransient(err, "NATSKVStore", "Exists", "bucket read")
	}
	return true, nil
}

// Delete removes a blob. Removing an absent blob is a no-op.
func (s *Store) Delete(ctx context.Context, addr storage.Address, name string) error {
	err := s.kv.Purge(ctx, blobKey(addr, name))
	if err != nil && !stderrors.Is(err, jetstream.ErrKeyNotFound) {
		return errors.WrapTransient(err, "NATSKVStore", "Delete", "bucket purge")
	}
	return nil
}

// List returns the blob names stored under addr in lexicographic order.
func (s *Store) List(ctx context.Context, addr storage.Address) ([]string, error) {
	prefix := blobKey(addr, "")
	keys, err := s.keysWithPrefix(ctx, prefix)
	if err != nil {
		return nil, errors.WrapTransient(err, "NATSKVStore", "List", "key enumeration")
	}
	names := make([]string, 0, len(keys))
	for _, key := range keys {
		names = append(names, strings.TrimPrefix(key, prefix))
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) keysWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	lister, err := s.kv.ListKeys(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = lister.Stop() }()

	var keys []string
	for key := range lister.Keys() {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// CreateSnapshot captures every blob currently stored under addr.
func (s *Store) CreateSnapshot(ctx context.Context, addr storage.Address, id string) (storage.Snapshot, error) {
	if err := addr.Validate(); err != nil {
		return storage.Snapshot{}, errors.WrapInvalid(err, "NATSKVStore", "CreateSnapshot", "address validation")
	}
	if err := validateName(id); err != nil {
		return storage.Snapshot{}, errors.WrapInvalid(err, "NATSKVStore", "CreateSnapshot", "id validation")
	}

	names, err := s.List(ctx, addr)
	if err != nil {
		return storage.Snapshot{}, err
	}
	for _, name := range names {
		data, err := s.Load(ctx, addr, name)
		if err != nil {
			return storage.Snapshot{}, err
		}
		if _, err := s.kv.Put(ctx, snapBlobKey(addr, id, name), data); err != nil {
			return storage.Snapshot{}, errors.WrapTransient(err, "NATSKVStore", "CreateSnapshot", "blob capture")
		}
	}

	meta := storage.Snapshot{
		ID:        id,
		Address:   addr,
		CreatedAt: time.Now().UTC(),
		BlobCount: len(names),
	}
	encoded, err := json.Marshal(meta)
	if err != nil {
		return storage.Snapshot{}, errors.WrapInvalid(err, "NATSKVStore", "CreateSnapshot", "metadata encode")
	}
	if _, err := s.kv.Put(ctx, snapMetaKey(addr, id), encoded); err != nil {
		return storage.Snapshot{}, errors.WrapTransient(err, "NATSKVStore", "CreateSnapshot", "metadata write")
	}
	return meta, nil
}

// ListSnapshots returns the snapshots captured for addr, oldest first.
func (s *Store) ListSnapshots(ctx context.Context, addr storage.Address) ([]storage.Snapshot, error) {
	prefix := strings.Join([]string{snapPrefix, addr.NetworkID, addr.GroupID}, ".") + "."
	keys, err := s.keysWithPrefix(ctx, prefix)
	if err != nil {
		return nil, errors.WrapTransient(err, "NATSKVStore", "ListSnapshots", "key enumeration")
	}

	var snaps []storage.Snapshot
	for _, key := range keys {
		if !strings.HasSuffix(key, ".meta") {
			continue
		}
		entry, err := s.kv.Get(ctx, key)
		if err != nil {
			return nil, errors.WrapTransient(err, "NATSKVStore", "ListSnapshots", "metadata read")
		}
		var meta storage.Snapshot
		if err := json.Unmarshal(entry.Value(), &meta); err != nil {
			return nil, errors.WrapInvalid(err, "NATSKVStore", "ListSnapshots", "metadata decode")
		}
		snaps = append(snaps, meta)
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].CreatedAt.Before(snaps[j].CreatedAt) })
	return snaps, nil
}

// RestoreSnapshot replaces the live blobs under addr with the snapshot's
// contents.
func (s *Store) RestoreSnapshot(ctx context.Context, addr storage.Address, id string) error {
	if _, err := s.kv.Get(ctx, snapMetaKey(addr, id)); err != nil {
		if stderrors.Is(err, jetstream.ErrKeyNotFound) {
			return errors.WrapInvalid(
				fmt.Errorf("snapshot %q at %s: %w", id, addr, errors.ErrSnapshotNotFound),
				"NATSKVStore", "RestoreSnapshot", "snapshot lookup")
		}
		return errors.WrapTransient(err, "NATSKVStore", "RestoreSnapshot", "metadata read")
	}

	// Clear live blobs, then copy the captured set back.
	liveNames, err := s.List(ctx, addr)
	if err != nil {
		return err
	}
	for _, name := range liveNames {
		if err := s.Delete(ctx, addr, name); err != nil {
			return err
		}
	}

	capturedPrefix := strings.Join([]string{snapPrefix, addr.NetworkID, addr.GroupID, id, "data"}, ".") + "."
	captured, err := s.keysWithPrefix(ctx, capturedPrefix)
	if err != nil {
		return errors.WrapTransient(err, "NATSKVStore", "RestoreSnapshot", "key enumeration")
	}
	for _, key := range captured {
		entry, err := s.kv.Get(ctx, key)
		if err != nil {
			return errors.WrapTransient(err, "NATSKVStore", "RestoreSnapshot", "blob read")
		}
		name := strings.TrimPrefix(key, capturedPrefix)
		if _, err := s.kv.Put(ctx, blobKey(addr, name), entry.Value()); err != nil {
			return errors.WrapTransient(err, "NATSKVStore", "RestoreSnapshot", "blob write")
		}
	}
	return nil
}
