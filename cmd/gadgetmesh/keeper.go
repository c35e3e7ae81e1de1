package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/c360/gadgetmesh/blt"
	"github.com/c360/gadgetmesh/gadget"
	"github.com/c360/gadgetmesh/lattice"
	"github.com/c360/gadgetmesh/registry"
	"github.com/c360/gadgetmesh/storage"
)

// cellRecord is the persisted form of one cell: its merge operator and its
// current value in the BL/T text encoding.
type cellRecord struct {
	Merge string `json:"merge"`
	Value string `json:"value"`
}

// keeper persists live cell state through a storage.Store and restores it at
// startup, so a node restart does not lose converged values.
type keeper struct {
	store  storage.Store
	addr   storage.Address
	scope  *registry.Registry
	attach func(gadget.Gadget) // hooks restored cells onto the routing bus
	logger *slog.Logger

	gadgetOpts []gadget.Option // applied to every restored cell
}

func newKeeper(
	store storage.Store,
	addr storage.Address,
	scope *registry.Registry,
	attach func(gadget.Gadget),
	logger *slog.Logger,
	gadgetOpts ...gadget.Option,
) *keeper {
	return &keeper{
		store:      store,
		addr:       addr,
		scope:      scope,
		attach:     attach,
		logger:     logger.With("component", "keeper"),
		gadgetOpts: gadgetOpts,
	}
}

// restore loads every persisted cell and re-registers it. Records whose
// merge operator is no longer known are skipped, not fatal.
func (k *keeper) restore(ctx context.Context) error {
	names, err := k.store.List(ctx, k.addr)
	if err != nil {
		return fmt.Errorf("list persisted cells: %w", err)
	}

	restored := 0
	for _, name := range names {
		data, err := k.store.Load(ctx, k.addr, name)
		if err != nil {
			return fmt.Errorf("load cell %s: %w", name, err)
		}
		var rec cellRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			k.logger.Warn("skipping unreadable cell record", "cell", name, "error", err)
			continue
		}
		op, ok := lattice.LookupOp(rec.Merge)
		if !ok {
			k.logger.Warn("skipping cell with unknown merge operator", "cell", name, "merge", rec.Merge)
			continue
		}
		value, err := blt.ParseValue(rec.Value)
		if err != nil {
			k.logger.Warn("skipping cell with unreadable value", "cell", name, "error", err)
			continue
		}

		opts := append([]gadget.Option{gadget.WithLogger(k.logger)}, k.gadgetOpts...)
		cell := gadget.NewCell(name, op, opts...)
		cell.Receive(value)
		if err := k.scope.Register(name, cell, map[string]string{
			"kind":  gadget.KindCell,
			"merge": op.Name,
		}); err != nil {
			return fmt.Errorf("register restored cell %s: %w", name, err)
		}
		if k.attach != nil {
			k.attach(cell)
		}
		restored++
	}

	if restored > 0 {
		k.logger.Info("restored persisted cells", "count", restored)
	}
	return nil
}

// persist writes the current value of every registered cell.
func (k *keeper) persist(ctx context.Context) error {
	var firstErr error
	for name, entry := range k.scope.Entries() {
		merge, ok := entry.Meta["merge"]
		if !ok {
			continue // not a plain cell
		}
		rec := cellRecord{Merge: merge, Value: entry.Gadget.Current().Format()}
		data, err := json.Marshal(rec)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := k.store.Save(ctx, k.addr, name, data); err != nil {
			k.logger.Warn("persist failed", "cell", name, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// start persists on the given interval until ctx is cancelled. A zero
// interval disables periodic persistence.
func (k *keeper) start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := k.persist(ctx); err != nil {
					k.logger.Warn("periodic persist incomplete", "error", err)
				}
			}
		}
	}()
}

// shutdown performs a final persist and captures a snapshot of it.
func (k *keeper) shutdown(ctx context.Context) error {
	if err := k.persist(ctx); err != nil {
		return err
	}
	if len(k.scope.Entries()) == 0 {
		return nil
	}
	snap, err := k.store.CreateSnapshot(ctx, k.addr, uuid.NewString())
	if err != nil {
		return fmt.Errorf("shutdown snapshot: %w", err)
	}
	k.logger.Info("shutdown snapshot captured", "snapshot", snap.ID, "blobs", snap.BlobCount)
	return nil
}
