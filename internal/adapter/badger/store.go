// Package badger keeps tenant index snapshots in an embedded BadgerDB.
package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/DAJ8112/Yanck/internal/vector"
)

const snapshotPrefix = "snapshot/"

type SnapshotStore struct {
	db     *badger.DB
	logger *slog.Logger
}

var _ vector.SnapshotStore = (*SnapshotStore)(nil)

type badgerLoggerAdapter struct {
	logger *slog.Logger
}

var _ badger.Logger = (*badgerLoggerAdapter)(nil)

func (bl *badgerLoggerAdapter) Errorf(msg string, items ...any) {
	bl.logger.Error(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Warningf(msg string, items ...any) {
	bl.logger.Warn(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Infof(msg string, items ...any) {
	bl.logger.Info(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Debugf(msg string, items ...any) {
	bl.logger.Debug(fmt.Sprintf(msg, items...))
}

// Open opens the snapshot database under dir, creating it if needed. An empty
// dir keeps snapshots in memory only.
func Open(dir string) (*SnapshotStore, error) {
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create snapshot dir: %w", err)
		}
		opts = badger.DefaultOptions(dir)
	}

	logger := slog.Default().With("component", "snapshot-store")
	opts.Logger = &badgerLoggerAdapter{logger: logger}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &SnapshotStore{db: db, logger: logger}, nil
}

func (s *SnapshotStore) Close() error {
	return s.db.Close()
}

func (s *SnapshotStore) withTx(fn func(tx *badger.Txn) error, isWrite bool) error {
	tx := s.db.NewTransaction(isWrite)
	defer tx.Discard()
	return fn(tx)
}

func (s *SnapshotStore) Save(ctx context.Context, tenantID string, snap vector.Snapshot) error {
	value, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}
	err = s.withTx(func(tx *badger.Txn) error {
		if err := tx.Set(snapshotKey(tenantID), value); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	s.logger.DebugContext(ctx, "snapshot saved", "tenant_id", tenantID, "vectors", len(snap.Entries), "bytes", len(value))
	return nil
}

// Load returns nil, nil when the tenant has no snapshot.
func (s *SnapshotStore) Load(_ context.Context, tenantID string) (*vector.Snapshot, error) {
	var snap *vector.Snapshot
	err := s.withTx(func(tx *badger.Txn) error {
		item, err := tx.Get(snapshotKey(tenantID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			snap, err = decodeSnapshot(val)
			return err
		})
	}, false)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return snap, nil
}

func (s *SnapshotStore) Delete(_ context.Context, tenantID string) error {
	return s.withTx(func(tx *badger.Txn) error {
		if err := tx.Delete(snapshotKey(tenantID)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

func snapshotKey(tenantID string) []byte {
	return []byte(snapshotPrefix + tenantID)
}
