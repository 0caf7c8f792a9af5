package kv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"carealert/internal/config"

	"github.com/dgraph-io/badger/v4"
)

// BadgerStore persists values in an embedded on-device database.
// Params: open badger handle.
// Returns: disk-backed store implementation.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens badger database at configured path.
// Params: badger settings and optional logger for badger internals.
// Returns: initialized store or open error.
func NewBadgerStore(settings config.BadgerStoreConfig, logger *slog.Logger) (*BadgerStore, error) {
	if settings.Path == "" {
		return nil, errors.New("badger path is required")
	}
	if err := os.MkdirAll(settings.Path, 0o750); err != nil {
		return nil, fmt.Errorf("create badger dir %q: %w", settings.Path, err)
	}
	opts := badger.DefaultOptions(settings.Path).
		WithSyncWrites(settings.SyncWrites).
		WithNumVersionsToKeep(1)
	return openBadger(opts, logger)
}

// NewInMemoryBadgerStore opens a badger database without disk persistence.
// Params: optional logger.
// Returns: initialized store or open error.
func NewInMemoryBadgerStore(logger *slog.Logger) (*BadgerStore, error) {
	return openBadger(badger.DefaultOptions("").WithInMemory(true), logger)
}

func openBadger(opts badger.Options, logger *slog.Logger) (*BadgerStore, error) {
	if logger != nil {
		opts = opts.WithLogger(badgerLogger{logger: logger})
	} else {
		opts = opts.WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// Get reads value for key.
// Params: context and key.
// Returns: value copy or ErrNotFound.
func (s *BadgerStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %q: %w", key, err)
	}
	return value, nil
}

// Put writes value unconditionally.
// Params: context, key, and value.
// Returns: write error.
func (s *BadgerStore) Put(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	}); err != nil {
		return fmt.Errorf("put %q: %w", key, err)
	}
	return nil
}

// Delete removes key; absent keys are ignored.
// Params: context and key.
// Returns: delete error.
func (s *BadgerStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	}); err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

// Close flushes and closes the database.
// Params: none.
// Returns: close error.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// badgerLogger adapts slog to badger's logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
