package kv

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"carealert/internal/config"

	"github.com/nats-io/nats.go"
)

// NATSStore persists values in one JetStream KV bucket.
// Params: NATS connection and KV bucket handle.
// Returns: KV-backed store implementation.
type NATSStore struct {
	nc     *nats.Conn
	bucket nats.KeyValue
}

// NewNATSStore opens (or creates) the KV bucket and returns NATS store backend.
// Params: NATS store settings from config.
// Returns: initialized NATS store or setup error.
func NewNATSStore(settings config.NATSStoreConfig) (*NATSStore, error) {
	nc, err := nats.Connect(strings.Join(settings.URL, ","))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	bucket, err := js.KeyValue(settings.Bucket)
	if err != nil {
		if !settings.AllowCreateBuckets {
			nc.Close()
			return nil, fmt.Errorf("open bucket %q: %w", settings.Bucket, err)
		}
		bucket, err = js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket:  settings.Bucket,
			History: 1,
		})
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("create bucket %q: %w", settings.Bucket, err)
		}
	}

	return &NATSStore{nc: nc, bucket: bucket}, nil
}

// Get reads latest value for key.
// Params: context and key.
// Returns: value or ErrNotFound.
func (s *NATSStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entry, err := s.bucket.Get(key)
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get %q: %w", key, err)
	}
	return entry.Value(), nil
}

// Put writes value unconditionally.
// Params: context, key, and value.
// Returns: put error.
func (s *NATSStore) Put(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.bucket.Put(key, value); err != nil {
		return fmt.Errorf("put %q: %w", key, err)
	}
	return nil
}

// Delete removes key; absent keys are ignored.
// Params: context and key.
// Returns: delete error.
func (s *NATSStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.bucket.Delete(key); err != nil && !errors.Is(err, nats.ErrKeyNotFound) {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

// Close closes underlying NATS connection.
// Params: none.
// Returns: nil after connection close.
func (s *NATSStore) Close() error {
	s.nc.Close()
	return nil
}
