// Package redisstore persists the registration record in Redis.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	registrar "github.com/turkkalori/fcm-registrar"
)

// DefaultNamespace prefixes the record key when none is given.
const DefaultNamespace = "fcm-registrar"

// Store is a registrar.Store holding the record as one JSON string value.
type Store struct {
	client redis.UniversalClient
	key    string
}

var _ registrar.Store = (*Store)(nil)

// New returns a Store writing to "<namespace>:registration".
func New(client redis.UniversalClient, namespace string) *Store {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &Store{client: client, key: namespace + ":registration"}
}

// Key returns the Redis key the record lives under.
func (s *Store) Key() string { return s.key }

// Load returns the stored record, or registrar.ErrNoRecord.
func (s *Store) Load(ctx context.Context) (registrar.Record, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return registrar.Record{}, registrar.ErrNoRecord
	}
	if err != nil {
		return registrar.Record{}, fmt.Errorf("redis GET %s: %w", s.key, err)
	}
	var rec registrar.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return registrar.Record{}, fmt.Errorf("parsing registration record: %w", err)
	}
	return rec, nil
}

// Save replaces the stored record. The key has no expiry.
func (s *Store) Save(ctx context.Context, rec registrar.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("serializing registration record: %w", err)
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis SET %s: %w", s.key, err)
	}
	return nil
}
