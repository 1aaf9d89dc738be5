// Package kvstore persists small JSON blobs (agent config, session
// snapshots) under stable keys.
package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/devicelab-dev/publish-agent/pkg/config"
)

// ErrNotFound is returned by Get when the key has no value.
var ErrNotFound = errors.New("kvstore: key not found")

// Store is a persisted key-value map.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Open creates the backend selected by settings. Relative paths are resolved
// against dataDir.
func Open(settings config.StorageSettings, dataDir string) (Store, error) {
	path := settings.Path
	if path != "" && !filepath.IsAbs(path) {
		path = filepath.Join(dataDir, path)
	}

	switch settings.Kind {
	case "", "file":
		if path == "" {
			path = filepath.Join(dataDir, "state")
		}
		return NewFileStore(path)
	case "sqlite":
		if path == "" {
			path = filepath.Join(dataDir, "state.db")
		}
		return NewSQLiteStore(path)
	case "valkey":
		return NewValkeyStore(ValkeyConfig{
			Address:   settings.Address,
			Password:  settings.Password,
			DB:        settings.DB,
			KeyPrefix: settings.Prefix,
		})
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage kind %q", settings.Kind)
	}
}

// GetJSON decodes the value under key into v.
func GetJSON(ctx context.Context, s Store, key string, v interface{}) error {
	data, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// PutJSON encodes v and stores it under key.
func PutJSON(ctx context.Context, s Store, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Put(ctx, key, data)
}
