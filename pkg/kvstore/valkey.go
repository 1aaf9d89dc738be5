package kvstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	valkeylib "github.com/valkey-io/valkey-go"
)

// DefaultConnectTimeout bounds the initial ping.
const DefaultConnectTimeout = 5 * time.Second

// ValkeyConfig configures the valkey backend.
type ValkeyConfig struct {
	Address        string
	Password       string
	DB             int
	KeyPrefix      string
	ConnectTimeout time.Duration
}

// valkeyConn is the subset of commands the store issues.
type valkeyConn interface {
	get(ctx context.Context, key string) ([]byte, bool, error)
	set(ctx context.Context, key string, value []byte) error
	del(ctx context.Context, key string) error
	close()
}

// ValkeyStore keeps values in a valkey/redis server under a key prefix.
type ValkeyStore struct {
	conn   valkeyConn
	prefix string
}

// NewValkeyStore connects and pings the server.
func NewValkeyStore(cfg ValkeyConfig) (*ValkeyStore, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey address is required")
	}
	opts := valkeylib.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	inner, err := valkeylib.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	timeout := cfg.ConnectTimeout
	if timeout == 0 {
		timeout = DefaultConnectTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := inner.Do(ctx, inner.B().Ping().Build()).Error(); err != nil {
		inner.Close()
		return nil, fmt.Errorf("failed to ping valkey (timeout: %v): %w", timeout, err)
	}

	return newValkeyStore(&valkeyClient{inner: inner}, cfg.KeyPrefix), nil
}

func newValkeyStore(conn valkeyConn, prefix string) *ValkeyStore {
	if prefix != "" && !strings.HasSuffix(prefix, ":") {
		prefix += ":"
	}
	return &ValkeyStore{conn: conn, prefix: prefix}
}

// Key returns the prefixed server key.
func (v *ValkeyStore) Key(key string) string { return v.prefix + key }

func (v *ValkeyStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, ok, err := v.conn.get(ctx, v.Key(key))
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	if !ok {
		return nil, ErrNotFound
	}
	return data, nil
}

func (v *ValkeyStore) Put(ctx context.Context, key string, value []byte) error {
	if err := v.conn.set(ctx, v.Key(key), value); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (v *ValkeyStore) Delete(ctx context.Context, key string) error {
	if err := v.conn.del(ctx, v.Key(key)); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (v *ValkeyStore) Close() error {
	v.conn.close()
	return nil
}

type valkeyClient struct {
	inner valkeylib.Client
}

func (c *valkeyClient) get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := c.inner.Do(ctx, c.inner.B().Get().Key(key).Build()).AsBytes()
	if err != nil {
		if valkeylib.IsValkeyNil(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

func (c *valkeyClient) set(ctx context.Context, key string, value []byte) error {
	return c.inner.Do(ctx, c.inner.B().Set().Key(key).Value(valkeylib.BinaryString(value)).Build()).Error()
}

func (c *valkeyClient) del(ctx context.Context, key string) error {
	return c.inner.Do(ctx, c.inner.B().Del().Key(key).Build()).Error()
}

func (c *valkeyClient) close() { c.inner.Close() }
