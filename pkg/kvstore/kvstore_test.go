package kvstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devicelab-dev/publish-agent/pkg/config"
)

// fakeValkey is an in-memory valkeyConn.
type fakeValkey struct {
	data   map[string][]byte
	closed bool
	err    error
}

func (f *fakeValkey) get(_ context.Context, key string) ([]byte, bool, error) {
	if f.err != nil {
		return nil, false, f.err
	}
	v, ok := f.data[key]
	return v, ok, nil
}

func (f *fakeValkey) set(_ context.Context, key string, value []byte) error {
	if f.err != nil {
		return f.err
	}
	f.data[key] = value
	return nil
}

func (f *fakeValkey) del(_ context.Context, key string) error {
	delete(f.data, key)
	return nil
}

func (f *fakeValkey) close() { f.closed = true }

func exercise(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Get(ctx, "agent.config")
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, s.Put(ctx, "agent.config", []byte(`{"maxRetries":1}`)))
	require.NoError(t, s.Put(ctx, "agent.config", []byte(`{"maxRetries":4}`)))
	got, err := s.Get(ctx, "agent.config")
	require.NoError(t, err)
	assert.JSONEq(t, `{"maxRetries":4}`, string(got))

	var v struct {
		MaxRetries int `json:"maxRetries"`
	}
	require.NoError(t, GetJSON(ctx, s, "agent.config", &v))
	assert.Equal(t, 4, v.MaxRetries)

	require.NoError(t, PutJSON(ctx, s, "session/snapshot", map[string]int{"n": 1}))
	require.NoError(t, s.Delete(ctx, "agent.config"))
	require.NoError(t, s.Delete(ctx, "agent.config"))
	_, err = s.Get(ctx, "agent.config")
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, s.Close())
}

func TestMemoryStore(t *testing.T) {
	exercise(t, NewMemoryStore())
}

func TestFileStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")
	s, err := NewFileStore(dir)
	require.NoError(t, err)
	exercise(t, s)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".kv-tmp-", "temp files must not be left behind")
	}
}

func TestSQLiteStore(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	exercise(t, s)
}

func TestValkeyStore_Prefix(t *testing.T) {
	fake := &fakeValkey{data: map[string][]byte{}}
	s := newValkeyStore(fake, "publish-agent")
	exercise(t, s)
	assert.True(t, fake.closed)

	_, ok := fake.data["publish-agent:session/snapshot"]
	assert.True(t, ok)
	assert.Equal(t, "publish-agent:x", s.Key("x"))
}

func TestValkeyStore_Error(t *testing.T) {
	s := newValkeyStore(&fakeValkey{data: map[string][]byte{}, err: errors.New("conn refused")}, "")
	_, err := s.Get(context.Background(), "k")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(config.StorageSettings{Kind: "file"}, dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "state"), s.(*FileStore).Dir())

	s, err = Open(config.StorageSettings{Kind: "sqlite", Path: "x.db"}, dir)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.FileExists(t, filepath.Join(dir, "x.db"))

	_, err = Open(config.StorageSettings{Kind: "valkey"}, dir)
	assert.Error(t, err)

	_, err = Open(config.StorageSettings{Kind: "etcd"}, dir)
	assert.Error(t, err)
}
