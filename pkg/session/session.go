// Package session snapshots the in-flight queue and progress so a run can
// be recovered after a restart.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/devicelab-dev/publish-agent/pkg/core"
	"github.com/devicelab-dev/publish-agent/pkg/kvstore"
	"github.com/devicelab-dev/publish-agent/pkg/logger"
	"github.com/devicelab-dev/publish-agent/pkg/store"
)

// StorageKey is the key snapshots are persisted under.
const StorageKey = "session.snapshot"

var (
	// ErrExpired means the snapshot is older than the TTL.
	ErrExpired = errors.New("session snapshot expired")
	// ErrIdentityMismatch means the snapshot belongs to another client identity.
	ErrIdentityMismatch = errors.New("session snapshot identity mismatch")
)

// Snapshot is the persisted recovery record. The in-flight item is not part
// of it; only the queue it was dequeued from.
type Snapshot struct {
	Queue             []core.WorkItem       `json:"queue"`
	Progress          core.ProgressCounters `json:"progressCounters"`
	Identity          string                `json:"identity"`
	CapturedAtEpochMs int64                 `json:"capturedAtEpochMs"`
	RunID             string                `json:"runId,omitempty"`
}

// Capture builds a snapshot from the store state.
func Capture(s store.Snapshot, now time.Time) Snapshot {
	return Snapshot{
		Queue:             s.Queue,
		Progress:          s.Progress,
		Identity:          s.Config.ClientIdentity,
		CapturedAtEpochMs: now.UnixMilli(),
		RunID:             s.RunID,
	}
}

// CapturedAt returns the capture time.
func (s Snapshot) CapturedAt() time.Time { return time.UnixMilli(s.CapturedAtEpochMs) }

// Age returns how old the snapshot is at now.
func (s Snapshot) Age(now time.Time) time.Duration { return now.Sub(s.CapturedAt()) }

// Check reports why the snapshot cannot be recovered, or nil.
func (s Snapshot) Check(identity string, ttl time.Duration, now time.Time) error {
	if age := s.Age(now); age > ttl {
		return fmt.Errorf("%w: age %s exceeds %s", ErrExpired, age.Round(time.Second), ttl)
	}
	if s.Identity != identity {
		return fmt.Errorf("%w: snapshot %q, config %q", ErrIdentityMismatch, s.Identity, identity)
	}
	return nil
}

// Save writes snap.
func Save(ctx context.Context, kv kvstore.Store, snap Snapshot) error {
	return kvstore.PutJSON(ctx, kv, StorageKey, snap)
}

// Load reads the latest snapshot. It returns (nil, nil) when none exists.
func Load(ctx context.Context, kv kvstore.Store) (*Snapshot, error) {
	var snap Snapshot
	err := kvstore.GetJSON(ctx, kv, StorageKey, &snap)
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// Clear removes the stored snapshot.
func Clear(ctx context.Context, kv kvstore.Store) error {
	return kv.Delete(ctx, StorageKey)
}

// Recover returns the stored snapshot when it is younger than ttl and was
// captured under identity. Otherwise it returns (nil, nil).
func Recover(ctx context.Context, kv kvstore.Store, identity string, ttl time.Duration, now time.Time) (*Snapshot, error) {
	snap, err := Load(ctx, kv)
	if err != nil || snap == nil {
		return nil, err
	}
	if err := snap.Check(identity, ttl, now); err != nil {
		logger.WithComponent("session").Infof("not recovering: %v", err)
		return nil, nil
	}
	return snap, nil
}
