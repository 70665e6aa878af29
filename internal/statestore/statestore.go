// Package statestore mirrors live session state into Redis hashes for
// external consumers (UIs, agent tooling). The mirror is best-effort:
// write failures are logged and never affect the session. Unconfigured,
// every call is a no-op.
package statestore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/voxwrite/dictated/internal/config"
	"github.com/voxwrite/dictated/internal/dictation"
)

const (
	keyPrefix = "dictation:session:"
	activeKey = "dictation:active"
	opTimeout = 800 * time.Millisecond
)

// Mirror writes one hash per session plus a pointer to the active one.
type Mirror struct {
	client *redis.Client
	ttl    time.Duration
	log    *slog.Logger
}

var _ dictation.Observer = (*Mirror)(nil)

// New builds a mirror from config. An empty addr disables it.
func New(cfg config.RedisConfig, log *slog.Logger) *Mirror {
	m := &Mirror{log: log.With("component", "statestore")}
	if cfg.Addr == "" {
		return m
	}
	m.client = redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	m.ttl = cfg.TTL()
	return m
}

// Enabled reports whether the mirror writes anywhere.
func (m *Mirror) Enabled() bool { return m.client != nil }

// Ping verifies connectivity at startup. Disabled mirrors always pass.
func (m *Mirror) Ping(ctx context.Context) error {
	if m.client == nil {
		return nil
	}
	if err := m.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (m *Mirror) Close() error {
	if m.client == nil {
		return nil
	}
	return m.client.Close()
}

func (m *Mirror) SessionStarted(snap dictation.Snapshot) {
	if m.client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	key := keyPrefix + snap.ID
	fields := map[string]any{
		"id":         snap.ID,
		"mode":       string(snap.Mode),
		"status":     string(snap.Status),
		"view":       "",
		"engine":     "",
		"error":      "",
		"started_at": snap.StartedAt.UTC().Format(time.RFC3339),
		"updated_at": time.Now().UTC().Format(time.RFC3339),
	}
	if err := m.client.HSet(ctx, key, fields).Err(); err != nil {
		m.log.Warn("session hash write failed", "session_id", snap.ID, "error", err)
		return
	}
	m.expire(ctx, key)
	if err := m.client.Set(ctx, activeKey, snap.ID, m.ttl).Err(); err != nil {
		m.log.Warn("active pointer write failed", "session_id", snap.ID, "error", err)
	}
}

func (m *Mirror) TranscriptUpdated(snap dictation.Snapshot, view string, final bool) {
	if m.client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	key := keyPrefix + snap.ID
	fields := map[string]any{
		"status":     string(snap.Status),
		"view":       view,
		"final":      final,
		"updated_at": time.Now().UTC().Format(time.RFC3339),
	}
	if err := m.client.HSet(ctx, key, fields).Err(); err != nil {
		m.log.Warn("transcript mirror write failed", "session_id", snap.ID, "error", err)
		return
	}
	m.expire(ctx, key)
}

func (m *Mirror) SessionEnded(snap dictation.Snapshot) {
	if m.client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	key := keyPrefix + snap.ID
	fields := map[string]any{
		"status":      string(snap.Status),
		"view":        snap.View,
		"engine":      snap.Engine,
		"error":       snap.Error,
		"stopped_at":  snap.StoppedAt.UTC().Format(time.RFC3339),
		"duration_ms": snap.DurationMS,
		"updated_at":  time.Now().UTC().Format(time.RFC3339),
	}
	if err := m.client.HSet(ctx, key, fields).Err(); err != nil {
		m.log.Warn("session hash write failed", "session_id", snap.ID, "error", err)
		return
	}
	m.expire(ctx, key)

	// clear the active pointer only if it still points at this session;
	// a replacement session may already own it
	cur, err := m.client.Get(ctx, activeKey).Result()
	if err == nil && cur == snap.ID {
		if err := m.client.Del(ctx, activeKey).Err(); err != nil {
			m.log.Warn("active pointer clear failed", "session_id", snap.ID, "error", err)
		}
	}
}

func (m *Mirror) expire(ctx context.Context, key string) {
	if m.ttl <= 0 {
		return
	}
	if err := m.client.Expire(ctx, key, m.ttl).Err(); err != nil {
		m.log.Warn("session hash expire failed", "key", key, "error", err)
	}
}
