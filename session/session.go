// Package session keeps the metadata a chat user sends ahead of their video.
// A pending record lives until the next video from the same chat consumes it,
// the user cancels it, or its TTL runs out.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/shorts-tender/publish"
)

// Store holds one pending metadata record per chat.
type Store interface {
	Get(ctx context.Context, chatID int64) (publish.Metadata, bool, error)
	Set(ctx context.Context, chatID int64, m publish.Metadata) error
	Delete(ctx context.Context, chatID int64) error
	// Sweep drops expired records and returns how many were removed.
	Sweep(ctx context.Context) (int, error)
}

type entry struct {
	meta    publish.Metadata
	expires time.Time
}

// MemoryStore is a process-local Store. Expired entries are invisible to Get
// and are reclaimed by Sweep.
type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[int64]entry
	now     func() time.Time
}

// NewMemoryStore returns an empty store whose records expire after ttl.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MemoryStore{ttl: ttl, entries: make(map[int64]entry), now: time.Now}
}

func (m *MemoryStore) Get(_ context.Context, chatID int64) (publish.Metadata, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[chatID]
	if !ok || !m.now().Before(e.expires) {
		return publish.Metadata{}, false, nil
	}
	return e.meta, true, nil
}

func (m *MemoryStore) Set(_ context.Context, chatID int64, meta publish.Metadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[chatID] = entry{meta: meta, expires: m.now().Add(m.ttl)}
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, chatID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, chatID)
	return nil
}

func (m *MemoryStore) Sweep(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	n := 0
	for id, e := range m.entries {
		if !now.Before(e.expires) {
			delete(m.entries, id)
			n++
		}
	}
	return n, nil
}

// StartSweeper calls Sweep every interval until ctx is canceled.
func StartSweeper(ctx context.Context, s Store, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Sweep(ctx)
			if err != nil {
				slog.Warn("session sweep failed", slog.Any("err", err), slog.String("component", "session"))
				continue
			}
			if n > 0 {
				slog.Debug("expired sessions removed", slog.Int("count", n), slog.String("component", "session"))
			}
		}
	}
}
