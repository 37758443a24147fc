package image_cache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"stripview/internal/fetcher"
	"stripview/internal/metrics"
)

// Fetcher retrieves raw image bytes for a source URL. fetcher.Client is the
// production implementation; tests substitute fakes.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*fetcher.Result, error)
}

// Entry is one cached source image. Entries are never mutated: a refetch
// stores a replacement, the janitor deletes.
type Entry struct {
	Key      string
	Data     []byte
	StoredAt time.Time
}

// Store memoizes raw image bytes per source URL for a TTL window. Concurrent
// misses on one key collapse into a single upstream fetch whose result every
// waiter shares; different keys never serialize against each other. Callers
// must treat returned buffers as read-only.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*Entry

	fetcher      Fetcher
	ttl          time.Duration
	fetchTimeout time.Duration
	group        singleflight.Group
	logger       *zap.Logger
	metrics      *metrics.Metrics

	now func() time.Time // injectable for expiry tests
}

func New(f Fetcher, ttl, fetchTimeout time.Duration, logger *zap.Logger, m *metrics.Metrics) *Store {
	return &Store{
		entries:      make(map[string]*Entry),
		fetcher:      f,
		ttl:          ttl,
		fetchTimeout: fetchTimeout,
		logger:       logger,
		metrics:      m,
		now:          time.Now,
	}
}

// Get returns the cached bytes for key, fetching them first on a miss or
// after expiry. The requester's ctx bounds only the wait: the fetch itself
// runs detached, so a disconnecting caller cannot abort a flight other
// requesters are waiting on, and a finished flight still populates the cache.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if data, ok := s.lookup(key); ok {
		s.metrics.CacheHit()
		return data, nil
	}
	s.metrics.CacheMiss()

	ch := s.group.DoChan(key, func() (interface{}, error) {
		// A finished flight may have filled the cache while this caller was
		// queueing for the group; don't fetch twice for nothing.
		if data, ok := s.lookup(key); ok {
			return data, nil
		}
		return s.fetch(key)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// lookup reports the entry for key if present and still fresh. Stale entries
// are left for the janitor; treating them as misses here is what forces a
// refetch on access after expiry.
func (s *Store) lookup(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	if s.now().Sub(entry.StoredAt) > s.ttl {
		return nil, false
	}
	return entry.Data, true
}

// fetch runs one upstream retrieval and stores the result. No lock is held
// while the fetch is in progress.
func (s *Store) fetch(key string) ([]byte, error) {
	ctx := context.Background()
	if s.fetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.fetchTimeout)
		defer cancel()
	}

	start := time.Now()
	res, err := s.fetcher.Fetch(ctx, key)
	if err != nil {
		s.metrics.FetchDone("error", time.Since(start).Seconds())
		return nil, err
	}
	s.metrics.FetchDone("ok", time.Since(start).Seconds())

	if res.ContentLength >= 0 && res.ContentLength != int64(len(res.Body)) {
		// Best-effort integrity check only: logged, never fatal. Upstreams
		// declare wrong lengths (compression, broken CDNs) more often than
		// they truncate bodies, so serve what arrived.
		s.logger.Warn("content length mismatch",
			zap.String("url", key),
			zap.Int64("declared", res.ContentLength),
			zap.Int("received", len(res.Body)),
		)
	}

	s.put(key, res.Body)
	return res.Body, nil
}

func (s *Store) put(key string, data []byte) {
	entry := &Entry{Key: key, Data: data, StoredAt: s.now()}

	s.mu.Lock()
	s.entries[key] = entry
	size := len(s.entries)
	s.mu.Unlock()

	s.metrics.SetCacheEntries(size)
	s.logger.Info("image cached",
		zap.String("url", key),
		zap.Int("bytes", len(data)),
		zap.Int("entries", size),
	)
}

// Sweep deletes every entry past its TTL and reports how many were removed.
func (s *Store) Sweep() int {
	now := s.now()

	s.mu.Lock()
	removed := 0
	for key, entry := range s.entries {
		if now.Sub(entry.StoredAt) > s.ttl {
			delete(s.entries, key)
			removed++
		}
	}
	size := len(s.entries)
	s.mu.Unlock()

	if removed > 0 {
		s.metrics.SweepRemoved(removed)
		s.metrics.SetCacheEntries(size)
	}
	return removed
}

// Len reports the number of entries currently held, fresh or stale.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
