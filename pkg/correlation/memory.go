package correlation

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/fedgate/pkg/observability"
)

const consumedLogSize = 4096

// MemoryStore is an in-process Store. Suitable for single-node
// deployments and tests; use the Redis store when callbacks can land on a
// different node than the one that issued the redirect.
type MemoryStore struct {
	mu        sync.Mutex
	snapshots map[string]*Snapshot

	// consumed remembers recently taken tokens so a replayed callback can
	// be logged distinctly from a token we never issued. Both still
	// surface as ErrNotFound.
	consumed *lru.Cache[string, time.Time]

	ttl    time.Duration
	cron   *cron.Cron
	logger *observability.Logger
	now    func() time.Time
}

// NewMemoryStore creates a MemoryStore with the given snapshot TTL and
// starts the background sweep of expired entries. ttl <= 0 falls back to
// DefaultTTL.
func NewMemoryStore(ttl time.Duration, logger *observability.Logger) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}

	consumed, _ := lru.New[string, time.Time](consumedLogSize)

	s := &MemoryStore{
		snapshots: make(map[string]*Snapshot),
		consumed:  consumed,
		ttl:       ttl,
		cron:      cron.New(),
		logger:    logger,
		now:       time.Now,
	}

	s.cron.AddFunc("@every 1m", s.sweep)
	s.cron.Start()

	return s
}

// Put stores the snapshot under a fresh token.
func (s *MemoryStore) Put(ctx context.Context, snapshot *Snapshot) (string, error) {
	token, err := NewToken()
	if err != nil {
		return "", err
	}

	now := s.now()
	stored := *snapshot
	stored.CreatedAt = now
	stored.ExpiresAt = now.Add(s.ttl)

	s.mu.Lock()
	s.snapshots[token] = &stored
	s.mu.Unlock()

	return token, nil
}

// Take atomically retrieves and deletes the snapshot for token.
func (s *MemoryStore) Take(ctx context.Context, token string) (*Snapshot, error) {
	s.mu.Lock()
	snapshot, ok := s.snapshots[token]
	if ok {
		delete(s.snapshots, token)
	}
	s.mu.Unlock()

	if !ok {
		if when, replayed := s.consumed.Get(token); replayed {
			s.logger.WithField("consumed_at", when).
				Warn("Correlation token replayed after consumption")
		}
		return nil, ErrNotFound
	}

	// Expiry is checked at read time even though the sweep also prunes.
	if snapshot.Expired(s.now()) {
		return nil, ErrNotFound
	}

	s.consumed.Add(token, s.now())
	return snapshot, nil
}

// Ping always succeeds for the in-process store.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close stops the background sweep.
func (s *MemoryStore) Close() error {
	s.cron.Stop()
	return nil
}

// Count returns the number of live snapshots. Entries past their deadline
// but not yet swept are excluded; they are already dead to Take.
func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	for _, snapshot := range s.snapshots {
		if !snapshot.Expired(now) {
			n++
		}
	}
	return n, nil
}

// sweep removes expired snapshots. Runs on the cron goroutine.
func (s *MemoryStore) sweep() {
	defer observability.RecoverPanic(s.logger, "correlation sweep")

	now := s.now()

	s.mu.Lock()
	var purged int
	for token, snapshot := range s.snapshots {
		if snapshot.Expired(now) {
			delete(s.snapshots, token)
			purged++
		}
	}
	s.mu.Unlock()

	if purged > 0 {
		s.logger.WithField("purged", purged).Debug("Swept expired correlation snapshots")
	}
}
