package cache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/johnhenry/ai.captain-sub000/compress"
)

// entry is the memory store's per-key bookkeeping. expiresAt is always
// createdAt plus the entry's TTL.
type entry struct {
	value          any
	blob           *compress.Blob
	createdAt      time.Time
	expiresAt      time.Time
	lastAccessedAt time.Time
	hits           uint32
	seq            uint64
}

type memoryStore struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
	cfg    config
	flight singleflight.Group

	mu      sync.Mutex
	entries map[string]*entry
	nextSeq uint64
	hits    int64
	misses  int64
}

var _ Store = (*memoryStore)(nil)

// NewMemory returns an in-process Store with TTL expiry, bounded size, and a
// pluggable eviction policy. Construction fails only on malformed
// configuration (an unknown policy); runtime operations never fail for
// missing keys.
func NewMemory(parent context.Context, opts ...Option) (Store, error) {
	cfg := applyOptions(opts)
	if _, err := ParsePolicy(string(cfg.policy)); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(parent)
	s := &memoryStore{
		ctx:     ctx,
		cancel:  cancel,
		cfg:     cfg,
		entries: make(map[string]*entry),
	}
	if cfg.sweepInterval > 0 {
		s.wg.Add(1)
		go s.sweep()
	}
	return s, nil
}

func (s *memoryStore) Get(_ context.Context, key string) (bool, any, error) {
	now := time.Now()

	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok {
		s.misses++
		s.mu.Unlock()
		return false, nil, nil
	}
	if now.After(e.expiresAt) {
		// Lazy expiry: an expired read is a miss, not a hit.
		delete(s.entries, key)
		s.misses++
		s.mu.Unlock()
		return false, nil, nil
	}
	value, blob := e.value, e.blob
	s.mu.Unlock()

	out := value
	if blob != nil {
		if err := s.cfg.codec.Decompress(*blob, &out); err != nil {
			// A corrupt entry is an error, not an access: neither hit nor
			// miss is counted and the access bookkeeping stays untouched.
			return false, nil, err
		}
	}

	// Commit the access only for a value actually delivered.
	s.mu.Lock()
	if cur, ok := s.entries[key]; ok && cur == e {
		cur.hits++
		cur.lastAccessedAt = now
		s.hits++
	}
	s.mu.Unlock()
	return true, out, nil
}

func (s *memoryStore) Set(_ context.Context, key string, val any, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.cfg.defaultTTL
	}

	e := &entry{}
	if s.cfg.codec != nil {
		blob, err := s.cfg.codec.Compress(val)
		if err != nil {
			return err
		}
		e.blob = &blob
	} else {
		e.value = val
	}

	now := time.Now()
	e.createdAt = now
	e.expiresAt = now.Add(ttl)
	e.lastAccessedAt = now

	s.mu.Lock()
	e.seq = s.nextSeq
	s.nextSeq++
	s.entries[key] = e
	// Eviction is a cleanup pass after insertion, never a gate on it.
	if s.cfg.maxSize > 0 && len(s.entries) > s.cfg.maxSize {
		if k := victim(s.entries, s.cfg.policy); k != "" {
			delete(s.entries, k)
			s.cfg.logger.Debug("evicted cache entry",
				zap.String("key", k),
				zap.String("policy", string(s.cfg.policy)),
			)
		}
	}
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) Delete(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	_, ok := s.entries[key]
	delete(s.entries, key)
	s.mu.Unlock()
	return ok, nil
}

func (s *memoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	s.entries = make(map[string]*entry)
	s.hits = 0
	s.misses = 0
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) Stats(_ context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		Size:    len(s.entries),
		Hits:    s.hits,
		Misses:  s.misses,
		HitRate: hitRate(s.hits, s.misses),
	}
	for _, e := range s.entries {
		if st.OldestEntry.IsZero() || e.createdAt.Before(st.OldestEntry) {
			st.OldestEntry = e.createdAt
		}
		if e.createdAt.After(st.NewestEntry) {
			st.NewestEntry = e.createdAt
		}
	}
	return st, nil
}

func (s *memoryStore) flightGroup() *singleflight.Group { return &s.flight }

func (s *memoryStore) Close() error {
	s.once.Do(func() {
		s.cancel()
		s.wg.Wait()
	})
	return nil
}

func (s *memoryStore) sweep() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			s.mu.Lock()
			for key, e := range s.entries {
				if now.After(e.expiresAt) {
					delete(s.entries, key)
				}
			}
			s.mu.Unlock()
		}
	}
}
