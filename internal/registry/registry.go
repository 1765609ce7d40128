// Package registry keeps the in-memory table of staged documents.
package registry

import (
	"context"
	"hash/fnv"
	"slices"
	"sync"
	"time"

	"github.com/your-org/docconv/internal/domain"
)

const (
	defaultShardCount      = 16
	defaultCleanupInterval = 1 * time.Minute
)

// entry is a registered document with its expiry; a zero ExpiresAt never expires
type entry struct {
	doc       domain.StagedDocument
	expiresAt time.Time
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// shard is a single partition of the table with its own lock
type shard struct {
	mu    sync.RWMutex
	items map[string]*entry
}

// ShardedRegistry is a thread-safe sharded document table
type ShardedRegistry struct {
	shards          []*shard
	shardCount      int
	retention       time.Duration
	cleanupInterval time.Duration
	now             func() time.Time

	cleanupWorkerRunning bool
	cleanupWorkerMu      sync.Mutex
	cleanupWorkerStop    chan struct{}
	cleanupWorkerWg      sync.WaitGroup
}

// NewShardedRegistry creates a registry. Entries untouched for longer than retention
// are dropped by the cleanup worker; retention <= 0 keeps them forever.
func NewShardedRegistry(shardCount int, retention time.Duration) *ShardedRegistry {
	if shardCount < 1 {
		shardCount = defaultShardCount
	}

	shards := make([]*shard, shardCount)
	for i := range shards {
		shards[i] = &shard{items: make(map[string]*entry)}
	}

	return &ShardedRegistry{
		shards:            shards,
		shardCount:        shardCount,
		retention:         max(retention, 0),
		cleanupInterval:   defaultCleanupInterval,
		now:               time.Now,
		cleanupWorkerStop: make(chan struct{}),
	}
}

// getShard returns the shard for a given id using FNV hash
func (r *ShardedRegistry) getShard(id string) *shard {
	hash := fnv.New32a()
	hash.Write([]byte(id))
	return r.shards[hash.Sum32()%uint32(r.shardCount)]
}

// Put inserts or replaces doc and refreshes its retention
func (r *ShardedRegistry) Put(ctx context.Context, doc domain.StagedDocument) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if doc.ID == "" {
		return domain.Internal(nil, "document without id cannot be registered")
	}

	now := r.now()
	e := &entry{doc: doc}
	if r.retention > 0 {
		e.expiresAt = now.Add(r.retention)
	}

	s := r.getShard(doc.ID)
	s.mu.Lock()
	s.items[doc.ID] = e
	s.mu.Unlock()
	return nil
}

// Get returns the document registered under id
func (r *ShardedRegistry) Get(ctx context.Context, id string) (domain.StagedDocument, bool) {
	if ctx.Err() != nil {
		return domain.StagedDocument{}, false
	}

	s := r.getShard(id)
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.items[id]
	if !ok || e.expired(r.now()) {
		return domain.StagedDocument{}, false
	}
	return e.doc, true
}

// FindByPath returns the most recently updated document staged at path
func (r *ShardedRegistry) FindByPath(ctx context.Context, path string) (domain.StagedDocument, bool) {
	var (
		found domain.StagedDocument
		ok    bool
	)
	now := r.now()
	for _, s := range r.shards {
		if ctx.Err() != nil {
			return domain.StagedDocument{}, false
		}
		s.mu.RLock()
		for _, e := range s.items {
			if e.doc.Path != path || e.expired(now) {
				continue
			}
			if !ok || e.doc.UpdatedAt.After(found.UpdatedAt) {
				found, ok = e.doc, true
			}
		}
		s.mu.RUnlock()
	}
	return found, ok
}

// List returns every live document ordered by creation time
func (r *ShardedRegistry) List(ctx context.Context) []domain.StagedDocument {
	docs := make([]domain.StagedDocument, 0, r.Len())
	now := r.now()
	for _, s := range r.shards {
		if ctx.Err() != nil {
			break
		}
		s.mu.RLock()
		for _, e := range s.items {
			if !e.expired(now) {
				docs = append(docs, e.doc)
			}
		}
		s.mu.RUnlock()
	}

	slices.SortFunc(docs, func(a, b domain.StagedDocument) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return docs
}

// Delete removes id from the table
func (r *ShardedRegistry) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s := r.getShard(id)
	s.mu.Lock()
	delete(s.items, id)
	s.mu.Unlock()
	return nil
}

// Len returns the number of entries, expired ones included until the next sweep
func (r *ShardedRegistry) Len() int {
	n := 0
	for _, s := range r.shards {
		s.mu.RLock()
		n += len(s.items)
		s.mu.RUnlock()
	}
	return n
}

// CleanExpired removes all expired entries
func (r *ShardedRegistry) CleanExpired(ctx context.Context) error {
	now := r.now()
	for _, s := range r.shards {
		if err := ctx.Err(); err != nil {
			return err
		}

		s.mu.Lock()
		for id, e := range s.items {
			if e.expired(now) {
				delete(s.items, id)
			}
		}
		s.mu.Unlock()
	}
	return nil
}

// StartCleanupWorker starts a background goroutine that periodically removes expired entries
func (r *ShardedRegistry) StartCleanupWorker() {
	r.cleanupWorkerMu.Lock()
	defer r.cleanupWorkerMu.Unlock()

	if r.cleanupWorkerRunning || r.retention == 0 {
		return
	}

	r.cleanupWorkerRunning = true
	r.cleanupWorkerStop = make(chan struct{})

	r.cleanupWorkerWg.Add(1)
	go r.cleanupWorker()
}

// StopCleanupWorker stops the background cleanup worker gracefully
func (r *ShardedRegistry) StopCleanupWorker() {
	r.cleanupWorkerMu.Lock()
	defer r.cleanupWorkerMu.Unlock()

	if !r.cleanupWorkerRunning {
		return
	}

	close(r.cleanupWorkerStop)
	r.cleanupWorkerWg.Wait()
	r.cleanupWorkerRunning = false
}

func (r *ShardedRegistry) cleanupWorker() {
	defer r.cleanupWorkerWg.Done()

	ticker := time.NewTicker(r.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.cleanupWorkerStop:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = r.CleanExpired(ctx)
			cancel()
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			_ = r.CleanExpired(ctx)
			cancel()
		}
	}
}

// Stats returns registry statistics
func (r *ShardedRegistry) Stats() Stats {
	stats := Stats{
		ShardCount: r.shardCount,
		ByStatus:   make(map[domain.DocumentStatus]int),
		ShardStats: make([]ShardStat, r.shardCount),
	}

	now := r.now()
	for i, s := range r.shards {
		s.mu.RLock()
		itemCount := len(s.items)
		expiredCount := 0
		for _, e := range s.items {
			if e.expired(now) {
				expiredCount++
				continue
			}
			stats.ByStatus[e.doc.Status]++
		}
		s.mu.RUnlock()

		stats.ShardStats[i] = ShardStat{Index: i, ItemCount: itemCount, ExpiredCount: expiredCount}
		stats.TotalItems += itemCount
	}

	return stats
}

// Stats represents registry statistics
type Stats struct {
	ShardCount int                           `json:"shard_count"`
	TotalItems int                           `json:"total_items"`
	ByStatus   map[domain.DocumentStatus]int `json:"by_status"`
	ShardStats []ShardStat                   `json:"-"`
}

// ShardStat represents statistics for a single shard
type ShardStat struct {
	Index        int
	ItemCount    int
	ExpiredCount int
}

// Verify that ShardedRegistry implements domain.DocumentRegistry interface
var _ domain.DocumentRegistry = (*ShardedRegistry)(nil)
