// Package cache holds the two process-wide snapshots the engine reads when
// the live aggregate path is unavailable: the entity-by-attribute matrix and
// the attribute catalog. Each has exactly one writer (a timer-driven refresh
// goroutine) and any number of readers; readers see the previous or the new
// snapshot through an atomic pointer swap, never a partial one.
package cache

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/playmind/guessball/internal/core/model"
	"github.com/playmind/guessball/internal/store"
)

// DefaultRefreshInterval is how often the background refresh runs.
const DefaultRefreshInterval = 10 * time.Minute

// DefaultTopN bounds how many entities the matrix snapshot carries.
const DefaultTopN = 200

// MatrixCache is the advisory fallback source for candidate statistics.
// Reads never block on refresh and may observe a stale snapshot.
type MatrixCache struct {
	src      store.Store
	log      *zap.Logger
	topN     int
	interval time.Duration
	snapshot atomic.Pointer[store.Matrix]
	stop     chan struct{}
	stopped  atomic.Bool
}

// NewMatrixCache builds an empty cache over src. Call Refresh or Start to
// populate it.
func NewMatrixCache(src store.Store, topN int, interval time.Duration, log *zap.Logger) *MatrixCache {
	if topN <= 0 {
		topN = DefaultTopN
	}
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	c := &MatrixCache{src: src, log: log, topN: topN, interval: interval, stop: make(chan struct{})}
	c.snapshot.Store(&store.Matrix{})
	return c
}

// Refresh loads a new snapshot and swaps it in. On error the previous
// snapshot stays in place.
func (c *MatrixCache) Refresh(ctx context.Context) error {
	rows, err := c.src.MatrixRows(ctx, c.topN)
	if err != nil {
		c.log.Warn("matrix refresh failed, keeping stale snapshot", zap.Error(err))
		return err
	}
	c.snapshot.Store(&store.Matrix{Rows: rows})
	c.log.Debug("matrix snapshot refreshed", zap.Int("rows", len(rows)))
	return nil
}

// Start launches the single refresh writer. It refreshes once immediately.
func (c *MatrixCache) Start(ctx context.Context) {
	_ = c.Refresh(ctx)
	go func() {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = c.Refresh(context.Background())
			case <-c.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the refresh goroutine. Idempotent.
func (c *MatrixCache) Stop() {
	if c.stopped.CompareAndSwap(false, true) {
		close(c.stop)
	}
}

// Empty reports whether the current snapshot has no rows.
func (c *MatrixCache) Empty() bool {
	return len(c.snapshot.Load().Rows) == 0
}

// Summary computes the candidate summary from the current snapshot.
func (c *MatrixCache) Summary(yesIDs, noIDs, rejectedNorms []string) *store.CandidateSummary {
	return c.snapshot.Load().Summary(yesIDs, noIDs, rejectedNorms)
}

// Stats computes per-attribute split counts from the current snapshot.
func (c *MatrixCache) Stats(yesIDs, noIDs, askedIDs, rejectedNorms []string) []store.AttributeStat {
	return c.snapshot.Load().Stats(yesIDs, noIDs, askedIDs, rejectedNorms)
}

// Catalog caches the attribute list with the same single-writer refresh
// discipline as the matrix.
type Catalog struct {
	src      store.Store
	log      *zap.Logger
	interval time.Duration
	snapshot atomic.Pointer[catalogSnapshot]
	stop     chan struct{}
	stopped  atomic.Bool
}

type catalogSnapshot struct {
	attributes []model.Attribute
	byID       map[string]model.Attribute
}

// NewCatalog builds an empty attribute-catalog cache over src.
func NewCatalog(src store.Store, interval time.Duration, log *zap.Logger) *Catalog {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	c := &Catalog{src: src, log: log, interval: interval, stop: make(chan struct{})}
	c.snapshot.Store(&catalogSnapshot{byID: map[string]model.Attribute{}})
	return c
}

// Refresh reloads the attribute list.
func (c *Catalog) Refresh(ctx context.Context) error {
	attrs, err := c.src.ListAttributes(ctx)
	if err != nil {
		c.log.Warn("catalog refresh failed, keeping stale snapshot", zap.Error(err))
		return err
	}
	snap := &catalogSnapshot{attributes: attrs, byID: make(map[string]model.Attribute, len(attrs))}
	for _, a := range attrs {
		snap.byID[a.ID] = a
	}
	c.snapshot.Store(snap)
	return nil
}

// Start launches the refresh writer, refreshing once immediately.
func (c *Catalog) Start(ctx context.Context) {
	_ = c.Refresh(ctx)
	go func() {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = c.Refresh(context.Background())
			case <-c.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the refresh goroutine. Idempotent.
func (c *Catalog) Stop() {
	if c.stopped.CompareAndSwap(false, true) {
		close(c.stop)
	}
}

// Attributes returns the cached attribute list.
func (c *Catalog) Attributes() []model.Attribute {
	return c.snapshot.Load().attributes
}

// Get looks an attribute up by id.
func (c *Catalog) Get(id string) (model.Attribute, bool) {
	a, ok := c.snapshot.Load().byID[id]
	return a, ok
}
