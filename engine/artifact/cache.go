package artifact

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Cache holds the current artifact Bundle for the process. Readers get a
// snapshot pointer and keep using it for the whole request; ForceReload
// installs a new Bundle atomically without touching the old one.
type Cache struct {
	loader Loader
	cur    atomic.Pointer[Bundle]
	mu     sync.Mutex // serializes storage reads
	logger *slog.Logger
	onSwap []func(old, cur *Bundle)
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithCacheLogger sets the cache logger.
func WithCacheLogger(l *slog.Logger) CacheOption {
	return func(c *Cache) { c.logger = l }
}

// OnSwap registers a hook called after a new Bundle is installed. old is nil
// on the first load.
func OnSwap(f func(old, cur *Bundle)) CacheOption {
	return func(c *Cache) { c.onSwap = append(c.onSwap, f) }
}

// NewCache creates an empty Cache over loader.
func NewCache(loader Loader, opts ...CacheOption) *Cache {
	c := &Cache{loader: loader, logger: slog.Default()}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Load returns the cached Bundle, reading storage only if nothing has been
// loaded yet. A failed load caches nothing.
func (c *Cache) Load(ctx context.Context) (*Bundle, error) {
	if b := c.cur.Load(); b != nil {
		return b, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if b := c.cur.Load(); b != nil {
		return b, nil
	}
	return c.loadLocked(ctx)
}

// Get is the request-path accessor; it behaves like Load.
func (c *Cache) Get(ctx context.Context) (*Bundle, error) {
	return c.Load(ctx)
}

// ForceReload re-reads storage. On success the new Bundle replaces the
// current one; on failure the current one stays installed.
func (c *Cache) ForceReload(ctx context.Context) (*Bundle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loadLocked(ctx)
}

// Current returns the installed Bundle, or nil before the first load.
func (c *Cache) Current() *Bundle {
	return c.cur.Load()
}

func (c *Cache) loadLocked(ctx context.Context) (*Bundle, error) {
	b, err := c.loader.Load(ctx)
	if err != nil {
		c.logger.Error("artifact load failed", "err", err)
		return nil, err
	}
	old := c.cur.Swap(b)

	attrs := []any{"generation", b.Generation.ID, "features", b.Schema.Len(), "warnings", len(b.Warnings)}
	if old != nil {
		attrs = append(attrs, "previous", old.Generation.ID)
	}
	c.logger.Info("artifacts installed", attrs...)

	for _, f := range c.onSwap {
		f(old, b)
	}
	return b, nil
}
