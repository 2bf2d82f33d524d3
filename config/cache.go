package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Cached memoizes a Resolver. A nil result is not cached, so a config file
// that appears later is picked up on the next call.
type Cached struct {
	resolver *Resolver
	log      *zap.Logger
	group    singleflight.Group

	mu     sync.RWMutex
	value  map[string]string
	loaded bool
	loads  int
	gen    uint64
}

// NewCached wraps r.
func NewCached(r *Resolver) *Cached {
	return &Cached{resolver: r, log: r.log}
}

// Resolve returns the cached map, resolving it once for all concurrent
// callers on a miss. The returned map must not be modified.
func (c *Cached) Resolve() map[string]string {
	c.mu.RLock()
	if c.loaded {
		v := c.value
		c.mu.RUnlock()
		return v
	}
	c.mu.RUnlock()

	v, _, _ := c.group.Do("resolve", func() (interface{}, error) {
		m := c.resolver.Resolve()
		c.mu.Lock()
		c.loads++
		if m != nil {
			c.value = m
			c.loaded = true
		}
		c.mu.Unlock()
		return m, nil
	})
	m, _ := v.(map[string]string)
	return m
}

// Invalidate drops the cached map and advances the generation.
func (c *Cached) Invalidate() {
	c.mu.Lock()
	c.value = nil
	c.loaded = false
	c.gen++
	c.mu.Unlock()
}

// Generation counts invalidations. Callers deriving state from Resolve can
// compare it to tell when that state is stale.
func (c *Cached) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gen
}

// Loads reports how many times the underlying resolver has run.
func (c *Cached) Loads() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loads
}

// Watch invalidates the cache whenever a candidate config file is created,
// written, removed or renamed. It blocks until ctx ends. ready, when not
// nil, is closed once the watches are in place.
func (c *Cached) Watch(ctx context.Context, ready chan<- struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: create watcher: %w", err)
	}
	defer watcher.Close()

	files := make(map[string]bool)
	dirs := make(map[string]bool)
	for _, p := range c.resolver.watchPaths() {
		files[filepath.Clean(p)] = true
		dir := filepath.Dir(p)
		if dirs[dir] {
			continue
		}
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			c.log.Warn("config watch failed", zap.String("dir", dir), zap.Error(err))
			continue
		}
		dirs[dir] = true
	}
	if ready != nil {
		close(ready)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !files[filepath.Clean(event.Name)] {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			c.log.Info("config changed", zap.String("path", event.Name), zap.Stringer("op", event.Op))
			c.Invalidate()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.log.Error("config watcher error", zap.Error(err))
		}
	}
}
