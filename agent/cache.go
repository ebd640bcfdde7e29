package agent

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// BuildFunc constructs an agent for an employee. The cache calls it at
// most once per employee across concurrent Get calls.
type BuildFunc func(ctx context.Context, employeeID string) (*Agent, error)

// Cache is the injectable agent cache. Implementations must be safe for
// concurrent use.
type Cache interface {
	// Get returns the cached agent for an employee, building it on a miss.
	Get(ctx context.Context, employeeID string, build BuildFunc) (*Agent, error)

	// Invalidate drops the cached agent so the next Get rebuilds it.
	Invalidate(employeeID string)

	// Len reports the number of cached agents.
	Len() int
}

// MemoryCache caches built agents keyed by employee ID. Concurrent
// misses for the same employee share one build via singleflight; a
// rebuild after Invalidate swaps the entry atomically under the lock.
type MemoryCache struct {
	mu     sync.RWMutex
	agents map[string]*Agent
	group  singleflight.Group
}

// NewMemoryCache creates an empty agent cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{agents: make(map[string]*Agent)}
}

func (c *MemoryCache) Get(ctx context.Context, employeeID string, build BuildFunc) (*Agent, error) {
	c.mu.RLock()
	a, ok := c.agents[employeeID]
	c.mu.RUnlock()
	if ok {
		return a, nil
	}

	v, err, _ := c.group.Do(employeeID, func() (any, error) {
		// Another flight may have stored the agent between the read
		// above and this call.
		c.mu.RLock()
		a, ok := c.agents[employeeID]
		c.mu.RUnlock()
		if ok {
			return a, nil
		}

		built, err := build(ctx, employeeID)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.agents[employeeID] = built
		c.mu.Unlock()
		return built, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Agent), nil
}

func (c *MemoryCache) Invalidate(employeeID string) {
	c.mu.Lock()
	delete(c.agents, employeeID)
	c.mu.Unlock()

	// Forget any in-flight build so a rebuild sees fresh config.
	c.group.Forget(employeeID)
}

func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.agents)
}
