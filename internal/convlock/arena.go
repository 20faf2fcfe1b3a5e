// Package convlock serializes work per conversation inside one process.
package convlock

import (
	"context"
	"sync"
)

type handle struct {
	ch   chan struct{} // holds one token while locked
	refs int
}

// Arena hands out one mutex per key. A key's handle lives only while someone
// holds or waits for it.
type Arena struct {
	mu      sync.Mutex
	handles map[string]*handle
}

func New() *Arena {
	return &Arena{handles: make(map[string]*handle)}
}

func (a *Arena) acquire(key string) *handle {
	a.mu.Lock()
	defer a.mu.Unlock()
	h, ok := a.handles[key]
	if !ok {
		h = &handle{ch: make(chan struct{}, 1)}
		a.handles[key] = h
	}
	h.refs++
	return h
}

func (a *Arena) release(key string, h *handle) {
	a.mu.Lock()
	defer a.mu.Unlock()
	h.refs--
	if h.refs == 0 {
		delete(a.handles, key)
	}
}

// Lock blocks until key is free or ctx is done. The returned unlock is
// idempotent.
func (a *Arena) Lock(ctx context.Context, key string) (func(), error) {
	h := a.acquire(key)
	select {
	case h.ch <- struct{}{}:
	case <-ctx.Done():
		a.release(key, h)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-h.ch
			a.release(key, h)
		})
	}, nil
}

// Len is the number of live handles.
func (a *Arena) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.handles)
}
