package assistant

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Lazy creates an assistant on first use and remembers its id. Concurrent
// first callers share a single creation.
type Lazy struct {
	create func(ctx context.Context) (string, error)

	mu    sync.RWMutex
	id    string
	group singleflight.Group
}

// NewLazy returns a Lazy that starts with id when it is not empty.
func NewLazy(id string, create func(ctx context.Context) (string, error)) *Lazy {
	return &Lazy{id: id, create: create}
}

func (l *Lazy) ID(ctx context.Context) (string, error) {
	l.mu.RLock()
	id := l.id
	l.mu.RUnlock()
	if id != "" {
		return id, nil
	}

	v, err, _ := l.group.Do("create", func() (any, error) {
		l.mu.RLock()
		id := l.id
		l.mu.RUnlock()
		if id != "" {
			return id, nil
		}

		id, err := l.create(ctx)
		if err != nil {
			return "", err
		}
		l.mu.Lock()
		l.id = id
		l.mu.Unlock()
		return id, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}
