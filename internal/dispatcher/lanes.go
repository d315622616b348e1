// internal/dispatcher/lanes.go
package dispatcher

import (
	"context"
	"sync"
)

// lanes serializes work per user while letting different users run in
// parallel. Idle lanes are dropped.
type lanes struct {
	mu sync.Mutex
	m  map[int64]*lane
}

type lane struct {
	slot chan struct{}
	refs int
}

func newLanes() *lanes {
	return &lanes{m: make(map[int64]*lane)}
}

// acquire waits until userID's lane is free and returns its release func.
// It gives up with ctx's error when ctx ends first.
func (l *lanes) acquire(ctx context.Context, userID int64) (func(), error) {
	l.mu.Lock()
	ln, ok := l.m[userID]
	if !ok {
		ln = &lane{slot: make(chan struct{}, 1)}
		l.m[userID] = ln
	}
	ln.refs++
	l.mu.Unlock()

	select {
	case ln.slot <- struct{}{}:
		return func() {
			<-ln.slot
			l.unref(userID, ln)
		}, nil
	case <-ctx.Done():
		l.unref(userID, ln)
		return nil, ctx.Err()
	}
}

func (l *lanes) unref(userID int64, ln *lane) {
	l.mu.Lock()
	ln.refs--
	if ln.refs == 0 {
		delete(l.m, userID)
	}
	l.mu.Unlock()
}

func (l *lanes) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}
