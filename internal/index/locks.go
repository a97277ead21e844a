package index

import (
	"context"
	"sync"
)

// keyedLocks serializes work per key. Lock slots are created on demand and
// removed once the last holder or waiter releases its reference, so the map
// does not grow with the number of documents ever indexed.
type keyedLocks struct {
	mu    sync.Mutex
	slots map[string]*lockSlot
}

type lockSlot struct {
	ch   chan struct{}
	refs int
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{slots: make(map[string]*lockSlot)}
}

// acquire takes the lock for key. With wait=true it blocks until the lock is
// free or ctx is cancelled; with wait=false it returns ErrReindexInFlight
// immediately when the lock is held. The returned function releases the lock.
func (l *keyedLocks) acquire(ctx context.Context, key string, wait bool) (func(), error) {
	l.mu.Lock()
	slot, ok := l.slots[key]
	if !ok {
		slot = &lockSlot{ch: make(chan struct{}, 1)}
		l.slots[key] = slot
	}
	slot.refs++
	l.mu.Unlock()

	acquired := false
	if wait {
		select {
		case slot.ch <- struct{}{}:
			acquired = true
		case <-ctx.Done():
		}
	} else {
		select {
		case slot.ch <- struct{}{}:
			acquired = true
		default:
		}
	}

	if !acquired {
		l.release(key, slot)
		if wait {
			return nil, ctx.Err()
		}
		return nil, ErrReindexInFlight
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-slot.ch
			l.release(key, slot)
		})
	}, nil
}

func (l *keyedLocks) release(key string, slot *lockSlot) {
	l.mu.Lock()
	slot.refs--
	if slot.refs == 0 {
		delete(l.slots, key)
	}
	l.mu.Unlock()
}
