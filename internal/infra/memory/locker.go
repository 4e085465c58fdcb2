// internal/infra/memory/locker.go
package memory

import (
	"context"
	"sync"

	"offer-engine/internal/domain"
)

type keyLock struct {
	ch   chan struct{}
	refs int
}

// Locker is a keyed mutex for single-process deployments. Waiters honour
// their context, and a key's entry is dropped once nobody holds or waits on it.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

// NewLocker creates an empty keyed locker.
func NewLocker() *Locker {
	return &Locker{locks: make(map[string]*keyLock)}
}

var _ domain.Locker = (*Locker)(nil)

func (l *Locker) Lock(ctx context.Context, name string) (domain.Lock, error) {
	l.mu.Lock()
	kl, ok := l.locks[name]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		l.locks[name] = kl
	}
	kl.refs++
	l.mu.Unlock()

	select {
	case kl.ch <- struct{}{}:
		return &heldLock{locker: l, name: name, kl: kl}, nil
	case <-ctx.Done():
		l.release(name, kl)
		return nil, domain.ErrLockNotAcquired
	}
}

func (l *Locker) release(name string, kl *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, name)
	}
}

type heldLock struct {
	locker *Locker
	name   string
	kl     *keyLock
	once   sync.Once
}

func (h *heldLock) Unlock(context.Context) error {
	h.once.Do(func() {
		<-h.kl.ch
		h.locker.release(h.name, h.kl)
	})
	return nil
}
