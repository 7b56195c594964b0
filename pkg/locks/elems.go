package locks

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

type lockState struct {
	waiting []waiter
}

type waiter chan struct{}

// ElementLocks provides exclusive locks per element key.
// Waiters are served in FIFO order.
type ElementLocks[T comparable] struct {
	lock  sync.Mutex
	locks map[T]*lockState
}

func NewElementLocks[T comparable]() *ElementLocks[T] {
	return &ElementLocks[T]{locks: map[T]*lockState{}}
}

func (e *ElementLocks[T]) IsLocked(eid T) bool {
	e.lock.Lock()
	defer e.lock.Unlock()

	return e.locks[eid] != nil
}

func (e *ElementLocks[T]) HasWaiting(eid T) bool {
	e.lock.Lock()
	defer e.lock.Unlock()

	return e.locks[eid] != nil && len(e.locks[eid].waiting) > 0
}

func (e *ElementLocks[T]) TryLock(eid T) bool {
	e.lock.Lock()
	defer e.lock.Unlock()

	if locked := e.locks[eid]; locked != nil {
		return false
	}
	e.locks[eid] = &lockState{}
	return true
}

func (e *ElementLocks[T]) Unlock(eid T) {
	e.lock.Lock()
	defer e.lock.Unlock()

	locked := e.locks[eid]
	if locked == nil {
		panic(fmt.Sprintf("unlocking unlocked element %v", eid))
	}
	if len(locked.waiting) > 0 {
		// ownership is handed over to the first waiter
		w := locked.waiting[0]
		locked.waiting = locked.waiting[1:]
		w <- struct{}{}
	} else {
		delete(e.locks, eid)
	}
}

// Lock waits for the lock of the given element. It returns
// the context error, if the context is done before the lock could
// be acquired.
func (e *ElementLocks[T]) Lock(ctx context.Context, eid T) error {
	e.lock.Lock()

	locked := e.locks[eid]
	if locked == nil {
		e.locks[eid] = &lockState{}
		e.lock.Unlock()
		return nil
	}

	w := make(waiter, 1)
	locked.waiting = append(locked.waiting, w)
	e.lock.Unlock()

	select {
	case <-w:
		return nil
	case <-ctx.Done():
		e.lock.Lock()
		defer e.lock.Unlock()
		if i := slices.Index(locked.waiting, w); i >= 0 {
			locked.waiting = slices.Delete(locked.waiting, i, i+1)
			return ctx.Err()
		}
		// the lock has been handed over concurrently
		<-w
		e.unlock(eid)
		return ctx.Err()
	}
}

func (e *ElementLocks[T]) unlock(eid T) {
	locked := e.locks[eid]
	if len(locked.waiting) > 0 {
		w := locked.waiting[0]
		locked.waiting = locked.waiting[1:]
		w <- struct{}{}
	} else {
		delete(e.locks, eid)
	}
}

// LockAll acquires the locks for all given elements in the given
// order. Callers must use a canonical order to avoid deadlocks.
// If any lock cannot be acquired, the already acquired ones
// are released again.
func (e *ElementLocks[T]) LockAll(ctx context.Context, eids ...T) error {
	for i, id := range eids {
		if slices.Contains(eids[:i], id) {
			continue
		}
		if err := e.Lock(ctx, id); err != nil {
			e.UnlockAll(eids[:i]...)
			return err
		}
	}
	return nil
}

func (e *ElementLocks[T]) UnlockAll(eids ...T) {
	for i, id := range eids {
		if slices.Contains(eids[:i], id) {
			continue
		}
		e.Unlock(id)
	}
}
