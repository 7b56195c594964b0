package utils

import (
	"context"
	"sync"
)

// SyncPoint is released exactly once. Waiters arriving after the
// release pass immediately.
type SyncPoint struct {
	once     sync.Once
	released chan struct{}
}

func NewSyncPoint() *SyncPoint {
	return &SyncPoint{released: make(chan struct{})}
}

// Release releases all waiters. Further calls are ignored.
func (p *SyncPoint) Release() {
	p.once.Do(func() { close(p.released) })
}

func (p *SyncPoint) IsReleased() bool {
	select {
	case <-p.released:
		return true
	default:
		return false
	}
}

// Wait reports whether the point has been released before ctx is done.
func (p *SyncPoint) Wait(ctx context.Context) bool {
	if p.IsReleased() {
		return true
	}
	select {
	case <-ctx.Done():
		return false
	case <-p.released:
		return true
	}
}
