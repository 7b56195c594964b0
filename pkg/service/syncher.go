package service

import (
	"context"
	"errors"
	"sync"

	"github.com/mandelsoft/objectgraph/pkg/utils"
)

// Syncher waits for a state of a service and reports the errors
// recorded until then.
type Syncher interface {
	SetError(err error)
	Wait() error
}

// Trigger is a Syncher released by its owner.
type Trigger interface {
	Syncher
	Trigger()
}

type errorList struct {
	lock sync.Mutex
	errs []error
}

func (l *errorList) SetError(err error) {
	if err == nil {
		return
	}
	l.lock.Lock()
	defer l.lock.Unlock()
	l.errs = append(l.errs, err)
}

func (l *errorList) result() error {
	l.lock.Lock()
	defer l.lock.Unlock()
	return errors.Join(l.errs...)
}

// Sync provides a Syncher released when the wait group is done.
func Sync(wg *sync.WaitGroup) Syncher {
	return &groupSyncher{group: wg}
}

type groupSyncher struct {
	errorList
	group *sync.WaitGroup
}

func (s *groupSyncher) Wait() error {
	s.group.Wait()
	return s.result()
}

// SyncTrigger provides a Syncher released by the first call to
// Trigger.
func SyncTrigger() Trigger {
	return &triggerSyncher{point: utils.NewSyncPoint()}
}

type triggerSyncher struct {
	errorList
	point *utils.SyncPoint
}

var _ Trigger = (*triggerSyncher)(nil)

func (t *triggerSyncher) Trigger() {
	t.point.Release()
}

func (t *triggerSyncher) Wait() error {
	t.point.Wait(context.Background())
	return t.result()
}
