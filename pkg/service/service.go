package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/mandelsoft/objectgraph/pkg/ctxutil"
)

// Service is a long running component. Start returns an optional
// ready syncher released when the service is serving and a done
// syncher released when it has finished.
type Service interface {
	Start(ctx context.Context) (ready Syncher, done Syncher, err error)
	Wait() error
}

// Services runs a set of services on a shared context. The first
// service failing cancels the context for all others.
type Services interface {
	// Add registers a service. After Start it is started immediately.
	Add(s Service) error
	// Start starts the given services, or all registered ones if
	// none is given, and waits until they are ready.
	Start(list ...Service) error
	// Cancel stops all services by cancelling their context.
	Cancel()
	Wait() error
}

type services struct {
	lock    sync.Mutex
	ctx     context.Context
	pending []Service
	running map[Service]Syncher
	started bool
	wg      sync.WaitGroup
	errs    errorList
}

func New(ctx context.Context) Services {
	return &services{
		ctx:     ctxutil.CancelContext(ctx),
		running: map[Service]Syncher{},
	}
}

func (t *services) Add(s Service) error {
	t.lock.Lock()
	defer t.lock.Unlock()

	if !t.started {
		t.pending = append(t.pending, s)
		return nil
	}
	return t.launch(s)
}

func (t *services) Start(list ...Service) error {
	t.lock.Lock()
	defer t.lock.Unlock()

	if len(list) == 0 {
		if t.started {
			return nil
		}
		t.started = true
		list, t.pending = t.pending, nil
	}
	return t.launch(list...)
}

func (t *services) launch(list ...Service) error {
	var ready []Syncher
	for _, s := range list {
		if _, ok := t.running[s]; ok {
			continue
		}
		r, err := t.start(s)
		if err != nil {
			t.Cancel()
			return err
		}
		if r != nil {
			ready = append(ready, r)
		}
	}
	for _, r := range ready {
		if err := r.Wait(); err != nil {
			t.Cancel()
			return err
		}
	}
	return nil
}

func (t *services) start(s Service) (Syncher, error) {
	name := fmt.Sprintf("%T", s)
	log.Debug("starting service {{service}}", "service", name)

	ready, done, err := s.Start(t.ctx)
	if err == nil && done == nil {
		err = fmt.Errorf("no done syncher")
	}
	if err != nil {
		return nil, fmt.Errorf("service %s: %w", name, err)
	}
	t.running[s] = done
	t.wg.Add(1)
	go t.watch(name, done)
	return ready, nil
}

func (t *services) watch(name string, done Syncher) {
	defer t.wg.Done()
	if err := done.Wait(); err != nil {
		log.LogError(err, "service {{service}} failed", "service", name)
		t.errs.SetError(err)
		ctxutil.Cancel(t.ctx)
	}
}

func (t *services) Cancel() {
	log.Info("stopping services")
	ctxutil.Cancel(t.ctx)
}

func (t *services) Wait() error {
	t.wg.Wait()
	return t.errs.result()
}
