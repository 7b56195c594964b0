package objectcontext

import (
	"context"

	"github.com/mandelsoft/objectgraph/pkg/events"
	"github.com/mandelsoft/objectgraph/pkg/persistent"
)

type Lifecycle string

const (
	PostAdd     Lifecycle = "PostAdd"
	PrePersist  Lifecycle = "PrePersist"
	PreUpdate   Lifecycle = "PreUpdate"
	PreRemove   Lifecycle = "PreRemove"
	PostPersist Lifecycle = "PostPersist"
	PostUpdate  Lifecycle = "PostUpdate"
	PostRemove  Lifecycle = "PostRemove"
	PostLoad    Lifecycle = "PostLoad"
)

// LifecycleEvent is passed to lifecycle callbacks. A callback
// failing a Pre event aborts the triggering operation.
type LifecycleEvent struct {
	Type    Lifecycle
	Context context.Context
	Object  *persistent.Object
	err     error
	seen    map[*callback]bool
}

func (e *LifecycleEvent) Fail(err error) {
	if e.err == nil {
		e.err = err
	}
}

func (e *LifecycleEvent) Err() error {
	return e.err
}

type Callback func(ctx context.Context, o *persistent.Object) error

type callback struct {
	typ Lifecycle
	f   Callback
}

func (c *callback) HandleEvent(e *LifecycleEvent) {
	if e.Type != c.typ || e.err != nil || e.seen[c] {
		return
	}
	e.seen[c] = true
	e.Fail(c.f(e.Context, e.Object))
}

// Callbacks is a registry of lifecycle callbacks. It may be
// shared by several contexts.
type Callbacks struct {
	registry events.HandlerRegistry[*LifecycleEvent]
}

func NewCallbacks() *Callbacks {
	return &Callbacks{registry: events.NewHandlerRegistry[*LifecycleEvent]()}
}

// Register adds a callback for the given entities, for all
// entities if none is given. The returned handler can be used
// to unregister the callback.
func (c *Callbacks) Register(t Lifecycle, f Callback, entities ...string) events.EventHandler[*LifecycleEvent] {
	h := &callback{typ: t, f: f}
	c.registry.RegisterHandler(h, entities...)
	return h
}

func (c *Callbacks) Unregister(h events.EventHandler[*LifecycleEvent], entities ...string) {
	c.registry.UnregisterHandler(h, entities...)
}

// trigger calls the callbacks registered for the entity of the
// object and its super entities.
func (c *Callbacks) trigger(ctx context.Context, t Lifecycle, o *persistent.Object, entities []string) error {
	if !c.registry.HasHandlers() {
		return nil
	}
	e := &LifecycleEvent{Type: t, Context: ctx, Object: o, seen: map[*callback]bool{}}
	for _, n := range entities {
		c.registry.TriggerEvent(n, e)
	}
	if e.err != nil {
		log.Debug("{{event}} callback for {{object}} failed", "event", t, "object", o, "error", e.err)
	}
	return e.err
}
