package events

import (
	"slices"
	"sync"
)

type EventHandler[E any] interface {
	HandleEvent(E)
}

type handlerFunc[E any] struct {
	f func(E)
}

func (h *handlerFunc[E]) HandleEvent(e E) {
	h.f(e)
}

// HandlerFunc wraps a function into a comparable EventHandler.
func HandlerFunc[E any](f func(E)) EventHandler[E] {
	return &handlerFunc[E]{f}
}

type HandlerRegistration[E any] interface {
	RegisterHandler(h EventHandler[E], kinds ...string)
	UnregisterHandler(h EventHandler[E], kinds ...string)
}

type HandlerRegistry[E any] interface {
	HandlerRegistration[E]
	TriggerEvent(kind string, e E)
	HasHandlers() bool
}

// registry dispatches events of a kind to the handlers registered
// for this kind and to the handlers registered for all kinds
// (empty kind). Handlers must be comparable.
type registry[E any] struct {
	lock  sync.Mutex
	kinds map[string][]EventHandler[E]
}

var _ HandlerRegistry[any] = (*registry[any])(nil)

func NewHandlerRegistry[E any]() HandlerRegistry[E] {
	return &registry[E]{kinds: map[string][]EventHandler[E]{}}
}

func (r *registry[E]) RegisterHandler(h EventHandler[E], kinds ...string) {
	if len(kinds) == 0 {
		kinds = []string{""}
	}
	r.lock.Lock()
	defer r.lock.Unlock()

	for _, k := range kinds {
		if !slices.Contains(r.kinds[k], h) {
			r.kinds[k] = append(r.kinds[k], h)
		}
	}
}

func (r *registry[E]) UnregisterHandler(h EventHandler[E], kinds ...string) {
	if len(kinds) == 0 {
		kinds = []string{""}
	}
	r.lock.Lock()
	defer r.lock.Unlock()

	for _, k := range kinds {
		handlers := r.kinds[k]
		if i := slices.Index(handlers, h); i >= 0 {
			handlers = slices.Delete(slices.Clone(handlers), i, i+1)
		}
		if len(handlers) > 0 {
			r.kinds[k] = handlers
		} else {
			delete(r.kinds, k)
		}
	}
}

func (r *registry[E]) HasHandlers() bool {
	r.lock.Lock()
	defer r.lock.Unlock()
	return len(r.kinds) > 0
}

func (r *registry[E]) getHandlers(kind string) []EventHandler[E] {
	r.lock.Lock()
	defer r.lock.Unlock()

	handlers := slices.Clone(r.kinds[""])
	if kind != "" {
		for _, h := range r.kinds[kind] {
			if !slices.Contains(handlers, h) {
				handlers = append(handlers, h)
			}
		}
	}
	return handlers
}

// TriggerEvent calls the handlers synchronously outside
// of the registry lock.
func (r *registry[E]) TriggerEvent(kind string, e E) {
	for _, h := range r.getHandlers(kind) {
		h.HandleEvent(e)
	}
}
