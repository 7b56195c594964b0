package snapshot

import (
	"github.com/mandelsoft/objectgraph/pkg/events"
	"github.com/mandelsoft/objectgraph/pkg/oid"
)

// Event describes snapshot changes. Events are triggered once per
// root entity, the event kind is the entity name.
type Event struct {
	// Source identifies the cache (or remote peer) the change originates from.
	Source      string         `json:"source"`
	Updated     []oid.ObjectId `json:"updated,omitempty"`
	Deleted     []oid.ObjectId `json:"deleted,omitempty"`
	Invalidated []oid.ObjectId `json:"invalidated,omitempty"`
}

func (e *Event) IsEmpty() bool {
	return len(e.Updated)+len(e.Deleted)+len(e.Invalidated) == 0
}

// Ids returns all identities affected by the event.
func (e *Event) Ids() []oid.ObjectId {
	var r []oid.ObjectId
	r = append(r, e.Updated...)
	r = append(r, e.Deleted...)
	return append(r, e.Invalidated...)
}

type Handler = events.EventHandler[*Event]

func HandlerFunc(f func(e *Event)) Handler {
	return events.HandlerFunc[*Event](f)
}

// split separates an event into events per entity.
func split(e *Event) map[string]*Event {
	result := map[string]*Event{}
	get := func(id oid.ObjectId) *Event {
		n := result[id.Entity()]
		if n == nil {
			n = &Event{Source: e.Source}
			result[id.Entity()] = n
		}
		return n
	}
	for _, id := range e.Updated {
		n := get(id)
		n.Updated = append(n.Updated, id)
	}
	for _, id := range e.Deleted {
		n := get(id)
		n.Deleted = append(n.Deleted, id)
	}
	for _, id := range e.Invalidated {
		n := get(id)
		n.Invalidated = append(n.Invalidated, id)
	}
	return result
}
