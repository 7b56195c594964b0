package graph

import (
	"fmt"
	"strings"

	"github.com/mandelsoft/objectgraph/pkg/oid"
	"github.com/mandelsoft/objectgraph/pkg/utils"
)

type ChangeType string

const (
	NodeCreated     ChangeType = "created"
	NodeRemoved     ChangeType = "removed"
	PropertyChanged ChangeType = "property"
	ArcCreated      ChangeType = "arcCreated"
	ArcDeleted      ChangeType = "arcDeleted"
)

// Change is a single recorded modification of the object graph.
// Properties are addressed by name, arcs by relationship name and
// target id.
type Change struct {
	Type     ChangeType    `json:"type"`
	Node     oid.ObjectId  `json:"node"`
	Entity   string        `json:"entity,omitempty"`
	Property string        `json:"property,omitempty"`
	Old      any           `json:"old,omitempty"`
	New      any           `json:"new,omitempty"`
	Target   *oid.ObjectId `json:"target,omitempty"`
}

func (c Change) String() string {
	switch c.Type {
	case NodeCreated, NodeRemoved:
		return fmt.Sprintf("%s %s", c.Type, c.Node)
	case PropertyChanged:
		return fmt.Sprintf("%s %s.%s: %v -> %v", c.Type, c.Node, c.Property, c.Old, c.New)
	default:
		return fmt.Sprintf("%s %s.%s -> %s", c.Type, c.Node, c.Property, c.Target)
	}
}

// Inverse returns the change reverting this change.
func (c Change) Inverse() Change {
	r := c
	switch c.Type {
	case NodeCreated:
		r.Type = NodeRemoved
	case NodeRemoved:
		r.Type = NodeCreated
	case PropertyChanged:
		r.Old, r.New = c.New, c.Old
	case ArcCreated:
		r.Type = ArcDeleted
	case ArcDeleted:
		r.Type = ArcCreated
	}
	return r
}

// Handler is used to apply a diff to some target.
type Handler interface {
	NodeCreated(id oid.ObjectId, entity string) error
	NodeRemoved(id oid.ObjectId) error
	NodePropertyChanged(id oid.ObjectId, property string, old, new any) error
	ArcCreated(id oid.ObjectId, relationship string, target oid.ObjectId) error
	ArcDeleted(id oid.ObjectId, relationship string, target oid.ObjectId) error
}

// Diff is an ordered sequence of changes. It is serializable and
// can be sent to a parent context or a remote object base.
type Diff struct {
	Changes []Change `json:"changes,omitempty"`
}

func NewDiff(changes ...Change) *Diff {
	return &Diff{Changes: changes}
}

func (d *Diff) IsEmpty() bool {
	return d == nil || len(d.Changes) == 0
}

func (d *Diff) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Changes)
}

// Apply replays the changes in order.
func (d *Diff) Apply(h Handler) error {
	if d == nil {
		return nil
	}
	for _, c := range d.Changes {
		if err := apply(h, c); err != nil {
			return fmt.Errorf("%s: %w", c, err)
		}
	}
	return nil
}

// Undo replays the inverse changes in reverse order.
func (d *Diff) Undo(h Handler) error {
	return d.Inverse().Apply(h)
}

func (d *Diff) Inverse() *Diff {
	if d == nil {
		return nil
	}
	r := make([]Change, len(d.Changes))
	for i, c := range d.Changes {
		r[len(d.Changes)-1-i] = c.Inverse()
	}
	return NewDiff(r...)
}

func apply(h Handler, c Change) error {
	switch c.Type {
	case NodeCreated:
		return h.NodeCreated(c.Node, c.Entity)
	case NodeRemoved:
		return h.NodeRemoved(c.Node)
	case PropertyChanged:
		return h.NodePropertyChanged(c.Node, c.Property, c.Old, c.New)
	case ArcCreated, ArcDeleted:
		if c.Target == nil {
			return fmt.Errorf("arc change without target")
		}
		if c.Type == ArcCreated {
			return h.ArcCreated(c.Node, c.Property, *c.Target)
		}
		return h.ArcDeleted(c.Node, c.Property, *c.Target)
	}
	return fmt.Errorf("unknown change type %q", c.Type)
}

// Compressed returns an equivalent diff with redundant changes
// removed:
//   - nodes created and removed again disappear completely
//   - subsequent property changes are coalesced, no-op changes are dropped
//   - arc creations and deletions cancel each other
func (d *Diff) Compressed() *Diff {
	if d == nil {
		return nil
	}

	transient := map[string]bool{}
	created := map[string]bool{}
	for _, c := range d.Changes {
		switch c.Type {
		case NodeCreated:
			created[c.Node.Key()] = true
		case NodeRemoved:
			if created[c.Node.Key()] {
				transient[c.Node.Key()] = true
			}
		}
	}

	type slot struct {
		change Change
		keep   bool
		count  int
	}
	var slots []*slot
	props := map[string]*slot{}
	arcs := map[string]*slot{}

	for _, c := range d.Changes {
		if transient[c.Node.Key()] || (c.Target != nil && transient[c.Target.Key()]) {
			continue
		}
		switch c.Type {
		case PropertyChanged:
			key := c.Node.Key() + "/" + c.Property
			if s := props[key]; s != nil {
				s.change.New = c.New
				continue
			}
			s := &slot{change: c, keep: true}
			props[key] = s
			slots = append(slots, s)
		case ArcCreated, ArcDeleted:
			key := c.Node.Key() + "/" + c.Property + "/" + c.Target.Key()
			delta := 1
			if c.Type == ArcDeleted {
				delta = -1
			}
			if s := arcs[key]; s != nil {
				s.count += delta
				s.change = c
				continue
			}
			s := &slot{change: c, keep: true, count: delta}
			arcs[key] = s
			slots = append(slots, s)
		default:
			if c.Type == NodeRemoved {
				// properties of removed nodes are irrelevant
				for k, s := range props {
					if strings.HasPrefix(k, c.Node.Key()+"/") {
						s.keep = false
					}
				}
			}
			slots = append(slots, &slot{change: c, keep: true})
		}
	}

	var r []Change
	for _, s := range slots {
		switch s.change.Type {
		case PropertyChanged:
			if !s.keep || utils.EqualValues(s.change.Old, s.change.New) {
				continue
			}
		case ArcCreated, ArcDeleted:
			if s.count == 0 {
				continue
			}
		}
		r = append(r, s.change)
	}
	return NewDiff(r...)
}
