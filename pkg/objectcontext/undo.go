package objectcontext

import (
	"github.com/mandelsoft/objectgraph/pkg/graph"
	"github.com/mandelsoft/objectgraph/pkg/oid"
	"github.com/mandelsoft/objectgraph/pkg/persistent"
)

// undo applies inverted changes to the objects of a context
// without recording them. Object states are restored separately.
type undo struct {
	c *Context
}

var _ graph.Handler = (*undo)(nil)

func (u *undo) lookup(id oid.ObjectId) *persistent.Object {
	if o := u.c.graph.Node(id); o != nil {
		return o
	}
	u.c.lock.Lock()
	defer u.c.lock.Unlock()
	return u.c.removed[id.Key()]
}

func (u *undo) NodeCreated(id oid.ObjectId, entity string) error {
	if u.c.graph.Node(id) != nil {
		return nil
	}
	u.c.lock.Lock()
	o := u.c.removed[id.Key()]
	delete(u.c.removed, id.Key())
	u.c.lock.Unlock()
	if o == nil {
		return persistent.ErrNotRegistered
	}
	o.SetOwner(u.c)
	return u.c.graph.RegisterNode(o)
}

func (u *undo) NodeRemoved(id oid.ObjectId) error {
	if o := u.c.graph.UnregisterNode(id); o != nil {
		o.Detach()
	}
	return nil
}

func (u *undo) NodePropertyChanged(id oid.ObjectId, property string, old, new any) error {
	if o := u.lookup(id); o != nil {
		o.SetRawValue(property, new)
	}
	return nil
}

func (u *undo) ArcCreated(id oid.ObjectId, relationship string, target oid.ObjectId) error {
	o, t := u.lookup(id), u.lookup(target)
	if o == nil || t == nil {
		return nil
	}
	if o.Descriptor().ToOneRelationship(relationship) != nil {
		o.SetRawToOne(relationship, t)
	} else {
		o.AddRawToMany(relationship, t)
	}
	return nil
}

func (u *undo) ArcDeleted(id oid.ObjectId, relationship string, target oid.ObjectId) error {
	o, t := u.lookup(id), u.lookup(target)
	if o == nil || t == nil {
		return nil
	}
	if o.Descriptor().ToOneRelationship(relationship) != nil {
		if cur, ok := o.PeekToOne(relationship); ok && cur == t {
			o.SetRawToOne(relationship, nil)
		}
	} else {
		o.RemoveRawToMany(relationship, t)
	}
	return nil
}
