package persistent

import (
	"maps"

	"github.com/mandelsoft/objectgraph/pkg/fault"
	"github.com/mandelsoft/objectgraph/pkg/metadata"
	"github.com/mandelsoft/objectgraph/pkg/oid"
	"github.com/mandelsoft/objectgraph/pkg/snapshot"
	"github.com/mandelsoft/objectgraph/pkg/utils"
)

// The methods below are used by object contexts to manage
// objects. They neither record changes nor maintain reverse
// relationships.

func (o *Object) SetState(s State) {
	o.state = s
}

func (o *Object) SetId(id oid.ObjectId) {
	o.id = id
}

func (o *Object) SetDescriptor(d *metadata.Descriptor) {
	o.desc = d
}

func (o *Object) SetOwner(owner Owner) {
	o.owner = owner
}

// Detach removes the object from its context.
func (o *Object) Detach() {
	o.owner = nil
	o.state = Transient
}

func (o *Object) SetSnapshot(s *snapshot.Snapshot) {
	o.snapshot = s
}

// LoadSnapshot sets the attribute values from a row image.
// Already known relationship placeholders are kept.
func (o *Object) LoadSnapshot(s *snapshot.Snapshot) {
	o.snapshot = s
	o.values = map[string]any{}
	for _, a := range o.desc.Attributes {
		if s.Has(a.GetColumn()) {
			o.values[a.Name] = s.Get(a.GetColumn())
		}
	}
}

// Values returns a copy of the attribute values.
func (o *Object) Values() map[string]any {
	return maps.Clone(o.values)
}

func (o *Object) RawValue(name string) (any, bool) {
	v, ok := o.values[name]
	return v, ok
}

func (o *Object) SetRawValue(name string, v any) {
	o.values[name] = utils.NormalizeValue(v)
}

func (o *Object) ClearRawValue(name string) {
	delete(o.values, name)
}

// PeekToOne returns the target of a to-one relationship, if it
// is already resolved.
func (o *Object) PeekToOne(name string) (*Object, bool) {
	if h := o.toOne[name]; h != nil {
		return h.Peek()
	}
	return nil, false
}

// PeekToMany returns the targets of a to-many relationship, if it
// is already resolved.
func (o *Object) PeekToMany(name string) ([]*Object, bool) {
	if h := o.toMany[name]; h != nil {
		return h.Peek()
	}
	return nil, false
}

// PendingToMany returns the queued modifications of an unresolved
// to-many relationship.
func (o *Object) PendingToMany(name string) (added, removed []*Object) {
	if h := o.toMany[name]; h != nil {
		return h.Pending()
	}
	return nil, nil
}

func (o *Object) SetRawToOne(name string, target *Object) {
	if p := o.desc.ToOneRelationship(name); p != nil {
		o.toOneHolder(p).Set(target)
	}
}

func (o *Object) AddRawToMany(name string, target *Object) bool {
	if p := o.desc.ToManyRelationship(name); p != nil {
		return o.toManyHolder(p).Add(target)
	}
	return false
}

func (o *Object) RemoveRawToMany(name string, target *Object) bool {
	if p := o.desc.ToManyRelationship(name); p != nil {
		return o.toManyHolder(p).Remove(target)
	}
	return false
}

// ResetRelationship forgets the state of a relationship. It is
// resolved again on next access.
func (o *Object) ResetRelationship(name string) {
	delete(o.toOne, name)
	delete(o.toMany, name)
}

func (o *Object) ResetRelationships() {
	o.toOne = map[string]*fault.Value[*Object]{}
	o.toMany = map[string]*fault.List[*Object]{}
}

// MakeHollow drops all state. The object is inflated again on
// next access.
func (o *Object) MakeHollow() {
	o.values = map[string]any{}
	o.snapshot = nil
	o.ResetRelationships()
	o.state = Hollow
}
