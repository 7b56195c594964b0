package persistent

import (
	"context"
	"fmt"

	"github.com/mandelsoft/objectgraph/pkg/fault"
	"github.com/mandelsoft/objectgraph/pkg/metadata"
	"github.com/mandelsoft/objectgraph/pkg/oid"
	"github.com/mandelsoft/objectgraph/pkg/snapshot"
	"github.com/mandelsoft/objectgraph/pkg/utils"
)

// Owner is the object context an object is registered in.
// Objects report their changes to the owner and use it to
// resolve faults.
type Owner interface {
	// PrepareForAccess inflates a hollow object.
	PrepareForAccess(ctx context.Context, o *Object) error
	PropertyChanged(o *Object, name string, old, new any)
	ArcChanged(o *Object, relationship string, target *Object, added bool)
	ToOneResolver(o *Object, p *metadata.ToOneProperty) fault.Resolver[*Object]
	ToManyResolver(o *Object, p *metadata.ToManyProperty) fault.Resolver[[]*Object]
}

// Object is a generic persistent object. Attribute values are kept
// by attribute name, relationships are kept as fault placeholders.
// An object is used by one logical flow at a time.
type Object struct {
	id       oid.ObjectId
	desc     *metadata.Descriptor
	state    State
	owner    Owner
	values   map[string]any
	toOne    map[string]*fault.Value[*Object]
	toMany   map[string]*fault.List[*Object]
	snapshot *snapshot.Snapshot
}

// NewObject creates an object. It is intended to be used by
// object contexts.
func NewObject(owner Owner, desc *metadata.Descriptor, id oid.ObjectId, state State) *Object {
	return &Object{
		id:     id,
		desc:   desc,
		state:  state,
		owner:  owner,
		values: map[string]any{},
		toOne:  map[string]*fault.Value[*Object]{},
		toMany: map[string]*fault.List[*Object]{},
	}
}

func (o *Object) Id() oid.ObjectId {
	return o.id
}

func (o *Object) Entity() string {
	return o.desc.Name()
}

func (o *Object) Descriptor() *metadata.Descriptor {
	return o.desc
}

func (o *Object) State() State {
	return o.state
}

func (o *Object) Owner() Owner {
	return o.owner
}

// Snapshot returns the last known persisted state, if any.
func (o *Object) Snapshot() *snapshot.Snapshot {
	return o.snapshot
}

// Version returns the version of the snapshot the object is based on.
func (o *Object) Version() uint64 {
	if o.snapshot == nil {
		return 0
	}
	return o.snapshot.Version()
}

func (o *Object) String() string {
	return fmt.Sprintf("%s%s", o.Entity(), o.id.String()[len(o.id.Entity()):])
}

func (o *Object) prepare(ctx context.Context) error {
	if o.state == Hollow && o.owner != nil {
		return o.owner.PrepareForAccess(ctx, o)
	}
	return nil
}

func (o *Object) unknown(name string, kind string) error {
	return NewObjectError(o, fmt.Errorf("%w: %s %q", metadata.ErrUnknownProperty, kind, name))
}

// Read returns the value of an attribute.
func (o *Object) Read(ctx context.Context, name string) (any, error) {
	if o.desc.Attribute(name) == nil {
		return nil, o.unknown(name, "attribute")
	}
	if err := o.prepare(ctx); err != nil {
		return nil, err
	}
	return o.values[name], nil
}

// ReadProperty returns the value of any property: attribute values,
// the related object for to-one and the list of related objects
// for to-many relationships.
func (o *Object) ReadProperty(ctx context.Context, name string) (any, error) {
	switch o.desc.Property(name).(type) {
	case *metadata.ToOneProperty:
		return o.ToOne(ctx, name)
	case *metadata.ToManyProperty:
		return o.ToMany(ctx, name)
	}
	return o.Read(ctx, name)
}

// Write sets an attribute value.
func (o *Object) Write(ctx context.Context, name string, value any) error {
	a := o.desc.Attribute(name)
	if a == nil {
		return o.unknown(name, "attribute")
	}
	if err := o.prepare(ctx); err != nil {
		return err
	}
	if o.state == Deleted {
		return NewObjectError(o, fmt.Errorf("%w: cannot modify deleted object", ErrInvalidState))
	}
	if a.Key && o.state.IsPersistent() {
		return NewObjectError(o, fmt.Errorf("%w: cannot modify key attribute %q of persistent object", ErrInvalidState, name))
	}
	value = utils.NormalizeValue(value)
	old := o.values[name]
	if _, ok := o.values[name]; ok && utils.EqualValues(old, value) {
		return nil
	}
	o.values[name] = value
	if o.owner != nil {
		o.owner.PropertyChanged(o, name, old, value)
	}
	return nil
}

func (o *Object) toOneHolder(p *metadata.ToOneProperty) *fault.Value[*Object] {
	h := o.toOne[p.Name]
	if h == nil {
		if o.owner == nil || o.state == New || o.state == Transient {
			h = fault.Resolved[*Object](nil)
		} else {
			h = fault.Unresolved(o.owner.ToOneResolver(o, p))
		}
		o.toOne[p.Name] = h
	}
	return h
}

func (o *Object) toManyHolder(p *metadata.ToManyProperty) *fault.List[*Object] {
	h := o.toMany[p.Name]
	if h == nil {
		if o.owner == nil || o.state == New || o.state == Transient {
			h = fault.ResolvedList[*Object]()
		} else {
			h = fault.UnresolvedList(o.owner.ToManyResolver(o, p))
		}
		o.toMany[p.Name] = h
	}
	return h
}

// ToOne returns the target of a to-one relationship, resolving
// the fault on first access.
func (o *Object) ToOne(ctx context.Context, name string) (*Object, error) {
	p := o.desc.ToOneRelationship(name)
	if p == nil {
		return nil, o.unknown(name, "to-one relationship")
	}
	if err := o.prepare(ctx); err != nil {
		return nil, err
	}
	return o.toOneHolder(p).Resolve(ctx)
}

// ToMany returns the targets of a to-many relationship, resolving
// the fault on first access.
func (o *Object) ToMany(ctx context.Context, name string) ([]*Object, error) {
	p := o.desc.ToManyRelationship(name)
	if p == nil {
		return nil, o.unknown(name, "to-many relationship")
	}
	if err := o.prepare(ctx); err != nil {
		return nil, err
	}
	return o.toManyHolder(p).Resolve(ctx)
}

func (o *Object) checkTarget(p *metadata.RelationshipProperty, target *Object) error {
	if target == nil {
		return nil
	}
	if target.desc.Root != p.TargetRoot {
		return NewObjectError(o, fmt.Errorf("relationship %q requires %s, but found %s", p.Name, p.Target, target.Entity()))
	}
	if target.owner != o.owner {
		return NewObjectError(o, fmt.Errorf("%w: relationship %q target %s", ErrForeignContext, p.Name, target))
	}
	if target.state == Deleted || target.state == Transient && o.owner != nil {
		return NewObjectError(o, fmt.Errorf("%w: relationship %q target %s is %s", ErrInvalidState, p.Name, target, target.state))
	}
	return nil
}

// SetToOne sets the target of a to-one relationship. The reverse
// relationship of the old and new target is maintained.
func (o *Object) SetToOne(ctx context.Context, name string, target *Object) error {
	p := o.desc.ToOneRelationship(name)
	if p == nil {
		return o.unknown(name, "to-one relationship")
	}
	if err := o.checkTarget(&p.RelationshipProperty, target); err != nil {
		return err
	}
	if err := o.prepare(ctx); err != nil {
		return err
	}
	h := o.toOneHolder(p)
	old, err := h.Resolve(ctx)
	if err != nil {
		return err
	}
	if old == target {
		return nil
	}
	h.Set(target)
	if old != nil {
		o.arcChanged(name, old, false)
	}
	if target != nil {
		o.arcChanged(name, target, true)
	}
	if rev := p.ReverseRelationship; rev != nil {
		if old != nil {
			old.unlinkReverse(rev.Name, o)
		}
		if target != nil {
			target.linkReverse(rev.Name, o)
		}
	}
	return nil
}

// AddToMany adds a target to a to-many relationship. The reverse
// relationship is maintained.
func (o *Object) AddToMany(ctx context.Context, name string, target *Object) error {
	p := o.desc.ToManyRelationship(name)
	if p == nil {
		return o.unknown(name, "to-many relationship")
	}
	if target == nil {
		return NewObjectError(o, fmt.Errorf("nil target for relationship %q", name))
	}
	if err := o.checkTarget(&p.RelationshipProperty, target); err != nil {
		return err
	}
	if err := o.prepare(ctx); err != nil {
		return err
	}
	if rev := p.ReverseRelationship; rev != nil && !rev.ToMany {
		return target.SetToOne(ctx, rev.Name, o)
	}
	if o.toManyHolder(p).Add(target) {
		o.arcChanged(name, target, true)
		if rev := p.ReverseRelationship; rev != nil {
			target.linkReverse(rev.Name, o)
		}
	}
	return nil
}

// RemoveFromMany removes a target from a to-many relationship.
func (o *Object) RemoveFromMany(ctx context.Context, name string, target *Object) error {
	p := o.desc.ToManyRelationship(name)
	if p == nil {
		return o.unknown(name, "to-many relationship")
	}
	if target == nil {
		return nil
	}
	if err := o.prepare(ctx); err != nil {
		return err
	}
	if rev := p.ReverseRelationship; rev != nil && !rev.ToMany {
		cur, err := target.ToOne(ctx, rev.Name)
		if err != nil {
			return err
		}
		if cur != o {
			return nil
		}
		return target.SetToOne(ctx, rev.Name, nil)
	}
	if o.toManyHolder(p).Remove(target) {
		o.arcChanged(name, target, false)
		if rev := p.ReverseRelationship; rev != nil {
			target.unlinkReverse(rev.Name, o)
		}
	}
	return nil
}

func (o *Object) arcChanged(name string, target *Object, added bool) {
	if o.owner != nil {
		o.owner.ArcChanged(o, name, target, added)
	}
}

// linkReverse adds src to the reverse relationship without
// propagating further.
func (o *Object) linkReverse(name string, src *Object) {
	switch p := o.desc.Property(name).(type) {
	case *metadata.ToManyProperty:
		if o.toManyHolder(p).Add(src) {
			o.arcChanged(name, src, true)
		}
	case *metadata.ToOneProperty:
		h := o.toOneHolder(p)
		if old, ok := h.Peek(); ok && old != nil && old != src {
			o.arcChanged(name, old, false)
		}
		h.Set(src)
		o.arcChanged(name, src, true)
	}
}

func (o *Object) unlinkReverse(name string, src *Object) {
	switch p := o.desc.Property(name).(type) {
	case *metadata.ToManyProperty:
		if o.toManyHolder(p).Remove(src) {
			o.arcChanged(name, src, false)
		}
	case *metadata.ToOneProperty:
		h := o.toOneHolder(p)
		if cur, ok := h.Peek(); ok && cur != src {
			return
		}
		h.Set(nil)
		o.arcChanged(name, src, false)
	}
}
