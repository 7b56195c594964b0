package deleterule

import (
	"context"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/mandelsoft/objectgraph/pkg/metadata"
	"github.com/mandelsoft/objectgraph/pkg/persistent"
)

// Deleter executes the state transition of a deleted object.
type Deleter interface {
	DeleteNode(o *persistent.Object) error
}

// Nullification describes an arc to be removed because of a
// nullify rule.
type Nullification struct {
	Source       *persistent.Object
	Relationship string
	Target       *persistent.Object
}

// Plan is the computed effect of deleting a set of objects.
// Planning does not modify any object.
type Plan struct {
	// Objects is the delete closure in discovery order.
	Objects []*persistent.Object
	Nullify []Nullification
}

// Related returns the current targets of a relationship.
func Related(ctx context.Context, o *persistent.Object, name string) ([]*persistent.Object, error) {
	switch o.Descriptor().Property(name).(type) {
	case *metadata.ToOneProperty:
		t, err := o.ToOne(ctx, name)
		if err != nil || t == nil {
			return nil, err
		}
		return []*persistent.Object{t}, nil
	case *metadata.ToManyProperty:
		return o.ToMany(ctx, name)
	}
	return nil, nil
}

func relationships(o *persistent.Object) []*metadata.RelationshipProperty {
	var r []*metadata.RelationshipProperty
	for _, n := range o.Descriptor().PropertyNames() {
		if p := o.Descriptor().Relationship(n); p != nil {
			r = append(r, p)
		}
	}
	return r
}

func gone(o *persistent.Object) bool {
	return o.State() == persistent.Deleted || o.State() == persistent.Transient
}

// NewPlan computes the delete closure for the given objects.
// Cascade rules are followed transitively, faults are resolved
// as required. Deny rules are evaluated for all members of the
// closure against related objects outside of it. Objects already
// deleted are ignored.
func NewPlan(ctx context.Context, roots ...*persistent.Object) (*Plan, error) {
	plan := &Plan{}
	closure := sets.New[*persistent.Object]()

	add := func(o *persistent.Object) {
		if !gone(o) && !closure.Has(o) {
			closure.Insert(o)
			plan.Objects = append(plan.Objects, o)
		}
	}
	for _, o := range roots {
		add(o)
	}

	for i := 0; i < len(plan.Objects); i++ {
		o := plan.Objects[i]
		for _, p := range relationships(o) {
			if p.Rule() != metadata.Cascade {
				continue
			}
			list, err := Related(ctx, o, p.Name)
			if err != nil {
				return nil, err
			}
			for _, t := range list {
				if !closure.Has(t) && !gone(t) {
					log.Trace("cascade {{source}}.{{relationship}} to {{target}}", "source", o, "relationship", p.Name, "target", t)
				}
				add(t)
			}
		}
	}

	for _, o := range plan.Objects {
		for _, p := range relationships(o) {
			rule := p.Rule()
			if rule != metadata.Deny && rule != metadata.Nullify {
				continue
			}
			list, err := Related(ctx, o, p.Name)
			if err != nil {
				return nil, err
			}
			for _, t := range list {
				if closure.Has(t) || gone(t) {
					continue
				}
				if rule == metadata.Deny {
					log.Debug("delete of {{object}} denied by {{relationship}}", "object", o, "relationship", p.Name)
					return nil, &persistent.DeleteDenyError{Entity: o.Entity(), Id: o.Id(), Relationship: p.Name, Related: t.Id()}
				}
				plan.Nullify = append(plan.Nullify, Nullification{Source: o, Relationship: p.Name, Target: t})
			}
		}
	}
	return plan, nil
}

// Apply removes the nullified arcs and deletes all objects of
// the closure.
func (p *Plan) Apply(ctx context.Context, d Deleter) error {
	for _, n := range p.Nullify {
		var err error
		if n.Source.Descriptor().ToOneRelationship(n.Relationship) != nil {
			err = n.Source.SetToOne(ctx, n.Relationship, nil)
		} else {
			err = n.Source.RemoveFromMany(ctx, n.Relationship, n.Target)
		}
		if err != nil {
			return err
		}
	}
	for _, o := range p.Objects {
		if err := d.DeleteNode(o); err != nil {
			return err
		}
	}
	return nil
}

// Delete plans and applies the deletion of the given objects.
func Delete(ctx context.Context, d Deleter, roots ...*persistent.Object) error {
	plan, err := NewPlan(ctx, roots...)
	if err != nil {
		return err
	}
	return plan.Apply(ctx, d)
}

// Verify checks the deny rules of deleted objects against the
// currently known state of their relationships. Unresolved
// relationships are not considered, they were checked when the
// objects were deleted.
func Verify(objs ...*persistent.Object) error {
	closure := sets.New(objs...)
	for _, o := range objs {
		for _, p := range relationships(o) {
			if p.Rule() != metadata.Deny {
				continue
			}
			var list []*persistent.Object
			if t, ok := o.PeekToOne(p.Name); ok && t != nil {
				list = append(list, t)
			}
			if l, ok := o.PeekToMany(p.Name); ok {
				list = append(list, l...)
			}
			for _, t := range list {
				if closure.Has(t) || gone(t) {
					continue
				}
				return &persistent.DeleteDenyError{Entity: o.Entity(), Id: o.Id(), Relationship: p.Name, Related: t.Id()}
			}
		}
	}
	return nil
}
