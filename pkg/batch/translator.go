package batch

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/mandelsoft/goutils/maputils"

	"github.com/mandelsoft/objectgraph/pkg/metadata"
	"github.com/mandelsoft/objectgraph/pkg/oid"
	"github.com/mandelsoft/objectgraph/pkg/store"
	"github.com/mandelsoft/objectgraph/pkg/utils"
)

// KeyRef is a column value not known before the key of a
// new row has been determined.
type KeyRef struct {
	Id     oid.ObjectId
	Column string
}

func (r KeyRef) String() string {
	return fmt.Sprintf("%s.%s", r.Id, r.Column)
}

// Operation is a single row operation. Values and qualifier may
// contain KeyRef values.
type Operation struct {
	Kind store.Kind
	// Soft marks a delete executed as update of the soft delete column.
	Soft   bool
	Entity string
	Table  string
	Id     oid.ObjectId
	// Generated is the key column to be generated by the store.
	Generated string
	Values    map[string]any
	Qualifier map[string]any
	// Locked is true if the qualifier contains optimistic lock columns.
	Locked bool
}

func (o *Operation) String() string {
	kind := string(o.Kind)
	if o.Soft {
		kind = "soft delete"
	}
	return fmt.Sprintf("%s %s %s", kind, o.Entity, o.Id)
}

// Translator maps net object changes to ordered row operations:
//   - inserts in write order, parents before children for
//     reflexive relationships
//   - updates in write order
//   - deletes in reverse write order, children before parents for
//     reflexive relationships
type Translator struct {
	res *metadata.Resolver
}

func NewTranslator(res *metadata.Resolver) *Translator {
	return &Translator{res: res}
}

func (t *Translator) Translate(changes []*NodeChange) ([]*Operation, error) {
	var inserts, updates, deletes []*Operation

	hard := map[string]bool{}
	for _, n := range changes {
		if !n.Removed {
			continue
		}
		d, err := t.res.Descriptor(n.Entity)
		if err != nil {
			return nil, err
		}
		if !d.IsSoftDeleted() {
			hard[n.Id.Key()] = true
		}
	}

	for _, n := range changes {
		d, err := t.res.Descriptor(n.Entity)
		if err != nil {
			return nil, err
		}
		switch {
		case n.Created:
			op, err := t.insert(d, n)
			if err != nil {
				return nil, err
			}
			inserts = append(inserts, op)
		case n.Removed:
			op, err := t.delete(d, n, hard)
			if err != nil {
				return nil, err
			}
			deletes = append(deletes, op)
		default:
			op, err := t.update(d, n)
			if err != nil {
				return nil, err
			}
			if op != nil {
				updates = append(updates, op)
			}
		}
	}

	inserts = t.sortInserts(inserts)
	t.sortByWriteOrder(updates, false)
	deletes = t.sortDeletes(changes, deletes)

	ops := append(inserts, updates...)
	return append(ops, deletes...), nil
}

func refValue(target oid.ObjectId, col string) any {
	if target.IsTemporary() {
		return KeyRef{Id: target, Column: col}
	}
	return target.Value(col)
}

func (t *Translator) values(d *metadata.Descriptor, n *NodeChange) map[string]any {
	values := n.ColumnValues(d)
	for _, fk := range n.FKs {
		for i, c := range fk.Columns {
			if fk.Target == nil {
				values[c] = nil
			} else {
				values[c] = refValue(*fk.Target, fk.References[i])
			}
		}
	}
	return values
}

func (t *Translator) insert(d *metadata.Descriptor, n *NodeChange) (*Operation, error) {
	op := &Operation{
		Kind:   store.Insert,
		Entity: d.Name(),
		Table:  d.Table,
		Id:     n.Id,
		Values: t.values(d, n),
	}
	if d.Discriminator != "" && !utils.IsNil(d.Entity.DiscriminatorValue) {
		op.Values[d.Discriminator] = utils.NormalizeValue(d.Entity.DiscriminatorValue)
	}
	switch d.KeyStrategy {
	case metadata.KeyGenerated:
		if utils.IsNil(op.Values[d.PrimaryKey[0]]) {
			delete(op.Values, d.PrimaryKey[0])
			op.Generated = d.PrimaryKey[0]
		}
	case metadata.KeyUUID:
		if utils.IsNil(op.Values[d.PrimaryKey[0]]) {
			op.Values[d.PrimaryKey[0]] = uuid.NewString()
		}
	default:
		if !n.Id.IsTemporary() {
			for _, c := range d.PrimaryKey {
				if _, ok := op.Values[c]; !ok {
					op.Values[c] = n.Id.Value(c)
				}
			}
		}
		for _, c := range d.PrimaryKey {
			if utils.IsNil(op.Values[c]) {
				return nil, fmt.Errorf("missing value for key column %s of new %s %s", c, d.Name(), n.Id)
			}
		}
	}
	return op, nil
}

func (t *Translator) qualifier(d *metadata.Descriptor, n *NodeChange) (map[string]any, bool, error) {
	if n.Id.IsTemporary() {
		return nil, false, fmt.Errorf("%s %s has no permanent id", d.Name(), n.Id)
	}
	q := map[string]any{}
	for _, c := range d.PrimaryKey {
		q[c] = n.Id.Value(c)
	}
	if !d.IsOptimistic() {
		return q, false, nil
	}
	if n.Baseline != nil {
		for _, c := range d.LockColumns {
			q[c] = n.Baseline.Get(c)
		}
	}
	return q, true, nil
}

func (t *Translator) update(d *metadata.Descriptor, n *NodeChange) (*Operation, error) {
	values := t.values(d, n)
	if len(values) == 0 {
		return nil, nil
	}
	q, locked, err := t.qualifier(d, n)
	if err != nil {
		return nil, err
	}
	return &Operation{
		Kind:      store.Update,
		Entity:    d.Name(),
		Table:     d.Table,
		Id:        n.Id,
		Values:    values,
		Qualifier: q,
		Locked:    locked,
	}, nil
}

// delete translates a removed object. A soft deleted row keeps its
// foreign keys unless they refer to rows removed from the store
// by the same change set.
func (t *Translator) delete(d *metadata.Descriptor, n *NodeChange, hard map[string]bool) (*Operation, error) {
	q, locked, err := t.qualifier(d, n)
	if err != nil {
		return nil, err
	}
	op := &Operation{
		Kind:      store.Delete,
		Entity:    d.Name(),
		Table:     d.Table,
		Id:        n.Id,
		Qualifier: q,
		Locked:    locked,
	}
	if d.IsSoftDeleted() {
		op.Kind = store.Update
		op.Soft = true
		op.Values = map[string]any{d.SoftDelete: true}
		if n.Baseline != nil {
			for _, p := range d.FKOwners() {
				if id, ok := p.TargetId(n.Baseline.Values()); ok && hard[id.Key()] {
					for _, c := range p.SourceColumns() {
						op.Values[c] = nil
					}
				}
			}
		}
	}
	return op, nil
}

func (t *Translator) sortByWriteOrder(ops []*Operation, reverse bool) {
	slices.SortStableFunc(ops, func(a, b *Operation) int {
		c := cmp.Compare(t.res.OrderIndex(a.Entity), t.res.OrderIndex(b.Entity))
		if reverse {
			return -c
		}
		return c
	})
}

// sortInserts orders inserts by write order. Rows referring to
// other new rows of the same hierarchy are inserted after them.
func (t *Translator) sortInserts(ops []*Operation) []*Operation {
	t.sortByWriteOrder(ops, false)
	index := map[string]*Operation{}
	for _, op := range ops {
		index[op.Id.Key()] = op
	}
	deps := func(op *Operation) []*Operation {
		var r []*Operation
		for _, c := range maputils.OrderedKeys(op.Values) {
			if ref, ok := op.Values[c].(KeyRef); ok {
				if dep := index[ref.Id.Key()]; dep != nil && t.res.OrderIndex(dep.Entity) == t.res.OrderIndex(op.Entity) {
					r = append(r, dep)
				}
			}
		}
		return r
	}
	return topological(ops, deps)
}

// sortDeletes orders deletes by reverse write order. Rows
// referring to other deleted rows of the same hierarchy by their
// baseline are deleted first.
func (t *Translator) sortDeletes(changes []*NodeChange, ops []*Operation) []*Operation {
	t.sortByWriteOrder(ops, true)
	index := map[string]*Operation{}
	for _, op := range ops {
		index[op.Id.Key()] = op
	}
	referrers := map[string][]*Operation{}
	for _, n := range changes {
		op := index[n.Id.Key()]
		if op == nil || n.Baseline == nil {
			continue
		}
		d, _ := t.res.Descriptor(n.Entity)
		for _, p := range d.FKOwners() {
			if p.TargetRoot != d.Root {
				continue
			}
			if id, ok := p.TargetId(n.Baseline.Values()); ok && index[id.Key()] != nil && id.Key() != n.Id.Key() {
				referrers[id.Key()] = append(referrers[id.Key()], op)
			}
		}
	}
	return topological(ops, func(op *Operation) []*Operation {
		return referrers[op.Id.Key()]
	})
}

// topological orders the operations such that all dependencies
// of an operation precede it. Otherwise the given order is kept.
// Cycles are broken arbitrarily.
func topological(ops []*Operation, deps func(op *Operation) []*Operation) []*Operation {
	var result []*Operation
	done := map[*Operation]bool{}
	active := map[*Operation]bool{}
	var visit func(op *Operation)
	visit = func(op *Operation) {
		if done[op] {
			return
		}
		if active[op] {
			log.Info("dependency cycle at {{operation}}", "operation", op)
			return
		}
		active[op] = true
		for _, d := range deps(op) {
			visit(d)
		}
		active[op] = false
		if !done[op] {
			done[op] = true
			result = append(result, op)
		}
	}
	for _, op := range ops {
		visit(op)
	}
	return result
}
