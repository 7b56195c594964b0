package metadata

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"

	"github.com/mandelsoft/goutils/general"
	"github.com/mandelsoft/goutils/maputils"

	"github.com/mandelsoft/objectgraph/pkg/utils"
)

// Resolver validates a set of models and provides the resolved
// Descriptor for every entity. Descriptors are computed once when
// the resolver is created, afterwards a Resolver is read-only and
// may be shared among goroutines.
type Resolver struct {
	models      []*Model
	entities    map[string]*Entity
	descriptors map[string]*Descriptor
	subs        map[string][]string
	resolution  map[string]map[string]string
	order       []string
	cycles      [][]string
}

func NewResolver(models ...*Model) (*Resolver, error) {
	r := &Resolver{
		models:      models,
		entities:    map[string]*Entity{},
		descriptors: map[string]*Descriptor{},
		subs:        map[string][]string{},
		resolution:  map[string]map[string]string{},
	}
	for _, m := range models {
		for _, e := range m.Entities {
			if e.Name == "" {
				return nil, fmt.Errorf("entity without name in model %q", m.Name)
			}
			if r.entities[e.Name] != nil {
				return nil, NewModelError(e.Name, "duplicate entity")
			}
			r.entities[e.Name] = e
		}
	}

	var errs []error
	for _, n := range r.Entities() {
		if _, err := r.resolve(n, nil); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	for _, n := range r.Entities() {
		if err := r.complete(r.descriptors[n]); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if err := r.resolutionTables(); err != nil {
		return nil, err
	}
	r.dependencies()
	return r, nil
}

// Models returns the models the resolver was created from.
func (r *Resolver) Models() []*Model {
	return slices.Clone(r.models)
}

// Entities returns the sorted names of all entities.
func (r *Resolver) Entities() []string {
	return maputils.OrderedKeys(r.entities)
}

func (r *Resolver) Entity(name string) *Entity {
	return r.entities[name]
}

func (r *Resolver) Descriptor(name string) (*Descriptor, error) {
	d := r.descriptors[name]
	if d == nil {
		return nil, fmt.Errorf("%w %q", ErrUnknownEntity, name)
	}
	return d, nil
}

// SubEntities returns the given entity and all its direct or
// indirect sub entities.
func (r *Resolver) SubEntities(name string) []string {
	result := []string{name}
	for _, s := range r.subs[name] {
		result = append(result, r.SubEntities(s)...)
	}
	return result
}

// IsA checks whether entity is the given super entity or one of
// its sub entities.
func (r *Resolver) IsA(entity, super string) bool {
	for e := r.entities[entity]; e != nil; e = r.entities[e.Super] {
		if e.Name == super {
			return true
		}
	}
	return false
}

func (r *Resolver) resolve(name string, stack []string) (*Descriptor, error) {
	if d := r.descriptors[name]; d != nil {
		return d, nil
	}
	if c := utils.Cycle(name, stack...); c != nil {
		return nil, NewModelError(name, "inheritance cycle %v", c)
	}
	e := r.entities[name]
	if e == nil {
		return nil, fmt.Errorf("%w %q", ErrUnknownEntity, name)
	}

	var d *Descriptor
	if e.Super != "" {
		super, err := r.resolve(e.Super, append(stack, name))
		if err != nil {
			return nil, err
		}
		if e.Table != "" && e.Table != super.Table {
			return nil, NewModelError(name, "sub entity must use table %q of its super entity", super.Table)
		}
		if len(e.PrimaryKey) > 0 || e.KeyStrategy != "" || e.Lock != "" || e.SoftDelete != "" || e.Discriminator != "" {
			return nil, NewModelError(name, "key, lock, soft delete and discriminator settings are inherited from %q", super.Root)
		}
		d = &Descriptor{
			Entity:        e,
			Root:          super.Root,
			Table:         super.Table,
			PrimaryKey:    super.PrimaryKey,
			KeyStrategy:   super.KeyStrategy,
			Lock:          super.Lock,
			SoftDelete:    super.SoftDelete,
			Discriminator: super.Discriminator,
			Properties:    maps.Clone(super.Properties),
			Attributes:    slices.Clone(super.Attributes),
			ToOne:         slices.Clone(super.ToOne),
			ToMany:        slices.Clone(super.ToMany),
			columns:       maps.Clone(super.columns),
			order:         slices.Clone(super.order),
		}
		r.subs[e.Super] = append(r.subs[e.Super], name)
	} else {
		if len(e.PrimaryKey) == 0 {
			return nil, NewModelError(name, "primary key required")
		}
		d = &Descriptor{
			Entity:        e,
			Root:          name,
			Table:         general.OptionalDefaulted(name, e.Table),
			PrimaryKey:    slices.Clone(e.PrimaryKey),
			KeyStrategy:   general.OptionalDefaulted(KeySupplied, e.KeyStrategy),
			Lock:          general.OptionalDefaulted(LockNone, e.Lock),
			SoftDelete:    e.SoftDelete,
			Discriminator: e.Discriminator,
			Properties:    map[string]Property{},
			columns:       map[string]*AttributeProperty{},
		}
		switch d.KeyStrategy {
		case KeySupplied:
		case KeyGenerated, KeyUUID:
			if len(d.PrimaryKey) != 1 {
				return nil, NewModelError(name, "key strategy %q requires a single key column", d.KeyStrategy)
			}
		default:
			return nil, NewModelError(name, "invalid key strategy %q", d.KeyStrategy)
		}
		switch d.Lock {
		case LockNone, LockOptimistic:
		default:
			return nil, NewModelError(name, "invalid lock type %q", d.Lock)
		}
	}

	for i := range e.Attributes {
		a := &e.Attributes[i]
		if a.Name == "" {
			return nil, NewModelError(name, "attribute without name")
		}
		if d.Properties[a.Name] != nil {
			return nil, NewModelError(name, "duplicate property %q", a.Name)
		}
		p := &AttributeProperty{Attribute: a, Key: slices.Contains(d.PrimaryKey, a.GetColumn())}
		d.Properties[a.Name] = p
		d.Attributes = append(d.Attributes, p)
		d.columns[a.GetColumn()] = p
		d.order = append(d.order, a.Name)
	}
	for i := range e.Relationships {
		rel := &e.Relationships[i]
		if rel.Name == "" {
			return nil, NewModelError(name, "relationship without name")
		}
		if d.Properties[rel.Name] != nil {
			return nil, NewModelError(name, "duplicate property %q", rel.Name)
		}
		if r.entities[rel.Target] == nil {
			return nil, NewModelError(name, "relationship %q: %s %q", rel.Name, ErrUnknownEntity, rel.Target)
		}
		if len(rel.Joins) == 0 {
			return nil, NewModelError(name, "relationship %q: joins required", rel.Name)
		}
		switch rel.DeleteRule.Effective() {
		case NoAction, Nullify, Cascade, Deny:
		default:
			return nil, NewModelError(name, "relationship %q: invalid delete rule %q", rel.Name, rel.DeleteRule)
		}
		base := RelationshipProperty{Relationship: rel, Source: name}
		if rel.ToMany {
			p := &ToManyProperty{RelationshipProperty: base}
			d.Properties[rel.Name] = p
			d.ToMany = append(d.ToMany, p)
		} else {
			p := &ToOneProperty{RelationshipProperty: base}
			d.Properties[rel.Name] = p
			d.ToOne = append(d.ToOne, p)
		}
		d.order = append(d.order, rel.Name)
	}
	r.descriptors[name] = d
	return d, nil
}

// complete resolves cross entity information after all
// descriptors are known.
func (r *Resolver) complete(d *Descriptor) error {
	for _, name := range d.order {
		rp := RelationshipOf(d.Properties[name])
		if rp == nil || rp.Source != d.Name() {
			continue
		}
		target := r.descriptors[rp.Target]
		rp.TargetRoot = target.Root
		if rp.Reverse != "" {
			rev := target.Relationship(rp.Reverse)
			if rev == nil {
				return NewModelError(d.Name(), "relationship %q: reverse %q not found in %q", rp.Name, rp.Reverse, rp.Target)
			}
			if !r.IsA(d.Name(), rev.Target) && !r.IsA(rev.Target, d.Name()) {
				return NewModelError(d.Name(), "relationship %q: reverse %q targets %q", rp.Name, rp.Reverse, rev.Target)
			}
			if rev.Reverse != "" && rev.Reverse != rp.Name {
				return NewModelError(d.Name(), "relationship %q: reverse %q is not symmetric", rp.Name, rp.Reverse)
			}
			rp.ReverseRelationship = rev.Relationship
		}
		if p, ok := d.Properties[name].(*ToOneProperty); ok {
			p.FKOwner = sameColumns(rp.TargetColumns(), target.PrimaryKey) &&
				(!sameColumns(rp.SourceColumns(), d.PrimaryKey) || (rp.ReverseRelationship != nil && rp.ReverseRelationship.ToMany))
			if !p.FKOwner && !rp.ToMany && rp.ReverseRelationship == nil {
				return NewModelError(d.Name(), "relationship %q: neither foreign key nor reverse relationship", rp.Name)
			}
		}
	}

	for _, p := range d.Attributes {
		if p.UsedForLocking {
			d.LockColumns = append(d.LockColumns, p.GetColumn())
		}
	}
	for _, p := range d.FKOwners() {
		if p.UsedForLocking {
			d.LockColumns = appendColumns(d.LockColumns, p.SourceColumns()...)
		}
	}
	if d.IsOptimistic() && len(d.LockColumns) == 0 {
		for _, p := range d.Attributes {
			if !p.Key {
				d.LockColumns = appendColumns(d.LockColumns, p.GetColumn())
			}
		}
		for _, p := range d.FKOwners() {
			for _, c := range p.SourceColumns() {
				if !d.IsKeyColumn(c) {
					d.LockColumns = appendColumns(d.LockColumns, c)
				}
			}
		}
	}
	return nil
}

func (r *Resolver) resolutionTables() error {
	for _, n := range r.Entities() {
		d := r.descriptors[n]
		if d.Root != n {
			continue
		}
		if len(r.subs[n]) > 0 && d.Discriminator == "" {
			return NewModelError(n, "entity hierarchy requires a discriminator column")
		}
		if d.Discriminator == "" {
			continue
		}
		table := map[string]string{}
		for _, s := range r.SubEntities(n) {
			v := r.entities[s].DiscriminatorValue
			if utils.IsNil(v) {
				continue
			}
			k := discriminatorKey(v)
			if o, ok := table[k]; ok {
				return NewModelError(s, "discriminator value %v already used by %q", v, o)
			}
			table[k] = s
		}
		r.resolution[n] = table
	}
	for _, d := range r.descriptors {
		if d.Discriminator == "" {
			continue
		}
		for _, s := range r.SubEntities(d.Name()) {
			if v := r.entities[s].DiscriminatorValue; !utils.IsNil(v) {
				d.DiscriminatorValues = append(d.DiscriminatorValues, utils.NormalizeValue(v))
			}
		}
	}
	return nil
}

// ResolveEntity determines the most specific entity for a row
// selected for the given entity.
func (r *Resolver) ResolveEntity(entity string, row map[string]any) (string, error) {
	d, err := r.Descriptor(entity)
	if err != nil {
		return "", err
	}
	if d.Discriminator == "" {
		return entity, nil
	}
	v, ok := row[d.Discriminator]
	if !ok || utils.IsNil(v) {
		return entity, nil
	}
	s, ok := r.resolution[d.Root][discriminatorKey(v)]
	if !ok {
		return "", NewModelError(entity, "unknown discriminator value %v", v)
	}
	if !r.IsA(s, entity) {
		return "", NewModelError(entity, "row with discriminator value %v belongs to %q", v, s)
	}
	return s, nil
}

func discriminatorKey(v any) string {
	k, err := utils.CanonicalJSON(utils.NormalizeValue(v))
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return k
}

func sameColumns(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	a = slices.Clone(a)
	b = slices.Clone(b)
	sort.Strings(a)
	sort.Strings(b)
	return slices.Equal(a, b)
}

func appendColumns(list []string, cols ...string) []string {
	for _, c := range cols {
		if !slices.Contains(list, c) {
			list = append(list, c)
		}
	}
	return list
}
