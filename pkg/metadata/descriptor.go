package metadata

import (
	"slices"

	"github.com/mandelsoft/objectgraph/pkg/oid"
	"github.com/mandelsoft/objectgraph/pkg/utils"
)

// Descriptor is the resolved view of an entity including
// inherited properties. It is computed once per entity by the Resolver.
type Descriptor struct {
	Entity *Entity
	Root   string

	Table         string
	PrimaryKey    []string
	KeyStrategy   KeyStrategy
	Lock          LockType
	LockColumns   []string
	SoftDelete    string
	Discriminator string
	// DiscriminatorValues contains the discriminator values of this
	// entity and all its sub entities.
	DiscriminatorValues []any

	Properties map[string]Property
	Attributes []*AttributeProperty
	ToOne      []*ToOneProperty
	ToMany     []*ToManyProperty

	columns map[string]*AttributeProperty
	order   []string
}

func (d *Descriptor) Name() string {
	return d.Entity.Name
}

// PropertyNames returns the property names in declaration order,
// inherited ones first.
func (d *Descriptor) PropertyNames() []string {
	return slices.Clone(d.order)
}

func (d *Descriptor) Property(name string) Property {
	return d.Properties[name]
}

func (d *Descriptor) Attribute(name string) *AttributeProperty {
	if p, ok := d.Properties[name].(*AttributeProperty); ok {
		return p
	}
	return nil
}

func (d *Descriptor) AttributeForColumn(col string) *AttributeProperty {
	return d.columns[col]
}

func (d *Descriptor) ToOneRelationship(name string) *ToOneProperty {
	if p, ok := d.Properties[name].(*ToOneProperty); ok {
		return p
	}
	return nil
}

func (d *Descriptor) ToManyRelationship(name string) *ToManyProperty {
	if p, ok := d.Properties[name].(*ToManyProperty); ok {
		return p
	}
	return nil
}

func (d *Descriptor) Relationship(name string) *RelationshipProperty {
	return RelationshipOf(d.Properties[name])
}

func (d *Descriptor) IsOptimistic() bool {
	return d.Lock == LockOptimistic
}

func (d *Descriptor) IsSoftDeleted() bool {
	return d.SoftDelete != ""
}

// IsKeyColumn checks whether a column is part of the primary key.
func (d *Descriptor) IsKeyColumn(col string) bool {
	return slices.Contains(d.PrimaryKey, col)
}

// FKOwners returns the to-one relationships whose foreign key
// columns are stored in rows of this entity.
func (d *Descriptor) FKOwners() []*ToOneProperty {
	var r []*ToOneProperty
	for _, p := range d.ToOne {
		if p.FKOwner {
			r = append(r, p)
		}
	}
	return r
}

// Columns returns all columns mapped by this entity.
func (d *Descriptor) Columns() []string {
	var cols []string
	add := func(c string) {
		if c != "" && !slices.Contains(cols, c) {
			cols = append(cols, c)
		}
	}
	for _, c := range d.PrimaryKey {
		add(c)
	}
	for _, a := range d.Attributes {
		add(a.GetColumn())
	}
	for _, r := range d.FKOwners() {
		for _, j := range r.Joins {
			add(j.Source)
		}
	}
	add(d.Discriminator)
	add(d.SoftDelete)
	return cols
}

// IdFromRow extracts the object id from a row. It fails,
// if a key column is missing or null.
// Identities are scoped to the root entity of an inheritance
// hierarchy.
func (d *Descriptor) IdFromRow(row map[string]any) (oid.ObjectId, bool) {
	values := map[string]any{}
	for _, c := range d.PrimaryKey {
		v := row[c]
		if utils.IsNil(v) {
			return oid.ObjectId{}, false
		}
		values[c] = v
	}
	return oid.New(d.Root, values), true
}

// TargetId determines the id of the target of an FK-owning to-one
// relationship from the foreign key values of a row. ok is false,
// if any of the foreign key columns is null.
func (p *ToOneProperty) TargetId(row map[string]any) (id oid.ObjectId, ok bool) {
	values := map[string]any{}
	for _, j := range p.Joins {
		v := row[j.Source]
		if utils.IsNil(v) {
			return oid.ObjectId{}, false
		}
		values[j.Target] = v
	}
	return oid.New(p.TargetRoot, values), true
}
