package metadata

type PropertyKind int

const (
	AttributeKind PropertyKind = iota
	ToOneKind
	ToManyKind
)

func (k PropertyKind) String() string {
	switch k {
	case AttributeKind:
		return "attribute"
	case ToOneKind:
		return "to-one"
	case ToManyKind:
		return "to-many"
	}
	return "unknown"
}

// Property is the resolved description of an entity property.
// It is one of *AttributeProperty, *ToOneProperty or *ToManyProperty.
type Property interface {
	GetName() string
	Kind() PropertyKind
}

type AttributeProperty struct {
	*Attribute
	// Key is true for attributes mapped to a primary key column.
	Key bool
}

func (p *AttributeProperty) GetName() string    { return p.Name }
func (p *AttributeProperty) Kind() PropertyKind { return AttributeKind }

// RelationshipProperty is the common part of to-one and to-many properties.
type RelationshipProperty struct {
	*Relationship
	// Source is the entity declaring the relationship.
	Source string
	// TargetRoot is the root entity of the target hierarchy.
	TargetRoot string
	// ReverseRelationship is the declared reverse or nil.
	ReverseRelationship *Relationship
}

func (p *RelationshipProperty) GetName() string { return p.Name }

func (p *RelationshipProperty) Rule() DeleteRule {
	return p.DeleteRule.Effective()
}

type ToOneProperty struct {
	RelationshipProperty
	// FKOwner is true, if the source row holds the foreign key
	// columns (join source columns) referencing the target key.
	FKOwner bool
}

func (p *ToOneProperty) Kind() PropertyKind { return ToOneKind }

type ToManyProperty struct {
	RelationshipProperty
}

func (p *ToManyProperty) Kind() PropertyKind { return ToManyKind }

// RelationshipOf returns the common relationship part of a property
// or nil for attributes.
func RelationshipOf(p Property) *RelationshipProperty {
	switch t := p.(type) {
	case *ToOneProperty:
		return &t.RelationshipProperty
	case *ToManyProperty:
		return &t.RelationshipProperty
	}
	return nil
}
