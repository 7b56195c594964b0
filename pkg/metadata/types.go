package metadata

import (
	"fmt"
)

// DeleteRule describes what happens to related objects
// if the owner of a relationship gets deleted.
type DeleteRule string

const (
	NoAction DeleteRule = "noaction"
	Nullify  DeleteRule = "nullify"
	Cascade  DeleteRule = "cascade"
	Deny     DeleteRule = "deny"
)

func (r DeleteRule) Effective() DeleteRule {
	if r == "" {
		return NoAction
	}
	return r
}

// KeyStrategy describes how primary key values of new rows are determined.
type KeyStrategy string

const (
	// KeySupplied expects the key values from attributes or
	// from to-one relationships propagating the key of the target.
	KeySupplied KeyStrategy = "supplied"
	// KeyGenerated expects a store generated key (single column).
	KeyGenerated KeyStrategy = "generated"
	// KeyUUID generates a uuid key value before writing (single column).
	KeyUUID KeyStrategy = "uuid"
)

type LockType string

const (
	LockNone       LockType = "none"
	LockOptimistic LockType = "optimistic"
)

type Attribute struct {
	Name           string `json:"name"`
	Column         string `json:"column,omitempty"`
	Type           string `json:"type,omitempty"`
	Mandatory      bool   `json:"mandatory,omitempty"`
	UsedForLocking bool   `json:"usedForLocking,omitempty"`
}

func (a *Attribute) GetColumn() string {
	if a.Column == "" {
		return a.Name
	}
	return a.Column
}

// Join maps a column of the source entity to a column of the target entity.
type Join struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

type Relationship struct {
	Name           string     `json:"name"`
	Target         string     `json:"target"`
	ToMany         bool       `json:"toMany,omitempty"`
	Joins          []Join     `json:"joins"`
	Reverse        string     `json:"reverse,omitempty"`
	DeleteRule     DeleteRule `json:"deleteRule,omitempty"`
	UsedForLocking bool       `json:"usedForLocking,omitempty"`
}

func (r *Relationship) SourceColumns() []string {
	var cols []string
	for _, j := range r.Joins {
		cols = append(cols, j.Source)
	}
	return cols
}

func (r *Relationship) TargetColumns() []string {
	var cols []string
	for _, j := range r.Joins {
		cols = append(cols, j.Target)
	}
	return cols
}

// Entity describes a persistent entity. Sub entities declare a Super
// entity and share the table and key settings of the root of
// their hierarchy. Rows are mapped to the most specific entity by
// the value of the Discriminator column declared on the root.
type Entity struct {
	Name               string         `json:"name"`
	Table              string         `json:"table,omitempty"`
	Super              string         `json:"super,omitempty"`
	Discriminator      string         `json:"discriminator,omitempty"`
	DiscriminatorValue any            `json:"discriminatorValue,omitempty"`
	PrimaryKey         []string       `json:"primaryKey,omitempty"`
	KeyStrategy        KeyStrategy    `json:"keyStrategy,omitempty"`
	Lock               LockType       `json:"lock,omitempty"`
	SoftDelete         string         `json:"softDelete,omitempty"`
	Attributes         []Attribute    `json:"attributes,omitempty"`
	Relationships      []Relationship `json:"relationships,omitempty"`
}

func (e *Entity) String() string {
	return fmt.Sprintf("entity %s", e.Name)
}

// Model is a set of entity definitions.
type Model struct {
	Name     string    `json:"name,omitempty"`
	Entities []*Entity `json:"entities"`
}
