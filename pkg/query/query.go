package query

import (
	"fmt"
	"strings"

	"github.com/mandelsoft/objectgraph/pkg/expr"
	"github.com/mandelsoft/objectgraph/pkg/metadata"
	"github.com/mandelsoft/objectgraph/pkg/oid"
)

// ColumnPrefix marks qualifier paths directly addressing columns
// instead of properties.
const ColumnPrefix = "db:"

type Ordering struct {
	Path       string `json:"path"`
	Descending bool   `json:"descending,omitempty"`
}

func Asc(path string) Ordering {
	return Ordering{Path: path}
}

func Desc(path string) Ordering {
	return Ordering{Path: path, Descending: true}
}

// SelectQuery selects objects of an entity including its
// sub entities.
type SelectQuery struct {
	Entity    string           `json:"entity"`
	Qualifier *expr.Expression `json:"qualifier,omitempty"`
	Orderings []Ordering       `json:"orderings,omitempty"`
	Limit     int              `json:"limit,omitempty"`
	Offset    int              `json:"offset,omitempty"`
	// IdsOnly requests key columns only.
	IdsOnly bool `json:"idsOnly,omitempty"`
	// Refresh requests the actual store state, even if the
	// rows are already known.
	Refresh bool `json:"refresh,omitempty"`
}

// ObjectIdQuery selects rows by their ids.
type ObjectIdQuery struct {
	Ids []oid.ObjectId `json:"ids"`
}

// RelationshipQuery selects the targets of a relationship of
// a persistent source object.
type RelationshipQuery struct {
	Source       oid.ObjectId `json:"source"`
	Entity       string       `json:"entity"`
	Relationship string       `json:"relationship"`
}

// Query is one of the query kinds.
type Query struct {
	Select       *SelectQuery       `json:"select,omitempty"`
	ObjectIds    *ObjectIdQuery     `json:"objectIds,omitempty"`
	Relationship *RelationshipQuery `json:"relationship,omitempty"`
}

func Select(entity string, qualifier *expr.Expression, orderings ...Ordering) *SelectQuery {
	return &SelectQuery{Entity: entity, Qualifier: qualifier, Orderings: orderings}
}

func (q *SelectQuery) Query() *Query {
	return &Query{Select: q}
}

func ByIds(ids ...oid.ObjectId) *Query {
	return &Query{ObjectIds: &ObjectIdQuery{Ids: ids}}
}

func ForRelationship(source oid.ObjectId, entity, relationship string) *Query {
	return &Query{Relationship: &RelationshipQuery{Source: source, Entity: entity, Relationship: relationship}}
}

func (q *Query) Validate() error {
	n := 0
	if q.Select != nil {
		n++
	}
	if q.ObjectIds != nil {
		n++
	}
	if q.Relationship != nil {
		n++
	}
	if n != 1 {
		return fmt.Errorf("query requires exactly one query kind")
	}
	return nil
}

func (q *Query) String() string {
	switch {
	case q.Select != nil:
		return fmt.Sprintf("select %s where %s", q.Select.Entity, q.Select.Qualifier)
	case q.ObjectIds != nil:
		var ids []string
		for _, id := range q.ObjectIds.Ids {
			ids = append(ids, id.String())
		}
		return "ids " + strings.Join(ids, ", ")
	case q.Relationship != nil:
		return fmt.Sprintf("relationship %s.%s", q.Relationship.Source, q.Relationship.Relationship)
	}
	return "invalid query"
}

// ColumnPath maps a property path of an entity to its column.
func ColumnPath(d *metadata.Descriptor, path string) (string, error) {
	if strings.HasPrefix(path, ColumnPrefix) {
		return path[len(ColumnPrefix):], nil
	}
	if a := d.Attribute(path); a != nil {
		return a.GetColumn(), nil
	}
	if r := d.ToOneRelationship(path); r != nil && r.FKOwner && len(r.Joins) == 1 {
		return r.Joins[0].Source, nil
	}
	return "", fmt.Errorf("%w: %q in %s", metadata.ErrUnknownProperty, path, d.Name())
}

// Restriction returns the implicit qualifier of an entity:
// the discriminator restriction for inheritance hierarchies and
// the exclusion of soft deleted rows.
func Restriction(d *metadata.Descriptor) *expr.Expression {
	var ops []*expr.Expression
	if d.Discriminator != "" && len(d.DiscriminatorValues) > 0 && d.Root != d.Name() {
		ops = append(ops, expr.In(d.Discriminator, d.DiscriminatorValues...))
	}
	if d.IsSoftDeleted() {
		ops = append(ops, expr.Or(expr.IsNull(d.SoftDelete), expr.Eq(d.SoftDelete, false)))
	}
	if len(ops) == 0 {
		return nil
	}
	return expr.And(ops...)
}

// ColumnQualifier maps the qualifier of a select query to columns
// and adds the implicit entity restriction.
func ColumnQualifier(d *metadata.Descriptor, q *expr.Expression) (*expr.Expression, error) {
	c, err := expr.Transform(q, func(path string) (string, error) {
		return ColumnPath(d, path)
	})
	if err != nil {
		return nil, err
	}
	r := Restriction(d)
	switch {
	case c == nil:
		return r, nil
	case r == nil:
		return c, nil
	}
	return expr.And(c, r), nil
}

// ColumnOrderings maps orderings to columns.
func ColumnOrderings(d *metadata.Descriptor, orderings []Ordering) ([]Ordering, error) {
	var r []Ordering
	for _, o := range orderings {
		c, err := ColumnPath(d, o.Path)
		if err != nil {
			return nil, err
		}
		r = append(r, Ordering{Path: c, Descending: o.Descending})
	}
	return r, nil
}

// KeyQualifier returns the qualifier matching the given ids.
func KeyQualifier(ids ...oid.ObjectId) *expr.Expression {
	if len(ids) == 0 {
		return expr.Not(nil)
	}
	var ops []*expr.Expression
	for _, id := range ids {
		ops = append(ops, expr.MatchValues(id.Values()))
	}
	if len(ops) == 1 {
		return ops[0]
	}
	return expr.Or(ops...)
}
