package materializer

import (
	"fmt"
	"time"

	"github.com/mandelsoft/objectgraph/pkg/metadata"
	"github.com/mandelsoft/objectgraph/pkg/oid"
	"github.com/mandelsoft/objectgraph/pkg/snapshot"
	"github.com/mandelsoft/objectgraph/pkg/store"
	"github.com/mandelsoft/objectgraph/pkg/utils"
)

// Row is a row mapped to the most specific entity.
type Row struct {
	Id     oid.ObjectId
	Entity string
	// Values contains all columns mapped by the entity.
	Values map[string]any
}

func (r *Row) Snapshot() *snapshot.Snapshot {
	return snapshot.New(r.Id, r.Entity, r.Values, 0)
}

func (r *Row) String() string {
	return fmt.Sprintf("%s %s", r.Entity, r.Id)
}

// Materializer maps flat store rows to entities.
type Materializer struct {
	res *metadata.Resolver
}

func New(res *metadata.Resolver) *Materializer {
	return &Materializer{res: res}
}

func (m *Materializer) Resolver() *metadata.Resolver {
	return m.res
}

// Materialize maps a row selected for the given entity. The row
// is assigned to the most specific entity according to the
// discriminator column, values are converted to the attribute
// types and missing columns are set to null.
func (m *Materializer) Materialize(entity string, row map[string]any) (*Row, error) {
	name, err := m.res.ResolveEntity(entity, row)
	if err != nil {
		return nil, err
	}
	d, err := m.res.Descriptor(name)
	if err != nil {
		return nil, err
	}
	values := map[string]any{}
	for _, c := range d.Columns() {
		v, err := convert(d, c, row[c])
		if err != nil {
			return nil, fmt.Errorf("%s column %s: %w", name, c, err)
		}
		values[c] = v
	}
	id, ok := d.IdFromRow(values)
	if !ok {
		return nil, fmt.Errorf("row of %s without complete key %v", name, d.PrimaryKey)
	}
	return &Row{Id: id, Entity: name, Values: values}, nil
}

// MaterializeAll maps all rows of a result and closes it.
func (m *Materializer) MaterializeAll(entity string, rows store.Rows) ([]*Row, error) {
	list, err := store.ReadAll(rows)
	if err != nil {
		return nil, err
	}
	result := make([]*Row, 0, len(list))
	for _, r := range list {
		mr, err := m.Materialize(entity, r)
		if err != nil {
			return nil, err
		}
		result = append(result, mr)
	}
	return result, nil
}

// Arcs returns the targets of the foreign key holding to-one
// relationships of a row. A nil target describes a null reference.
func (m *Materializer) Arcs(entity string, values map[string]any) (map[string]*oid.ObjectId, error) {
	d, err := m.res.Descriptor(entity)
	if err != nil {
		return nil, err
	}
	arcs := map[string]*oid.ObjectId{}
	for _, p := range d.FKOwners() {
		if id, ok := p.TargetId(values); ok {
			arcs[p.Name] = &id
		} else {
			arcs[p.Name] = nil
		}
	}
	return arcs, nil
}

// Attributes maps the columns of a row to attribute values.
func (m *Materializer) Attributes(entity string, values map[string]any) (map[string]any, error) {
	d, err := m.res.Descriptor(entity)
	if err != nil {
		return nil, err
	}
	r := map[string]any{}
	for _, a := range d.Attributes {
		if v, ok := values[a.GetColumn()]; ok {
			r[a.Name] = v
		}
	}
	return r, nil
}

func convert(d *metadata.Descriptor, col string, v any) (any, error) {
	v = utils.NormalizeValue(v)
	if utils.IsNil(v) {
		return nil, nil
	}
	a := d.AttributeForColumn(col)
	if a == nil {
		if col == d.SoftDelete {
			return toBool(v)
		}
		return v, nil
	}
	switch a.Type {
	case "int":
		switch t := v.(type) {
		case float64:
			if t != float64(int64(t)) {
				return nil, fmt.Errorf("%v is no integer", t)
			}
			return int64(t), nil
		}
	case "float":
		switch t := v.(type) {
		case int64:
			return float64(t), nil
		}
	case "bool":
		return toBool(v)
	case "time":
		switch t := v.(type) {
		case string:
			return time.Parse(time.RFC3339Nano, t)
		}
	}
	return v, nil
}

func toBool(v any) (any, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case int64:
		return t != 0, nil
	case string:
		switch t {
		case "true", "1":
			return true, nil
		case "false", "0", "":
			return false, nil
		}
	}
	return nil, fmt.Errorf("%v is no boolean", v)
}
