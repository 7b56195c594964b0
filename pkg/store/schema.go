package store

import (
	"fmt"
	"slices"

	"github.com/mandelsoft/objectgraph/pkg/metadata"
)

// Column types used by the schema.
const (
	TypeString = "string"
	TypeInt    = "int"
	TypeFloat  = "float"
	TypeBool   = "bool"
	TypeTime   = "time"
)

type ForeignKey struct {
	Columns    []string
	Table      string
	References []string
}

// Table describes the columns and constraints of a table.
type Table struct {
	Name        string
	Columns     []string
	Types       map[string]string
	PrimaryKey  []string
	Generated   string
	ForeignKeys []ForeignKey
}

func (t *Table) ColumnType(col string) string {
	if typ := t.Types[col]; typ != "" {
		return typ
	}
	return TypeString
}

func (t *Table) addColumn(col, typ string) {
	if col == "" {
		return
	}
	if !slices.Contains(t.Columns, col) {
		t.Columns = append(t.Columns, col)
	}
	if typ != "" && t.Types[col] == "" {
		t.Types[col] = typ
	}
}

func (t *Table) addForeignKey(fk ForeignKey) {
	for _, f := range t.ForeignKeys {
		if f.Table == fk.Table && slices.Equal(f.Columns, fk.Columns) {
			return
		}
	}
	t.ForeignKeys = append(t.ForeignKeys, fk)
}

// Schema is the set of tables required by a model.
type Schema struct {
	Tables []*Table
}

func (s *Schema) Table(name string) *Table {
	for _, t := range s.Tables {
		if t.Name == name {
			return t
		}
	}
	return nil
}

// AttributeType maps model attribute types to column types.
func AttributeType(typ string) string {
	switch typ {
	case "int", "integer", "long":
		return TypeInt
	case "float", "double", "real", "decimal":
		return TypeFloat
	case "bool", "boolean":
		return TypeBool
	case "time", "timestamp", "date":
		return TypeTime
	case "", "string", "text":
		return TypeString
	}
	return typ
}

// SchemaFor derives the table schema of all entities known
// to a resolver. Entities of an inheritance hierarchy share
// the table of the root entity.
func SchemaFor(r *metadata.Resolver) (*Schema, error) {
	schema := &Schema{}
	descs := map[string]*metadata.Descriptor{}
	for _, n := range r.Entities() {
		d, err := r.Descriptor(n)
		if err != nil {
			return nil, err
		}
		descs[n] = d
		t := schema.Table(d.Table)
		if t == nil {
			t = &Table{Name: d.Table, Types: map[string]string{}, PrimaryKey: d.PrimaryKey}
			schema.Tables = append(schema.Tables, t)
		}
		for _, c := range d.PrimaryKey {
			switch d.KeyStrategy {
			case metadata.KeyGenerated:
				t.addColumn(c, TypeInt)
				t.Generated = c
			case metadata.KeyUUID:
				t.addColumn(c, TypeString)
			default:
				t.addColumn(c, "")
			}
		}
		for _, a := range d.Attributes {
			t.addColumn(a.GetColumn(), AttributeType(a.Type))
		}
		t.addColumn(d.Discriminator, TypeString)
		t.addColumn(d.SoftDelete, TypeBool)
	}

	for _, n := range r.Entities() {
		d := descs[n]
		t := schema.Table(d.Table)
		for _, p := range d.FKOwners() {
			target := descs[p.Target]
			for _, c := range p.SourceColumns() {
				t.addColumn(c, "")
			}
			t.addForeignKey(ForeignKey{Columns: p.SourceColumns(), Table: target.Table, References: p.TargetColumns()})
		}
		for _, p := range d.ToMany {
			if p.Source != d.Name() || p.ReverseRelationship != nil {
				continue
			}
			target := descs[p.Target]
			tt := schema.Table(target.Table)
			for _, c := range p.TargetColumns() {
				tt.addColumn(c, "")
			}
			tt.addForeignKey(ForeignKey{Columns: p.TargetColumns(), Table: d.Table, References: p.SourceColumns()})
		}
	}

	// propagate key types along foreign keys
	for changed := true; changed; {
		changed = false
		for _, t := range schema.Tables {
			for _, fk := range t.ForeignKeys {
				ref := schema.Table(fk.Table)
				for i, c := range fk.Columns {
					if t.Types[c] == "" && ref.Types[fk.References[i]] != "" {
						t.Types[c] = ref.Types[fk.References[i]]
						changed = true
					}
				}
			}
		}
	}
	for _, t := range schema.Tables {
		if len(t.PrimaryKey) == 0 {
			return nil, fmt.Errorf("table %s has no primary key", t.Name)
		}
	}
	return schema, nil
}
