package sqlstore

import (
	"fmt"
	"strings"

	"github.com/mandelsoft/objectgraph/pkg/store"
)

// Dialect describes the differences of the supported databases.
type Dialect struct {
	Name   string
	Driver string
	// Returning is true if generated keys are fetched by a
	// RETURNING clause instead of the last insert id.
	Returning bool
	// Types maps column types to SQL types.
	Types map[string]string
	// GeneratedKey is the column definition of a generated key.
	GeneratedKey string
	placeholder  func(n int) string
}

var SQLite = &Dialect{
	Name:      "sqlite",
	Driver:    "sqlite",
	Returning: false,
	Types: map[string]string{
		store.TypeString: "TEXT",
		store.TypeInt:    "INTEGER",
		store.TypeFloat:  "REAL",
		store.TypeBool:   "BOOLEAN",
		store.TypeTime:   "TIMESTAMP",
	},
	GeneratedKey: "INTEGER PRIMARY KEY AUTOINCREMENT",
	placeholder:  func(int) string { return "?" },
}

var Postgres = &Dialect{
	Name:      "postgres",
	Driver:    "pgx",
	Returning: true,
	Types: map[string]string{
		store.TypeString: "TEXT",
		store.TypeInt:    "BIGINT",
		store.TypeFloat:  "DOUBLE PRECISION",
		store.TypeBool:   "BOOLEAN",
		store.TypeTime:   "TIMESTAMPTZ",
	},
	GeneratedKey: "BIGSERIAL PRIMARY KEY",
	placeholder:  func(n int) string { return fmt.Sprintf("$%d", n) },
}

// DialectFor returns the dialect for a name.
func DialectFor(name string) (*Dialect, error) {
	switch strings.ToLower(name) {
	case "sqlite", "sqlite3":
		return SQLite, nil
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	}
	return nil, fmt.Errorf("%w: %q", store.ErrUnsupportedDriver, name)
}

func (d *Dialect) Placeholder(n int) string {
	return d.placeholder(n)
}

func (d *Dialect) Quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (d *Dialect) SQLType(typ string) string {
	if t := d.Types[typ]; t != "" {
		return t
	}
	return d.Types[store.TypeString]
}

// CreateTable renders the DDL statement for a table.
func (d *Dialect) CreateTable(t *store.Table) string {
	var defs []string
	for _, c := range t.Columns {
		if c == t.Generated && len(t.PrimaryKey) == 1 {
			defs = append(defs, d.Quote(c)+" "+d.GeneratedKey)
			continue
		}
		def := d.Quote(c) + " " + d.SQLType(t.ColumnType(c))
		for _, k := range t.PrimaryKey {
			if k == c {
				def += " NOT NULL"
			}
		}
		defs = append(defs, def)
	}
	if t.Generated == "" || len(t.PrimaryKey) != 1 {
		defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s)", d.quoteList(t.PrimaryKey)))
	}
	for _, fk := range t.ForeignKeys {
		defs = append(defs, fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s (%s)",
			d.quoteList(fk.Columns), d.Quote(fk.Table), d.quoteList(fk.References)))
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", d.Quote(t.Name), strings.Join(defs, ",\n\t"))
}

func (d *Dialect) quoteList(names []string) string {
	q := make([]string, len(names))
	for i, n := range names {
		q[i] = d.Quote(n)
	}
	return strings.Join(q, ", ")
}
