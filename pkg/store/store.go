package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mandelsoft/goutils/maputils"

	"github.com/mandelsoft/objectgraph/pkg/expr"
	"github.com/mandelsoft/objectgraph/pkg/query"
)

var (
	ErrTxClosed          = errors.New("transaction already closed")
	ErrUnknownTable      = errors.New("unknown table")
	ErrConstraint        = errors.New("constraint violation")
	ErrDuplicateKey      = fmt.Errorf("%w: duplicate key", ErrConstraint)
	ErrForeignKey        = fmt.Errorf("%w: foreign key", ErrConstraint)
	ErrUnsupportedDriver = errors.New("unsupported driver")
)

type Kind string

const (
	Insert Kind = "insert"
	Update Kind = "update"
	Delete Kind = "delete"
)

// Capabilities describe the features of a store relevant for
// executing batches.
type Capabilities struct {
	// Batching is true if a batch of rows can be executed
	// in a single call.
	Batching bool
	// GeneratedKeys is true if the store generates key values
	// for inserted rows.
	GeneratedKeys bool
}

// Store is the row store boundary. All row access happens in
// transactions.
type Store interface {
	Name() string
	Capabilities() Capabilities
	Begin(ctx context.Context) (Transaction, error)
	Close() error
}

// Transaction is a unit of row access. It must be finished by
// Commit or Rollback.
type Transaction interface {
	Select(ctx context.Context, s *Select) (Rows, error)
	// Write executes a batch. It returns one outcome per row.
	// If a row fails, the outcomes of the successful rows are
	// returned together with the error.
	Write(ctx context.Context, b *Batch) ([]Outcome, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Select is a query on a single table.
type Select struct {
	Table string
	// Columns to fetch, all columns if empty.
	Columns   []string
	Qualifier *expr.Expression
	Orderings []query.Ordering
	Limit     int
	Offset    int
}

// Rows iterates over a query result.
type Rows interface {
	Next() bool
	Row() map[string]any
	Err() error
	Close() error
}

// Batch is a set of row operations of the same kind
// on the same table.
type Batch struct {
	Kind  Kind
	Table string
	// Generated is the key column generated by the store
	// for inserts, if any.
	Generated string
	Rows      []Row
}

type Row struct {
	// Values are the columns to write (insert and update).
	Values map[string]any
	// Qualifier selects the rows to update or delete by column
	// equality. Nil values match null columns.
	Qualifier map[string]any
}

// Outcome is the result of a single row operation.
type Outcome struct {
	Affected     int64
	GeneratedKey any
	Statement    string
}

func (b *Batch) String() string {
	return fmt.Sprintf("%s %s (%d rows)", b.Kind, b.Table, len(b.Rows))
}

// ReadAll reads all rows of a result and closes it.
func ReadAll(rows Rows) ([]map[string]any, error) {
	defer rows.Close()
	var r []map[string]any
	for rows.Next() {
		r = append(r, rows.Row())
	}
	return r, rows.Err()
}

// SliceRows provides a row iterator over materialized rows.
func SliceRows(rows []map[string]any) Rows {
	return &sliceRows{rows: rows, index: -1}
}

type sliceRows struct {
	rows  []map[string]any
	index int
}

func (r *sliceRows) Next() bool {
	r.index++
	return r.index < len(r.rows)
}

func (r *sliceRows) Row() map[string]any {
	return r.rows[r.index]
}

func (r *sliceRows) Err() error {
	return nil
}

func (r *sliceRows) Close() error {
	return nil
}

// Statement renders a pseudo statement for a row operation used
// for diagnostics by stores not based on SQL.
func Statement(kind Kind, table string, row Row) string {
	var b strings.Builder
	switch kind {
	case Insert:
		cols := maputils.OrderedKeys(row.Values)
		fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(cols, ", "), placeholders(len(cols)))
	case Update:
		var set []string
		for _, c := range maputils.OrderedKeys(row.Values) {
			set = append(set, c+" = ?")
		}
		fmt.Fprintf(&b, "UPDATE %s SET %s WHERE %s", table, strings.Join(set, ", "), where(row.Qualifier))
	case Delete:
		fmt.Fprintf(&b, "DELETE FROM %s WHERE %s", table, where(row.Qualifier))
	}
	return b.String()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func where(q map[string]any) string {
	var parts []string
	for _, c := range maputils.OrderedKeys(q) {
		if q[c] == nil {
			parts = append(parts, c+" IS NULL")
		} else {
			parts = append(parts, c+" = ?")
		}
	}
	return strings.Join(parts, " AND ")
}

// Specification describes a store to be created for a schema.
type Specification interface {
	Create(ctx context.Context, schema *Schema) (Store, error)
}
