package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the pgx driver
	"github.com/mandelsoft/goutils/maputils"
	_ "modernc.org/sqlite" // pure go sqlite driver

	"github.com/mandelsoft/objectgraph/pkg/expr"
	"github.com/mandelsoft/objectgraph/pkg/store"
	"github.com/mandelsoft/objectgraph/pkg/utils"
)

// Store is a row store on top of a SQL database.
type Store struct {
	name    string
	db      *sql.DB
	dialect *Dialect
	schema  *store.Schema
	render  *expr.SQLRenderer
}

var _ store.Store = (*Store)(nil)

// Open opens a database. For sqlite foreign key enforcement is
// enabled and the connection pool is limited to a single connection.
func Open(ctx context.Context, dialect *Dialect, dsn string, schema *store.Schema) (*Store, error) {
	if dialect == SQLite && !strings.Contains(dsn, "foreign_keys") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_pragma=foreign_keys(1)"
	}
	db, err := sql.Open(dialect.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect.Name, err)
	}
	if dialect == SQLite {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect.Name, err)
	}
	return New(db, dialect, schema), nil
}

func New(db *sql.DB, dialect *Dialect, schema *store.Schema) *Store {
	return &Store{
		name:    dialect.Name,
		db:      db,
		dialect: dialect,
		schema:  schema,
		render:  &expr.SQLRenderer{Placeholder: dialect.Placeholder, Quote: dialect.Quote},
	}
}

func (s *Store) Name() string {
	return s.name
}

func (s *Store) Capabilities() store.Capabilities {
	return store.Capabilities{Batching: true, GeneratedKeys: true}
}

// DB exposes the underlying database.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

// CreateTables creates all tables of the schema, referenced
// tables first.
func (s *Store) CreateTables(ctx context.Context) error {
	for _, t := range tableOrder(s.schema) {
		stmt := s.dialect.CreateTable(t)
		log.Debug("create table {{table}}", "table", t.Name)
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create table %s: %w", t.Name, err)
		}
	}
	return nil
}

// DDL renders the CREATE TABLE statements for a schema in
// creation order.
func DDL(d *Dialect, schema *store.Schema) []string {
	var stmts []string
	for _, t := range tableOrder(schema) {
		stmts = append(stmts, d.CreateTable(t))
	}
	return stmts
}

func tableOrder(schema *store.Schema) []*store.Table {
	var order []*store.Table
	done := map[string]bool{}
	var visit func(t *store.Table)
	visit = func(t *store.Table) {
		if done[t.Name] {
			return
		}
		done[t.Name] = true
		for _, fk := range t.ForeignKeys {
			if ref := schema.Table(fk.Table); ref != nil {
				visit(ref)
			}
		}
		order = append(order, t)
	}
	for _, t := range schema.Tables {
		visit(t)
	}
	return order
}

func (s *Store) Begin(ctx context.Context) (store.Transaction, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &transaction{store: s, tx: tx}, nil
}

////////////////////////////////////////////////////////////////////////////////

type transaction struct {
	store *Store
	tx    *sql.Tx
}

func (t *transaction) table(name string) (*store.Table, error) {
	tab := t.store.schema.Table(name)
	if tab == nil {
		return nil, fmt.Errorf("%w: %s", store.ErrUnknownTable, name)
	}
	return tab, nil
}

func (t *transaction) Select(ctx context.Context, sel *store.Select) (store.Rows, error) {
	tab, err := t.table(sel.Table)
	if err != nil {
		return nil, err
	}
	d := t.store.dialect
	cols := sel.Columns
	if len(cols) == 0 {
		cols = tab.Columns
	}
	cond, args, err := t.store.render.Render(sel.Qualifier, 0)
	if err != nil {
		return nil, err
	}
	stmt := fmt.Sprintf("SELECT %s FROM %s WHERE %s", d.quoteList(cols), d.Quote(tab.Name), cond)
	if len(sel.Orderings) > 0 {
		var order []string
		for _, o := range sel.Orderings {
			if o.Descending {
				order = append(order, d.Quote(o.Path)+" DESC")
			} else {
				order = append(order, d.Quote(o.Path)+" ASC")
			}
		}
		stmt += " ORDER BY " + strings.Join(order, ", ")
	}
	switch {
	case sel.Limit > 0:
		stmt += fmt.Sprintf(" LIMIT %d", sel.Limit)
	case sel.Offset > 0 && d == SQLite:
		stmt += " LIMIT -1"
	}
	if sel.Offset > 0 {
		stmt += fmt.Sprintf(" OFFSET %d", sel.Offset)
	}
	log.Trace("query {{statement}}", "statement", stmt)
	rows, err := t.tx.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", stmt, err)
	}
	return &resultRows{rows: rows, table: tab, columns: cols}, nil
}

func (t *transaction) Write(ctx context.Context, b *store.Batch) ([]store.Outcome, error) {
	tab, err := t.table(b.Table)
	if err != nil {
		return nil, err
	}
	prepared := map[string]*sql.Stmt{}
	defer func() {
		for _, p := range prepared {
			p.Close()
		}
	}()

	var outcomes []store.Outcome
	for _, r := range b.Rows {
		stmt, args := t.statement(b.Kind, tab, b.Generated, r)
		p := prepared[stmt]
		if p == nil {
			p, err = t.tx.PrepareContext(ctx, stmt)
			if err != nil {
				return outcomes, fmt.Errorf("%s: %w", stmt, err)
			}
			prepared[stmt] = p
		}
		o := store.Outcome{Statement: stmt}
		if b.Kind == store.Insert && b.Generated != "" && utils.IsNil(r.Values[b.Generated]) {
			if t.store.dialect.Returning {
				var key int64
				if err := p.QueryRowContext(ctx, args...).Scan(&key); err != nil {
					return outcomes, fmt.Errorf("%s: %w", stmt, err)
				}
				o.Affected, o.GeneratedKey = 1, key
			} else {
				res, err := p.ExecContext(ctx, args...)
				if err != nil {
					return outcomes, fmt.Errorf("%s: %w", stmt, err)
				}
				key, err := res.LastInsertId()
				if err != nil {
					return outcomes, fmt.Errorf("%s: generated key: %w", stmt, err)
				}
				o.Affected, o.GeneratedKey = 1, key
			}
		} else {
			res, err := p.ExecContext(ctx, args...)
			if err != nil {
				return outcomes, fmt.Errorf("%s: %w", stmt, err)
			}
			o.Affected, err = res.RowsAffected()
			if err != nil {
				return outcomes, fmt.Errorf("%s: affected rows: %w", stmt, err)
			}
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, nil
}

// statement renders the statement for a row. Rows with the same
// column sets result in the same statement text.
func (t *transaction) statement(kind store.Kind, tab *store.Table, generated string, r store.Row) (string, []any) {
	d := t.store.dialect
	var args []any
	arg := func(v any) string {
		args = append(args, value(v))
		return d.Placeholder(len(args))
	}
	where := func() string {
		var parts []string
		for _, c := range maputils.OrderedKeys(r.Qualifier) {
			if utils.IsNil(r.Qualifier[c]) {
				parts = append(parts, d.Quote(c)+" IS NULL")
			} else {
				parts = append(parts, d.Quote(c)+" = "+arg(r.Qualifier[c]))
			}
		}
		if len(parts) == 0 {
			return "1=0"
		}
		return strings.Join(parts, " AND ")
	}

	switch kind {
	case store.Insert:
		var cols, ph []string
		for _, c := range maputils.OrderedKeys(r.Values) {
			if c == generated && utils.IsNil(r.Values[c]) {
				continue
			}
			cols = append(cols, d.Quote(c))
			ph = append(ph, arg(r.Values[c]))
		}
		stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", d.Quote(tab.Name), strings.Join(cols, ", "), strings.Join(ph, ", "))
		if len(cols) == 0 {
			stmt = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", d.Quote(tab.Name))
		}
		if generated != "" && d.Returning && utils.IsNil(r.Values[generated]) {
			stmt += " RETURNING " + d.Quote(generated)
		}
		return stmt, args
	case store.Update:
		var set []string
		for _, c := range maputils.OrderedKeys(r.Values) {
			set = append(set, d.Quote(c)+" = "+arg(r.Values[c]))
		}
		return fmt.Sprintf("UPDATE %s SET %s WHERE %s", d.Quote(tab.Name), strings.Join(set, ", "), where()), args
	default:
		return fmt.Sprintf("DELETE FROM %s WHERE %s", d.Quote(tab.Name), where()), args
	}
}

func value(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t.UTC()
	}
	return v
}

func (t *transaction) Commit(ctx context.Context) error {
	return t.tx.Commit()
}

func (t *transaction) Rollback(ctx context.Context) error {
	err := t.tx.Rollback()
	if err == sql.ErrTxDone {
		return nil
	}
	return err
}

////////////////////////////////////////////////////////////////////////////////

type resultRows struct {
	rows    *sql.Rows
	table   *store.Table
	columns []string
	current map[string]any
	err     error
}

func (r *resultRows) Next() bool {
	if r.err != nil || !r.rows.Next() {
		return false
	}
	values := make([]any, len(r.columns))
	ptrs := make([]any, len(values))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := r.rows.Scan(ptrs...); err != nil {
		r.err = err
		return false
	}
	r.current = map[string]any{}
	for i, c := range r.columns {
		r.current[c] = convert(r.table.ColumnType(c), values[i])
	}
	return true
}

func (r *resultRows) Row() map[string]any {
	return r.current
}

func (r *resultRows) Err() error {
	if r.err != nil {
		return r.err
	}
	return r.rows.Err()
}

func (r *resultRows) Close() error {
	return r.rows.Close()
}

// convert maps driver values to the normalized value domain.
func convert(typ string, v any) any {
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	v = utils.NormalizeValue(v)
	switch typ {
	case store.TypeBool:
		switch t := v.(type) {
		case int64:
			return t != 0
		case string:
			return t == "1" || strings.EqualFold(t, "true")
		}
	case store.TypeInt:
		if f, ok := v.(float64); ok && f == float64(int64(f)) {
			return int64(f)
		}
	case store.TypeTime:
		if s, ok := v.(string); ok {
			if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
				return t
			}
		}
	}
	return v
}

////////////////////////////////////////////////////////////////////////////////

// Specification describes a SQL store.
type Specification struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
	// CreateTables requests creation of missing tables.
	CreateTables bool `json:"createTables,omitempty"`
}

var _ store.Specification = (*Specification)(nil)

func (s *Specification) Create(ctx context.Context, schema *store.Schema) (store.Store, error) {
	d, err := DialectFor(s.Driver)
	if err != nil {
		return nil, err
	}
	st, err := Open(ctx, d, s.DSN, schema)
	if err != nil {
		return nil, err
	}
	if s.CreateTables {
		if err := st.CreateTables(ctx); err != nil {
			st.Close()
			return nil, err
		}
	}
	return st, nil
}
