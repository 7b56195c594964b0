package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"

	"github.com/mandelsoft/objectgraph/pkg/expr"
	"github.com/mandelsoft/objectgraph/pkg/store"
	"github.com/mandelsoft/objectgraph/pkg/utils"
)

type Option func(s *Store)

// WithoutBatching disables the batching capability, every row
// has to be written by a separate call.
func WithoutBatching() Option {
	return func(s *Store) {
		s.caps.Batching = false
	}
}

// CommitHandler is called with the complete data of a transaction
// to be committed. If it fails, the transaction is rolled back.
type CommitHandler func(ctx context.Context, tables map[string][]map[string]any) error

func WithCommitHandler(h CommitHandler) Option {
	return func(s *Store) {
		s.commit = h
	}
}

func WithName(name string) Option {
	return func(s *Store) {
		s.name = name
	}
}

// Store is an in-memory row store with primary and foreign key
// enforcement. Transactions are serialized and work on a copy of
// the data set, which replaces the committed data on commit.
type Store struct {
	name   string
	caps   store.Capabilities
	schema *store.Schema
	sem    chan struct{}
	commit CommitHandler

	lock       sync.Mutex
	data       *dataset
	executions int
	statements []string
}

var _ store.Store = (*Store)(nil)

func New(schema *store.Schema, opts ...Option) *Store {
	s := &Store{
		name:   "memory",
		caps:   store.Capabilities{Batching: true, GeneratedKeys: true},
		schema: schema,
		sem:    make(chan struct{}, 1),
		data:   newDataset(schema),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) Name() string {
	return s.name
}

func (s *Store) Capabilities() store.Capabilities {
	return s.caps
}

func (s *Store) Close() error {
	return nil
}

// Executions returns the number of write calls executed so far.
func (s *Store) Executions() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.executions
}

// Statements returns the statements executed so far.
func (s *Store) Statements() []string {
	s.lock.Lock()
	defer s.lock.Unlock()
	return slices.Clone(s.statements)
}

// Rows returns the committed rows of a table in insertion order.
func (s *Store) Rows(table string) []map[string]any {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.data.rows(table)
}

// Load adds rows without constraint checks, for example to
// initialize the store from a persisted state.
func (s *Store) Load(table string, rows ...map[string]any) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	t := s.data.tables[table]
	if t == nil {
		return fmt.Errorf("%w: %s", store.ErrUnknownTable, table)
	}
	for _, r := range rows {
		values := utils.NormalizeMap(r)
		k, err := t.key(values)
		if err != nil {
			return err
		}
		if g := t.schema.Generated; g != "" {
			if v, ok := values[g].(int64); ok {
				t.keyseq = max(t.keyseq, v)
			}
		}
		t.seq++
		t.rows[k] = &row{seq: t.seq, values: values}
	}
	return nil
}

func (s *Store) Begin(ctx context.Context) (store.Transaction, error) {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	s.lock.Lock()
	data := s.data.copy()
	s.lock.Unlock()
	return &transaction{store: s, data: data}, nil
}

func (s *Store) record(stmt string) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.statements = append(s.statements, stmt)
}

////////////////////////////////////////////////////////////////////////////////

type row struct {
	seq    int64
	values map[string]any
}

type table struct {
	schema *store.Table
	rows   map[string]*row
	seq    int64
	keyseq int64
}

func (t *table) key(values map[string]any) (string, error) {
	k := map[string]any{}
	for _, c := range t.schema.PrimaryKey {
		v := values[c]
		if utils.IsNil(v) {
			return "", fmt.Errorf("%w: key column %s of %s is null", store.ErrConstraint, c, t.schema.Name)
		}
		k[c] = v
	}
	return utils.CanonicalJSON(k)
}

func (t *table) keys() []string {
	keys := make([]string, 0, len(t.rows))
	for k := range t.rows {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return t.rows[keys[i]].seq < t.rows[keys[j]].seq
	})
	return keys
}

func (t *table) match(q map[string]any) []string {
	var r []string
	for _, k := range t.keys() {
		if matches(t.rows[k].values, q) {
			r = append(r, k)
		}
	}
	return r
}

func matches(values, q map[string]any) bool {
	for c, v := range q {
		if utils.IsNil(v) {
			if !utils.IsNil(values[c]) {
				return false
			}
			continue
		}
		if !utils.EqualValues(values[c], v) {
			return false
		}
	}
	return true
}

type dataset struct {
	tables map[string]*table
}

func newDataset(schema *store.Schema) *dataset {
	d := &dataset{tables: map[string]*table{}}
	for _, t := range schema.Tables {
		d.tables[t.Name] = &table{schema: t, rows: map[string]*row{}}
	}
	return d
}

func (d *dataset) rows(table string) []map[string]any {
	t := d.tables[table]
	if t == nil {
		return nil
	}
	var r []map[string]any
	for _, k := range t.keys() {
		r = append(r, maps.Clone(t.rows[k].values))
	}
	return r
}

func (d *dataset) copy() *dataset {
	n := &dataset{tables: map[string]*table{}}
	for name, t := range d.tables {
		c := &table{schema: t.schema, rows: make(map[string]*row, len(t.rows)), seq: t.seq, keyseq: t.keyseq}
		for k, r := range t.rows {
			c.rows[k] = &row{seq: r.seq, values: maps.Clone(r.values)}
		}
		n.tables[name] = c
	}
	return n
}

// checkReferences validates the outgoing foreign keys of a row.
func (d *dataset) checkReferences(t *table, values map[string]any) error {
	for _, fk := range t.schema.ForeignKeys {
		q := map[string]any{}
		null := false
		for i, c := range fk.Columns {
			if utils.IsNil(values[c]) {
				null = true
				break
			}
			q[fk.References[i]] = values[c]
		}
		if null {
			continue
		}
		ref := d.tables[fk.Table]
		if ref == nil || len(ref.match(q)) == 0 {
			return fmt.Errorf("%w: %s%v references missing row in %s", store.ErrForeignKey, t.schema.Name, fk.Columns, fk.Table)
		}
	}
	return nil
}

// checkReferenced validates that no row refers to the given row.
func (d *dataset) checkReferenced(t *table, values map[string]any) error {
	for _, other := range d.tables {
		for _, fk := range other.schema.ForeignKeys {
			if fk.Table != t.schema.Name {
				continue
			}
			q := map[string]any{}
			for i, c := range fk.References {
				q[fk.Columns[i]] = values[c]
			}
			if len(other.match(q)) > 0 {
				return fmt.Errorf("%w: %s is still referenced by %s%v", store.ErrForeignKey, t.schema.Name, other.schema.Name, fk.Columns)
			}
		}
	}
	return nil
}

////////////////////////////////////////////////////////////////////////////////

type transaction struct {
	store  *Store
	data   *dataset
	closed bool
}

func (tx *transaction) table(name string) (*table, error) {
	if tx.closed {
		return nil, store.ErrTxClosed
	}
	t := tx.data.tables[name]
	if t == nil {
		return nil, fmt.Errorf("%w: %s", store.ErrUnknownTable, name)
	}
	return t, nil
}

func (tx *transaction) Select(ctx context.Context, s *store.Select) (store.Rows, error) {
	t, err := tx.table(s.Table)
	if err != nil {
		return nil, err
	}
	var result []map[string]any
	for _, k := range t.keys() {
		values := t.rows[k].values
		ok, err := expr.Evaluate(s.Qualifier, values)
		if err != nil {
			return nil, err
		}
		if ok {
			result = append(result, values)
		}
	}
	if len(s.Orderings) > 0 {
		var serr error
		sort.SliceStable(result, func(i, j int) bool {
			for _, o := range s.Orderings {
				c, err := compare(result[i][o.Path], result[j][o.Path])
				if err != nil {
					serr = err
					return false
				}
				if o.Descending {
					c = -c
				}
				if c != 0 {
					return c < 0
				}
			}
			return false
		})
		if serr != nil {
			return nil, serr
		}
	}
	if s.Offset > 0 {
		if s.Offset >= len(result) {
			result = nil
		} else {
			result = result[s.Offset:]
		}
	}
	if s.Limit > 0 && len(result) > s.Limit {
		result = result[:s.Limit]
	}
	rows := make([]map[string]any, len(result))
	for i, r := range result {
		if len(s.Columns) == 0 {
			rows[i] = maps.Clone(r)
		} else {
			rows[i] = map[string]any{}
			for _, c := range s.Columns {
				rows[i][c] = r[c]
			}
		}
	}
	return store.SliceRows(rows), nil
}

// compare orders null values first.
func compare(a, b any) (int, error) {
	switch {
	case utils.IsNil(a) && utils.IsNil(b):
		return 0, nil
	case utils.IsNil(a):
		return -1, nil
	case utils.IsNil(b):
		return 1, nil
	}
	return expr.Compare(a, b)
}

func (tx *transaction) Write(ctx context.Context, b *store.Batch) ([]store.Outcome, error) {
	t, err := tx.table(b.Table)
	if err != nil {
		return nil, err
	}
	if !tx.store.caps.Batching && len(b.Rows) > 1 {
		return nil, fmt.Errorf("store %s does not support batches", tx.store.name)
	}
	tx.store.lock.Lock()
	tx.store.executions++
	tx.store.lock.Unlock()

	var outcomes []store.Outcome
	for _, r := range b.Rows {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}
		stmt := store.Statement(b.Kind, b.Table, r)
		tx.store.record(stmt)
		o := store.Outcome{Statement: stmt}
		switch b.Kind {
		case store.Insert:
			o.GeneratedKey, err = tx.insert(t, b.Generated, r.Values)
			o.Affected = 1
		case store.Update:
			o.Affected, err = tx.update(t, r)
		case store.Delete:
			o.Affected, err = tx.delete(t, r)
		default:
			err = fmt.Errorf("unknown operation %q", b.Kind)
		}
		if err != nil {
			return outcomes, fmt.Errorf("%s: %w", stmt, err)
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, nil
}

func (tx *transaction) checkColumns(t *table, values map[string]any) error {
	for c := range values {
		if !slices.Contains(t.schema.Columns, c) {
			return fmt.Errorf("unknown column %s in table %s", c, t.schema.Name)
		}
	}
	return nil
}

func (tx *transaction) insert(t *table, generated string, values map[string]any) (any, error) {
	if err := tx.checkColumns(t, values); err != nil {
		return nil, err
	}
	values = utils.NormalizeMap(values)
	var key any
	if generated != "" {
		if v, ok := values[generated].(int64); ok {
			t.keyseq = max(t.keyseq, v)
		} else {
			t.keyseq++
			values[generated] = t.keyseq
			key = t.keyseq
		}
	}
	k, err := t.key(values)
	if err != nil {
		return nil, err
	}
	if t.rows[k] != nil {
		return nil, fmt.Errorf("%w: %s in %s", store.ErrDuplicateKey, k, t.schema.Name)
	}
	if err := tx.data.checkReferences(t, values); err != nil {
		return nil, err
	}
	t.seq++
	t.rows[k] = &row{seq: t.seq, values: values}
	return key, nil
}

func (tx *transaction) update(t *table, r store.Row) (int64, error) {
	if err := tx.checkColumns(t, r.Values); err != nil {
		return 0, err
	}
	values := utils.NormalizeMap(r.Values)
	var n int64
	for _, k := range t.match(utils.NormalizeMap(r.Qualifier)) {
		old := t.rows[k]
		updated := maps.Clone(old.values)
		for c, v := range values {
			updated[c] = v
		}
		nk, err := t.key(updated)
		if err != nil {
			return n, err
		}
		if nk != k {
			if t.rows[nk] != nil {
				return n, fmt.Errorf("%w: %s in %s", store.ErrDuplicateKey, nk, t.schema.Name)
			}
			if err := tx.data.checkReferenced(t, old.values); err != nil {
				return n, err
			}
		}
		if err := tx.data.checkReferences(t, updated); err != nil {
			return n, err
		}
		delete(t.rows, k)
		t.rows[nk] = &row{seq: old.seq, values: updated}
		n++
	}
	return n, nil
}

func (tx *transaction) delete(t *table, r store.Row) (int64, error) {
	var n int64
	for _, k := range t.match(utils.NormalizeMap(r.Qualifier)) {
		old := t.rows[k]
		delete(t.rows, k)
		if err := tx.data.checkReferenced(t, old.values); err != nil {
			t.rows[k] = old
			return n, err
		}
		n++
	}
	return n, nil
}

func (tx *transaction) Commit(ctx context.Context) error {
	if tx.closed {
		return store.ErrTxClosed
	}
	tx.closed = true
	defer func() { <-tx.store.sem }()
	if tx.store.commit != nil {
		tables := map[string][]map[string]any{}
		for name := range tx.data.tables {
			tables[name] = tx.data.rows(name)
		}
		if err := tx.store.commit(ctx, tables); err != nil {
			return err
		}
	}
	tx.store.lock.Lock()
	tx.store.data = tx.data
	tx.store.lock.Unlock()
	return nil
}

func (tx *transaction) Rollback(ctx context.Context) error {
	if tx.closed {
		return nil
	}
	tx.closed = true
	<-tx.store.sem
	return nil
}

////////////////////////////////////////////////////////////////////////////////

// Specification creates memory stores.
type Specification struct {
	Options []Option
}

var _ store.Specification = (*Specification)(nil)

func NewSpecification(opts ...Option) *Specification {
	return &Specification{Options: opts}
}

func (s *Specification) Create(ctx context.Context, schema *store.Schema) (store.Store, error) {
	return New(schema, s.Options...), nil
}
