package objectbase

import (
	"context"
	"fmt"

	"github.com/mandelsoft/logging"

	"github.com/mandelsoft/objectgraph/pkg/batch"
	"github.com/mandelsoft/objectgraph/pkg/channel"
	"github.com/mandelsoft/objectgraph/pkg/expr"
	"github.com/mandelsoft/objectgraph/pkg/materializer"
	"github.com/mandelsoft/objectgraph/pkg/metadata"
	"github.com/mandelsoft/objectgraph/pkg/oid"
	"github.com/mandelsoft/objectgraph/pkg/persistent"
	"github.com/mandelsoft/objectgraph/pkg/query"
	"github.com/mandelsoft/objectgraph/pkg/snapshot"
	"github.com/mandelsoft/objectgraph/pkg/store"
)

// ObjectBase is the channel connecting object contexts to a
// store. It executes queries, commits the changes of object
// contexts in a single store transaction and maintains the
// snapshot cache shared by all contexts using it.
type ObjectBase struct {
	res     *metadata.Resolver
	store   store.Store
	cache   *snapshot.Cache
	mat     *materializer.Materializer
	trans   *batch.Translator
	metrics *Metrics
	log     logging.Logger
}

var _ channel.Channel = (*ObjectBase)(nil)

func New(res *metadata.Resolver, st store.Store, opts ...Option) *ObjectBase {
	options := &Options{}
	for _, o := range opts {
		o.ApplyTo(options)
	}
	if options.cache == nil {
		options.cache = snapshot.NewCache(snapshot.DefaultSize, "objectbase-"+st.Name())
	}
	if options.logger == nil {
		options.logger = log
	}
	if options.metrics == nil {
		options.metrics = NewMetrics(options.registry)
	}
	return &ObjectBase{
		res:     res,
		store:   st,
		cache:   options.cache,
		mat:     materializer.New(res),
		trans:   batch.NewTranslator(res),
		metrics: options.metrics,
		log:     options.logger.WithValues("store", st.Name()),
	}
}

func (b *ObjectBase) Resolver() *metadata.Resolver {
	return b.res
}

func (b *ObjectBase) Store() store.Store {
	return b.store
}

func (b *ObjectBase) Cache() *snapshot.Cache {
	return b.cache
}

func (b *ObjectBase) Metrics() *Metrics {
	return b.metrics
}

func (b *ObjectBase) OnQuery(ctx context.Context, q *query.Query) (*channel.QueryResponse, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	b.log.Debug("query {{query}}", "query", q)
	var (
		rows []*channel.Row
		err  error
	)
	switch {
	case q.Select != nil:
		b.metrics.Queries.WithLabelValues("select").Inc()
		rows, err = b.selectObjects(ctx, q.Select)
	case q.ObjectIds != nil:
		b.metrics.Queries.WithLabelValues("ids").Inc()
		rows, err = b.objectsById(ctx, q.ObjectIds.Ids...)
	default:
		b.metrics.Queries.WithLabelValues("relationship").Inc()
		rows, err = b.relationship(ctx, q.Relationship)
	}
	if err != nil {
		return nil, err
	}
	return &channel.QueryResponse{Rows: rows}, nil
}

// read executes selects in a read only transaction. The transaction
// is finished before the rows are merged into the snapshot cache,
// because commits hold cache locks while waiting for a transaction.
// The returned mark is the cache version before the read started.
func (b *ObjectBase) read(ctx context.Context, entity string, sels ...*store.Select) ([]*materializer.Row, uint64, error) {
	mark := b.cache.Mark()
	tx, err := b.store.Begin(ctx)
	if err != nil {
		return nil, 0, err
	}
	var raw []map[string]any
	for _, s := range sels {
		rows, err := tx.Select(ctx, s)
		if err != nil {
			tx.Rollback(ctx)
			return nil, 0, err
		}
		list, err := store.ReadAll(rows)
		if err != nil {
			tx.Rollback(ctx)
			return nil, 0, err
		}
		raw = append(raw, list...)
	}
	if err := tx.Rollback(ctx); err != nil {
		return nil, 0, err
	}

	result := make([]*materializer.Row, 0, len(raw))
	for _, r := range raw {
		m, err := b.mat.Materialize(entity, r)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, m)
	}
	return result, mark, nil
}

func (b *ObjectBase) merge(ctx context.Context, mark uint64, rows []*materializer.Row) ([]*channel.Row, error) {
	snaps := make([]*snapshot.Snapshot, len(rows))
	for i, r := range rows {
		snaps[i] = r.Snapshot()
	}
	merged, err := b.cache.MergeFetched(ctx, mark, snaps...)
	if err != nil {
		return nil, err
	}
	result := make([]*channel.Row, len(merged))
	for i, s := range merged {
		result[i] = channel.RowFor(s)
	}
	return result, nil
}

func (b *ObjectBase) selectObjects(ctx context.Context, q *query.SelectQuery) ([]*channel.Row, error) {
	d, err := b.res.Descriptor(q.Entity)
	if err != nil {
		return nil, err
	}
	qual, err := query.ColumnQualifier(d, q.Qualifier)
	if err != nil {
		return nil, err
	}
	orderings, err := query.ColumnOrderings(d, q.Orderings)
	if err != nil {
		return nil, err
	}
	if len(orderings) == 0 {
		for _, c := range d.PrimaryKey {
			orderings = append(orderings, query.Asc(c))
		}
	}
	sel := &store.Select{
		Table:     d.Table,
		Qualifier: qual,
		Orderings: orderings,
		Limit:     q.Limit,
		Offset:    q.Offset,
	}
	if q.IdsOnly {
		sel.Columns = append(sel.Columns, d.PrimaryKey...)
		if d.Discriminator != "" {
			sel.Columns = append(sel.Columns, d.Discriminator)
		}
	}
	rows, mark, err := b.read(ctx, q.Entity, sel)
	if err != nil {
		return nil, err
	}
	if q.IdsOnly {
		result := make([]*channel.Row, len(rows))
		for i, r := range rows {
			result[i] = &channel.Row{Id: r.Id, Entity: r.Entity}
		}
		return result, nil
	}
	return b.merge(ctx, mark, rows)
}

// objectsById returns the rows for the given ids. Rows with a
// cached snapshot are served from the cache.
func (b *ObjectBase) objectsById(ctx context.Context, ids ...oid.ObjectId) ([]*channel.Row, error) {
	found := map[string]*channel.Row{}
	missing := map[string][]oid.ObjectId{}
	var roots []string
	for _, id := range ids {
		if id.IsTemporary() {
			continue
		}
		if s := b.cache.Get(id); s != nil {
			found[id.Key()] = channel.RowFor(s)
			continue
		}
		d, err := b.res.Descriptor(id.Entity())
		if err != nil {
			return nil, err
		}
		if missing[d.Root] == nil {
			roots = append(roots, d.Root)
		}
		missing[d.Root] = append(missing[d.Root], id)
	}

	for _, root := range roots {
		d, _ := b.res.Descriptor(root)
		sel := &store.Select{
			Table:     d.Table,
			Qualifier: expr.And(query.KeyQualifier(missing[root]...), query.Restriction(d)),
		}
		rows, mark, err := b.read(ctx, root, sel)
		if err != nil {
			return nil, err
		}
		merged, err := b.merge(ctx, mark, rows)
		if err != nil {
			return nil, err
		}
		for _, r := range merged {
			found[r.Id.Key()] = r
		}
	}

	var result []*channel.Row
	for _, id := range ids {
		if r := found[id.Key()]; r != nil {
			result = append(result, r)
		}
	}
	return result, nil
}

func (b *ObjectBase) object(ctx context.Context, id oid.ObjectId) (*channel.Row, error) {
	rows, err := b.objectsById(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (b *ObjectBase) relationship(ctx context.Context, q *query.RelationshipQuery) ([]*channel.Row, error) {
	d, err := b.res.Descriptor(q.Entity)
	if err != nil {
		return nil, err
	}
	p := d.Relationship(q.Relationship)
	if p == nil {
		return nil, fmt.Errorf("%w: relationship %q of %s", metadata.ErrUnknownProperty, q.Relationship, q.Entity)
	}
	failure := func(cause error) error {
		return &persistent.FaultFailureError{Entity: q.Entity, Id: q.Source, Relationship: q.Relationship, Cause: cause}
	}

	if to := d.ToOneRelationship(q.Relationship); to != nil && to.FKOwner {
		src, err := b.object(ctx, q.Source)
		if err != nil {
			return nil, err
		}
		if src == nil {
			return nil, failure(fmt.Errorf("source row not found"))
		}
		target, ok := to.TargetId(src.Values)
		if !ok {
			return nil, nil
		}
		row, err := b.object(ctx, target)
		if err != nil {
			return nil, err
		}
		if row == nil {
			return nil, failure(fmt.Errorf("target %s not found", target))
		}
		return []*channel.Row{row}, nil
	}

	values, err := b.sourceValues(ctx, q.Source, p.SourceColumns())
	if err != nil {
		return nil, err
	}
	if values == nil {
		return nil, failure(fmt.Errorf("source row not found"))
	}
	td, err := b.res.Descriptor(p.Target)
	if err != nil {
		return nil, err
	}
	match := map[string]any{}
	for _, j := range p.Joins {
		match[j.Target] = values[j.Source]
	}
	var orderings []query.Ordering
	for _, c := range td.PrimaryKey {
		orderings = append(orderings, query.Asc(c))
	}
	sel := &store.Select{
		Table:     td.Table,
		Qualifier: expr.And(expr.MatchValues(match), query.Restriction(td)),
		Orderings: orderings,
	}
	rows, mark, err := b.read(ctx, p.Target, sel)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		// distinguish an empty relationship from a vanished source
		src, err := b.object(ctx, q.Source)
		if err != nil {
			return nil, err
		}
		if src == nil {
			return nil, failure(fmt.Errorf("source row not found"))
		}
	}
	return b.merge(ctx, mark, rows)
}

// sourceValues provides the given columns of a row. Key columns
// are taken from the id, other columns require the row.
func (b *ObjectBase) sourceValues(ctx context.Context, id oid.ObjectId, cols []string) (map[string]any, error) {
	values := id.Values()
	for _, c := range cols {
		if _, ok := values[c]; !ok {
			row, err := b.object(ctx, id)
			if err != nil || row == nil {
				return nil, err
			}
			return row.Values, nil
		}
	}
	return values, nil
}
