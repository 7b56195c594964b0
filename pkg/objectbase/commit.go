package objectbase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mandelsoft/objectgraph/pkg/batch"
	"github.com/mandelsoft/objectgraph/pkg/channel"
	"github.com/mandelsoft/objectgraph/pkg/oid"
	"github.com/mandelsoft/objectgraph/pkg/persistent"
	"github.com/mandelsoft/objectgraph/pkg/snapshot"
	"github.com/mandelsoft/objectgraph/pkg/store"
)

// OnSync persists the changes described by the diff of an object
// context. Flush and commit are handled the same way, an object
// base has no uncommitted state.
func (b *ObjectBase) OnSync(ctx context.Context, req *channel.SyncRequest) (*channel.SyncResponse, error) {
	start := time.Now()
	resp, err := b.commit(ctx, req)
	b.metrics.CommitDuration.Observe(time.Since(start).Seconds())
	switch {
	case err == nil:
		b.metrics.Commits.WithLabelValues("success").Inc()
	case errors.As(err, new(*persistent.OptimisticLockError)):
		b.metrics.Commits.WithLabelValues("conflict").Inc()
		b.metrics.LockFailures.Inc()
	default:
		b.metrics.Commits.WithLabelValues("failure").Inc()
	}
	return resp, err
}

func (b *ObjectBase) commit(ctx context.Context, req *channel.SyncRequest) (*channel.SyncResponse, error) {
	baselines := req.BaselineMap()
	nodes, err := batch.Collect(b.res, req.Diff.Compressed(), baselines)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return &channel.SyncResponse{}, nil
	}
	b.log.Debug("committing {{count}} object changes", "count", len(nodes))

	var ids []oid.ObjectId
	for _, n := range nodes {
		if !n.Id.IsTemporary() {
			ids = append(ids, n.Id)
		}
	}
	guard, err := b.cache.Guard(ctx, ids...)
	if err != nil {
		return nil, err
	}
	defer guard.Discard()

	for _, n := range nodes {
		if n.Created || n.Baseline == nil {
			continue
		}
		d, err := b.res.Descriptor(n.Entity)
		if err != nil {
			return nil, err
		}
		if !d.IsOptimistic() {
			continue
		}
		if err := guard.Check(n.Id, n.Baseline.Version()); err != nil {
			b.log.Info("optimistic lock failure for {{entity}} {{id}}", "entity", n.Entity, "id", n.Id, "error", err)
			return nil, &persistent.OptimisticLockError{Entity: n.Entity, Id: n.Id, Values: n.ColumnValues(d), Cause: err}
		}
	}

	ops, err := b.trans.Translate(nodes)
	if err != nil {
		return nil, err
	}

	tx, err := b.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	result, err := batch.NewExecutor(b.res, tx, b.store.Capabilities(), b.log).Execute(ctx, ops)
	if result != nil {
		b.metrics.Executions.Add(float64(result.Executions))
	}
	if err != nil {
		if rerr := tx.Rollback(ctx); rerr != nil {
			b.log.LogError(rerr, "rollback failed")
		}
		b.log.LogError(err, "commit failed")
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, &persistent.StoreError{Operation: "commit", Cause: err}
	}
	for _, w := range result.Written {
		kind := string(w.Kind)
		if w.Soft {
			kind = "softdelete"
		}
		b.metrics.Statements.WithLabelValues(kind).Inc()
	}

	resp := &channel.SyncResponse{Replacements: result.Replacements}
	for _, w := range result.Written {
		switch {
		case w.Kind == store.Delete || w.Soft:
			guard.Forget(w.Previous)
			resp.Deleted = append(resp.Deleted, w.Previous)
		case w.Kind == store.Insert:
			s, err := b.inserted(w)
			if err != nil {
				return nil, err
			}
			resp.Snapshots = append(resp.Snapshots, channel.RowFor(guard.Add(s)))
		default:
			base := baselines[w.Previous.Key()]
			if base == nil {
				base = b.cache.Get(w.Previous)
			}
			if base == nil {
				guard.Drop(w.Previous)
				continue
			}
			values := base.Values()
			for c, v := range w.Values {
				values[c] = v
			}
			s := snapshot.New(w.Id, base.Entity(), values, 0)
			if w.Id.Equal(w.Previous) {
				s = guard.Put(s)
			} else {
				guard.Forget(w.Previous)
				s = guard.Add(s)
			}
			resp.Snapshots = append(resp.Snapshots, channel.RowFor(s))
		}
	}
	guard.Release()
	b.log.Debug("committed {{count}} row operations in {{executions}} executions", "count", len(result.Written), "executions", result.Executions)
	return resp, nil
}

// inserted provides the snapshot of an inserted row.
func (b *ObjectBase) inserted(w *batch.Written) (*snapshot.Snapshot, error) {
	d, err := b.res.Descriptor(w.Entity)
	if err != nil {
		return nil, err
	}
	values := map[string]any{}
	for _, c := range d.Columns() {
		values[c] = nil
	}
	for c, v := range w.Values {
		values[c] = v
	}
	if _, ok := d.IdFromRow(values); !ok {
		return nil, fmt.Errorf("inserted %s %s without key", w.Entity, w.Id)
	}
	return snapshot.New(w.Id, w.Entity, values, 0), nil
}
