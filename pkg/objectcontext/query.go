package objectcontext

import (
	"context"

	"github.com/mandelsoft/objectgraph/pkg/channel"
	"github.com/mandelsoft/objectgraph/pkg/expr"
	"github.com/mandelsoft/objectgraph/pkg/persistent"
	"github.com/mandelsoft/objectgraph/pkg/query"
)

// PerformQuery executes a query through the parent channel. Rows
// of already registered objects are mapped to the registered
// instance. Deleted objects are not part of the result.
func (c *Context) PerformQuery(ctx context.Context, q *query.Query) ([]*persistent.Object, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	c.log.Debug("perform query {{query}}", "query", q)
	resp, err := c.parent.OnQuery(ctx, q)
	if err != nil {
		return nil, err
	}
	refresh := q.Select != nil && q.Select.Refresh
	objs, err := c.objectsForRows(ctx, resp.Rows, refresh)
	if err != nil {
		return nil, err
	}
	result := make([]*persistent.Object, 0, len(objs))
	for _, o := range objs {
		if o.State() != persistent.Deleted {
			result = append(result, o)
		}
	}
	return result, nil
}

// Select queries the objects of an entity matching a qualifier.
func (c *Context) Select(ctx context.Context, entity string, qualifier *expr.Expression, orderings ...query.Ordering) ([]*persistent.Object, error) {
	return c.PerformQuery(ctx, query.Select(entity, qualifier, orderings...).Query())
}

func (c *Context) objectsForRows(ctx context.Context, rows []*channel.Row, refresh bool) ([]*persistent.Object, error) {
	result := make([]*persistent.Object, 0, len(rows))
	for _, r := range rows {
		o, err := c.objectForRow(ctx, r, refresh)
		if err != nil {
			return nil, err
		}
		result = append(result, o)
	}
	return result, nil
}

// objectForRow maps a row to the registered object for its id. A
// new object is registered if there is none. Rows without values
// provide hollow objects.
func (c *Context) objectForRow(ctx context.Context, row *channel.Row, refresh bool) (*persistent.Object, error) {
	if o := c.graph.Node(row.Id); o != nil {
		switch {
		case row.Values == nil:
		case o.State() == persistent.Hollow:
			if err := c.load(o, row); err != nil {
				return nil, err
			}
			return o, c.trigger(ctx, PostLoad, o)
		case refresh && o.State() == persistent.Committed && o.Version() != row.Version:
			if err := c.load(o, row); err != nil {
				return nil, err
			}
			o.ResetRelationships()
			c.log.Trace("refreshed {{object}}", "object", o)
			return o, c.trigger(ctx, PostLoad, o)
		}
		return o, nil
	}

	d, err := c.descriptor(row.Entity)
	if err != nil {
		return nil, err
	}
	o := persistent.NewObject(c, d, row.Id, persistent.Hollow)
	if err := c.graph.RegisterNode(o); err != nil {
		return nil, err
	}
	if row.Values == nil {
		return o, nil
	}
	if err := c.load(o, row); err != nil {
		return nil, err
	}
	return o, c.trigger(ctx, PostLoad, o)
}

// load sets the state of an object from a row. The object is
// mapped to the most specific entity of the row.
func (c *Context) load(o *persistent.Object, row *channel.Row) error {
	if row.Entity != "" && row.Entity != o.Entity() {
		d, err := c.descriptor(row.Entity)
		if err != nil {
			return err
		}
		o.SetDescriptor(d)
	}
	o.LoadSnapshot(row.Snapshot())
	o.SetState(persistent.Committed)
	return nil
}
