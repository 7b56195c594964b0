package objectcontext

import (
	"context"
	"fmt"
	"slices"

	"github.com/mandelsoft/objectgraph/pkg/channel"
	"github.com/mandelsoft/objectgraph/pkg/deleterule"
	"github.com/mandelsoft/objectgraph/pkg/expr"
	"github.com/mandelsoft/objectgraph/pkg/graph"
	"github.com/mandelsoft/objectgraph/pkg/oid"
	"github.com/mandelsoft/objectgraph/pkg/persistent"
	"github.com/mandelsoft/objectgraph/pkg/query"
	"github.com/mandelsoft/objectgraph/pkg/utils"
)

// A context serves as channel for nested contexts. Queries are
// answered from the uniqued objects of the context including
// their uncommitted state. Synchronizations are applied to the
// objects of the context.

// OnQuery implements channel.Channel.
func (c *Context) OnQuery(ctx context.Context, q *query.Query) (*channel.QueryResponse, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	var (
		objs []*persistent.Object
		err  error
	)
	switch {
	case q.Select != nil:
		return c.childSelect(ctx, q.Select)
	case q.ObjectIds != nil:
		objs, err = c.childObjects(ctx, q.ObjectIds.Ids)
	default:
		objs, err = c.childRelationship(ctx, q.Relationship)
	}
	if err != nil {
		return nil, err
	}
	return c.response(objs, false), nil
}

func (c *Context) response(objs []*persistent.Object, idsOnly bool) *channel.QueryResponse {
	resp := &channel.QueryResponse{Rows: make([]*channel.Row, 0, len(objs))}
	for _, o := range objs {
		if idsOnly {
			resp.Rows = append(resp.Rows, &channel.Row{Id: o.Id(), Entity: o.Entity()})
		} else {
			resp.Rows = append(resp.Rows, rowFor(o))
		}
	}
	return resp
}

func (c *Context) childSelect(ctx context.Context, sq *query.SelectQuery) (*channel.QueryResponse, error) {
	d, err := c.descriptor(sq.Entity)
	if err != nil {
		return nil, err
	}
	fetch := *sq
	fetch.Limit, fetch.Offset, fetch.IdsOnly = 0, 0, false
	found, err := c.PerformQuery(ctx, fetch.Query())
	if err != nil {
		return nil, err
	}

	seen := map[*persistent.Object]bool{}
	var candidates []*persistent.Object
	add := func(o *persistent.Object) {
		if !seen[o] {
			seen[o] = true
			candidates = append(candidates, o)
		}
	}
	for _, o := range found {
		add(o)
	}
	for _, o := range c.graph.DirtyNodes(persistent.New, persistent.Modified) {
		if c.res.IsA(o.Entity(), d.Name()) {
			add(o)
		}
	}

	type entry struct {
		obj    *persistent.Object
		values map[string]any
	}
	var matched []entry
	for _, o := range candidates {
		v := pathValues(o)
		ok, err := expr.Evaluate(sq.Qualifier, v)
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, entry{o, v})
		}
	}
	if len(sq.Orderings) > 0 {
		slices.SortStableFunc(matched, func(a, b entry) int {
			for _, o := range sq.Orderings {
				r := compareValues(a.values[o.Path], b.values[o.Path])
				if o.Descending {
					r = -r
				}
				if r != 0 {
					return r
				}
			}
			return 0
		})
	}
	if sq.Offset > 0 {
		matched = matched[min(sq.Offset, len(matched)):]
	}
	if sq.Limit > 0 && len(matched) > sq.Limit {
		matched = matched[:sq.Limit]
	}
	objs := make([]*persistent.Object, len(matched))
	for i, e := range matched {
		objs[i] = e.obj
	}
	return c.response(objs, sq.IdsOnly), nil
}

// compareValues orders null values first. Incomparable values
// are considered equal.
func compareValues(a, b any) int {
	switch {
	case utils.IsNil(a) && utils.IsNil(b):
		return 0
	case utils.IsNil(a):
		return -1
	case utils.IsNil(b):
		return 1
	}
	r, err := expr.Compare(a, b)
	if err != nil {
		return 0
	}
	return r
}

// pathValues provides the values of an object by query path.
func pathValues(o *persistent.Object) map[string]any {
	d := o.Descriptor()
	row := rowFor(o).Values
	values := map[string]any{}
	for c, v := range row {
		values[query.ColumnPrefix+c] = v
	}
	for _, a := range d.Attributes {
		values[a.Name] = row[a.GetColumn()]
	}
	for _, p := range d.FKOwners() {
		if len(p.Joins) == 1 {
			values[p.Name] = row[p.Joins[0].Source]
		}
	}
	return values
}

func (c *Context) childObjects(ctx context.Context, ids []oid.ObjectId) ([]*persistent.Object, error) {
	var missing []oid.ObjectId
	for _, id := range ids {
		if o := c.graph.Node(id); o == nil || o.State() == persistent.Hollow {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		if _, err := c.PerformQuery(ctx, query.ByIds(missing...)); err != nil {
			return nil, err
		}
	}
	var objs []*persistent.Object
	for _, id := range ids {
		o := c.graph.Node(id)
		if o == nil || o.State() == persistent.Hollow || o.State() == persistent.Deleted {
			continue
		}
		objs = append(objs, o)
	}
	return objs, nil
}

func (c *Context) childRelationship(ctx context.Context, q *query.RelationshipQuery) ([]*persistent.Object, error) {
	o, err := c.LocalObject(q.Source, q.Entity)
	if err != nil {
		return nil, err
	}
	if err := c.PrepareForAccess(ctx, o); err != nil {
		return nil, err
	}
	if o.State() == persistent.Deleted {
		return nil, &persistent.FaultFailureError{Entity: q.Entity, Id: q.Source, Relationship: q.Relationship, Cause: fmt.Errorf("source deleted")}
	}
	if o.Descriptor().Relationship(q.Relationship) == nil {
		return nil, persistent.NewObjectError(o, fmt.Errorf("unknown relationship %q", q.Relationship))
	}
	list, err := deleterule.Related(ctx, o, q.Relationship)
	if err != nil {
		return nil, err
	}
	var objs []*persistent.Object
	for _, t := range list {
		if t.State() == persistent.Deleted {
			continue
		}
		// hollow targets have no row image to hand out
		if err := c.PrepareForAccess(ctx, t); err != nil {
			return nil, err
		}
		objs = append(objs, t)
	}
	return objs, nil
}

// rowFor provides the row image of the current state of an object.
func rowFor(o *persistent.Object) *channel.Row {
	d := o.Descriptor()
	values := map[string]any{}
	if s := o.Snapshot(); s != nil {
		values = s.Values()
	}
	for _, a := range d.Attributes {
		if v, ok := o.RawValue(a.Name); ok {
			values[a.GetColumn()] = v
		}
	}
	for _, p := range d.FKOwners() {
		t, ok := o.PeekToOne(p.Name)
		if !ok {
			continue
		}
		for _, j := range p.Joins {
			switch {
			case t == nil || t.Id().IsTemporary():
				values[j.Source] = nil
			case t.Id().Value(j.Target) != nil:
				values[j.Source] = t.Id().Value(j.Target)
			default:
				if a := t.Descriptor().AttributeForColumn(j.Target); a != nil {
					values[j.Source], _ = t.RawValue(a.Name)
				}
			}
		}
	}
	if !o.Id().IsTemporary() {
		for col, v := range o.Id().Values() {
			values[col] = v
		}
	}
	if d.Discriminator != "" && !utils.IsNil(d.Entity.DiscriminatorValue) {
		values[d.Discriminator] = utils.NormalizeValue(d.Entity.DiscriminatorValue)
	}
	return &channel.Row{Id: o.Id(), Entity: o.Entity(), Version: o.Version(), Values: values}
}

// OnSync implements channel.Channel. The changes of a nested
// context are applied to the objects of this context. For a
// commit the context commits itself afterwards.
func (c *Context) OnSync(ctx context.Context, req *channel.SyncRequest) (*channel.SyncResponse, error) {
	save := c.savepoint()
	c.log.Debug("applying {{count}} changes of nested context", "count", req.Diff.Len())
	if err := req.Diff.Apply(&apply{ctx: ctx, c: c}); err != nil {
		c.restore(save)
		return nil, err
	}

	if req.Type == channel.Commit {
		resp, err := c.sync(ctx, channel.Commit)
		if err != nil {
			c.restore(save)
			return nil, err
		}
		return resp, nil
	}

	resp := &channel.SyncResponse{}
	seen := map[string]bool{}
	for _, ch := range req.Diff.Changes {
		if seen[ch.Node.Key()] {
			continue
		}
		seen[ch.Node.Key()] = true
		o := c.graph.Node(ch.Node)
		switch {
		case o == nil || o.State() == persistent.Deleted:
			resp.Deleted = append(resp.Deleted, ch.Node)
		case o.State() != persistent.Hollow:
			resp.Snapshots = append(resp.Snapshots, rowFor(o))
		}
	}
	return resp, nil
}

// apply replays the changes of a nested context.
type apply struct {
	ctx context.Context
	c   *Context
}

var _ graph.Handler = (*apply)(nil)

func (a *apply) object(id oid.ObjectId) (*persistent.Object, error) {
	return a.c.LocalObject(id)
}

func (a *apply) NodeCreated(id oid.ObjectId, entity string) error {
	if o := a.c.graph.Node(id); o != nil {
		return &persistent.IdentityConflictError{Entity: o.Entity(), Id: id}
	}
	d, err := a.c.descriptor(entity)
	if err != nil {
		return err
	}
	o := persistent.NewObject(a.c, d, id, persistent.New)
	if err := a.c.graph.RegisterNode(o); err != nil {
		return err
	}
	a.c.graph.NodeCreated(o)
	return nil
}

func (a *apply) NodeRemoved(id oid.ObjectId) error {
	o, err := a.object(id)
	if err != nil {
		return err
	}
	if err := a.c.PrepareForAccess(a.ctx, o); err != nil {
		return err
	}
	return a.c.DeleteNode(o)
}

func (a *apply) NodePropertyChanged(id oid.ObjectId, property string, old, new any) error {
	o, err := a.object(id)
	if err != nil {
		return err
	}
	return o.Write(a.ctx, property, new)
}

func (a *apply) arc(id oid.ObjectId, relationship string, target oid.ObjectId, f func(o, t *persistent.Object, toOne bool) error) error {
	o, err := a.object(id)
	if err != nil {
		return err
	}
	t, err := a.object(target)
	if err != nil {
		return err
	}
	if err := a.c.PrepareForAccess(a.ctx, o); err != nil {
		return err
	}
	return f(o, t, o.Descriptor().ToOneRelationship(relationship) != nil)
}

func (a *apply) ArcCreated(id oid.ObjectId, relationship string, target oid.ObjectId) error {
	return a.arc(id, relationship, target, func(o, t *persistent.Object, toOne bool) error {
		if toOne {
			return o.SetToOne(a.ctx, relationship, t)
		}
		return o.AddToMany(a.ctx, relationship, t)
	})
}

func (a *apply) ArcDeleted(id oid.ObjectId, relationship string, target oid.ObjectId) error {
	return a.arc(id, relationship, target, func(o, t *persistent.Object, toOne bool) error {
		if !toOne {
			return o.RemoveFromMany(a.ctx, relationship, t)
		}
		cur, err := o.ToOne(a.ctx, relationship)
		if err != nil || cur != t {
			return err
		}
		return o.SetToOne(a.ctx, relationship, nil)
	})
}
