package objectcontext

import (
	"context"
	"fmt"
	"sync"

	"github.com/mandelsoft/logging"

	"github.com/mandelsoft/objectgraph/pkg/channel"
	"github.com/mandelsoft/objectgraph/pkg/deleterule"
	"github.com/mandelsoft/objectgraph/pkg/fault"
	"github.com/mandelsoft/objectgraph/pkg/graph"
	"github.com/mandelsoft/objectgraph/pkg/metadata"
	"github.com/mandelsoft/objectgraph/pkg/oid"
	"github.com/mandelsoft/objectgraph/pkg/persistent"
	"github.com/mandelsoft/objectgraph/pkg/query"
)

// Context is a unit of work. It keeps exactly one object per id,
// records all changes of its objects and synchronizes them with
// its parent channel: an object base, a remote client or another
// context.
// A context is used by one logical flow at a time.
type Context struct {
	name      string
	parent    channel.Channel
	res       *metadata.Resolver
	graph     *graph.Manager
	log       logging.Logger
	verify    bool
	callbacks *Callbacks

	lock sync.Mutex
	// removed keeps new objects deleted before a commit.
	removed map[string]*persistent.Object
}

var (
	_ persistent.Owner   = (*Context)(nil)
	_ deleterule.Deleter = (*Context)(nil)
	_ channel.Channel    = (*Context)(nil)
)

func New(parent channel.Channel, opts ...Option) *Context {
	options := &Options{}
	for _, o := range opts {
		o.ApplyTo(options)
	}
	if options.logger == nil {
		options.logger = log
	}
	if options.callbacks == nil {
		options.callbacks = NewCallbacks()
	}
	l := options.logger
	if options.name != "" {
		l = l.WithName(options.name).WithValues("context", options.name)
	}
	return &Context{
		name:      options.name,
		parent:    parent,
		res:       parent.Resolver(),
		graph:     graph.NewManager(l),
		log:       l,
		verify:    !options.noVerify,
		callbacks: options.callbacks,
		removed:   map[string]*persistent.Object{},
	}
}

// NewChild creates a nested context using this context as parent.
func (c *Context) NewChild(opts ...Option) *Context {
	return New(c, append([]Option{WithCallbacks(c.callbacks)}, opts...)...)
}

func (c *Context) Name() string {
	return c.name
}

func (c *Context) Parent() channel.Channel {
	return c.parent
}

func (c *Context) Resolver() *metadata.Resolver {
	return c.res
}

func (c *Context) Callbacks() *Callbacks {
	return c.callbacks
}

// Objects returns all registered objects.
func (c *Context) Objects() []*persistent.Object {
	return c.graph.Nodes()
}

// DirtyObjects returns the objects with pending changes. If states
// are given, only objects in those states are returned.
func (c *Context) DirtyObjects(states ...persistent.State) []*persistent.Object {
	return c.graph.DirtyNodes(states...)
}

func (c *Context) HasChanges() bool {
	return c.graph.HasChanges()
}

// Diff returns the recorded changes.
func (c *Context) Diff() *graph.Diff {
	return c.graph.Diff()
}

// RegisteredObject returns the registered object for an id or nil.
func (c *Context) RegisteredObject(id oid.ObjectId) *persistent.Object {
	return c.graph.Node(id)
}

func (c *Context) trigger(ctx context.Context, t Lifecycle, o *persistent.Object) error {
	var entities []string
	for e := c.res.Entity(o.Entity()); e != nil; e = c.res.Entity(e.Super) {
		entities = append(entities, e.Name)
		if e.Super == "" {
			break
		}
	}
	return c.callbacks.trigger(ctx, t, o, entities)
}

func (c *Context) descriptor(entity string) (*metadata.Descriptor, error) {
	return c.res.Descriptor(entity)
}

////////////////////////////////////////////////////////////////////////////////
// object lifecycle

// NewObject creates a new object with a temporary id.
func (c *Context) NewObject(ctx context.Context, entity string) (*persistent.Object, error) {
	d, err := c.descriptor(entity)
	if err != nil {
		return nil, err
	}
	o := persistent.NewObject(c, d, oid.NewTemporary(d.Root), persistent.New)
	if err := c.graph.RegisterNode(o); err != nil {
		return nil, err
	}
	mark := c.graph.Mark()
	c.graph.NodeCreated(o)
	if err := c.trigger(ctx, PostAdd, o); err != nil {
		c.graph.UnregisterNode(o.Id())
		c.graph.Truncate(mark)
		o.Detach()
		return nil, err
	}
	c.log.Trace("new object {{object}}", "object", o)
	return o, nil
}

// LocalObject returns the registered object for an id. If there is
// none, a hollow object is registered, which is inflated on first
// access.
func (c *Context) LocalObject(id oid.ObjectId, entity ...string) (*persistent.Object, error) {
	if o := c.graph.Node(id); o != nil {
		return o, nil
	}
	name := id.Entity()
	if len(entity) > 0 && entity[0] != "" {
		name = entity[0]
	}
	d, err := c.descriptor(name)
	if err != nil {
		return nil, err
	}
	if d.Root != id.Entity() {
		return nil, fmt.Errorf("%s is not an entity of the hierarchy of %s", name, id)
	}
	o := persistent.NewObject(c, d, id, persistent.Hollow)
	if err := c.graph.RegisterNode(o); err != nil {
		return nil, err
	}
	return o, nil
}

// ObjectById returns the inflated object for an id.
func (c *Context) ObjectById(ctx context.Context, id oid.ObjectId) (*persistent.Object, error) {
	o, err := c.LocalObject(id)
	if err != nil {
		return nil, err
	}
	if o.State() == persistent.Hollow {
		if err := c.PrepareForAccess(ctx, o); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// DeleteObject deletes an object and applies the delete rules
// of its relationships.
func (c *Context) DeleteObject(ctx context.Context, o *persistent.Object) error {
	return c.DeleteObjects(ctx, o)
}

// DeleteObjects deletes objects and applies the delete rules of
// their relationships. If a deny rule is violated, no object is
// modified.
func (c *Context) DeleteObjects(ctx context.Context, objs ...*persistent.Object) error {
	var roots []*persistent.Object
	for _, o := range objs {
		if o == nil || o.State() == persistent.Transient {
			continue
		}
		if o.Owner() != c {
			return persistent.NewObjectError(o, persistent.ErrForeignContext)
		}
		roots = append(roots, o)
	}
	plan, err := deleterule.NewPlan(ctx, roots...)
	if err != nil {
		return err
	}
	for _, o := range plan.Objects {
		if err := c.trigger(ctx, PreRemove, o); err != nil {
			return err
		}
	}
	return plan.Apply(ctx, c)
}

// DeleteNode executes the state transition of a deleted object.
func (c *Context) DeleteNode(o *persistent.Object) error {
	switch o.State() {
	case persistent.Transient, persistent.Deleted:
		return nil
	case persistent.New:
		c.graph.NodeRemoved(o)
		c.graph.UnregisterNode(o.Id())
		c.lock.Lock()
		c.removed[o.Id().Key()] = o
		c.lock.Unlock()
		o.Detach()
	default:
		c.graph.NodeRemoved(o)
		o.SetState(persistent.Deleted)
	}
	c.log.Trace("deleted {{object}}", "object", o)
	return nil
}

// InvalidateObjects turns unmodified objects into hollow ones.
// They are read again on next access.
func (c *Context) InvalidateObjects(objs ...*persistent.Object) {
	for _, o := range objs {
		if o.Owner() != c || o.State() != persistent.Committed {
			continue
		}
		o.MakeHollow()
	}
}

////////////////////////////////////////////////////////////////////////////////
// persistent.Owner

func (c *Context) PrepareForAccess(ctx context.Context, o *persistent.Object) error {
	if o.State() != persistent.Hollow {
		return nil
	}
	resp, err := c.parent.OnQuery(ctx, query.ByIds(o.Id()))
	if err != nil {
		return err
	}
	if len(resp.Rows) == 0 {
		return &persistent.FaultFailureError{Entity: o.Entity(), Id: o.Id(), Cause: fmt.Errorf("row not found")}
	}
	if err := c.load(o, resp.Rows[0]); err != nil {
		return err
	}
	c.log.Trace("inflated {{object}}", "object", o)
	return c.trigger(ctx, PostLoad, o)
}

func (c *Context) PropertyChanged(o *persistent.Object, name string, old, new any) {
	c.modified(o)
	c.graph.NodePropertyChanged(o, name, old, new)
}

func (c *Context) ArcChanged(o *persistent.Object, relationship string, target *persistent.Object, added bool) {
	c.modified(o)
	c.graph.ArcChanged(o, relationship, target, added)
}

func (c *Context) modified(o *persistent.Object) {
	if o.State() == persistent.Committed {
		o.SetState(persistent.Modified)
	}
}

func (c *Context) ToOneResolver(o *persistent.Object, p *metadata.ToOneProperty) fault.Resolver[*persistent.Object] {
	return func(ctx context.Context) (*persistent.Object, error) {
		if p.FKOwner && o.Snapshot() != nil {
			if id, ok := p.TargetId(o.Snapshot().Values()); ok {
				if t := c.graph.Node(id); t != nil {
					return t, nil
				}
			}
		}
		list, err := c.related(ctx, o, p.Name)
		if err != nil || len(list) == 0 {
			return nil, err
		}
		return list[0], nil
	}
}

func (c *Context) ToManyResolver(o *persistent.Object, p *metadata.ToManyProperty) fault.Resolver[[]*persistent.Object] {
	return func(ctx context.Context) ([]*persistent.Object, error) {
		return c.related(ctx, o, p.Name)
	}
}

// related queries the targets of a relationship. Deleted
// objects are omitted.
func (c *Context) related(ctx context.Context, o *persistent.Object, name string) ([]*persistent.Object, error) {
	c.log.Trace("resolving fault {{object}}.{{relationship}}", "object", o, "relationship", name)
	resp, err := c.parent.OnQuery(ctx, query.ForRelationship(o.Id(), o.Entity(), name))
	if err != nil {
		return nil, err
	}
	objs, err := c.objectsForRows(ctx, resp.Rows, false)
	if err != nil {
		return nil, err
	}
	result := make([]*persistent.Object, 0, len(objs))
	for _, t := range objs {
		if t.State() != persistent.Deleted {
			result = append(result, t)
		}
	}
	return result, nil
}
