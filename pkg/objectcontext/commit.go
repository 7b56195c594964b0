package objectcontext

import (
	"context"

	"github.com/mandelsoft/objectgraph/pkg/channel"
	"github.com/mandelsoft/objectgraph/pkg/deleterule"
	"github.com/mandelsoft/objectgraph/pkg/graph"
	"github.com/mandelsoft/objectgraph/pkg/metadata"
	"github.com/mandelsoft/objectgraph/pkg/persistent"
	"github.com/mandelsoft/objectgraph/pkg/utils"
)

// CommitChanges persists all changes. For nested contexts the
// commit is cascaded through all parent contexts.
// If the commit fails, the objects are left in the state they had
// before the call.
func (c *Context) CommitChanges(ctx context.Context) error {
	_, err := c.sync(ctx, channel.Commit)
	return err
}

// CommitChangesToParent flushes the changes into the parent
// context without persisting them. For a context working on an
// object base this is the same as CommitChanges.
func (c *Context) CommitChangesToParent(ctx context.Context) error {
	_, err := c.sync(ctx, channel.Flush)
	return err
}

// savepoint remembers the state of the context to restore it
// after a failed synchronization.
type savepoint struct {
	mark   int
	states map[*persistent.Object]persistent.State
}

func (c *Context) savepoint() *savepoint {
	s := &savepoint{mark: c.graph.Mark(), states: map[*persistent.Object]persistent.State{}}
	for _, o := range c.graph.Nodes() {
		s.states[o] = o.State()
	}
	c.lock.Lock()
	for _, o := range c.removed {
		s.states[o] = persistent.New
	}
	c.lock.Unlock()
	return s
}

// restore reverts all changes recorded after the savepoint.
func (c *Context) restore(s *savepoint) {
	if err := c.graph.Since(s.mark).Undo(&undo{c}); err != nil {
		c.log.LogError(err, "cannot undo changes")
	}
	c.graph.Truncate(s.mark)
	for o, st := range s.states {
		if o.State() == st {
			continue
		}
		if st == persistent.Hollow {
			o.MakeHollow()
		} else {
			o.SetState(st)
		}
	}
}

func (c *Context) sync(ctx context.Context, typ channel.SyncType) (*channel.SyncResponse, error) {
	if !c.graph.HasChanges() {
		return &channel.SyncResponse{}, nil
	}
	save := c.savepoint()

	resp, err := c.prepareSync(ctx, typ)
	if err != nil {
		c.log.Debug("{{type}} failed: {{error}}", "type", typ, "error", err.Error())
		c.restore(save)
		return nil, err
	}
	if resp == nil {
		c.finalize(ctx, nil)
		return &channel.SyncResponse{}, nil
	}
	return resp, c.finalize(ctx, resp)
}

func (c *Context) prepareSync(ctx context.Context, typ channel.SyncType) (*channel.SyncResponse, error) {
	if err := deleterule.Verify(c.graph.DirtyNodes(persistent.Deleted)...); err != nil {
		return nil, err
	}
	for _, o := range c.graph.DirtyNodes(persistent.New, persistent.Modified) {
		t := PrePersist
		if o.State() == persistent.Modified {
			t = PreUpdate
		}
		if err := c.trigger(ctx, t, o); err != nil {
			return nil, err
		}
	}
	if c.verify {
		if err := c.validate(c.graph.DirtyNodes(persistent.New, persistent.Modified)...); err != nil {
			return nil, err
		}
	}

	diff := c.graph.Diff().Compressed()
	if diff.IsEmpty() {
		c.log.Debug("no effective changes")
		return nil, nil
	}
	req := &channel.SyncRequest{Type: typ, Diff: diff, Baselines: c.baselines(diff)}
	c.log.Debug("{{type}} {{count}} changes", "type", typ, "count", diff.Len())
	return c.parent.OnSync(ctx, req)
}

// validate checks the mandatory attributes.
func (c *Context) validate(objs ...*persistent.Object) error {
	for _, o := range objs {
		d := o.Descriptor()
		for _, a := range d.Attributes {
			if !a.Mandatory || a.Key && d.KeyStrategy != metadata.KeySupplied {
				continue
			}
			if v, _ := o.RawValue(a.Name); utils.IsNil(v) {
				return &persistent.ValidationError{Entity: o.Entity(), Id: o.Id(), Property: a.Name, Message: "mandatory attribute is not set"}
			}
		}
	}
	return nil
}

// baselines provides the snapshots of all persistent objects
// involved in a diff.
func (c *Context) baselines(diff *graph.Diff) []*channel.Row {
	var rows []*channel.Row
	seen := map[string]bool{}
	add := func(o *persistent.Object) {
		if o == nil || o.Snapshot() == nil || seen[o.Id().Key()] {
			return
		}
		seen[o.Id().Key()] = true
		rows = append(rows, channel.RowFor(o.Snapshot()))
	}
	for _, ch := range diff.Changes {
		add(c.graph.Node(ch.Node))
		if ch.Target != nil {
			add(c.graph.Node(*ch.Target))
		}
	}
	return rows
}

// finalize incorporates the result of a successful
// synchronization. Failing post callbacks are logged only, the
// changes are already done.
func (c *Context) finalize(ctx context.Context, resp *channel.SyncResponse) error {
	if resp != nil {
		for _, r := range resp.Replacements {
			if err := c.graph.ReplaceId(r.Old, r.New); err != nil {
				c.log.LogError(err, "id replacement failed", "old", r.Old, "new", r.New)
				return err
			}
		}
		for _, row := range resp.Snapshots {
			if o := c.graph.Node(row.Id); o != nil && o.State() != persistent.Hollow && o.State() != persistent.Deleted {
				o.LoadSnapshot(row.Snapshot())
			}
		}
	}

	type event struct {
		t Lifecycle
		o *persistent.Object
	}
	var (
		events  []event
		deleted []*persistent.Object
	)
	for _, o := range c.graph.DirtyNodes() {
		switch o.State() {
		case persistent.New:
			o.SetState(persistent.Committed)
			events = append(events, event{PostPersist, o})
		case persistent.Modified:
			o.SetState(persistent.Committed)
			events = append(events, event{PostUpdate, o})
		case persistent.Deleted:
			c.graph.UnregisterNode(o.Id())
			deleted = append(deleted, o)
			events = append(events, event{PostRemove, o})
		}
	}
	if len(deleted) > 0 {
		c.dropReferences(deleted)
	}
	c.graph.ClearDiff()
	c.lock.Lock()
	c.removed = map[string]*persistent.Object{}
	c.lock.Unlock()

	for _, e := range events {
		if err := c.trigger(ctx, e.t, e.o); err != nil {
			c.log.LogError(err, "{{type}} callback failed for {{object}}", "type", e.t, "object", e.o)
		}
		if e.t == PostRemove {
			e.o.Detach()
		}
	}
	return nil
}

// dropReferences removes detached objects from the resolved
// relationships of the remaining objects.
func (c *Context) dropReferences(deleted []*persistent.Object) {
	gone := map[*persistent.Object]bool{}
	for _, o := range deleted {
		gone[o] = true
	}
	for _, o := range c.graph.Nodes() {
		d := o.Descriptor()
		for _, p := range d.ToOne {
			if t, ok := o.PeekToOne(p.Name); ok && gone[t] {
				o.SetRawToOne(p.Name, nil)
			}
		}
		for _, p := range d.ToMany {
			if list, ok := o.PeekToMany(p.Name); ok {
				for _, t := range list {
					if gone[t] {
						o.RemoveRawToMany(p.Name, t)
					}
				}
			}
		}
	}
}

// RollbackChanges discards all changes. Persistent objects are
// reverted to their last committed state, new objects are
// detached. Rolling back twice is the same as once.
func (c *Context) RollbackChanges() {
	touched := map[string]bool{}
	for _, ch := range c.graph.Diff().Changes {
		touched[ch.Node.Key()] = true
		if ch.Target != nil {
			touched[ch.Target.Key()] = true
		}
	}
	for _, o := range c.graph.Nodes() {
		switch o.State() {
		case persistent.New:
			c.graph.UnregisterNode(o.Id())
			o.Detach()
		case persistent.Modified, persistent.Deleted:
			revert(o)
		case persistent.Committed:
			if touched[o.Id().Key()] {
				revert(o)
			}
		case persistent.Hollow:
			if touched[o.Id().Key()] {
				o.MakeHollow()
			}
		}
	}
	c.lock.Lock()
	c.removed = map[string]*persistent.Object{}
	c.lock.Unlock()
	c.graph.ClearDiff()
	c.log.Debug("rolled back")
}

func revert(o *persistent.Object) {
	s := o.Snapshot()
	if s == nil {
		o.MakeHollow()
		return
	}
	o.LoadSnapshot(s)
	o.ResetRelationships()
	o.SetState(persistent.Committed)
}
