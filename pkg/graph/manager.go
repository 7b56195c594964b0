package graph

import (
	"cmp"
	"slices"
	"sync"

	"github.com/mandelsoft/goutils/general"
	"github.com/mandelsoft/logging"

	"github.com/mandelsoft/objectgraph/pkg/oid"
	"github.com/mandelsoft/objectgraph/pkg/persistent"
)

type entry struct {
	obj *persistent.Object
	seq uint64
}

// Manager is the identity map of an object context. It guarantees
// at most one instance per object id and records all graph changes
// in a change log.
type Manager struct {
	lock  sync.RWMutex
	log   logging.Logger
	nodes map[string]*entry
	seq   uint64
	diffs []Change
}

func NewManager(logger ...logging.Logger) *Manager {
	return &Manager{
		log:   general.OptionalDefaulted[logging.Logger](log, logger...),
		nodes: map[string]*entry{},
	}
}

// RegisterNode binds an object to its id. Registering the same
// instance again is a no-op, a different instance for the same id
// is rejected.
func (m *Manager) RegisterNode(o *persistent.Object) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.register(o)
}

func (m *Manager) register(o *persistent.Object) error {
	key := o.Id().Key()
	if e := m.nodes[key]; e != nil {
		if e.obj == o {
			return nil
		}
		m.log.Debug("identity conflict for {{id}}", "id", o.Id())
		return &persistent.IdentityConflictError{Entity: o.Entity(), Id: o.Id()}
	}
	m.seq++
	m.nodes[key] = &entry{obj: o, seq: m.seq}
	return nil
}

// Node returns the registered instance for an id or nil.
func (m *Manager) Node(id oid.ObjectId) *persistent.Object {
	m.lock.RLock()
	defer m.lock.RUnlock()
	if e := m.nodes[id.Key()]; e != nil {
		return e.obj
	}
	return nil
}

func (m *Manager) UnregisterNode(id oid.ObjectId) *persistent.Object {
	m.lock.Lock()
	defer m.lock.Unlock()
	e := m.nodes[id.Key()]
	if e == nil {
		return nil
	}
	delete(m.nodes, id.Key())
	return e.obj
}

func (m *Manager) Len() int {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return len(m.nodes)
}

// Nodes returns all registered objects in registration order.
func (m *Manager) Nodes() []*persistent.Object {
	return m.Select(nil)
}

// DirtyNodes returns the objects with pending changes in
// registration order. If states are given, only objects in one
// of those states are returned.
func (m *Manager) DirtyNodes(states ...persistent.State) []*persistent.Object {
	return m.Select(func(o *persistent.Object) bool {
		if len(states) == 0 {
			return o.State().IsDirty()
		}
		return slices.Contains(states, o.State())
	})
}

// Select returns the objects matching a filter in registration order.
func (m *Manager) Select(filter func(o *persistent.Object) bool) []*persistent.Object {
	m.lock.RLock()
	list := make([]*entry, 0, len(m.nodes))
	for _, e := range m.nodes {
		if filter == nil || filter(e.obj) {
			list = append(list, e)
		}
	}
	m.lock.RUnlock()

	slices.SortFunc(list, func(a, b *entry) int {
		return cmp.Compare(a.seq, b.seq)
	})
	r := make([]*persistent.Object, len(list))
	for i, e := range list {
		r[i] = e.obj
	}
	return r
}

// ReplaceId re-keys an object after its id changed and rewrites
// the change log accordingly.
func (m *Manager) ReplaceId(old, new oid.ObjectId) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	e := m.nodes[old.Key()]
	if e == nil {
		return nil
	}
	if n := m.nodes[new.Key()]; n != nil && n != e {
		return &persistent.IdentityConflictError{Entity: e.obj.Entity(), Id: new}
	}
	delete(m.nodes, old.Key())
	m.nodes[new.Key()] = e
	e.obj.SetId(new)

	for i := range m.diffs {
		c := &m.diffs[i]
		if c.Node.Equal(old) {
			c.Node = new
		}
		if c.Target != nil && c.Target.Equal(old) {
			c.Target = new.Ref()
		}
	}
	m.log.Trace("replaced id {{old}} by {{new}}", "old", old, "new", new)
	return nil
}

func (m *Manager) record(c Change) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.diffs = append(m.diffs, c)
}

func (m *Manager) NodeCreated(o *persistent.Object) {
	m.record(Change{Type: NodeCreated, Node: o.Id(), Entity: o.Entity()})
}

func (m *Manager) NodeRemoved(o *persistent.Object) {
	m.record(Change{Type: NodeRemoved, Node: o.Id(), Entity: o.Entity()})
}

func (m *Manager) NodePropertyChanged(o *persistent.Object, property string, old, new any) {
	m.record(Change{Type: PropertyChanged, Node: o.Id(), Entity: o.Entity(), Property: property, Old: old, New: new})
}

func (m *Manager) ArcChanged(o *persistent.Object, relationship string, target *persistent.Object, added bool) {
	t := ArcDeleted
	if added {
		t = ArcCreated
	}
	m.record(Change{Type: t, Node: o.Id(), Entity: o.Entity(), Property: relationship, Target: target.Id().Ref()})
}

// HasChanges reports whether changes have been recorded.
func (m *Manager) HasChanges() bool {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return len(m.diffs) > 0
}

// Mark returns a position in the change log.
func (m *Manager) Mark() int {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return len(m.diffs)
}

// Since returns the changes recorded after the given mark.
func (m *Manager) Since(mark int) *Diff {
	m.lock.RLock()
	defer m.lock.RUnlock()
	if mark >= len(m.diffs) {
		return NewDiff()
	}
	return NewDiff(slices.Clone(m.diffs[mark:])...)
}

// Diff returns all recorded changes.
func (m *Manager) Diff() *Diff {
	return m.Since(0)
}

// Truncate drops all changes recorded after the given mark.
func (m *Manager) Truncate(mark int) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if mark < len(m.diffs) {
		m.diffs = m.diffs[:mark]
	}
}

// ClearDiff drops the change log.
func (m *Manager) ClearDiff() {
	m.Truncate(0)
}

// Reset drops all registrations and changes.
func (m *Manager) Reset() {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.nodes = map[string]*entry{}
	m.diffs = nil
}
