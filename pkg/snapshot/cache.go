package snapshot

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync/atomic"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/mandelsoft/goutils/general"

	"github.com/mandelsoft/objectgraph/pkg/events"
	"github.com/mandelsoft/objectgraph/pkg/locks"
	"github.com/mandelsoft/objectgraph/pkg/oid"
)

const DefaultSize = 10000

// ErrVersionConflict is returned by Guard.Check if the version known
// by a writer is not the cached version anymore.
var ErrVersionConflict = fmt.Errorf("snapshot version conflict")

// Cache is the process-wide cache of row snapshots shared by all
// object contexts working on the same store. Snapshot updates for an
// identity are serialized by per-identity locks.
type Cache struct {
	name     string
	entries  *lru.Cache[string, *Snapshot]
	removed  *lru.Cache[string, uint64]
	locks    *locks.ElementLocks[string]
	version  atomic.Uint64
	handlers events.HandlerRegistry[*Event]
}

// NewCache creates a cache for the given maximum number of snapshots.
// The name is used as source for change events, by default a
// unique name is generated.
func NewCache(size int, name ...string) *Cache {
	if size <= 0 {
		size = DefaultSize
	}
	entries, err := lru.New[string, *Snapshot](size)
	if err != nil {
		panic(err)
	}
	removed, err := lru.New[string, uint64](size)
	if err != nil {
		panic(err)
	}
	return &Cache{
		name:     general.OptionalDefaulted("cache-"+uuid.NewString(), name...),
		entries:  entries,
		removed:  removed,
		locks:    locks.NewElementLocks[string](),
		handlers: events.NewHandlerRegistry[*Event](),
	}
}

func (c *Cache) Name() string {
	return c.name
}

// NextVersion provides a new version number, versions
// are monotonically increasing.
func (c *Cache) NextVersion() uint64 {
	return c.version.Add(1)
}

// Mark returns the latest version handed out so far.
func (c *Cache) Mark() uint64 {
	return c.version.Load()
}

func (c *Cache) Len() int {
	return c.entries.Len()
}

// Get returns the cached snapshot or nil.
func (c *Cache) Get(id oid.ObjectId) *Snapshot {
	s, _ := c.entries.Get(id.Key())
	return s
}

// Merge incorporates snapshots read from the store. A snapshot equal
// to the cached one keeps the cached version, otherwise it gets a new
// version and replaces the cached one. The effective snapshots are
// returned in the given order.
func (c *Cache) Merge(ctx context.Context, snapshots ...*Snapshot) ([]*Snapshot, error) {
	return c.MergeFetched(ctx, math.MaxUint64, snapshots...)
}

// MergeFetched merges snapshots read by a store access started at
// the given Mark. Cached snapshots written or removed after the mark
// are newer than the fetched rows and are kept.
func (c *Cache) MergeFetched(ctx context.Context, mark uint64, snapshots ...*Snapshot) ([]*Snapshot, error) {
	result := make([]*Snapshot, len(snapshots))
	for i, s := range snapshots {
		key := s.Id().Key()
		if err := c.locks.Lock(ctx, key); err != nil {
			return nil, err
		}
		old, _ := c.entries.Get(key)
		gone, _ := c.removed.Get(key)
		switch {
		case old != nil && old.Entity() == s.Entity() && old.SameValues(s.values):
			result[i] = old
		case old != nil && old.Version() > mark:
			log.Trace("keeping snapshot {{id}} updated after read", "id", s.Id())
			result[i] = old
		case old == nil && gone > mark:
			result[i] = s.WithVersion(c.NextVersion())
		default:
			n := s.WithVersion(c.NextVersion())
			c.entries.Add(key, n)
			result[i] = n
			if old != nil {
				log.Trace("snapshot {{id}} changed in store", "id", s.Id())
			}
		}
		c.locks.Unlock(key)
	}
	return result, nil
}

// Invalidate drops the snapshots of the given identities and
// notifies the handlers.
func (c *Cache) Invalidate(ids ...oid.ObjectId) {
	c.invalidate(c.name, ids...)
}

// InvalidateFrom drops snapshots on behalf of a foreign source
// (for example a peer process).
func (c *Cache) InvalidateFrom(source string, ids ...oid.ObjectId) {
	c.invalidate(source, ids...)
}

func (c *Cache) invalidate(source string, ids ...oid.ObjectId) {
	if len(ids) == 0 {
		return
	}
	for _, id := range ids {
		c.forget(id.Key())
	}
	c.trigger(&Event{Source: source, Invalidated: ids})
}

func (c *Cache) forget(key string) {
	c.entries.Remove(key)
	c.removed.Add(key, c.NextVersion())
}

// Clear drops all snapshots.
func (c *Cache) Clear() {
	c.entries.Purge()
	c.removed.Purge()
}

func (c *Cache) RegisterHandler(h Handler, entities ...string) {
	c.handlers.RegisterHandler(h, entities...)
}

func (c *Cache) UnregisterHandler(h Handler, entities ...string) {
	c.handlers.UnregisterHandler(h, entities...)
}

func (c *Cache) trigger(e *Event) {
	if e.IsEmpty() || !c.handlers.HasHandlers() {
		return
	}
	for entity, se := range split(e) {
		c.handlers.TriggerEvent(entity, se)
	}
}

// Guard locks the given identities for an atomic update sequence.
// The locks are acquired in key order.
func (c *Cache) Guard(ctx context.Context, ids ...oid.ObjectId) (*Guard, error) {
	var keys []string
	for _, id := range ids {
		keys = append(keys, id.Key())
	}
	sort.Strings(keys)
	if err := c.locks.LockAll(ctx, keys...); err != nil {
		return nil, err
	}
	return &Guard{cache: c, keys: keys, event: &Event{Source: c.name}}, nil
}

// Guard is an exclusive update scope for a set of identities.
type Guard struct {
	cache    *Cache
	keys     []string
	event    *Event
	released bool
}

func (g *Guard) covers(id oid.ObjectId) bool {
	i := sort.SearchStrings(g.keys, id.Key())
	return i < len(g.keys) && g.keys[i] == id.Key()
}

// Check verifies that a writer basing its change on the given version
// still sees the cached state. An identity not cached cannot be
// checked and passes.
func (g *Guard) Check(id oid.ObjectId, version uint64) error {
	s := g.cache.Get(id)
	if s == nil || s.Version() == version {
		return nil
	}
	return fmt.Errorf("%w: %s has version %d, expected %d", ErrVersionConflict, id, s.Version(), version)
}

// Put stores a new snapshot for a guarded identity with a new version.
func (g *Guard) Put(s *Snapshot) *Snapshot {
	if !g.covers(s.Id()) {
		panic(fmt.Sprintf("snapshot %s not guarded", s.Id()))
	}
	n := s.WithVersion(g.cache.NextVersion())
	g.cache.entries.Add(s.Id().Key(), n)
	g.event.Updated = append(g.event.Updated, s.Id())
	return n
}

// Add stores a snapshot for an identity not yet known to the store
// (for example a newly inserted row whose id was not guarded).
func (g *Guard) Add(s *Snapshot) *Snapshot {
	n := s.WithVersion(g.cache.NextVersion())
	g.cache.entries.Add(s.Id().Key(), n)
	g.event.Updated = append(g.event.Updated, s.Id())
	return n
}

// Forget removes the snapshot of a deleted row.
func (g *Guard) Forget(id oid.ObjectId) {
	g.cache.forget(id.Key())
	g.event.Deleted = append(g.event.Deleted, id)
}

// Drop removes a snapshot whose new state is unknown.
func (g *Guard) Drop(id oid.ObjectId) {
	g.cache.forget(id.Key())
	g.event.Invalidated = append(g.event.Invalidated, id)
}

// Release releases the locks and notifies the handlers
// about the changes done.
func (g *Guard) Release() {
	if g.released {
		return
	}
	g.released = true
	g.cache.locks.UnlockAll(g.keys...)
	g.cache.trigger(g.event)
}

// Discard releases the locks without notification.
func (g *Guard) Discard() {
	if g.released {
		return
	}
	g.released = true
	g.cache.locks.UnlockAll(g.keys...)
}
