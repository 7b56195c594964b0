package objectcontext

import (
	"context"
	"fmt"

	"github.com/mandelsoft/objectgraph/pkg/fault"
	"github.com/mandelsoft/objectgraph/pkg/oid"
	"github.com/mandelsoft/objectgraph/pkg/persistent"
	"github.com/mandelsoft/objectgraph/pkg/query"
)

// PagedList is the result of an incremental query. Only the ids
// are fetched up front, the objects are fetched page by page on
// first access.
type PagedList struct {
	ids   []oid.ObjectId
	size  int
	pages []*fault.Value[[]*persistent.Object]
}

// PerformPagedQuery executes a select query fetching the objects
// in pages of the given size.
func (c *Context) PerformPagedQuery(ctx context.Context, sq *query.SelectQuery, pageSize int) (*PagedList, error) {
	if pageSize <= 0 {
		return nil, fmt.Errorf("invalid page size %d", pageSize)
	}
	q := *sq
	q.IdsOnly = true
	resp, err := c.parent.OnQuery(ctx, q.Query())
	if err != nil {
		return nil, err
	}
	l := &PagedList{size: pageSize}
	for _, r := range resp.Rows {
		if o := c.graph.Node(r.Id); o != nil && o.State() == persistent.Deleted {
			continue
		}
		l.ids = append(l.ids, r.Id)
	}
	for start := 0; start < len(l.ids); start += pageSize {
		ids := l.ids[start:min(start+pageSize, len(l.ids))]
		l.pages = append(l.pages, fault.Unresolved(c.pageResolver(ids)))
	}
	c.log.Debug("paged query {{query}} found {{count}} objects", "query", q.Query(), "count", len(l.ids))
	return l, nil
}

func (c *Context) pageResolver(ids []oid.ObjectId) fault.Resolver[[]*persistent.Object] {
	return func(ctx context.Context) ([]*persistent.Object, error) {
		objs, err := c.PerformQuery(ctx, query.ByIds(ids...))
		if err != nil {
			return nil, err
		}
		found := map[string]*persistent.Object{}
		for _, o := range objs {
			found[o.Id().Key()] = o
		}
		result := make([]*persistent.Object, 0, len(ids))
		for _, id := range ids {
			if o := found[id.Key()]; o != nil {
				result = append(result, o)
			}
		}
		return result, nil
	}
}

// Len returns the number of matched objects.
func (l *PagedList) Len() int {
	return len(l.ids)
}

func (l *PagedList) PageSize() int {
	return l.size
}

func (l *PagedList) PageCount() int {
	return len(l.pages)
}

func (l *PagedList) Ids() []oid.ObjectId {
	return append([]oid.ObjectId(nil), l.ids...)
}

// IsResolved checks whether a page has already been fetched.
func (l *PagedList) IsResolved(page int) bool {
	if page < 0 || page >= len(l.pages) {
		return false
	}
	return l.pages[page].IsResolved()
}

// Page returns the objects of a page. Objects removed from the
// store after the query are omitted.
func (l *PagedList) Page(ctx context.Context, page int) ([]*persistent.Object, error) {
	if page < 0 || page >= len(l.pages) {
		return nil, fmt.Errorf("page %d out of range [0,%d)", page, len(l.pages))
	}
	return l.pages[page].Resolve(ctx)
}

// Get returns the object at the given index. The result is nil,
// if the object vanished.
func (l *PagedList) Get(ctx context.Context, index int) (*persistent.Object, error) {
	if index < 0 || index >= len(l.ids) {
		return nil, fmt.Errorf("index %d out of range [0,%d)", index, len(l.ids))
	}
	objs, err := l.Page(ctx, index/l.size)
	if err != nil {
		return nil, err
	}
	id := l.ids[index]
	for _, o := range objs {
		if o.Id().Equal(id) {
			return o, nil
		}
	}
	return nil, nil
}

// All resolves all pages.
func (l *PagedList) All(ctx context.Context) ([]*persistent.Object, error) {
	var result []*persistent.Object
	for i := range l.pages {
		objs, err := l.Page(ctx, i)
		if err != nil {
			return nil, err
		}
		result = append(result, objs...)
	}
	return result, nil
}
