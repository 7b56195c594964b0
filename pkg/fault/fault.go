package fault

import (
	"context"
	"slices"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Resolver performs the query resolving a fault.
type Resolver[T any] func(ctx context.Context) (T, error)

// Fault is the capability shared by to-one and to-many placeholders.
type Fault interface {
	IsResolved() bool
}

const key = "resolve"

// Value is a to-one placeholder. It is either unresolved (with a
// resolver) or resolved (with a value). Concurrent resolutions of the
// same unresolved placeholder are collapsed into a single call of the
// resolver. A failed resolution leaves the placeholder unresolved.
type Value[T any] struct {
	lock     sync.Mutex
	resolved bool
	value    T
	resolver Resolver[T]
	group    singleflight.Group
}

var _ Fault = (*Value[any])(nil)

func Unresolved[T any](r Resolver[T]) *Value[T] {
	return &Value[T]{resolver: r}
}

func Resolved[T any](v T) *Value[T] {
	return &Value[T]{resolved: true, value: v}
}

func (v *Value[T]) IsResolved() bool {
	v.lock.Lock()
	defer v.lock.Unlock()
	return v.resolved
}

// Peek returns the resolved value without resolving.
func (v *Value[T]) Peek() (T, bool) {
	v.lock.Lock()
	defer v.lock.Unlock()
	return v.value, v.resolved
}

// Resolve returns the value, resolving the placeholder
// on first access.
func (v *Value[T]) Resolve(ctx context.Context) (T, error) {
	v.lock.Lock()
	if v.resolved {
		defer v.lock.Unlock()
		return v.value, nil
	}
	r := v.resolver
	v.lock.Unlock()

	result, err, _ := v.group.Do(key, func() (interface{}, error) {
		v.lock.Lock()
		if v.resolved {
			defer v.lock.Unlock()
			return v.value, nil
		}
		v.lock.Unlock()

		var _nil T
		if r == nil {
			return _nil, nil
		}
		val, err := r(ctx)
		if err != nil {
			return _nil, err
		}
		v.lock.Lock()
		defer v.lock.Unlock()
		if !v.resolved {
			v.value = val
			v.resolved = true
		}
		return v.value, nil
	})
	if err != nil {
		var _nil T
		return _nil, err
	}
	val, _ := result.(T)
	return val, nil
}

// Set resolves the placeholder with the given value.
func (v *Value[T]) Set(val T) {
	v.lock.Lock()
	defer v.lock.Unlock()
	v.value = val
	v.resolved = true
}

// Invalidate turns the placeholder back into an unresolved one.
func (v *Value[T]) Invalidate(r Resolver[T]) {
	v.lock.Lock()
	defer v.lock.Unlock()
	var _nil T
	v.value = _nil
	v.resolved = false
	v.resolver = r
}

////////////////////////////////////////////////////////////////////////////////

// List is a to-many placeholder. Modifications of an unresolved list
// are queued and applied to the resolved content on resolution.
type List[T comparable] struct {
	lock     sync.Mutex
	resolved bool
	items    []T
	added    []T
	removed  []T
	resolver Resolver[[]T]
	group    singleflight.Group
}

var _ Fault = (*List[any])(nil)

func UnresolvedList[T comparable](r Resolver[[]T]) *List[T] {
	return &List[T]{resolver: r}
}

func ResolvedList[T comparable](items ...T) *List[T] {
	return &List[T]{resolved: true, items: slices.Clone(items)}
}

func (l *List[T]) IsResolved() bool {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.resolved
}

// Peek returns a copy of the content if resolved.
func (l *List[T]) Peek() ([]T, bool) {
	l.lock.Lock()
	defer l.lock.Unlock()
	if !l.resolved {
		return nil, false
	}
	return slices.Clone(l.items), true
}

// Pending returns the queued additions and removals
// of an unresolved list.
func (l *List[T]) Pending() (added, removed []T) {
	l.lock.Lock()
	defer l.lock.Unlock()
	return slices.Clone(l.added), slices.Clone(l.removed)
}

func (l *List[T]) Resolve(ctx context.Context) ([]T, error) {
	l.lock.Lock()
	if l.resolved {
		defer l.lock.Unlock()
		return slices.Clone(l.items), nil
	}
	r := l.resolver
	l.lock.Unlock()

	_, err, _ := l.group.Do(key, func() (interface{}, error) {
		l.lock.Lock()
		if l.resolved {
			l.lock.Unlock()
			return nil, nil
		}
		l.lock.Unlock()

		var items []T
		if r != nil {
			var err error
			items, err = r(ctx)
			if err != nil {
				return nil, err
			}
		}

		l.lock.Lock()
		defer l.lock.Unlock()
		if l.resolved {
			return nil, nil
		}
		items = slices.Clone(items)
		for _, e := range l.removed {
			if i := slices.Index(items, e); i >= 0 {
				items = slices.Delete(items, i, i+1)
			}
		}
		for _, e := range l.added {
			if !slices.Contains(items, e) {
				items = append(items, e)
			}
		}
		l.items = items
		l.added = nil
		l.removed = nil
		l.resolved = true
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	items, _ := l.Peek()
	return items, nil
}

// Add adds an element. It returns false, if the element
// is already known to be contained.
func (l *List[T]) Add(e T) bool {
	l.lock.Lock()
	defer l.lock.Unlock()
	if l.resolved {
		if slices.Contains(l.items, e) {
			return false
		}
		l.items = append(l.items, e)
		return true
	}
	if i := slices.Index(l.removed, e); i >= 0 {
		l.removed = slices.Delete(l.removed, i, i+1)
	}
	if slices.Contains(l.added, e) {
		return false
	}
	l.added = append(l.added, e)
	return true
}

// Remove removes an element. It returns false, if the element
// is known to be absent.
func (l *List[T]) Remove(e T) bool {
	l.lock.Lock()
	defer l.lock.Unlock()
	if l.resolved {
		i := slices.Index(l.items, e)
		if i < 0 {
			return false
		}
		l.items = slices.Delete(l.items, i, i+1)
		return true
	}
	if i := slices.Index(l.added, e); i >= 0 {
		l.added = slices.Delete(l.added, i, i+1)
		return true
	}
	if slices.Contains(l.removed, e) {
		return false
	}
	l.removed = append(l.removed, e)
	return true
}

// Set resolves the list with the given content.
func (l *List[T]) Set(items []T) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.items = slices.Clone(items)
	l.added = nil
	l.removed = nil
	l.resolved = true
}

// Invalidate turns the list back into an unresolved one
// dropping queued modifications.
func (l *List[T]) Invalidate(r Resolver[[]T]) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.items = nil
	l.added = nil
	l.removed = nil
	l.resolved = false
	l.resolver = r
}
