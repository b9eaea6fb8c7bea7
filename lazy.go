package orm

import (
	"context"
	"fmt"
	"sync"
)

// =====================================
// Load-once Cell
// =====================================

// cell materializes a value on first access. The mutex is held for the whole
// load so concurrent first callers wait for the one fetch and share its
// result. A failed load leaves the cell unloaded.
type cell[V any] struct {
	mutex  sync.Mutex
	loaded bool
	value  V
	load   func(ctx context.Context) (V, error)
}

func loadedCell[V any](v V) *cell[V] {
	return &cell[V]{loaded: true, value: v}
}

func (c *cell[V]) isLoaded() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.loaded
}

// ensure loads the value; the caller holds the mutex
func (c *cell[V]) ensure(ctx context.Context) error {
	if c.loaded {
		return nil
	}
	if c.load != nil {
		v, err := c.load(ctx)
		if err != nil {
			return err
		}
		c.value = v
	}
	c.loaded = true
	// release the query, entity map and settings captured by the loader
	c.load = nil
	return nil
}

func (c *cell[V]) get(ctx context.Context) (V, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if err := c.ensure(ctx); err != nil {
		var zero V
		return zero, err
	}
	return c.value, nil
}

// with loads the value and runs fn on it under the lock
func (c *cell[V]) with(ctx context.Context, fn func(v *V) error) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if err := c.ensure(ctx); err != nil {
		return err
	}
	return fn(&c.value)
}

// =====================================
// Deferred Collection
// =====================================

// List is an ordered collection of related entities that runs its query on
// first access. The zero value is an empty, loaded list.
//
// Every accessor takes a context because it may perform the first load.
// Later calls are served from memory.
type List[T any] struct {
	c *cell[[]*T]
}

// NewList creates a list that loads its items with load on first access
func NewList[T any](load func(ctx context.Context) ([]*T, error)) List[T] {
	return List[T]{c: &cell[[]*T]{load: load}}
}

// LoadedList creates a list holding items
func LoadedList[T any](items ...*T) List[T] {
	return List[T]{c: loadedCell(append([]*T(nil), items...))}
}

// zeroLists guards the first touch of zero value lists, which may be shared
// before anything has been added
var zeroLists sync.Mutex

func (l *List[T]) state() *cell[[]*T] {
	zeroLists.Lock()
	defer zeroLists.Unlock()
	if l.c == nil {
		l.c = loadedCell[[]*T](nil)
	}
	return l.c
}

// IsLoaded reports whether the items have been materialized
func (l *List[T]) IsLoaded() bool {
	return l.state().isLoaded()
}

// Load materializes the items without reading them
func (l *List[T]) Load(ctx context.Context) error {
	_, err := l.state().get(ctx)
	return err
}

// Len returns the number of items
func (l *List[T]) Len(ctx context.Context) (int, error) {
	items, err := l.state().get(ctx)
	return len(items), err
}

// At returns the item at index i
func (l *List[T]) At(ctx context.Context, i int) (*T, error) {
	items, err := l.state().get(ctx)
	if err != nil {
		return nil, err
	}
	if i < 0 || i >= len(items) {
		return nil, NewError(ErrorTypeInvalidArgument, fmt.Sprintf("index %d out of range [0,%d)", i, len(items)))
	}
	return items[i], nil
}

// Add appends an item
func (l *List[T]) Add(ctx context.Context, item *T) error {
	return l.state().with(ctx, func(items *[]*T) error {
		*items = append(*items, item)
		return nil
	})
}

// Remove deletes the first occurrence of item and reports whether it was found
func (l *List[T]) Remove(ctx context.Context, item *T) (bool, error) {
	found := false
	err := l.state().with(ctx, func(items *[]*T) error {
		for i, x := range *items {
			if x == item {
				*items = append((*items)[:i], (*items)[i+1:]...)
				found = true
				return nil
			}
		}
		return nil
	})
	return found, err
}

// All returns a copy of the items
func (l *List[T]) All(ctx context.Context) ([]*T, error) {
	items, err := l.state().get(ctx)
	if err != nil {
		return nil, err
	}
	return append([]*T(nil), items...), nil
}

// Each calls fn for every item until fn returns false
func (l *List[T]) Each(ctx context.Context, fn func(i int, item *T) bool) error {
	items, err := l.All(ctx)
	if err != nil {
		return err
	}
	for i, item := range items {
		if !fn(i, item) {
			return nil
		}
	}
	return nil
}

// =====================================
// Deferred Reference
// =====================================

// Ref is a many-to-one reference that fetches the related entity on first
// Get. The zero value is unset. Set is not safe for concurrent use with Get.
type Ref[T any] struct {
	key interface{}
	c   *cell[*T]
}

// NewRef creates a reference keyed by the foreign key value
func NewRef[T any](key interface{}, load func(ctx context.Context) (*T, error)) Ref[T] {
	return Ref[T]{key: key, c: &cell[*T]{load: load}}
}

// LoadedRef creates a reference holding v
func LoadedRef[T any](v *T) Ref[T] {
	return Ref[T]{c: loadedCell(v)}
}

// IsSet reports whether the reference points at anything
func (r *Ref[T]) IsSet() bool { return r.c != nil }

// IsLoaded reports whether the target has been fetched. An unset reference
// counts as loaded.
func (r *Ref[T]) IsLoaded() bool {
	if r.c == nil {
		return true
	}
	return r.c.isLoaded()
}

// Key returns the foreign key value the reference was created with
func (r *Ref[T]) Key() interface{} { return r.key }

// Get returns the referenced entity, fetching it on first call. An unset
// reference returns nil.
func (r *Ref[T]) Get(ctx context.Context) (*T, error) {
	if r.c == nil {
		return nil, nil
	}
	return r.c.get(ctx)
}

// Set replaces the reference with a loaded value
func (r *Ref[T]) Set(v *T) {
	r.key = nil
	r.c = loadedCell(v)
}
