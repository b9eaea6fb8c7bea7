package orm

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// =====================================
// Accessor Registry
// =====================================

type accessorKind int

const (
	scalarAccessor accessorKind = iota
	referenceAccessor
	collectionAccessor
)

func (k accessorKind) String() string {
	switch k {
	case referenceAccessor:
		return "reference"
	case collectionAccessor:
		return "collection"
	default:
		return "scalar"
	}
}

// loadOne fetches a single related object; nil means no row
type loadOne func(ctx context.Context) (interface{}, error)

// loadMany fetches related objects
type loadMany func(ctx context.Context) ([]interface{}, error)

// accessor is the typed setter for one entity member, erased so the engine
// can hold accessors of every entity type in one table
type accessor struct {
	name string
	kind accessorKind

	scalar    func(obj interface{}, raw interface{}, reg *Registry) error
	deferred  func(obj interface{}, key interface{}, load loadOne)
	resolved  func(obj interface{}, key interface{}, value interface{}) error
	unset     func(obj interface{})
	deferMany func(obj interface{}, load loadMany)
	empty     func(obj interface{})
}

// binding is the accessor table of one entity
type binding struct {
	entity    string
	newObject func() interface{}
	accessors []*accessor
	byName    map[string]*accessor
}

func (b *binding) find(name string) (*accessor, bool) {
	a, ok := b.byName[name]
	return a, ok
}

// Registry holds accessor tables and value converters. It is owned by an
// Engine; nothing is cached at package level.
type Registry struct {
	mutex      sync.RWMutex
	bindings   map[string]*binding
	converters map[interface{}]interface{}
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		bindings:   make(map[string]*binding),
		converters: make(map[interface{}]interface{}),
	}
}

// Binder collects the accessors of entity type T during Register
type Binder[T any] struct {
	binding *binding
	err     error
}

func (b *Binder[T]) add(a *accessor) {
	if b.err != nil {
		return
	}
	if a.name == "" {
		b.err = NewError(ErrorTypeInvalidArgument, fmt.Sprintf("entity %s: accessor without a name", b.binding.entity))
		return
	}
	if _, exists := b.binding.byName[a.name]; exists {
		b.err = NewError(ErrorTypeInvalidArgument, fmt.Sprintf("entity %s: duplicate accessor %s", b.binding.entity, a.name))
		return
	}
	b.binding.byName[a.name] = a
	b.binding.accessors = append(b.binding.accessors, a)
}

// Register builds the accessor table for entity type T under the entity's
// logical name, replacing any earlier registration.
// Example:
//
//	orm.Register(reg, "Animal", func() *Animal { return &Animal{} }, func(b *orm.Binder[Animal]) {
//		orm.Field(b, "ID", func(a *Animal) *int64 { return &a.ID })
//		orm.Reference(b, "Zoo", func(a *Animal) *orm.Ref[Zoo] { return &a.Zoo })
//	})
func Register[T any](reg *Registry, entity string, newFn func() *T, bind func(b *Binder[T])) error {
	if reg == nil || entity == "" || newFn == nil {
		return NewError(ErrorTypeInvalidArgument, "register needs a registry, an entity name and a constructor")
	}
	b := &Binder[T]{binding: &binding{
		entity:    entity,
		newObject: func() interface{} { return newFn() },
		byName:    make(map[string]*accessor),
	}}
	if bind != nil {
		bind(b)
	}
	if b.err != nil {
		return b.err
	}

	reg.mutex.Lock()
	defer reg.mutex.Unlock()
	reg.bindings[entity] = b.binding
	return nil
}

// Field binds a scalar property
func Field[T any, V any](b *Binder[T], name string, get func(*T) *V) {
	b.add(&accessor{
		name: name,
		kind: scalarAccessor,
		scalar: func(obj interface{}, raw interface{}, reg *Registry) error {
			return assign(get(obj.(*T)), raw, reg)
		},
	})
}

// Enum binds an integer enum property. Text column values are matched
// against names case-insensitively before being parsed as numbers.
func Enum[T any, E Integer](b *Binder[T], name string, get func(*T) *E, names map[string]E) {
	b.add(&accessor{
		name: name,
		kind: scalarAccessor,
		scalar: func(obj interface{}, raw interface{}, _ *Registry) error {
			return assignEnum(get(obj.(*T)), raw, names)
		},
	})
}

// Reference binds a many-to-one relation to a deferred reference
func Reference[T any, R any](b *Binder[T], name string, get func(*T) *Ref[R]) {
	b.add(&accessor{
		name: name,
		kind: referenceAccessor,
		deferred: func(obj interface{}, key interface{}, load loadOne) {
			*get(obj.(*T)) = NewRef(key, func(ctx context.Context) (*R, error) {
				v, err := load(ctx)
				if err != nil || v == nil {
					return nil, err
				}
				r, ok := v.(*R)
				if !ok {
					return nil, NewError(ErrorTypeInternal, fmt.Sprintf("relation %s loaded %T", name, v))
				}
				return r, nil
			})
		},
		resolved: func(obj interface{}, key interface{}, value interface{}) error {
			var r *R
			if value != nil {
				var ok bool
				if r, ok = value.(*R); !ok {
					return NewError(ErrorTypeInternal, fmt.Sprintf("relation %s loaded %T", name, value))
				}
			}
			ref := LoadedRef(r)
			ref.key = key
			*get(obj.(*T)) = ref
			return nil
		},
		unset: func(obj interface{}) {
			*get(obj.(*T)) = Ref[R]{}
		},
	})
}

// Collection binds a one-to-many or many-to-many relation to a deferred list
func Collection[T any, R any](b *Binder[T], name string, get func(*T) *List[R]) {
	b.add(&accessor{
		name: name,
		kind: collectionAccessor,
		deferMany: func(obj interface{}, load loadMany) {
			*get(obj.(*T)) = NewList(func(ctx context.Context) ([]*R, error) {
				values, err := load(ctx)
				if err != nil {
					return nil, err
				}
				items := make([]*R, 0, len(values))
				for _, v := range values {
					r, ok := v.(*R)
					if !ok {
						return nil, NewError(ErrorTypeInternal, fmt.Sprintf("relation %s loaded %T", name, v))
					}
					items = append(items, r)
				}
				return items, nil
			})
		},
		empty: func(obj interface{}) {
			*get(obj.(*T)) = LoadedList[R]()
		},
	})
}

func (r *Registry) lookup(entity string) (*binding, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	b, ok := r.bindings[entity]
	return b, ok
}

// Entities returns the registered entity names, sorted
func (r *Registry) Entities() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	names := make([]string, 0, len(r.bindings))
	for name := range r.bindings {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Accessors returns the accessor names registered for an entity, in
// registration order
func (r *Registry) Accessors(entity string) []string {
	b, ok := r.lookup(entity)
	if !ok {
		return nil
	}
	names := make([]string, len(b.accessors))
	for i, a := range b.accessors {
		names[i] = a.name
	}
	return names
}

// =====================================
// Converters
// =====================================

// converterKey identifies a target type without reflection
func converterKey[V any]() interface{} { return (*V)(nil) }

// RegisterConverter installs the conversion used when a column value does not
// already have type V
func RegisterConverter[V any](reg *Registry, fn func(raw interface{}) (V, error)) {
	reg.mutex.Lock()
	defer reg.mutex.Unlock()
	reg.converters[converterKey[V]()] = fn
}

func lookupConverter[V any](reg *Registry) (func(raw interface{}) (V, error), bool) {
	reg.mutex.RLock()
	defer reg.mutex.RUnlock()
	fn, ok := reg.converters[converterKey[V]()]
	if !ok {
		return nil, false
	}
	conv, ok := fn.(func(raw interface{}) (V, error))
	return conv, ok
}
