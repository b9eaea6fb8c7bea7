package orm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// relationParam is the parameter name relation fetches bind their key to
const relationParam = "key"

// =====================================
// Engine
// =====================================

// Engine turns result rows into entity objects and installs deferred
// relations. It owns the accessor registry it was built with.
type Engine struct {
	db         DB
	dialect    Dialect
	config     *MapConfig
	registry   *Registry
	generators *KeyGenerators
	logger     *slog.Logger

	mutex   sync.Mutex
	plans   map[string]*plan
	skipped map[string][]string
}

// EngineOption configures an Engine
type EngineOption func(*Engine)

// WithLogger sets the logger used for diagnostics
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithKeyGenerators overrides the key generators used by Insert
func WithKeyGenerators(gens *KeyGenerators) EngineOption {
	return func(e *Engine) {
		if gens != nil {
			e.generators = gens
		}
	}
}

// NewEngine creates an engine over a map configuration. The configuration is
// frozen; resolution failures are returned as mapping errors. db may be nil
// when rows are only hydrated from caller-supplied result sets.
func NewEngine(db DB, d Dialect, cfg *MapConfig, reg *Registry, opts ...EngineOption) (*Engine, error) {
	if d == nil || cfg == nil || reg == nil {
		return nil, NewError(ErrorTypeInvalidArgument, "engine needs a dialect, a map configuration and a registry")
	}
	if err := cfg.Freeze(); err != nil {
		return nil, err
	}
	e := &Engine{
		db:         db,
		dialect:    d,
		config:     cfg,
		registry:   reg,
		generators: cfg.Generators,
		logger:     slog.Default(),
		plans:      make(map[string]*plan),
		skipped:    make(map[string][]string),
	}
	if e.generators == nil {
		e.generators = NewKeyGenerators()
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Dialect returns the engine's dialect
func (e *Engine) Dialect() Dialect { return e.dialect }

// Config returns the frozen map configuration
func (e *Engine) Config() *MapConfig { return e.config }

// Registry returns the accessor registry
func (e *Engine) Registry() *Registry { return e.registry }

// Skipped returns, per entity, the accessors that had no mapped property on
// the entity or its parent and were therefore never assigned
func (e *Engine) Skipped() map[string][]string {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	out := make(map[string][]string, len(e.skipped))
	for k, v := range e.skipped {
		out[k] = append([]string(nil), v...)
	}
	return out
}

func (e *Engine) entity(name string) (*EntityMap, error) {
	ent, ok := e.config.Entity(name)
	if !ok {
		return nil, mappingError("unknown entity %s", name)
	}
	return ent, nil
}

// =====================================
// Hydration Plans
// =====================================

// step is one member of an entity paired with its accessor
type step struct {
	name   string
	column string
	// aliases a result set may prefix the column with: the entity's own,
	// then the ancestor declaring the member
	aliases []string
	acc     *accessor
	rel     *Relation
	stmt    Statement
}

type plan struct {
	entity  *EntityMap
	binding *binding
	steps   []step
}

// planFor builds, once per entity, the ordered list of assignments: the
// entity's own members in declared order followed by its direct parent's
// members that it does not redeclare.
func (e *Engine) planFor(ent *EntityMap) (*plan, error) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	if p, ok := e.plans[ent.Name]; ok {
		return p, nil
	}

	b, ok := e.registry.lookup(ent.Name)
	if !ok {
		return nil, mappingError("no accessors registered for entity %s", ent.Name)
	}

	members := ent.Members()
	if parent := ent.Parent(); parent != nil {
		for _, m := range parent.Members() {
			if _, own := ent.Property(m.Base().Name); !own {
				members = append(members, m)
			}
		}
	}

	p := &plan{entity: ent, binding: b}
	used := make(map[string]bool, len(b.accessors))
	for _, m := range members {
		name := m.Base().Name
		acc, ok := b.find(name)
		if !ok {
			continue
		}
		used[name] = true
		s, err := e.stepFor(ent, m, acc)
		if err != nil {
			return nil, err
		}
		p.steps = append(p.steps, s)
	}

	var skipped []string
	for _, acc := range b.accessors {
		if !used[acc.name] {
			skipped = append(skipped, acc.name)
		}
	}
	if len(skipped) > 0 {
		e.skipped[ent.Name] = skipped
		e.logger.Warn("accessors without a mapped property are skipped",
			"entity", ent.Name, "accessors", skipped)
	}

	e.plans[ent.Name] = p
	return p, nil
}

func (e *Engine) stepFor(ent *EntityMap, m Member, acc *accessor) (step, error) {
	base := m.Base()
	s := step{
		name:    base.Name,
		column:  strings.ToLower(base.ColumnName),
		aliases: []string{strings.ToLower(ent.TableAlias)},
		acc:     acc,
	}
	if owner := base.Owner(); owner != nil && owner != ent && owner.TableAlias != "" {
		s.aliases = append(s.aliases, strings.ToLower(owner.TableAlias))
	}

	r, isRel := m.(*Relation)
	if !isRel || (r.Kind == ManyToOne && acc.kind == scalarAccessor) {
		if acc.kind != scalarAccessor {
			return step{}, mappingError("%s.%s is a column but is bound as a %s", ent.Name, base.Name, acc.kind)
		}
		return s, nil
	}

	s.rel = r
	target := r.Target()
	if target == nil {
		return step{}, mappingError("%s.%s is not resolved", ent.Name, r.Name)
	}

	var builder *SelectBuilder
	switch r.Kind {
	case ManyToOne:
		if acc.kind != referenceAccessor {
			return step{}, mappingError("%s.%s is a many-to-one relation but is bound as a %s", ent.Name, r.Name, acc.kind)
		}
		builder = Select(e.dialect, target).Where(r.ReferenceColumn).Equals(relationParam).Page(0, 1)
	case OneToMany:
		if acc.kind != collectionAccessor {
			return step{}, mappingError("%s.%s is a one-to-many relation but is bound as a %s", ent.Name, r.Name, acc.kind)
		}
		builder = Select(e.dialect, target).Where(r.ReferenceColumn).Equals(relationParam)
	case ManyToMany:
		if acc.kind != collectionAccessor {
			return step{}, mappingError("%s.%s is a many-to-many relation but is bound as a %s", ent.Name, r.Name, acc.kind)
		}
		link := r.MapEntity()
		builder = Select(e.dialect, target).Join(r).Where(link.TableAlias + "." + r.MapColumn).Equals(relationParam)
	default:
		return step{}, mappingError("%s.%s: unknown relation kind %q", ent.Name, r.Name, r.Kind)
	}

	stmt, err := builder.Build()
	if err != nil {
		return step{}, err
	}
	s.stmt = stmt
	return s, nil
}

// =====================================
// Row Hydration
// =====================================

// ordinals maps result set columns to positions for one entity
type ordinals struct {
	index map[string]int
	// aliased is set when some column carries the entity's "alias_" prefix;
	// unprefixed names are then ignored
	aliased bool
}

// columnOrdinals indexes columns by lower case name, keeping the first of
// any duplicates
func columnOrdinals(alias string, columns []string) ordinals {
	prefix := strings.ToLower(alias) + "_"
	o := ordinals{index: make(map[string]int, len(columns))}
	for i, c := range columns {
		lc := strings.ToLower(c)
		if _, dup := o.index[lc]; !dup {
			o.index[lc] = i
		}
		if strings.HasPrefix(lc, prefix) {
			o.aliased = true
		}
	}
	return o
}

// lookup finds the column of a step under each of its aliases in turn. A
// result set without the entity's alias is matched by bare name first.
func (o ordinals) lookup(s *step) (int, bool) {
	aliases := s.aliases
	if !o.aliased {
		if i, ok := o.index[s.column]; ok {
			return i, true
		}
		aliases = aliases[1:]
	}
	for _, alias := range aliases {
		if i, ok := o.index[alias+"_"+s.column]; ok {
			return i, true
		}
	}
	return 0, false
}

// pending is an eager many-to-one fetch run once the result set is closed
type pending func(ctx context.Context) error

// hydrateRows reads every row and closes rows. Eager fetches are returned to
// the caller so they run after the cursor and its connection are released.
func (e *Engine) hydrateRows(ent *EntityMap, rows Rows) ([]interface{}, []pending, error) {
	defer rows.Close()

	p, err := e.planFor(ent)
	if err != nil {
		return nil, nil, err
	}
	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, dataAccessError("failed to read columns", err)
	}
	ordinals := columnOrdinals(ent.TableAlias, columns)

	values := make([]interface{}, len(columns))
	dest := make([]interface{}, len(columns))
	for i := range values {
		dest[i] = &values[i]
	}

	var objects []interface{}
	var eager []pending
	for rows.Next() {
		for i := range values {
			values[i] = nil
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, nil, dataAccessError("failed to scan row", err)
		}
		obj := p.binding.newObject()
		for i := range p.steps {
			s := &p.steps[i]
			var raw interface{}
			ord, present := ordinals.lookup(s)
			if present {
				raw = values[ord]
			}
			if fn, err := e.apply(obj, s, raw, present); err != nil {
				return nil, nil, fmt.Errorf("%s.%s: %w", ent.Name, s.name, err)
			} else if fn != nil {
				eager = append(eager, fn)
			}
		}
		objects = append(objects, obj)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, dataAccessError("failed to read rows", err)
	}
	return objects, eager, nil
}

// apply assigns one member of one row
func (e *Engine) apply(obj interface{}, s *step, raw interface{}, present bool) (pending, error) {
	switch s.acc.kind {
	case scalarAccessor:
		if !present {
			return nil, nil
		}
		return nil, s.acc.scalar(obj, raw, e.registry)

	case referenceAccessor:
		if raw == nil {
			s.acc.unset(obj)
			return nil, nil
		}
		load := e.loadOne(s, raw)
		if s.rel.LazyLoad {
			s.acc.deferred(obj, raw, load)
			return nil, nil
		}
		return func(ctx context.Context) error {
			v, err := load(ctx)
			if err != nil {
				return err
			}
			return s.acc.resolved(obj, raw, v)
		}, nil

	case collectionAccessor:
		if raw == nil {
			s.acc.empty(obj)
			return nil, nil
		}
		s.acc.deferMany(obj, e.loadMany(s, raw))
		return nil, nil
	}
	return nil, NewError(ErrorTypeInternal, fmt.Sprintf("unknown accessor kind %d", s.acc.kind))
}

func (e *Engine) loadMany(s *step, key interface{}) loadMany {
	rel, stmt := s.rel, s.stmt
	return func(ctx context.Context) ([]interface{}, error) {
		e.logger.Debug("loading relation", "relation", rel.describe(), "key", key)
		return e.fetch(ctx, rel.Target(), stmt, map[string]interface{}{relationParam: key})
	}
}

func (e *Engine) loadOne(s *step, key interface{}) loadOne {
	many := e.loadMany(s, key)
	return func(ctx context.Context) (interface{}, error) {
		objects, err := many(ctx)
		if err != nil || len(objects) == 0 {
			return nil, err
		}
		return objects[0], nil
	}
}

func runPending(ctx context.Context, eager []pending) error {
	for _, fn := range eager {
		if err := fn(ctx); err != nil {
			return err
		}
	}
	return nil
}

// fetch runs a statement on a scoped connection and hydrates the result
func (e *Engine) fetch(ctx context.Context, ent *EntityMap, stmt Statement, values map[string]interface{}) ([]interface{}, error) {
	args, err := stmt.Args(values)
	if err != nil {
		return nil, err
	}
	objects, eager, err := e.withConn(ctx, func(conn Conn) ([]interface{}, []pending, error) {
		rows, err := conn.Query(ctx, stmt.SQL, args...)
		if err != nil {
			return nil, nil, dataAccessError(fmt.Sprintf("query on %s failed", ent.Name), err)
		}
		return e.hydrateRows(ent, rows)
	})
	if err != nil {
		return nil, err
	}
	if err := runPending(ctx, eager); err != nil {
		return nil, err
	}
	return objects, nil
}

func (e *Engine) withConn(ctx context.Context, fn func(conn Conn) ([]interface{}, []pending, error)) ([]interface{}, []pending, error) {
	if e.db == nil {
		return nil, nil, NewError(ErrorTypeConnection, "engine has no database")
	}
	conn, err := e.db.Open(ctx)
	if err != nil {
		return nil, nil, dataAccessError("failed to open connection", err)
	}
	defer conn.Close()
	return fn(conn)
}

// =====================================
// Commands
// =====================================

// Count returns the number of rows of an entity's table
func (e *Engine) Count(ctx context.Context, entity string) (int64, error) {
	ent, err := e.entity(entity)
	if err != nil {
		return 0, err
	}
	stmt, err := Count(e.dialect, ent).Build()
	if err != nil {
		return 0, err
	}
	var n int64
	_, _, err = e.withConn(ctx, func(conn Conn) ([]interface{}, []pending, error) {
		rows, err := conn.Query(ctx, stmt.SQL)
		if err != nil {
			return nil, nil, dataAccessError("count failed", err)
		}
		defer rows.Close()
		if rows.Next() {
			if err := rows.Scan(&n); err != nil {
				return nil, nil, dataAccessError("failed to scan count", err)
			}
		}
		return nil, nil, dataAccessError("failed to read count", rows.Err())
	})
	return n, err
}

// Insert writes one row. values are keyed by property name. The returned key
// is the generated value: produced before the insert for low priority
// strategies, read back after it for high priority ones. Without a
// generator the key is nil.
func (e *Engine) Insert(ctx context.Context, entity string, values map[string]interface{}) (interface{}, error) {
	ent, err := e.entity(entity)
	if err != nil {
		return nil, err
	}
	ins, err := Insert(e.dialect, ent, e.generators)
	if err != nil {
		return nil, err
	}

	bound := make(map[string]interface{}, len(values)+1)
	for k, v := range values {
		bound[k] = v
	}
	if ins.Key != nil && ins.KeySelect == "" {
		bound[ins.Key.Name] = ins.KeyValue
	}
	args, err := ins.Args(bound)
	if err != nil {
		return nil, err
	}

	key := ins.KeyValue
	_, _, err = e.withConn(ctx, func(conn Conn) ([]interface{}, []pending, error) {
		if ins.Batched {
			rows, err := conn.Query(ctx, ins.SQL, args...)
			if err != nil {
				return nil, nil, dataAccessError(fmt.Sprintf("insert into %s failed", ent.Name), err)
			}
			return nil, nil, readKey(ent, rows, &key)
		}
		if _, err := conn.Exec(ctx, ins.SQL, args...); err != nil {
			return nil, nil, dataAccessError(fmt.Sprintf("insert into %s failed", ent.Name), err)
		}
		if ins.KeySelect == "" {
			return nil, nil, nil
		}
		rows, err := conn.Query(ctx, ins.KeySelect)
		if err != nil {
			return nil, nil, dataAccessError("failed to read generated key", err)
		}
		return nil, nil, readKey(ent, rows, &key)
	})
	if err != nil {
		return nil, err
	}
	e.logger.Debug("inserted entity", "entity", ent.Name, "key", key)
	return key, nil
}

// readKey reads the database generated key from the first row and closes
// rows. A missing or NULL key is a data access error.
func readKey(ent *EntityMap, rows Rows, key *interface{}) error {
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(key); err != nil {
			return dataAccessError("failed to scan generated key", err)
		}
	}
	if err := rows.Err(); err != nil {
		return dataAccessError("failed to read generated key", err)
	}
	if *key == nil {
		return NewError(ErrorTypeDataAccess, fmt.Sprintf("insert into %s returned no generated key", ent.Name))
	}
	return nil
}

// Delete removes the row matching the key values, keyed by property name,
// and returns the number of rows affected
func (e *Engine) Delete(ctx context.Context, entity string, key map[string]interface{}) (int64, error) {
	ent, err := e.entity(entity)
	if err != nil {
		return 0, err
	}
	stmt, err := DeleteByKey(e.dialect, ent)
	if err != nil {
		return 0, err
	}
	args, err := stmt.Args(key)
	if err != nil {
		return 0, err
	}
	var affected int64
	_, _, err = e.withConn(ctx, func(conn Conn) ([]interface{}, []pending, error) {
		res, err := conn.Exec(ctx, stmt.SQL, args...)
		if err != nil {
			return nil, nil, dataAccessError(fmt.Sprintf("delete from %s failed", ent.Name), err)
		}
		affected, err = res.RowsAffected()
		return nil, nil, dataAccessError("failed to read affected rows", err)
	})
	return affected, err
}

// =====================================
// Typed Entry Points
// =====================================

func typed[T any](entity string, objects []interface{}) ([]*T, error) {
	out := make([]*T, 0, len(objects))
	for _, o := range objects {
		t, ok := o.(*T)
		if !ok {
			return nil, NewError(ErrorTypeInvalidArgument, fmt.Sprintf("entity %s is registered for %T", entity, o))
		}
		out = append(out, t)
	}
	return out, nil
}

// Hydrate builds objects from a caller-supplied result set and closes it.
// Eager many-to-one relations are fetched through the engine's database.
func Hydrate[T any](ctx context.Context, e *Engine, entity string, rows Rows) ([]*T, error) {
	ent, err := e.entity(entity)
	if err != nil {
		rows.Close()
		return nil, err
	}
	objects, eager, err := e.hydrateRows(ent, rows)
	if err != nil {
		return nil, err
	}
	if err := runPending(ctx, eager); err != nil {
		return nil, err
	}
	return typed[T](entity, objects)
}

// Query runs a built statement and hydrates the result
func Query[T any](ctx context.Context, e *Engine, entity string, stmt Statement, values map[string]interface{}) ([]*T, error) {
	ent, err := e.entity(entity)
	if err != nil {
		return nil, err
	}
	objects, err := e.fetch(ctx, ent, stmt, values)
	if err != nil {
		return nil, err
	}
	return typed[T](entity, objects)
}

// FindBy returns the entities whose column equals value
func FindBy[T any](ctx context.Context, e *Engine, entity, column string, value interface{}) ([]*T, error) {
	ent, err := e.entity(entity)
	if err != nil {
		return nil, err
	}
	stmt, err := Select(e.dialect, ent).Where(column).Equals("value").Build()
	if err != nil {
		return nil, err
	}
	return Query[T](ctx, e, entity, stmt, map[string]interface{}{"value": value})
}

// Get returns the entity with the given single-column key, or a not found error
func Get[T any](ctx context.Context, e *Engine, entity string, key interface{}) (*T, error) {
	ent, err := e.entity(entity)
	if err != nil {
		return nil, err
	}
	keys := ent.KeyProperties()
	if len(keys) != 1 {
		return nil, mappingError("entity %s needs a single-column key for Get", ent.Name)
	}
	found, err := FindBy[T](ctx, e, entity, keys[0].ColumnName, key)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, NewError(ErrorTypeNotFound, fmt.Sprintf("%s %v not found", ent.Name, key))
	}
	return found[0], nil
}

// FindPage returns one page of entities ordered by primary key
func FindPage[T any](ctx context.Context, e *Engine, entity string, page Page) ([]*T, error) {
	ent, err := e.entity(entity)
	if err != nil {
		return nil, err
	}
	b := Select(e.dialect, ent)
	keys := ent.KeyProperties()
	if len(keys) == 0 {
		if cols := ent.Columns(); len(cols) > 0 {
			b.OrderBy(cols[0].ColumnName, OrderAsc)
		}
	}
	for _, k := range keys {
		b.OrderBy(k.ColumnName, OrderAsc)
	}
	stmt, err := b.Page(page.Offset, page.Limit).Build()
	if err != nil {
		return nil, err
	}
	return Query[T](ctx, e, entity, stmt, nil)
}
