package orm

import (
	"fmt"
	"strings"
)

// =====================================
// Entity Metadata
// =====================================

// Member is one entry of an entity's ordered property set. It is
// implemented by *Property (scalar columns) and *Relation.
type Member interface {
	// Base returns the scalar column definition shared by every member
	Base() *Property
}

// Property describes a scalar column mapping
type Property struct {
	Name         string
	ColumnName   string
	DbType       DbType
	SqlType      string
	Nullable     bool
	Length       int
	DefaultValue string
	Unique       bool
	Identity     bool

	owner *EntityMap
}

// Base implements Member
func (p *Property) Base() *Property { return p }

// Owner returns the entity holding this property
func (p *Property) Owner() *EntityMap { return p.owner }

// Relation is a property that points at another entity
type Relation struct {
	Property

	Kind            RelationKind
	ReferenceTable  string
	ReferenceEntity string
	ReferenceColumn string
	ConstraintName  string
	LazyLoad        bool

	// Link table fields, only used by ManyToMany relations
	MapTable           string
	MapColumn          string
	MapReferenceColumn string

	target    *EntityMap
	mapEntity *EntityMap
}

// Target returns the referenced entity once the graph is resolved
func (r *Relation) Target() *EntityMap { return r.target }

// MapEntity returns the link table entity of a ManyToMany relation
func (r *Relation) MapEntity() *EntityMap { return r.mapEntity }

// PrimaryKey is the ordered set of key columns plus the key generation strategy
type PrimaryKey struct {
	Columns   []string
	Generator string
}

// IsComposite reports whether the key spans more than one column
func (k *PrimaryKey) IsComposite() bool {
	return k != nil && len(k.Columns) > 1
}

// Contains reports whether the column is part of the key
func (k *PrimaryKey) Contains(column string) bool {
	if k == nil {
		return false
	}
	for _, c := range k.Columns {
		if strings.EqualFold(c, column) {
			return true
		}
	}
	return false
}

// EntityMap describes one mapped table
type EntityMap struct {
	Name        string
	TableName   string
	SchemaName  string
	Namespace   string
	TableAlias  string
	Extends     string
	IsLinkTable bool
	PrimaryKey  *PrimaryKey

	members []Member
	index   map[string]int
	parent  *EntityMap
	config  *MapConfig
}

// NewEntityMap creates an empty entity map for a table
func NewEntityMap(name, table string) *EntityMap {
	return &EntityMap{
		Name:       name,
		TableName:  table,
		PrimaryKey: &PrimaryKey{},
		index:      make(map[string]int),
	}
}

func (e *EntityMap) checkMutable() error {
	if e.config != nil && e.config.frozen {
		return mappingError("entity %s is frozen", e.Name)
	}
	return nil
}

func (e *EntityMap) reindex() {
	e.index = make(map[string]int, len(e.members))
	for i, m := range e.members {
		e.index[m.Base().Name] = i
	}
}

// Add appends a member, keeping declaration order.
// Adding a second member with the same name is a mapping error.
func (e *EntityMap) Add(m Member) error {
	if err := e.checkMutable(); err != nil {
		return err
	}
	p := m.Base()
	if p.Name == "" {
		return mappingError("entity %s: property without a name", e.Name)
	}
	if e.index == nil {
		e.index = make(map[string]int)
	}
	if _, exists := e.index[p.Name]; exists {
		return mappingError("entity %s: duplicate property %s", e.Name, p.Name)
	}
	p.owner = e
	e.index[p.Name] = len(e.members)
	e.members = append(e.members, m)
	return nil
}

// Replace swaps the member with the given name in place, keeping its position.
// The descriptor uses this to turn a scalar foreign key column into a Relation.
func (e *EntityMap) Replace(name string, m Member) error {
	if err := e.checkMutable(); err != nil {
		return err
	}
	i, ok := e.index[name]
	if !ok {
		return mappingError("entity %s: no property %s to replace", e.Name, name)
	}
	p := m.Base()
	if other, exists := e.index[p.Name]; exists && other != i {
		return mappingError("entity %s: duplicate property %s", e.Name, p.Name)
	}
	p.owner = e
	e.members[i] = m
	e.reindex()
	return nil
}

// Rename changes a member's name without changing its position
func (e *EntityMap) Rename(oldName, newName string) error {
	if oldName == newName {
		return nil
	}
	if err := e.checkMutable(); err != nil {
		return err
	}
	i, ok := e.index[oldName]
	if !ok {
		return mappingError("entity %s: no property %s to rename", e.Name, oldName)
	}
	if _, exists := e.index[newName]; exists {
		return mappingError("entity %s: cannot rename %s, %s already exists", e.Name, oldName, newName)
	}
	e.members[i].Base().Name = newName
	e.reindex()
	return nil
}

// Remove deletes a member by name and reports whether it existed. A frozen
// entity is a mapping error.
func (e *EntityMap) Remove(name string) (bool, error) {
	if err := e.checkMutable(); err != nil {
		return false, err
	}
	i, ok := e.index[name]
	if !ok {
		return false, nil
	}
	e.members = append(e.members[:i], e.members[i+1:]...)
	e.reindex()
	return true, nil
}

// Property returns the member with the given property name
func (e *EntityMap) Property(name string) (Member, bool) {
	i, ok := e.index[name]
	if !ok {
		return nil, false
	}
	return e.members[i], true
}

// ByColumn returns the first member mapped to the column. Column names compare
// case-insensitively. OneToMany and ManyToMany relations are skipped because
// their column belongs to another table.
func (e *EntityMap) ByColumn(column string) (Member, bool) {
	for _, m := range e.members {
		if r, ok := m.(*Relation); ok && r.Kind != ManyToOne {
			continue
		}
		if strings.EqualFold(m.Base().ColumnName, column) {
			return m, true
		}
	}
	return nil, false
}

// Members returns the ordered members
func (e *EntityMap) Members() []Member {
	out := make([]Member, len(e.members))
	copy(out, e.members)
	return out
}

// Len returns the number of members
func (e *EntityMap) Len() int { return len(e.members) }

// Columns returns the members stored in this entity's own table, in order
func (e *EntityMap) Columns() []*Property {
	var out []*Property
	for _, m := range e.members {
		if r, ok := m.(*Relation); ok && r.Kind != ManyToOne {
			continue
		}
		out = append(out, m.Base())
	}
	return out
}

// Relations returns the relation members, in order
func (e *EntityMap) Relations() []*Relation {
	var out []*Relation
	for _, m := range e.members {
		if r, ok := m.(*Relation); ok {
			out = append(out, r)
		}
	}
	return out
}

// KeyProperties resolves the primary key columns to their properties
func (e *EntityMap) KeyProperties() []*Property {
	if e.PrimaryKey == nil {
		return nil
	}
	out := make([]*Property, 0, len(e.PrimaryKey.Columns))
	for _, c := range e.PrimaryKey.Columns {
		if m, ok := e.ByColumn(c); ok {
			out = append(out, m.Base())
		}
	}
	return out
}

// Parent returns the resolved "extends" entity, if any
func (e *EntityMap) Parent() *EntityMap { return e.parent }

// Config returns the owning map configuration
func (e *EntityMap) Config() *MapConfig { return e.config }

// Lookup finds a member on this entity, then on its direct parent.
// Deeper inheritance chains are not walked.
func (e *EntityMap) Lookup(name string) (Member, *EntityMap, bool) {
	if m, ok := e.Property(name); ok {
		return m, e, true
	}
	if e.parent != nil {
		if m, ok := e.parent.Property(name); ok {
			return m, e.parent, true
		}
	}
	return nil, nil, false
}

// QualifiedTable returns schema.table, or the table when no schema is set
func (e *EntityMap) QualifiedTable() string {
	if e.SchemaName == "" {
		return e.TableName
	}
	return e.SchemaName + "." + e.TableName
}

// String returns the entity name
func (e *EntityMap) String() string { return e.Name }

// =====================================
// Map Configuration
// =====================================

// ProjectSettings holds project wide settings persisted with the map
type ProjectSettings struct {
	Namespace        string `yaml:"namespace,omitempty" json:"namespace,omitempty" bson:"namespace,omitempty"`
	ConnectionString string `yaml:"connection_string,omitempty" json:"connection_string,omitempty" bson:"connection_string,omitempty"`
	Platform         string `yaml:"platform" json:"platform" bson:"platform" validate:"required"`
}

// ComplexType is a named group of scalar properties that is not an entity
type ComplexType struct {
	Name       string
	Properties []*Property
}

// MapConfig is the aggregate root owning every EntityMap of a project
type MapConfig struct {
	Settings              ProjectSettings
	ComplexTypes          []*ComplexType
	UnprocessedStatements []string

	// Generators validates primary key strategies. Nil means the built-in set.
	Generators *KeyGenerators

	entities []*EntityMap
	byName   map[string]*EntityMap
	frozen   bool
}

// NewMapConfig creates an empty map configuration
func NewMapConfig(settings ProjectSettings) *MapConfig {
	return &MapConfig{
		Settings: settings,
		byName:   make(map[string]*EntityMap),
	}
}

// Add takes ownership of an entity map
func (c *MapConfig) Add(e *EntityMap) error {
	if c.frozen {
		return mappingError("map configuration is frozen")
	}
	if e.config != nil && e.config != c {
		return mappingError("entity %s already belongs to another map configuration", e.Name)
	}
	if c.byName == nil {
		c.byName = make(map[string]*EntityMap)
	}
	if _, exists := c.byName[e.Name]; exists {
		return mappingError("duplicate entity %s", e.Name)
	}
	e.config = c
	c.byName[e.Name] = e
	c.entities = append(c.entities, e)
	return nil
}

// Entity returns an entity by logical name
func (c *MapConfig) Entity(name string) (*EntityMap, bool) {
	e, ok := c.byName[name]
	return e, ok
}

// EntityByTable returns an entity by physical table name, optionally schema
// qualified. Matching is case-insensitive.
func (c *MapConfig) EntityByTable(table string) (*EntityMap, bool) {
	for _, e := range c.entities {
		if strings.EqualFold(e.TableName, table) || strings.EqualFold(e.QualifiedTable(), table) {
			return e, true
		}
	}
	return nil, false
}

// Entities returns the entity maps in insertion order
func (c *MapConfig) Entities() []*EntityMap {
	out := make([]*EntityMap, len(c.entities))
	copy(out, c.entities)
	return out
}

// Remove drops an entity map and reports whether it existed
func (c *MapConfig) Remove(name string) (bool, error) {
	if c.frozen {
		return false, mappingError("map configuration is frozen")
	}
	e, ok := c.byName[name]
	if !ok {
		return false, nil
	}
	delete(c.byName, name)
	for i, x := range c.entities {
		if x == e {
			c.entities = append(c.entities[:i], c.entities[i+1:]...)
			break
		}
	}
	e.config = nil
	return true, nil
}

// RenameEntity changes an entity's logical name
func (c *MapConfig) RenameEntity(oldName, newName string) error {
	if c.frozen {
		return mappingError("map configuration is frozen")
	}
	if oldName == newName {
		return nil
	}
	e, ok := c.byName[oldName]
	if !ok {
		return mappingError("no entity %s to rename", oldName)
	}
	if _, exists := c.byName[newName]; exists {
		return mappingError("cannot rename %s, entity %s already exists", oldName, newName)
	}
	delete(c.byName, oldName)
	e.Name = newName
	c.byName[newName] = e
	for _, other := range c.entities {
		if other.Extends == oldName {
			other.Extends = newName
		}
		for _, r := range other.Relations() {
			if r.ReferenceEntity == oldName {
				r.ReferenceEntity = newName
			}
		}
	}
	return nil
}

// Frozen reports whether the graph has been frozen
func (c *MapConfig) Frozen() bool { return c.frozen }

// Resolve links relations, link tables and parents to entity maps in this
// configuration and validates aliases and primary keys. Any dangling
// reference is a mapping error.
func (c *MapConfig) Resolve() error {
	aliases := make(map[string]string, len(c.entities))
	for _, e := range c.entities {
		if e.TableAlias == "" {
			e.TableAlias = strings.ToLower(e.TableName)
		}
		key := strings.ToLower(e.TableAlias)
		if other, exists := aliases[key]; exists {
			return mappingError("entities %s and %s share alias %s", other, e.Name, e.TableAlias)
		}
		aliases[key] = e.Name

		e.parent = nil
		if e.Extends != "" {
			parent, ok := c.byName[e.Extends]
			if !ok {
				return mappingError("entity %s extends unknown entity %s", e.Name, e.Extends)
			}
			e.parent = parent
		}
	}

	for _, e := range c.entities {
		for _, r := range e.Relations() {
			if err := c.resolveRelation(e, r); err != nil {
				return err
			}
		}
		if err := c.validateKey(e); err != nil {
			return err
		}
	}
	return nil
}

func (c *MapConfig) resolveRelation(e *EntityMap, r *Relation) error {
	if !r.Kind.Valid() {
		return mappingError("%s.%s: unknown relation kind %q", e.Name, r.Name, r.Kind)
	}
	var target *EntityMap
	if r.ReferenceEntity != "" {
		target = c.byName[r.ReferenceEntity]
	}
	if target == nil && r.ReferenceTable != "" {
		target, _ = c.EntityByTable(r.ReferenceTable)
	}
	if target == nil {
		return mappingError("%s.%s references unknown entity %s", e.Name, r.Name, firstNonEmpty(r.ReferenceEntity, r.ReferenceTable))
	}
	r.target = target
	r.ReferenceEntity = target.Name
	if r.ReferenceTable == "" {
		r.ReferenceTable = target.TableName
	}
	if _, ok := target.ByColumn(r.ReferenceColumn); !ok {
		return mappingError("%s.%s references unknown column %s.%s", e.Name, r.Name, target.TableName, r.ReferenceColumn)
	}
	if r.Kind != ManyToOne {
		if _, ok := e.ByColumn(r.ColumnName); !ok {
			return mappingError("%s.%s keys on unknown column %s", e.Name, r.Name, r.ColumnName)
		}
	}
	if r.Kind == ManyToMany {
		link, ok := c.EntityByTable(r.MapTable)
		if !ok {
			return mappingError("%s.%s uses unknown link table %s", e.Name, r.Name, r.MapTable)
		}
		for _, col := range []string{r.MapColumn, r.MapReferenceColumn} {
			if _, ok := link.ByColumn(col); !ok {
				return mappingError("%s.%s uses unknown link column %s.%s", e.Name, r.Name, r.MapTable, col)
			}
		}
		r.mapEntity = link
	}
	return nil
}

func (c *MapConfig) validateKey(e *EntityMap) error {
	if e.PrimaryKey == nil {
		return nil
	}
	for _, col := range e.PrimaryKey.Columns {
		if _, ok := e.ByColumn(col); !ok {
			return mappingError("entity %s: primary key column %s is not mapped", e.Name, col)
		}
	}
	if e.PrimaryKey.Generator == "" {
		return nil
	}
	gens := c.Generators
	if gens == nil {
		gens = NewKeyGenerators()
	}
	return gens.Validate(e)
}

// Freeze resolves the graph and makes it read-only
func (c *MapConfig) Freeze() error {
	if c.frozen {
		return nil
	}
	if err := c.Resolve(); err != nil {
		return err
	}
	c.frozen = true
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// describe is used in log records
func (r *Relation) describe() string {
	return fmt.Sprintf("%s.%s(%s -> %s.%s)", r.owner.Name, r.Name, r.Kind, r.ReferenceTable, r.ReferenceColumn)
}
