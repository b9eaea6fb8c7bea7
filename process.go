package orm

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-openapi/inflect"
)

// =====================================
// Post-processing Pipeline
// =====================================

// Processor mutates a reverse-engineered map configuration before it is frozen
type Processor interface {
	Name() string
	Process(cfg *MapConfig) error
}

var acronyms = map[string]bool{
	"ACL": true, "API": true, "ASCII": true, "CPU": true, "CSS": true, "DNS": true, "GUID": true, "HTML": true,
	"HTTP": true, "ID": true, "IP": true, "JSON": true, "SQL": true, "URL": true, "UUID": true, "XML": true,
}

// ruleset returns the inflection rules used for entity and property names
func ruleset() *inflect.Ruleset {
	rules := inflect.NewDefaultRuleset()
	for w := range acronyms {
		rules.AddAcronym(w)
	}
	return rules
}

// camelize is Camelize with known acronyms kept upper case: "zoo_id"
// becomes "ZooID"
func camelize(rules *inflect.Ruleset, word string) string {
	parts := strings.Split(strings.ToLower(word), "_")
	for i, part := range parts {
		if acronyms[strings.ToUpper(part)] {
			parts[i] = strings.ToUpper(part)
			continue
		}
		parts[i] = rules.Camelize(part)
	}
	return strings.Join(parts, "")
}

// Pipeline runs processors in order
type Pipeline struct {
	processors []Processor
	logger     *slog.Logger
}

// NewPipeline creates a pipeline over the given processors
func NewPipeline(logger *slog.Logger, processors ...Processor) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{processors: processors, logger: logger}
}

// DefaultPipeline renames entities, infers inverse and many-to-many
// relations, renames properties and assigns key strategies, in that order
func DefaultPipeline(logger *slog.Logger) *Pipeline {
	rules := ruleset()
	return NewPipeline(logger,
		&EntityRenamer{rules: rules},
		&RelationshipInferrer{},
		&PropertyRenamer{rules: rules},
		&KeyStrategyAssigner{},
	)
}

// Run applies every processor. A frozen configuration is rejected.
func (p *Pipeline) Run(cfg *MapConfig) error {
	if cfg.Frozen() {
		return mappingError("map configuration is frozen")
	}
	for _, proc := range p.processors {
		p.logger.Debug("running map processor", "processor", proc.Name())
		if err := proc.Process(cfg); err != nil {
			return fmt.Errorf("%s: %w", proc.Name(), err)
		}
	}
	return nil
}

// Process runs the default pipeline, then resolves and freezes the graph
func Process(cfg *MapConfig) error {
	if err := DefaultPipeline(nil).Run(cfg); err != nil {
		return err
	}
	return cfg.Freeze()
}

// uniqueName returns base, or base with a numeric suffix, that no member of
// the entity uses yet
func uniqueName(e *EntityMap, base string) string {
	name := base
	for i := 2; ; i++ {
		if _, exists := e.Property(name); !exists {
			return name
		}
		name = fmt.Sprintf("%s%d", base, i)
	}
}

// targetOf finds the entity a relation points at before resolution
func targetOf(cfg *MapConfig, r *Relation) (*EntityMap, bool) {
	if r.ReferenceEntity != "" {
		if t, ok := cfg.Entity(r.ReferenceEntity); ok {
			return t, true
		}
	}
	return cfg.EntityByTable(r.ReferenceTable)
}

// =====================================
// Entity Renamer
// =====================================

// EntityRenamer turns table names into singular PascalCase entity names.
// Entities whose name differs from their table name keep it.
type EntityRenamer struct {
	rules *inflect.Ruleset
}

func (r *EntityRenamer) Name() string { return "entity renamer" }

func (r *EntityRenamer) Process(cfg *MapConfig) error {
	if r.rules == nil {
		r.rules = ruleset()
	}
	for _, e := range cfg.Entities() {
		if e.Name != e.TableName {
			continue
		}
		base := camelize(r.rules, r.rules.Singularize(strings.ToLower(e.TableName)))
		name := base
		for i := 2; ; i++ {
			if _, exists := cfg.Entity(name); !exists || name == e.Name {
				break
			}
			name = fmt.Sprintf("%s%d", base, i)
		}
		if err := cfg.RenameEntity(e.Name, name); err != nil {
			return err
		}
	}
	return nil
}

// =====================================
// Relationship Inferrer
// =====================================

// RelationshipInferrer adds the inverse side of every many-to-one relation.
// A table whose columns are exactly two foreign keys forming its primary key
// is marked as a link table and becomes a many-to-many relation on both ends
// instead.
type RelationshipInferrer struct{}

func (r *RelationshipInferrer) Name() string { return "relationship inferrer" }

func (r *RelationshipInferrer) Process(cfg *MapConfig) error {
	for _, e := range cfg.Entities() {
		if pair, ok := linkPair(e); ok {
			e.IsLinkTable = true
			if err := addManyToMany(cfg, e, pair[0], pair[1]); err != nil {
				return err
			}
			if err := addManyToMany(cfg, e, pair[1], pair[0]); err != nil {
				return err
			}
			continue
		}
		for _, rel := range e.Relations() {
			if rel.Kind != ManyToOne {
				continue
			}
			if err := addInverse(cfg, e, rel); err != nil {
				return err
			}
		}
	}
	return nil
}

// linkPair reports the two many-to-one relations of a pure link table
func linkPair(e *EntityMap) ([2]*Relation, bool) {
	var pair [2]*Relation
	if e.Len() != 2 || e.PrimaryKey == nil || len(e.PrimaryKey.Columns) != 2 {
		return pair, false
	}
	for i, m := range e.Members() {
		rel, ok := m.(*Relation)
		if !ok || rel.Kind != ManyToOne || !e.PrimaryKey.Contains(rel.ColumnName) {
			return pair, false
		}
		pair[i] = rel
	}
	return pair, true
}

func addInverse(cfg *MapConfig, e *EntityMap, rel *Relation) error {
	target, ok := targetOf(cfg, rel)
	if !ok {
		return mappingError("%s.%s references unknown table %s", e.Name, rel.Name, rel.ReferenceTable)
	}
	keyCol, ok := target.ByColumn(rel.ReferenceColumn)
	if !ok {
		return mappingError("%s.%s references unknown column %s.%s", e.Name, rel.Name, target.TableName, rel.ReferenceColumn)
	}
	for _, existing := range target.Relations() {
		if existing.Kind == OneToMany && strings.EqualFold(existing.ReferenceTable, e.TableName) &&
			strings.EqualFold(existing.ReferenceColumn, rel.ColumnName) {
			return nil
		}
	}

	name := strings.ToLower(e.TableName)
	if _, exists := target.Property(name); exists {
		name = strings.ToLower(e.TableName + "_by_" + rel.ColumnName)
	}
	inverse := &Relation{
		Property: Property{
			Name:       uniqueName(target, name),
			ColumnName: keyCol.Base().ColumnName,
			DbType:     keyCol.Base().DbType,
			SqlType:    keyCol.Base().SqlType,
		},
		Kind:            OneToMany,
		ReferenceTable:  e.TableName,
		ReferenceEntity: e.Name,
		ReferenceColumn: rel.ColumnName,
		ConstraintName:  rel.ConstraintName,
		LazyLoad:        true,
	}
	return target.Add(inverse)
}

// addManyToMany adds to from's entity a collection of to's entity through link
func addManyToMany(cfg *MapConfig, link *EntityMap, from, to *Relation) error {
	owner, ok := targetOf(cfg, from)
	if !ok {
		return mappingError("%s.%s references unknown table %s", link.Name, from.Name, from.ReferenceTable)
	}
	other, ok := targetOf(cfg, to)
	if !ok {
		return mappingError("%s.%s references unknown table %s", link.Name, to.Name, to.ReferenceTable)
	}
	keyCol, ok := owner.ByColumn(from.ReferenceColumn)
	if !ok {
		return mappingError("%s.%s references unknown column %s.%s", link.Name, from.Name, owner.TableName, from.ReferenceColumn)
	}
	for _, existing := range owner.Relations() {
		if existing.Kind == ManyToMany && strings.EqualFold(existing.MapTable, link.TableName) &&
			strings.EqualFold(existing.MapColumn, from.ColumnName) {
			return nil
		}
	}

	name := strings.ToLower(other.TableName)
	if _, exists := owner.Property(name); exists {
		name = strings.ToLower(other.TableName + "_by_" + to.ColumnName)
	}
	return owner.Add(&Relation{
		Property: Property{
			Name:       uniqueName(owner, name),
			ColumnName: keyCol.Base().ColumnName,
			DbType:     keyCol.Base().DbType,
			SqlType:    keyCol.Base().SqlType,
		},
		Kind:               ManyToMany,
		ReferenceTable:     other.TableName,
		ReferenceEntity:    other.Name,
		ReferenceColumn:    to.ReferenceColumn,
		LazyLoad:           true,
		MapTable:           link.TableName,
		MapColumn:          from.ColumnName,
		MapReferenceColumn: to.ColumnName,
	})
}

// =====================================
// Property Renamer
// =====================================

// PropertyRenamer gives columns PascalCase property names. A many-to-one
// relation loses its "_id" suffix ("zoo_id" becomes "Zoo") and collections
// are pluralized ("animals" becomes "Animals"). Members already renamed by
// hand are left alone.
type PropertyRenamer struct {
	rules *inflect.Ruleset
}

func (r *PropertyRenamer) Name() string { return "property renamer" }

func (r *PropertyRenamer) Process(cfg *MapConfig) error {
	if r.rules == nil {
		r.rules = ruleset()
	}
	for _, e := range cfg.Entities() {
		for _, m := range e.Members() {
			name, ok := r.candidate(m)
			if !ok || name == m.Base().Name {
				continue
			}
			if _, exists := e.Property(name); exists {
				name = uniqueName(e, name)
			}
			if err := e.Rename(m.Base().Name, name); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *PropertyRenamer) candidate(m Member) (string, bool) {
	p := m.Base()
	rel, isRel := m.(*Relation)
	switch {
	case !isRel:
		if p.Name != p.ColumnName {
			return "", false
		}
		return camelize(r.rules, p.ColumnName), true
	case rel.Kind == ManyToOne:
		if p.Name != p.ColumnName {
			return "", false
		}
		base := strings.ToLower(p.ColumnName)
		if trimmed := strings.TrimSuffix(base, "_id"); trimmed != "" && trimmed != base {
			base = trimmed
		}
		return camelize(r.rules, base), true
	default:
		lower := strings.ToLower(p.Name)
		if lower == strings.ToLower(rel.ReferenceTable) {
			return r.rules.Pluralize(camelize(r.rules, r.rules.Singularize(lower))), true
		}
		if p.Name == lower {
			return camelize(r.rules, lower), true
		}
		return "", false
	}
}

// =====================================
// Key Strategy Assigner
// =====================================

// KeyStrategyAssigner picks a generator for single-column keys that have
// none: identity for auto-increment integer keys, comb for GUID keys
type KeyStrategyAssigner struct{}

func (a *KeyStrategyAssigner) Name() string { return "key strategy assigner" }

func (a *KeyStrategyAssigner) Process(cfg *MapConfig) error {
	for _, e := range cfg.Entities() {
		if e.IsLinkTable || e.PrimaryKey == nil || e.PrimaryKey.Generator != "" || e.PrimaryKey.IsComposite() {
			continue
		}
		keys := e.KeyProperties()
		if len(keys) != 1 {
			continue
		}
		switch {
		case keys[0].Identity && keys[0].DbType.IsInteger():
			e.PrimaryKey.Generator = GeneratorIdentity
		case keys[0].DbType == DbTypeGuid:
			e.PrimaryKey.Generator = GeneratorComb
		}
	}
	return nil
}
