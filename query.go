package orm

import (
	"database/sql"
	"fmt"
	"strings"
)

// =====================================
// Statements
// =====================================

// Statement is rendered SQL plus the parameter names it references, in
// placeholder order. Positional dialects may list a name more than once.
type Statement struct {
	SQL    string
	Params []string
	Named  bool
}

// String returns the SQL text
func (s Statement) String() string { return s.SQL }

// Args binds parameter values for execution: sql.Named values for dialects
// with named placeholders, positional values otherwise. A parameter with no
// value is an invalid argument error.
func (s Statement) Args(values map[string]interface{}) ([]interface{}, error) {
	args := make([]interface{}, 0, len(s.Params))
	seen := make(map[string]bool, len(s.Params))
	for _, name := range s.Params {
		v, ok := values[name]
		if !ok {
			return nil, NewError(ErrorTypeInvalidArgument, fmt.Sprintf("no value for parameter %s", name))
		}
		if s.Named {
			if seen[name] {
				continue
			}
			seen[name] = true
			args = append(args, sql.Named(name, v))
			continue
		}
		args = append(args, v)
	}
	return args, nil
}

// =====================================
// Select Builder
// =====================================

type condition struct {
	logic  LogicOperator
	column string
	op     Operator
	param  string
}

type ordering struct {
	column    string
	direction OrderDirection
}

// SelectBuilder assembles a parameterized SELECT for one entity. Columns are
// checked against the entity's properties when Build is called.
type SelectBuilder struct {
	dialect    Dialect
	entity     *EntityMap
	count      bool
	joins      []*Relation
	conditions []condition
	orders     []ordering
	page       *Page
}

// Select starts a SELECT over every column of the entity.
// Example: Select(d, animals).Where("zoo_id").Equals("zoo").Build()
func Select(d Dialect, e *EntityMap) *SelectBuilder {
	return &SelectBuilder{dialect: d, entity: e}
}

// Count starts a SELECT COUNT(*) with the same WHERE surface as Select
func Count(d Dialect, e *EntityMap) *SelectBuilder {
	return &SelectBuilder{dialect: d, entity: e, count: true}
}

// ConditionBuilder completes a WHERE term started by Where, And or Or
type ConditionBuilder struct {
	builder *SelectBuilder
	logic   LogicOperator
	column  string
}

// Where starts the first condition. Calling it again behaves like And.
func (b *SelectBuilder) Where(column string) *ConditionBuilder {
	return &ConditionBuilder{builder: b, logic: LogicAnd, column: column}
}

// And starts a condition joined with AND
func (b *SelectBuilder) And(column string) *ConditionBuilder {
	return &ConditionBuilder{builder: b, logic: LogicAnd, column: column}
}

// Or starts a condition joined with OR
func (b *SelectBuilder) Or(column string) *ConditionBuilder {
	return &ConditionBuilder{builder: b, logic: LogicOr, column: column}
}

func (c *ConditionBuilder) add(op Operator, param string) *SelectBuilder {
	c.builder.conditions = append(c.builder.conditions, condition{
		logic:  c.logic,
		column: c.column,
		op:     op,
		param:  param,
	})
	return c.builder
}

// Equals compares the column with a named parameter
func (c *ConditionBuilder) Equals(param string) *SelectBuilder { return c.add(OpEqual, param) }

// NotEquals adds "column <> param"
func (c *ConditionBuilder) NotEquals(param string) *SelectBuilder { return c.add(OpNotEqual, param) }

// GreaterThan adds "column > param"
func (c *ConditionBuilder) GreaterThan(param string) *SelectBuilder {
	return c.add(OpGreaterThan, param)
}

// LessThan adds "column < param"
func (c *ConditionBuilder) LessThan(param string) *SelectBuilder { return c.add(OpLessThan, param) }

// Like adds "column LIKE param"
func (c *ConditionBuilder) Like(param string) *SelectBuilder { return c.add(OpLike, param) }

// IsNull adds "column IS NULL"
func (c *ConditionBuilder) IsNull() *SelectBuilder { return c.add(OpIsNull, "") }

// IsNotNull adds "column IS NOT NULL"
func (c *ConditionBuilder) IsNotNull() *SelectBuilder { return c.add(OpIsNotNull, "") }

// Join adds the link table of a many-to-many relation whose target is the
// selected entity. Link columns can then be referenced as "alias.column".
func (b *SelectBuilder) Join(r *Relation) *SelectBuilder {
	b.joins = append(b.joins, r)
	return b
}

// OrderBy appends a sort column
func (b *SelectBuilder) OrderBy(column string, direction OrderDirection) *SelectBuilder {
	b.orders = append(b.orders, ordering{column: column, direction: direction})
	return b
}

// Page requests a window of rows. The dialect renders the paging syntax.
func (b *SelectBuilder) Page(offset, limit int) *SelectBuilder {
	b.page = &Page{Offset: offset, Limit: limit}
	return b
}

// selectColumns returns the columns stored under the entity's alias. An
// extending entity's table also carries its parent's columns.
func selectColumns(e *EntityMap) []*Property {
	cols := e.Columns()
	if e.parent == nil {
		return cols
	}
	for _, p := range e.parent.Columns() {
		if _, ok := e.ByColumn(p.ColumnName); !ok {
			cols = append(cols, p)
		}
	}
	return cols
}

// scope is one aliased table visible to column references
type scope struct {
	alias  string
	entity *EntityMap
}

func (b *SelectBuilder) scopes() ([]scope, error) {
	scopes := []scope{{alias: b.entity.TableAlias, entity: b.entity}}
	for _, r := range b.joins {
		if r.Kind != ManyToMany {
			return nil, mappingError("relation %s: only many-to-many relations can be joined", r.Name)
		}
		if r.target != b.entity || r.mapEntity == nil {
			return nil, mappingError("relation %s does not reach entity %s through a link table", r.Name, b.entity.Name)
		}
		scopes = append(scopes, scope{alias: r.mapEntity.TableAlias, entity: r.mapEntity})
	}
	return scopes, nil
}

// resolve maps a column reference ("column", "Property" or "alias.column")
// to the alias and physical column it names
func resolve(scopes []scope, ref string) (string, string, error) {
	qualifier, name := "", ref
	if i := strings.LastIndex(ref, "."); i >= 0 {
		qualifier, name = ref[:i], ref[i+1:]
	}
	for _, s := range scopes {
		if qualifier != "" && !strings.EqualFold(qualifier, s.alias) && !strings.EqualFold(qualifier, s.entity.Name) {
			continue
		}
		if m, ok := s.entity.ByColumn(name); ok {
			return s.alias, m.Base().ColumnName, nil
		}
		if m, _, ok := s.entity.Lookup(name); ok {
			if r, isRel := m.(*Relation); isRel && r.Kind != ManyToOne {
				return "", "", mappingError("%s.%s is a collection and cannot be used as a column", s.entity.Name, name)
			}
			return s.alias, m.Base().ColumnName, nil
		}
		if s.entity.parent != nil {
			if m, ok := s.entity.parent.ByColumn(name); ok {
				return s.alias, m.Base().ColumnName, nil
			}
		}
	}
	return "", "", mappingError("entity %s has no column %s", scopes[0].entity.Name, ref)
}

// Build renders the statement. Unknown columns are mapping errors.
func (b *SelectBuilder) Build() (Statement, error) {
	if b.dialect == nil || b.entity == nil {
		return Statement{}, NewError(ErrorTypeInvalidArgument, "select needs a dialect and an entity")
	}
	d, e := b.dialect, b.entity
	if e.TableAlias == "" {
		return Statement{}, mappingError("entity %s has no table alias", e.Name)
	}
	scopes, err := b.scopes()
	if err != nil {
		return Statement{}, err
	}

	var stmt SelectStatement
	if b.count {
		stmt.Columns = []string{"COUNT(*)"}
	} else {
		for _, p := range selectColumns(e) {
			stmt.Columns = append(stmt.Columns, fmt.Sprintf("%s.%s AS %s",
				d.Escape(e.TableAlias), d.Escape(p.ColumnName), d.Escape(e.TableAlias+"_"+p.ColumnName)))
		}
		if len(stmt.Columns) == 0 {
			return Statement{}, mappingError("entity %s has no columns", e.Name)
		}
	}

	from := d.Escape(e.QualifiedTable()) + " " + d.Escape(e.TableAlias)
	for _, r := range b.joins {
		link := r.mapEntity
		from += fmt.Sprintf(" INNER JOIN %s %s ON %s.%s = %s.%s",
			d.Escape(link.QualifiedTable()), d.Escape(link.TableAlias),
			d.Escape(link.TableAlias), d.Escape(r.MapReferenceColumn),
			d.Escape(e.TableAlias), d.Escape(r.ReferenceColumn))
	}
	stmt.From = from

	var params []string
	var where strings.Builder
	for i, c := range b.conditions {
		alias, column, err := resolve(scopes, c.column)
		if err != nil {
			return Statement{}, err
		}
		if i > 0 {
			where.WriteString(" " + string(c.logic) + " ")
		}
		where.WriteString(d.Escape(alias) + "." + d.Escape(column) + " " + string(c.op))
		if c.op.unary() {
			continue
		}
		if c.param == "" {
			return Statement{}, NewError(ErrorTypeInvalidArgument, fmt.Sprintf("condition on %s has no parameter name", c.column))
		}
		where.WriteString(" " + d.ParameterName(c.param))
		params = append(params, c.param)
	}
	stmt.Where = where.String()

	if b.count {
		return Statement{SQL: d.RenderSelect(stmt, nil), Params: params, Named: d.NamedParameters()}, nil
	}

	orders := make([]string, 0, len(b.orders))
	for _, o := range b.orders {
		alias, column, err := resolve(scopes, o.column)
		if err != nil {
			return Statement{}, err
		}
		dir := o.direction
		if dir == "" {
			dir = OrderAsc
		}
		orders = append(orders, d.Escape(alias)+"."+d.Escape(column)+" "+string(dir))
	}
	stmt.OrderBy = strings.Join(orders, ", ")

	return Statement{SQL: d.RenderSelect(stmt, b.page), Params: params, Named: d.NamedParameters()}, nil
}

// MustBuild is Build that panics on error
func (b *SelectBuilder) MustBuild() Statement {
	s, err := b.Build()
	if err != nil {
		panic(err)
	}
	return s
}

// =====================================
// Insert / Delete
// =====================================

// InsertStatement is an INSERT plus the key handling its generator requires.
// A PriorityLow key is produced before the insert and bound to the key's
// parameter; a PriorityHigh key is a statement run after the insert.
//
// When Batched is set the key select is already appended to SQL and the
// whole batch must be run as one query returning the key.
type InsertStatement struct {
	Statement
	Key       *Property
	KeyValue  interface{}
	KeySelect string
	Batched   bool
}

// identityBatcher is implemented by dialects whose identity function only
// sees inserts made earlier in the same batch
type identityBatcher interface {
	batchesIdentity() bool
}

func batchesIdentity(d Dialect) bool {
	b, ok := d.(identityBatcher)
	return ok && b.batchesIdentity()
}

// Insert renders an INSERT for the entity's own columns. Identity columns
// are left to the database. Parameters are named after properties.
func Insert(d Dialect, e *EntityMap, gens *KeyGenerators) (InsertStatement, error) {
	if d == nil || e == nil {
		return InsertStatement{}, NewError(ErrorTypeInvalidArgument, "insert needs a dialect and an entity")
	}
	var out InsertStatement
	if gens != nil && e.PrimaryKey != nil && e.PrimaryKey.Generator != "" {
		key, p, err := gens.Generate(d, e)
		if err != nil {
			return InsertStatement{}, err
		}
		out.Key = p
		switch key.Priority {
		case PriorityHigh:
			s, ok := key.Value.(string)
			if !ok {
				return InsertStatement{}, NewError(ErrorTypeInternal, fmt.Sprintf("generator %s returned %T for a post-insert key", e.PrimaryKey.Generator, key.Value))
			}
			out.KeySelect = s
		default:
			out.KeyValue = key.Value
		}
	}

	var cols, placeholders, params []string
	for _, p := range selectColumns(e) {
		if p.Identity || (out.Key == p && out.KeySelect != "") {
			continue
		}
		cols = append(cols, d.Escape(p.ColumnName))
		placeholders = append(placeholders, d.ParameterName(p.Name))
		params = append(params, p.Name)
	}
	if len(cols) == 0 {
		return InsertStatement{}, mappingError("entity %s has no insertable columns", e.Name)
	}
	out.Statement = Statement{
		SQL: fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			d.Escape(e.QualifiedTable()), strings.Join(cols, ", "), strings.Join(placeholders, ", ")),
		Params: params,
		Named:  d.NamedParameters(),
	}
	if out.KeySelect != "" && batchesIdentity(d) {
		out.SQL += "; " + out.KeySelect
		out.Batched = true
	}
	return out, nil
}

// DeleteByKey renders a DELETE matching every primary key column
func DeleteByKey(d Dialect, e *EntityMap) (Statement, error) {
	keys := e.KeyProperties()
	if len(keys) == 0 {
		return Statement{}, mappingError("entity %s has no primary key", e.Name)
	}
	terms := make([]string, len(keys))
	params := make([]string, len(keys))
	for i, p := range keys {
		terms[i] = d.Escape(p.ColumnName) + " = " + d.ParameterName(p.Name)
		params[i] = p.Name
	}
	return Statement{
		SQL:    fmt.Sprintf("DELETE FROM %s WHERE %s", d.Escape(e.QualifiedTable()), strings.Join(terms, " AND ")),
		Params: params,
		Named:  d.NamedParameters(),
	}, nil
}
