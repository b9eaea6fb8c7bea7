package orm

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Platform names used to look up dialects
const (
	PlatformSqlite3     = "Sqlite3"
	PlatformMssql2008   = "Mssql2008"
	PlatformPostgresql9 = "Postgresql9"
	PlatformMysql5      = "Mysql5"
)

// Short driver-style aliases accepted by the registry
const (
	DialectSQLite = "sqlite"
	DialectMySQL  = "mysql"
	DialectPgSQL  = "pgsql"
	DialectMsSQL  = "mssql"
)

var dialectAliases = map[string]string{
	DialectSQLite: PlatformSqlite3,
	"sqlite3":     PlatformSqlite3,
	DialectMySQL:  PlatformMysql5,
	DialectPgSQL:  PlatformPostgresql9,
	"postgres":    PlatformPostgresql9,
	"postgresql":  PlatformPostgresql9,
	DialectMsSQL:  PlatformMssql2008,
	"sqlserver":   PlatformMssql2008,
}

// =====================================
// Dialect Interface
// =====================================

// Dialect is the per-backend policy for SQL syntax, type names and
// parameter naming. Implementations are immutable and shared.
type Dialect interface {
	// Name returns the platform name, e.g. "Sqlite3"
	Name() string

	// TypeOf maps a native type string such as "varchar(50)" to a canonical type.
	// Unrecognized types map to DbTypeUnknown.
	TypeOf(native string) DbType

	// NativeType returns the create-table spelling of a canonical type,
	// or "" when the dialect has no mapping.
	NativeType(t DbType) string

	// TranslateType renders the column type of a property. It never fails:
	// an unmapped canonical type falls back to the property's SqlType.
	TranslateType(p *Property) string

	// Escape quotes an identifier, quoting each part of a dotted name
	Escape(identifier string) string

	// IdentitySyntax returns the column suffix that marks auto-increment
	IdentitySyntax() string

	// LastInsertID returns the statement reading the identity value produced
	// by the last insert into the entity's table
	LastInsertID(e *EntityMap) string

	// ColumnDefinition renders name, type, nullability, identity and default
	ColumnDefinition(p *Property) string

	// DefaultValue renders a default; registered SQL functions get the
	// local spelling, other values are rendered as literals
	DefaultValue(value string) string

	// Function recognizes a registered SQL function written in this
	// dialect's spelling
	Function(value string) (SQLFunction, bool)

	// RenderFunction returns the local spelling of a registered function
	RenderFunction(f SQLFunction) (string, bool)

	// ParameterName returns the placeholder for a named parameter
	ParameterName(name string) string

	// NamedParameters reports whether placeholders are bound by name
	NamedParameters() bool

	// RenderSelect renders a SELECT with optional paging
	RenderSelect(stmt SelectStatement, page *Page) string
}

// SelectStatement is the dialect-neutral form of a SELECT emitted by the
// query builder. Every field is already rendered SQL.
type SelectStatement struct {
	Columns []string
	From    string
	Where   string
	OrderBy string
}

// Page is a paging intent: rows to skip and the maximum to return.
// A Limit of zero means no upper bound.
type Page struct {
	Offset int
	Limit  int
}

// =====================================
// Base Dialect
// =====================================

// baseDialect carries the tables every built-in dialect is made of
type baseDialect struct {
	name          string
	quoteOpen     string
	quoteClose    string
	paramPrefix   string // empty means positional "?"
	identity      string
	natives       map[string]DbType
	unsigned      map[string]DbType // natives carrying the "unsigned" modifier
	types         map[DbType]string
	serialTypes   map[DbType]string
	functions     map[SQLFunction]string
	spellings     map[string]SQLFunction // local meaning of ambiguous spellings
	batchIdentity bool
	unbounded     string
	fallback      func(native string) DbType
	lastID        func(d *baseDialect, e *EntityMap) string
	pager         func(d *baseDialect, stmt SelectStatement, page *Page) string
}

func (d *baseDialect) Name() string { return d.name }

func (d *baseDialect) batchesIdentity() bool { return d.batchIdentity }

// nativeBase strips length/precision arguments and modifiers from a native type
func nativeBase(native string) string {
	s := strings.ToLower(strings.TrimSpace(native))
	if i := strings.Index(s, "("); i >= 0 {
		rest := ""
		if j := strings.Index(s[i:], ")"); j >= 0 {
			rest = s[i+j+1:]
		}
		s = s[:i] + rest
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), " unsigned")
	return strings.Join(strings.Fields(s), " ")
}

// NativeLength extracts the first size argument of a native type, e.g.
// "nvarchar(50)" gives 50. "max" and missing sizes give 0.
func NativeLength(native string) int {
	i := strings.Index(native, "(")
	if i < 0 {
		return 0
	}
	j := strings.IndexAny(native[i:], ",)")
	if j < 0 {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(native[i+1 : i+j]))
	if err != nil {
		return 0
	}
	return n
}

func (d *baseDialect) TypeOf(native string) DbType {
	base := nativeBase(native)
	if strings.Contains(strings.ToLower(native), "unsigned") {
		if t, ok := d.unsigned[base]; ok {
			return t
		}
	}
	if t, ok := d.natives[base]; ok {
		return t
	}
	if d.fallback != nil {
		return d.fallback(base)
	}
	return DbTypeUnknown
}

func (d *baseDialect) NativeType(t DbType) string {
	tmpl, ok := d.types[t]
	if !ok {
		return ""
	}
	return d.sized(tmpl, 0)
}

func (d *baseDialect) sized(tmpl string, length int) string {
	if !strings.Contains(tmpl, "%d") {
		return tmpl
	}
	if length > 0 {
		return fmt.Sprintf(tmpl, length)
	}
	base := strings.Replace(tmpl, "(%d)", "", 1)
	if d.unbounded != "" && strings.Contains(base, "var") {
		return base + "(" + d.unbounded + ")"
	}
	return base
}

func (d *baseDialect) TranslateType(p *Property) string {
	tmpl, ok := d.types[p.DbType]
	if !ok {
		return p.SqlType
	}
	return d.sized(tmpl, p.Length)
}

func (d *baseDialect) Escape(identifier string) string {
	parts := strings.Split(identifier, ".")
	for i, part := range parts {
		part = strings.ReplaceAll(part, d.quoteClose, d.quoteClose+d.quoteClose)
		parts[i] = d.quoteOpen + part + d.quoteClose
	}
	return strings.Join(parts, ".")
}

func (d *baseDialect) IdentitySyntax() string { return d.identity }

func (d *baseDialect) LastInsertID(e *EntityMap) string {
	return d.lastID(d, e)
}

func (d *baseDialect) ColumnDefinition(p *Property) string {
	typ := d.TranslateType(p)
	if p.Identity {
		if serial, ok := d.serialTypes[p.DbType]; ok {
			typ = serial
		}
	}
	parts := []string{d.Escape(p.ColumnName), typ}
	if p.Nullable {
		parts = append(parts, "NULL")
	} else {
		parts = append(parts, "NOT NULL")
	}
	if p.Identity && d.identity != "" {
		parts = append(parts, d.identity)
	}
	if p.DefaultValue != "" {
		parts = append(parts, "DEFAULT "+d.DefaultValue(p.DefaultValue))
	}
	return strings.Join(parts, " ")
}

func (d *baseDialect) DefaultValue(value string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		return ""
	}
	if f, ok := d.Function(v); ok {
		if local, ok := d.functions[f]; ok {
			return local
		}
		return v
	}
	unwrapped := v
	for len(unwrapped) > 2 && unwrapped[0] == '(' && unwrapped[len(unwrapped)-1] == ')' {
		unwrapped = strings.TrimSpace(unwrapped[1 : len(unwrapped)-1])
	}
	if strings.EqualFold(unwrapped, "null") {
		return "NULL"
	}
	if _, err := strconv.ParseFloat(unwrapped, 64); err == nil {
		return unwrapped
	}
	if len(unwrapped) >= 2 && unwrapped[0] == '\'' && unwrapped[len(unwrapped)-1] == '\'' {
		return unwrapped
	}
	if len(unwrapped) >= 3 && (unwrapped[0] == 'N' || unwrapped[0] == 'n') && unwrapped[1] == '\'' && unwrapped[len(unwrapped)-1] == '\'' {
		return unwrapped[1:]
	}
	return "'" + strings.ReplaceAll(unwrapped, "'", "''") + "'"
}

func (d *baseDialect) Function(value string) (SQLFunction, bool) {
	if f, ok := d.spellings[normalizeFunction(value)]; ok {
		return f, true
	}
	return ParseFunction(value)
}

func (d *baseDialect) RenderFunction(f SQLFunction) (string, bool) {
	local, ok := d.functions[f]
	return local, ok
}

// TranslateDefault renders a default read from a column of the from
// dialect in the to dialect. Functions keep their meaning across dialects:
// SQLite's CURRENT_TIMESTAMP is UTC and becomes GETUTCDATE() on SQL Server.
func TranslateDefault(from, to Dialect, value string) string {
	if f, ok := from.Function(value); ok {
		if local, ok := to.RenderFunction(f); ok {
			return local
		}
		return strings.TrimSpace(value)
	}
	return to.DefaultValue(value)
}

func (d *baseDialect) ParameterName(name string) string {
	if d.paramPrefix == "" {
		return "?"
	}
	return d.paramPrefix + name
}

func (d *baseDialect) NamedParameters() bool { return d.paramPrefix != "" }

func (d *baseDialect) RenderSelect(stmt SelectStatement, page *Page) string {
	if page == nil || (page.Offset <= 0 && page.Limit <= 0) {
		return plainSelect(stmt)
	}
	return d.pager(d, stmt, page)
}

func plainSelect(stmt SelectStatement) string {
	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(strings.Join(stmt.Columns, ", "))
	sb.WriteString(" FROM ")
	sb.WriteString(stmt.From)
	if stmt.Where != "" {
		sb.WriteString(" WHERE ")
		sb.WriteString(stmt.Where)
	}
	if stmt.OrderBy != "" {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(stmt.OrderBy)
	}
	return sb.String()
}

// limitOffsetPager renders "LIMIT n OFFSET m"; noLimit is used when only an
// offset is requested
func limitOffsetPager(noLimit string) func(*baseDialect, SelectStatement, *Page) string {
	return func(_ *baseDialect, stmt SelectStatement, page *Page) string {
		sql := plainSelect(stmt)
		switch {
		case page.Limit > 0 && page.Offset > 0:
			return fmt.Sprintf("%s LIMIT %d OFFSET %d", sql, page.Limit, page.Offset)
		case page.Limit > 0:
			return fmt.Sprintf("%s LIMIT %d", sql, page.Limit)
		case noLimit != "":
			return fmt.Sprintf("%s LIMIT %s OFFSET %d", sql, noLimit, page.Offset)
		default:
			return fmt.Sprintf("%s OFFSET %d", sql, page.Offset)
		}
	}
}

// =====================================
// Dialect Registry
// =====================================

// DialectRegistry resolves dialects by platform name
type DialectRegistry struct {
	mutex    sync.RWMutex
	dialects map[string]Dialect
}

// NewDialectRegistry creates a registry holding the built-in dialects
func NewDialectRegistry() *DialectRegistry {
	r := &DialectRegistry{dialects: make(map[string]Dialect)}
	r.Register(NewSqlite3Dialect())
	r.Register(NewMssql2008Dialect())
	r.Register(NewPostgresql9Dialect())
	r.Register(NewMysql5Dialect())
	return r
}

// Register adds or replaces a dialect under its platform name
func (r *DialectRegistry) Register(d Dialect) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.dialects[strings.ToLower(d.Name())] = d
}

// Lookup returns the dialect registered under the platform name or one of
// the short aliases. An unknown name is an unsupported error.
func (r *DialectRegistry) Lookup(name string) (Dialect, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if platform, ok := dialectAliases[key]; ok {
		key = strings.ToLower(platform)
	}

	r.mutex.RLock()
	defer r.mutex.RUnlock()

	d, ok := r.dialects[key]
	if !ok {
		return nil, NewError(ErrorTypeUnsupported, fmt.Sprintf("no dialect registered for platform %q", name))
	}
	return d, nil
}

// MustLookup is Lookup that panics on unknown names
func (r *DialectRegistry) MustLookup(name string) Dialect {
	d, err := r.Lookup(name)
	if err != nil {
		panic(err)
	}
	return d
}

// Names returns the registered platform names, sorted
func (r *DialectRegistry) Names() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	names := make([]string, 0, len(r.dialects))
	for _, d := range r.dialects {
		names = append(names, d.Name())
	}
	sort.Strings(names)
	return names
}
