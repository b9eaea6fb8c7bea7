// Package ormgorm reverse-engineers entity maps from a live database using
// the GORM migrator and per-platform catalog queries
package ormgorm

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lemmego/orm"
	"github.com/pkg/errors"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/driver/sqlserver"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// =====================================
// Descriptor Implementation
// =====================================

// Descriptor implements orm.SchemaDescriptor using GORM
type Descriptor struct {
	config    orm.Config
	dialect   orm.Dialect
	dialector gorm.Dialector
	logger    *slog.Logger

	db     *gorm.DB
	closed bool
}

var _ orm.SchemaDescriptor = (*Descriptor)(nil)

// Option configures a Descriptor
type Option func(*Descriptor)

// WithLogger sets the logger used for reverse-engineering records
func WithLogger(l *slog.Logger) Option {
	return func(d *Descriptor) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithDialector connects through an existing GORM dialector instead of one
// built from the configuration
func WithDialector(dialector gorm.Dialector) Option {
	return func(d *Descriptor) {
		d.dialector = dialector
	}
}

// New creates a descriptor for the configured platform. No connection is
// opened until the first enumeration.
func New(config orm.Config, opts ...Option) (*Descriptor, error) {
	dialect, err := orm.NewDialectRegistry().Lookup(config.Platform)
	if err != nil {
		return nil, err
	}
	d := &Descriptor{
		config:  config,
		dialect: dialect,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Dialect returns the dialect used to translate native column types
func (d *Descriptor) Dialect() orm.Dialect { return d.dialect }

func (d *Descriptor) open() (gorm.Dialector, error) {
	if d.dialector != nil {
		return d.dialector, nil
	}
	dsn := d.config.DSN()
	switch d.dialect.Name() {
	case orm.PlatformPostgresql9:
		return postgres.Open(dsn), nil
	case orm.PlatformMysql5:
		return mysql.Open(dsn), nil
	case orm.PlatformSqlite3:
		return sqlite.Open(dsn), nil
	case orm.PlatformMssql2008:
		return sqlserver.Open(dsn), nil
	}
	return nil, orm.ErrUnsupported(fmt.Sprintf("schema description for %s", d.dialect.Name()))
}

// connect lazily opens the single connection the descriptor works on
func (d *Descriptor) connect(ctx context.Context) (*gorm.DB, error) {
	if d.closed {
		return nil, orm.NewError(orm.ErrorTypeConnection, "descriptor is closed")
	}
	if d.db != nil {
		return d.db.WithContext(ctx), nil
	}

	dialector, err := d.open()
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLogger(d.config)})
	if err != nil {
		return nil, orm.NewErrorWithCause(orm.ErrorTypeConnection, "failed to connect to database", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, orm.NewErrorWithCause(orm.ErrorTypeConnection, "failed to get underlying sql.DB", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	d.db = db
	d.logger.Debug("descriptor connected", "platform", d.dialect.Name())
	return db.WithContext(ctx), nil
}

// gormLogger maps the "gorm.log_level" option onto a GORM logger. Verbose
// configurations default to info, everything else is silent.
func gormLogger(config orm.Config) logger.Interface {
	level := logger.Silent
	if config.Verbose {
		level = logger.Info
	}
	if options, ok := config.Options["gorm"]; ok {
		if gormOpts, ok := options.(map[string]interface{}); ok {
			if logLevel, ok := gormOpts["log_level"].(string); ok {
				switch logLevel {
				case "silent":
					level = logger.Silent
				case "error":
					level = logger.Error
				case "warn":
					level = logger.Warn
				case "info":
					level = logger.Info
				}
			}
		}
	}
	return logger.Default.LogMode(level)
}

// Close releases the connection. Calling it again is a no-op.
func (d *Descriptor) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	if d.db == nil {
		return nil
	}
	sqlDB, err := d.db.DB()
	if err != nil {
		return convertGormError(err)
	}
	d.db = nil
	return convertGormError(sqlDB.Close())
}

// GetViews is not implemented by this descriptor
func (d *Descriptor) GetViews(context.Context) (map[string]*orm.EntityMap, error) {
	return nil, orm.ErrUnsupported("view description")
}

// GetStoredProcedures is not implemented by this descriptor
func (d *Descriptor) GetStoredProcedures(context.Context) (map[string]*orm.EntityMap, error) {
	return nil, orm.ErrUnsupported("stored procedure description")
}

// =====================================
// Table Enumeration
// =====================================

// GetTables describes every table that is neither blacklisted nor internal
// to the engine
func (d *Descriptor) GetTables(ctx context.Context) (map[string]*orm.EntityMap, error) {
	db, err := d.connect(ctx)
	if err != nil {
		return nil, err
	}
	names, err := db.Migrator().GetTables()
	if err != nil {
		return nil, convertGormError(errors.Wrap(err, "list tables"))
	}

	aliases := orm.NewAliasAllocator()
	tables := make(map[string]*orm.EntityMap)
	var order []string
	for _, name := range names {
		if d.skip(name) {
			d.logger.Debug("skipping table", "table", name)
			continue
		}
		e, err := d.describeColumns(db, name)
		if err != nil {
			return nil, err
		}
		e.TableAlias = aliases.Next(name)
		tables[name] = e
		order = append(order, name)
	}

	for _, name := range order {
		e := tables[name]
		if err := d.describeForeignKeys(db, e, tables); err != nil {
			return nil, err
		}
		if err := d.describeIndexes(db, e); err != nil {
			return nil, err
		}
		d.logger.Debug("described table", "table", name, "members", e.Len(), "key", e.PrimaryKey.Columns)
	}
	return tables, nil
}

func (d *Descriptor) skip(table string) bool {
	lower := strings.ToLower(table)
	for _, b := range d.config.Blacklist {
		if strings.ToLower(b) == lower {
			return true
		}
	}
	switch d.dialect.Name() {
	case orm.PlatformSqlite3:
		return strings.HasPrefix(lower, "sqlite_")
	case orm.PlatformMssql2008:
		return lower == "sysdiagrams"
	}
	return false
}

func (d *Descriptor) describeColumns(db *gorm.DB, table string) (*orm.EntityMap, error) {
	columns, err := db.Migrator().ColumnTypes(table)
	if err != nil {
		return nil, convertGormError(errors.Wrapf(err, "list columns of %s", table))
	}

	e := orm.NewEntityMap(table, table)
	var flagged []string
	for _, ct := range columns {
		native, ok := ct.ColumnType()
		if !ok || native == "" {
			native = ct.DatabaseTypeName()
		}
		p := &orm.Property{
			Name:       ct.Name(),
			ColumnName: ct.Name(),
			SqlType:    native,
			DbType:     d.dialect.TypeOf(native),
			Nullable:   true,
		}
		if nullable, ok := ct.Nullable(); ok {
			p.Nullable = nullable
		}
		if length, ok := ct.Length(); ok && length > 0 && length < 1<<31 {
			p.Length = int(length)
		} else {
			p.Length = orm.NativeLength(native)
		}
		if unique, ok := ct.Unique(); ok {
			p.Unique = unique
		}
		if def, ok := ct.DefaultValue(); ok {
			p.DefaultValue = def
		}
		if pk, ok := ct.PrimaryKey(); ok && pk {
			flagged = append(flagged, p.ColumnName)
		}
		if inc, ok := ct.AutoIncrement(); ok && inc {
			p.Identity = true
		}
		if err := e.Add(p); err != nil {
			return nil, err
		}
	}

	key, err := d.describeKey(db, table)
	if err != nil {
		return nil, err
	}
	if len(key) == 0 {
		key = flagged
	}
	for _, col := range key {
		m, ok := e.ByColumn(col)
		if !ok {
			return nil, orm.NewError(orm.ErrorTypeMapping, fmt.Sprintf("primary key column %s.%s is not a column", table, col))
		}
		m.Base().Nullable = false
		m.Base().Unique = len(key) == 1
		e.PrimaryKey.Columns = append(e.PrimaryKey.Columns, col)
	}

	// An INTEGER PRIMARY KEY aliases the rowid and is assigned by the engine
	if d.dialect.Name() == orm.PlatformSqlite3 && len(e.PrimaryKey.Columns) == 1 {
		if m, ok := e.ByColumn(e.PrimaryKey.Columns[0]); ok && strings.EqualFold(m.Base().SqlType, "integer") {
			m.Base().Identity = true
		}
	}
	return e, nil
}

const (
	sqlitePrimaryKey = `SELECT name AS column_name FROM pragma_table_info(?) WHERE pk > 0 ORDER BY pk`

	postgresPrimaryKey = `SELECT kcu.column_name AS column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
WHERE tc.constraint_type = 'PRIMARY KEY' AND tc.table_name = ? AND tc.table_schema = CURRENT_SCHEMA()
ORDER BY kcu.ordinal_position`

	mysqlPrimaryKey = `SELECT column_name AS column_name
FROM information_schema.key_column_usage
WHERE table_schema = DATABASE() AND table_name = ? AND constraint_name = 'PRIMARY'
ORDER BY ordinal_position`

	mssqlPrimaryKey = `SELECT c.name AS column_name
FROM sys.indexes i
JOIN sys.tables t ON t.object_id = i.object_id
JOIN sys.index_columns ic ON ic.object_id = i.object_id AND ic.index_id = i.index_id
JOIN sys.columns c ON c.object_id = ic.object_id AND c.column_id = ic.column_id
WHERE i.is_primary_key = 1 AND t.name = ?
ORDER BY ic.key_ordinal`
)

func (d *Descriptor) primaryKeyQuery() string {
	switch d.dialect.Name() {
	case orm.PlatformSqlite3:
		return sqlitePrimaryKey
	case orm.PlatformPostgresql9:
		return postgresPrimaryKey
	case orm.PlatformMysql5:
		return mysqlPrimaryKey
	default:
		return mssqlPrimaryKey
	}
}

// describeKey lists the primary key columns of table in key order. The
// migrator reports membership only, and misses table level constraints on
// some platforms.
func (d *Descriptor) describeKey(db *gorm.DB, table string) ([]string, error) {
	var columns []string
	if err := db.Raw(d.primaryKeyQuery(), table).Scan(&columns).Error; err != nil {
		return nil, convertGormError(errors.Wrapf(err, "list primary key of %s", table))
	}
	return columns, nil
}

// =====================================
// Foreign Keys and Indexes
// =====================================

type foreignKey struct {
	ColumnName      string         `gorm:"column:column_name"`
	ReferenceTable  string         `gorm:"column:reference_table"`
	ReferenceColumn sql.NullString `gorm:"column:reference_column"`
}

const (
	sqliteForeignKeys = `SELECT "from" AS column_name, "table" AS reference_table, "to" AS reference_column
FROM pragma_foreign_key_list(?) ORDER BY id, seq`

	postgresForeignKeys = `SELECT kcu.column_name AS column_name, ccu.table_name AS reference_table, ccu.column_name AS reference_column
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
JOIN information_schema.constraint_column_usage ccu
  ON ccu.constraint_name = tc.constraint_name AND ccu.table_schema = tc.table_schema
WHERE tc.constraint_type = 'FOREIGN KEY' AND tc.table_name = ? AND tc.table_schema = CURRENT_SCHEMA()
ORDER BY kcu.ordinal_position`

	mysqlForeignKeys = `SELECT column_name AS column_name, referenced_table_name AS reference_table, referenced_column_name AS reference_column
FROM information_schema.key_column_usage
WHERE table_schema = DATABASE() AND table_name = ? AND referenced_table_name IS NOT NULL
ORDER BY ordinal_position`

	mssqlForeignKeys = `SELECT c.name AS column_name, rt.name AS reference_table, rc.name AS reference_column
FROM sys.foreign_key_columns fkc
JOIN sys.tables t ON t.object_id = fkc.parent_object_id
JOIN sys.columns c ON c.object_id = fkc.parent_object_id AND c.column_id = fkc.parent_column_id
JOIN sys.tables rt ON rt.object_id = fkc.referenced_object_id
JOIN sys.columns rc ON rc.object_id = fkc.referenced_object_id AND rc.column_id = fkc.referenced_column_id
WHERE t.name = ?`
)

func (d *Descriptor) foreignKeyQuery() string {
	switch d.dialect.Name() {
	case orm.PlatformSqlite3:
		return sqliteForeignKeys
	case orm.PlatformPostgresql9:
		return postgresForeignKeys
	case orm.PlatformMysql5:
		return mysqlForeignKeys
	default:
		return mssqlForeignKeys
	}
}

// describeForeignKeys replaces each foreign key column with a lazy
// many-to-one relation
func (d *Descriptor) describeForeignKeys(db *gorm.DB, e *orm.EntityMap, tables map[string]*orm.EntityMap) error {
	var keys []foreignKey
	if err := db.Raw(d.foreignKeyQuery(), e.TableName).Scan(&keys).Error; err != nil {
		return convertGormError(errors.Wrapf(err, "list foreign keys of %s", e.TableName))
	}

	for _, fk := range keys {
		m, ok := e.ByColumn(fk.ColumnName)
		if !ok {
			continue
		}
		if _, isRel := m.(*orm.Relation); isRel {
			continue
		}
		refColumn := fk.ReferenceColumn.String
		if !fk.ReferenceColumn.Valid || refColumn == "" {
			// SQLite leaves the column empty when the key references the primary key
			// The relation is kept unresolved so Resolve reports it
			if target, ok := tables[fk.ReferenceTable]; ok && len(target.PrimaryKey.Columns) == 1 {
				refColumn = target.PrimaryKey.Columns[0]
			} else {
				d.logger.Warn("cannot resolve foreign key column", "table", e.TableName, "column", fk.ColumnName, "references", fk.ReferenceTable)
			}
		}

		rel := &orm.Relation{
			Property:        *m.Base(),
			Kind:            orm.ManyToOne,
			ReferenceTable:  fk.ReferenceTable,
			ReferenceColumn: refColumn,
			ConstraintName:  orm.ForeignKeyName(e.TableName, fk.ColumnName, fk.ReferenceTable),
			LazyLoad:        true,
		}
		if err := e.Replace(m.Base().Name, rel); err != nil {
			return err
		}
	}
	return nil
}

// describeIndexes marks properties covered by a single-column unique index
func (d *Descriptor) describeIndexes(db *gorm.DB, e *orm.EntityMap) error {
	indexes, err := db.Migrator().GetIndexes(e.TableName)
	if err != nil {
		return convertGormError(errors.Wrapf(err, "list indexes of %s", e.TableName))
	}
	for _, idx := range indexes {
		unique, _ := idx.Unique()
		cols := idx.Columns()
		if !unique || len(cols) != 1 {
			continue
		}
		if m, ok := e.ByColumn(cols[0]); ok {
			m.Base().Unique = true
		}
	}
	return nil
}

// =====================================
// Error Conversion
// =====================================

// convertGormError converts GORM errors to mapper errors
func convertGormError(err error) error {
	if err == nil {
		return nil
	}
	switch errors.Cause(err) {
	case gorm.ErrNotImplemented:
		return orm.NewErrorWithCause(orm.ErrorTypeUnsupported, "operation not implemented", err)
	case gorm.ErrInvalidDB:
		return orm.NewErrorWithCause(orm.ErrorTypeConnection, "invalid database", err)
	}
	if strings.Contains(strings.ToLower(err.Error()), "connection") {
		return orm.NewErrorWithCause(orm.ErrorTypeConnection, "connection error", err)
	}
	return orm.NewErrorWithCause(orm.ErrorTypeDataAccess, "schema query failed", err)
}
