package orm

import "fmt"

// Postgresql9Dialect renders SQL for PostgreSQL 9 and later
type Postgresql9Dialect struct {
	baseDialect
}

// NewPostgresql9Dialect creates the PostgreSQL 9 dialect.
// Named parameters use the @name form understood by pgx.
func NewPostgresql9Dialect() *Postgresql9Dialect {
	return &Postgresql9Dialect{baseDialect{
		name:        PlatformPostgresql9,
		quoteOpen:   `"`,
		quoteClose:  `"`,
		paramPrefix: "@",
		natives: map[string]DbType{
			"bigint":                      DbTypeInt64,
			"int8":                        DbTypeInt64,
			"bigserial":                   DbTypeInt64,
			"integer":                     DbTypeInt32,
			"int":                         DbTypeInt32,
			"int4":                        DbTypeInt32,
			"serial":                      DbTypeInt32,
			"smallint":                    DbTypeInt16,
			"int2":                        DbTypeInt16,
			"smallserial":                 DbTypeInt16,
			"boolean":                     DbTypeBoolean,
			"bool":                        DbTypeBoolean,
			"character varying":           DbTypeString,
			"varchar":                     DbTypeString,
			"text":                        DbTypeString,
			"character":                   DbTypeStringFixedLength,
			"char":                        DbTypeStringFixedLength,
			"bpchar":                      DbTypeStringFixedLength,
			"uuid":                        DbTypeGuid,
			"date":                        DbTypeDate,
			"timestamp":                   DbTypeDateTime,
			"timestamp without time zone": DbTypeDateTime,
			"timestamp with time zone":    DbTypeDateTimeOffset,
			"timestamptz":                 DbTypeDateTimeOffset,
			"time":                        DbTypeTime,
			"time without time zone":      DbTypeTime,
			"numeric":                     DbTypeDecimal,
			"decimal":                     DbTypeDecimal,
			"money":                       DbTypeCurrency,
			"double precision":            DbTypeDouble,
			"float8":                      DbTypeDouble,
			"real":                        DbTypeSingle,
			"float4":                      DbTypeSingle,
			"bytea":                       DbTypeBinary,
			"xml":                         DbTypeXml,
			"json":                        DbTypeObject,
			"jsonb":                       DbTypeObject,
		},
		types: map[DbType]string{
			DbTypeAnsiString:            "varchar(%d)",
			DbTypeAnsiStringFixedLength: "char(%d)",
			DbTypeBinary:                "bytea",
			DbTypeBoolean:               "boolean",
			DbTypeByte:                  "smallint",
			DbTypeCurrency:              "money",
			DbTypeDate:                  "date",
			DbTypeDateTime:              "timestamp",
			DbTypeDateTime2:             "timestamp",
			DbTypeDateTimeOffset:        "timestamptz",
			DbTypeDecimal:               "numeric",
			DbTypeDouble:                "double precision",
			DbTypeGuid:                  "uuid",
			DbTypeInt16:                 "smallint",
			DbTypeInt32:                 "integer",
			DbTypeInt64:                 "bigint",
			DbTypeObject:                "jsonb",
			DbTypeSByte:                 "smallint",
			DbTypeSingle:                "real",
			DbTypeString:                "varchar(%d)",
			DbTypeStringFixedLength:     "char(%d)",
			DbTypeTime:                  "time",
			DbTypeUInt16:                "integer",
			DbTypeUInt32:                "bigint",
			DbTypeUInt64:                "numeric(20)",
			DbTypeVarNumeric:            "numeric",
			DbTypeXml:                   "xml",
		},
		serialTypes: map[DbType]string{
			DbTypeInt16: "smallserial",
			DbTypeInt32: "serial",
			DbTypeInt64: "bigserial",
		},
		functions: map[SQLFunction]string{
			FuncCurrentDate:        "CURRENT_DATE",
			FuncCurrentDateTime:    "now()",
			FuncCurrentUTCDateTime: "timezone('utc', now())",
			FuncCurrentTime:        "CURRENT_TIME",
			FuncNewGuid:            "gen_random_uuid()",
			FuncHostName:           "inet_server_addr()",
			FuncAppName:            "current_setting('application_name')",
		},
		lastID: postgresLastID,
		pager:  limitOffsetPager(""),
	}}
}

// postgresLastID reads the serial sequence of the identity key column, or
// falls back to lastval() when the entity has none
func postgresLastID(_ *baseDialect, e *EntityMap) string {
	if e != nil {
		for _, p := range e.KeyProperties() {
			if p.Identity {
				return fmt.Sprintf("select currval(pg_get_serial_sequence('%s', '%s'))", e.QualifiedTable(), p.ColumnName)
			}
		}
	}
	return "select lastval()"
}
