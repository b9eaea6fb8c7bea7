package orm

import "strings"

// Sqlite3Dialect renders SQL for SQLite 3
type Sqlite3Dialect struct {
	baseDialect
}

// NewSqlite3Dialect creates the SQLite 3 dialect
func NewSqlite3Dialect() *Sqlite3Dialect {
	return &Sqlite3Dialect{baseDialect{
		name:        PlatformSqlite3,
		quoteOpen:   `"`,
		quoteClose:  `"`,
		paramPrefix: "$",
		identity:    "PRIMARY KEY AUTOINCREMENT",
		natives: map[string]DbType{
			"integer":          DbTypeInt64,
			"int":              DbTypeInt32,
			"bigint":           DbTypeInt64,
			"smallint":         DbTypeInt16,
			"tinyint":          DbTypeByte,
			"boolean":          DbTypeBoolean,
			"bit":              DbTypeBoolean,
			"text":             DbTypeString,
			"varchar":          DbTypeString,
			"nvarchar":         DbTypeString,
			"char":             DbTypeStringFixedLength,
			"nchar":            DbTypeStringFixedLength,
			"clob":             DbTypeString,
			"blob":             DbTypeBinary,
			"real":             DbTypeDouble,
			"double":           DbTypeDouble,
			"float":            DbTypeDouble,
			"numeric":          DbTypeDecimal,
			"decimal":          DbTypeDecimal,
			"date":             DbTypeDate,
			"datetime":         DbTypeDateTime,
			"timestamp":        DbTypeDateTime,
			"time":             DbTypeTime,
			"guid":             DbTypeGuid,
			"uniqueidentifier": DbTypeGuid,
		},
		types: map[DbType]string{
			DbTypeAnsiString:            "varchar(%d)",
			DbTypeAnsiStringFixedLength: "char(%d)",
			DbTypeBinary:                "blob",
			DbTypeBoolean:               "boolean",
			DbTypeByte:                  "tinyint",
			DbTypeCurrency:              "numeric",
			DbTypeDate:                  "date",
			DbTypeDateTime:              "datetime",
			DbTypeDateTime2:             "datetime",
			DbTypeDateTimeOffset:        "datetime",
			DbTypeDecimal:               "numeric",
			DbTypeDouble:                "real",
			DbTypeGuid:                  "guid",
			DbTypeInt16:                 "smallint",
			DbTypeInt32:                 "int",
			DbTypeInt64:                 "integer",
			DbTypeSByte:                 "tinyint",
			DbTypeSingle:                "real",
			DbTypeString:                "nvarchar(%d)",
			DbTypeStringFixedLength:     "nchar(%d)",
			DbTypeTime:                  "time",
			DbTypeUInt16:                "int",
			DbTypeUInt32:                "bigint",
			DbTypeUInt64:                "bigint",
			DbTypeVarNumeric:            "numeric",
			DbTypeXml:                   "text",
		},
		// AUTOINCREMENT is only accepted on an INTEGER PRIMARY KEY column
		serialTypes: map[DbType]string{
			DbTypeInt16: "integer",
			DbTypeInt32: "integer",
			DbTypeInt64: "integer",
		},
		functions: map[SQLFunction]string{
			FuncCurrentDate:        "CURRENT_DATE",
			FuncCurrentDateTime:    "(datetime('now','localtime'))",
			FuncCurrentUTCDateTime: "CURRENT_TIMESTAMP",
			FuncCurrentTime:        "CURRENT_TIME",
			FuncNewGuid:            "(lower(hex(randomblob(16))))",
		},
		// CURRENT_TIMESTAMP is UTC on SQLite
		spellings: map[string]SQLFunction{
			"current_timestamp": FuncCurrentUTCDateTime,
		},
		fallback: sqliteAffinity,
		lastID: func(*baseDialect, *EntityMap) string {
			return "select last_insert_rowid()"
		},
		pager: limitOffsetPager("-1"),
	}}
}

// sqliteAffinity applies SQLite's column affinity rules to unknown type names
func sqliteAffinity(base string) DbType {
	switch {
	case base == "":
		return DbTypeBinary
	case strings.Contains(base, "int"):
		return DbTypeInt64
	case strings.Contains(base, "char"), strings.Contains(base, "clob"), strings.Contains(base, "text"):
		return DbTypeString
	case strings.Contains(base, "blob"):
		return DbTypeBinary
	case strings.Contains(base, "real"), strings.Contains(base, "floa"), strings.Contains(base, "doub"):
		return DbTypeDouble
	default:
		return DbTypeDecimal
	}
}
