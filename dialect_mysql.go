package orm

import "fmt"

// Mysql5Dialect renders SQL for MySQL 5.7 and later. Parameters are
// positional.
type Mysql5Dialect struct {
	baseDialect
}

// NewMysql5Dialect creates the MySQL dialect
func NewMysql5Dialect() *Mysql5Dialect {
	return &Mysql5Dialect{baseDialect{
		name:       PlatformMysql5,
		quoteOpen:  "`",
		quoteClose: "`",
		identity:   "AUTO_INCREMENT",
		unbounded:  "255",
		natives: map[string]DbType{
			"bigint":     DbTypeInt64,
			"int":        DbTypeInt32,
			"integer":    DbTypeInt32,
			"mediumint":  DbTypeInt32,
			"smallint":   DbTypeInt16,
			"tinyint":    DbTypeByte,
			"bit":        DbTypeBoolean,
			"bool":       DbTypeBoolean,
			"boolean":    DbTypeBoolean,
			"varchar":    DbTypeString,
			"char":       DbTypeStringFixedLength,
			"text":       DbTypeString,
			"tinytext":   DbTypeString,
			"mediumtext": DbTypeString,
			"longtext":   DbTypeString,
			"date":       DbTypeDate,
			"datetime":   DbTypeDateTime,
			"timestamp":  DbTypeDateTime,
			"time":       DbTypeTime,
			"decimal":    DbTypeDecimal,
			"numeric":    DbTypeDecimal,
			"double":     DbTypeDouble,
			"float":      DbTypeSingle,
			"blob":       DbTypeBinary,
			"longblob":   DbTypeBinary,
			"binary":     DbTypeBinary,
			"varbinary":  DbTypeBinary,
			"json":       DbTypeObject,
		},
		unsigned: map[string]DbType{
			"bigint":    DbTypeUInt64,
			"int":       DbTypeUInt32,
			"integer":   DbTypeUInt32,
			"mediumint": DbTypeUInt32,
			"smallint":  DbTypeUInt16,
			"tinyint":   DbTypeByte,
		},
		types: map[DbType]string{
			DbTypeAnsiString:            "varchar(%d)",
			DbTypeAnsiStringFixedLength: "char(%d)",
			DbTypeBinary:                "longblob",
			DbTypeBoolean:               "tinyint(1)",
			DbTypeByte:                  "tinyint unsigned",
			DbTypeCurrency:              "decimal(19,4)",
			DbTypeDate:                  "date",
			DbTypeDateTime:              "datetime",
			DbTypeDateTime2:             "datetime(6)",
			DbTypeDateTimeOffset:        "timestamp",
			DbTypeDecimal:               "decimal",
			DbTypeDouble:                "double",
			DbTypeGuid:                  "char(36)",
			DbTypeInt16:                 "smallint",
			DbTypeInt32:                 "int",
			DbTypeInt64:                 "bigint",
			DbTypeObject:                "json",
			DbTypeSByte:                 "tinyint",
			DbTypeSingle:                "float",
			DbTypeString:                "varchar(%d)",
			DbTypeStringFixedLength:     "char(%d)",
			DbTypeTime:                  "time",
			DbTypeUInt16:                "smallint unsigned",
			DbTypeUInt32:                "int unsigned",
			DbTypeUInt64:                "bigint unsigned",
			DbTypeVarNumeric:            "decimal",
			DbTypeXml:                   "longtext",
		},
		functions: map[SQLFunction]string{
			FuncCurrentDate:        "(CURRENT_DATE)",
			FuncCurrentDateTime:    "CURRENT_TIMESTAMP",
			FuncCurrentUTCDateTime: "(UTC_TIMESTAMP())",
			FuncCurrentTime:        "(CURRENT_TIME)",
			FuncNewGuid:            "(UUID())",
			FuncHostName:           "(@@hostname)",
		},
		lastID: func(*baseDialect, *EntityMap) string {
			return "select LAST_INSERT_ID()"
		},
		pager: mysqlPager,
	}}
}

// mysqlPager renders "LIMIT offset, count"
func mysqlPager(_ *baseDialect, stmt SelectStatement, page *Page) string {
	sql := plainSelect(stmt)
	switch {
	case page.Offset <= 0:
		return fmt.Sprintf("%s LIMIT %d", sql, page.Limit)
	case page.Limit <= 0:
		return fmt.Sprintf("%s LIMIT %d, 18446744073709551615", sql, page.Offset)
	default:
		return fmt.Sprintf("%s LIMIT %d, %d", sql, page.Offset, page.Limit)
	}
}
