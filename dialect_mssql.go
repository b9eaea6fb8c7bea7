package orm

import (
	"fmt"
	"strings"
)

// Mssql2008Dialect renders SQL for SQL Server 2008 and later
type Mssql2008Dialect struct {
	baseDialect
}

// NewMssql2008Dialect creates the SQL Server 2008 dialect
func NewMssql2008Dialect() *Mssql2008Dialect {
	return &Mssql2008Dialect{baseDialect{
		name:        PlatformMssql2008,
		quoteOpen:   "[",
		quoteClose:  "]",
		paramPrefix: "@",
		identity:    "IDENTITY(1,1)",
		unbounded:   "max",
		natives: map[string]DbType{
			"bigint":           DbTypeInt64,
			"int":              DbTypeInt32,
			"smallint":         DbTypeInt16,
			"tinyint":          DbTypeByte,
			"bit":              DbTypeBoolean,
			"varchar":          DbTypeAnsiString,
			"char":             DbTypeAnsiStringFixedLength,
			"text":             DbTypeAnsiString,
			"nvarchar":         DbTypeString,
			"nchar":            DbTypeStringFixedLength,
			"ntext":            DbTypeString,
			"uniqueidentifier": DbTypeGuid,
			"date":             DbTypeDate,
			"datetime":         DbTypeDateTime,
			"smalldatetime":    DbTypeDateTime,
			"datetime2":        DbTypeDateTime2,
			"datetimeoffset":   DbTypeDateTimeOffset,
			"time":             DbTypeTime,
			"decimal":          DbTypeDecimal,
			"numeric":          DbTypeDecimal,
			"money":            DbTypeCurrency,
			"smallmoney":       DbTypeCurrency,
			"float":            DbTypeDouble,
			"real":             DbTypeSingle,
			"binary":           DbTypeBinary,
			"varbinary":        DbTypeBinary,
			"image":            DbTypeBinary,
			"timestamp":        DbTypeBinary,
			"rowversion":       DbTypeBinary,
			"xml":              DbTypeXml,
			"sql_variant":      DbTypeObject,
		},
		types: map[DbType]string{
			DbTypeAnsiString:            "varchar(%d)",
			DbTypeAnsiStringFixedLength: "char(%d)",
			DbTypeBinary:                "varbinary(%d)",
			DbTypeBoolean:               "bit",
			DbTypeByte:                  "tinyint",
			DbTypeCurrency:              "money",
			DbTypeDate:                  "date",
			DbTypeDateTime:              "datetime",
			DbTypeDateTime2:             "datetime2",
			DbTypeDateTimeOffset:        "datetimeoffset",
			DbTypeDecimal:               "decimal",
			DbTypeDouble:                "float",
			DbTypeGuid:                  "uniqueidentifier",
			DbTypeInt16:                 "smallint",
			DbTypeInt32:                 "int",
			DbTypeInt64:                 "bigint",
			DbTypeObject:                "sql_variant",
			DbTypeSByte:                 "smallint",
			DbTypeSingle:                "real",
			DbTypeString:                "nvarchar(%d)",
			DbTypeStringFixedLength:     "nchar(%d)",
			DbTypeTime:                  "time",
			DbTypeUInt16:                "int",
			DbTypeUInt32:                "bigint",
			DbTypeUInt64:                "decimal(20,0)",
			DbTypeVarNumeric:            "numeric",
			DbTypeXml:                   "xml",
		},
		functions: map[SQLFunction]string{
			FuncCurrentDate:        "CAST(GETDATE() AS DATE)",
			FuncCurrentDateTime:    "GETDATE()",
			FuncCurrentUTCDateTime: "GETUTCDATE()",
			FuncCurrentTime:        "CAST(GETDATE() AS TIME)",
			FuncNewGuid:            "NEWID()",
			FuncHostName:           "HOST_NAME()",
			FuncAppName:            "APP_NAME()",
		},
		lastID: func(*baseDialect, *EntityMap) string {
			return "select SCOPE_IDENTITY()"
		},
		// SCOPE_IDENTITY() is NULL outside the batch that inserted the row
		batchIdentity: true,
		pager:         rowNumberPager,
	}}
}

// rowNumberPager pages with a ROW_NUMBER() window since SQL Server 2008 has
// no OFFSET/FETCH clause
func rowNumberPager(d *baseDialect, stmt SelectStatement, page *Page) string {
	order := stmt.OrderBy
	if order == "" {
		order = "(SELECT NULL)"
	}
	rowCol := d.Escape("__row")
	inner := stmt
	inner.OrderBy = ""
	inner.Columns = append(append([]string(nil), stmt.Columns...),
		fmt.Sprintf("ROW_NUMBER() OVER (ORDER BY %s) AS %s", order, rowCol))

	var sb strings.Builder
	sb.WriteString("SELECT * FROM (")
	sb.WriteString(plainSelect(inner))
	sb.WriteString(") AS ")
	sb.WriteString(d.Escape("__paged"))
	fmt.Fprintf(&sb, " WHERE %s > %d", rowCol, page.Offset)
	if page.Limit > 0 {
		fmt.Fprintf(&sb, " AND %s <= %d", rowCol, page.Offset+page.Limit)
	}
	sb.WriteString(" ORDER BY ")
	sb.WriteString(rowCol)
	return sb.String()
}
