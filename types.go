package orm

import (
	"fmt"
	"strings"
)

// =====================================
// Core Types and Constants
// =====================================

// DbType is the canonical, dialect independent column type
type DbType int

const (
	DbTypeUnknown DbType = iota
	DbTypeAnsiString
	DbTypeAnsiStringFixedLength
	DbTypeBinary
	DbTypeBoolean
	DbTypeByte
	DbTypeCurrency
	DbTypeDate
	DbTypeDateTime
	DbTypeDateTime2
	DbTypeDateTimeOffset
	DbTypeDecimal
	DbTypeDouble
	DbTypeGuid
	DbTypeInt16
	DbTypeInt32
	DbTypeInt64
	DbTypeObject
	DbTypeSByte
	DbTypeSingle
	DbTypeString
	DbTypeStringFixedLength
	DbTypeTime
	DbTypeUInt16
	DbTypeUInt32
	DbTypeUInt64
	DbTypeVarNumeric
	DbTypeXml
)

var dbTypeNames = [...]string{
	DbTypeUnknown:               "Unknown",
	DbTypeAnsiString:            "AnsiString",
	DbTypeAnsiStringFixedLength: "AnsiStringFixedLength",
	DbTypeBinary:                "Binary",
	DbTypeBoolean:               "Boolean",
	DbTypeByte:                  "Byte",
	DbTypeCurrency:              "Currency",
	DbTypeDate:                  "Date",
	DbTypeDateTime:              "DateTime",
	DbTypeDateTime2:             "DateTime2",
	DbTypeDateTimeOffset:        "DateTimeOffset",
	DbTypeDecimal:               "Decimal",
	DbTypeDouble:                "Double",
	DbTypeGuid:                  "Guid",
	DbTypeInt16:                 "Int16",
	DbTypeInt32:                 "Int32",
	DbTypeInt64:                 "Int64",
	DbTypeObject:                "Object",
	DbTypeSByte:                 "SByte",
	DbTypeSingle:                "Single",
	DbTypeString:                "String",
	DbTypeStringFixedLength:     "StringFixedLength",
	DbTypeTime:                  "Time",
	DbTypeUInt16:                "UInt16",
	DbTypeUInt32:                "UInt32",
	DbTypeUInt64:                "UInt64",
	DbTypeVarNumeric:            "VarNumeric",
	DbTypeXml:                   "Xml",
}

// AllDbTypes lists every canonical type except DbTypeUnknown
func AllDbTypes() []DbType {
	types := make([]DbType, 0, len(dbTypeNames)-1)
	for t := DbTypeAnsiString; int(t) < len(dbTypeNames); t++ {
		types = append(types, t)
	}
	return types
}

// String returns the canonical name of the type
func (t DbType) String() string {
	if t < 0 || int(t) >= len(dbTypeNames) {
		return fmt.Sprintf("DbType(%d)", int(t))
	}
	return dbTypeNames[t]
}

// ParseDbType converts a canonical type name back into a DbType.
// Matching is case-insensitive.
func ParseDbType(name string) (DbType, error) {
	for i, n := range dbTypeNames {
		if strings.EqualFold(n, name) {
			return DbType(i), nil
		}
	}
	return DbTypeUnknown, NewError(ErrorTypeInvalidArgument, fmt.Sprintf("unknown db type %q", name))
}

// IsInteger reports whether the type holds whole numbers
func (t DbType) IsInteger() bool {
	switch t {
	case DbTypeByte, DbTypeSByte, DbTypeInt16, DbTypeInt32, DbTypeInt64,
		DbTypeUInt16, DbTypeUInt32, DbTypeUInt64:
		return true
	}
	return false
}

// IsText reports whether the type holds character data
func (t DbType) IsText() bool {
	switch t {
	case DbTypeAnsiString, DbTypeAnsiStringFixedLength, DbTypeString, DbTypeStringFixedLength, DbTypeXml:
		return true
	}
	return false
}

// MarshalYAML writes the canonical name
func (t DbType) MarshalYAML() (interface{}, error) {
	return t.String(), nil
}

// UnmarshalYAML reads a canonical name
func (t *DbType) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var name string
	if err := unmarshal(&name); err != nil {
		return err
	}
	parsed, err := ParseDbType(name)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// RelationKind represents the cardinality of a relation
type RelationKind string

const (
	ManyToOne  RelationKind = "many_to_one"
	OneToMany  RelationKind = "one_to_many"
	ManyToMany RelationKind = "many_to_many"
)

// Valid reports whether the kind is one of the known kinds
func (k RelationKind) Valid() bool {
	switch k {
	case ManyToOne, OneToMany, ManyToMany:
		return true
	}
	return false
}

// Operator represents WHERE clause comparison operators
type Operator string

const (
	OpEqual       Operator = "="
	OpNotEqual    Operator = "<>"
	OpGreaterThan Operator = ">"
	OpLessThan    Operator = "<"
	OpLike        Operator = "LIKE"
	OpIsNull      Operator = "IS NULL"
	OpIsNotNull   Operator = "IS NOT NULL"
)

// unary reports whether the operator takes no parameter
func (o Operator) unary() bool {
	return o == OpIsNull || o == OpIsNotNull
}

// LogicOperator joins consecutive WHERE conditions
type LogicOperator string

const (
	LogicAnd LogicOperator = "AND"
	LogicOr  LogicOperator = "OR"
)

// OrderDirection represents sort direction
type OrderDirection string

const (
	OrderAsc  OrderDirection = "ASC"
	OrderDesc OrderDirection = "DESC"
)

// Priority tells the statement-ordering layer when a generated key is known
type Priority int

const (
	// PriorityLow keys are produced before the insert is issued
	PriorityLow Priority = iota
	// PriorityHigh keys are produced by the database and must be read after the insert
	PriorityHigh
)

// String returns a readable priority name
func (p Priority) String() string {
	if p == PriorityHigh {
		return "high"
	}
	return "low"
}
