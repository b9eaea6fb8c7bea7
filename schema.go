package orm

import (
	"context"
	"fmt"
	"strings"
)

// =====================================
// Schema Descriptor
// =====================================

// SchemaDescriptor reverse-engineers entity maps from a live database.
// Implementations own one connection and are not safe for concurrent use.
type SchemaDescriptor interface {
	// GetTables returns an entity map per table, keyed by table name
	GetTables(ctx context.Context) (map[string]*EntityMap, error)

	// GetViews describes views. Descriptors that cannot must return an
	// unsupported error, never an empty result.
	GetViews(ctx context.Context) (map[string]*EntityMap, error)

	// GetStoredProcedures describes stored procedures, with the same
	// unsupported contract as GetViews
	GetStoredProcedures(ctx context.Context) (map[string]*EntityMap, error)

	// Close releases the descriptor's connection. It is safe to call twice.
	Close() error
}

// ErrUnsupported builds the error returned for capabilities a component does
// not implement
func ErrUnsupported(capability string) error {
	return NewError(ErrorTypeUnsupported, fmt.Sprintf("%s is not supported", capability))
}

// ForeignKeyName synthesizes the constraint name of a foreign key column
func ForeignKeyName(table, column, referenceTable string) string {
	return fmt.Sprintf("FK_%s_%s_%s", table, column, referenceTable)
}

// AliasAllocator hands out short unique table aliases: the first three
// letters of the table name, followed by a counter on collision.
type AliasAllocator struct {
	used map[string]bool
}

// NewAliasAllocator creates an allocator with no aliases taken
func NewAliasAllocator() *AliasAllocator {
	return &AliasAllocator{used: make(map[string]bool)}
}

// Reserve marks an alias as taken
func (a *AliasAllocator) Reserve(alias string) {
	a.used[strings.ToLower(alias)] = true
}

// Next returns a fresh alias for the table
func (a *AliasAllocator) Next(table string) string {
	var letters []rune
	for _, r := range strings.ToLower(table) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9' && len(letters) > 0) {
			letters = append(letters, r)
		}
		if len(letters) == 3 {
			break
		}
	}
	base := string(letters)
	if base == "" {
		base = "t"
	}
	alias := base
	for i := 1; a.used[alias]; i++ {
		alias = fmt.Sprintf("%s%d", base, i)
	}
	a.used[alias] = true
	return alias
}
