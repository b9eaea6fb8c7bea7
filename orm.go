// Package orm maps relational tables onto Go values.
//
// A MapConfig describes a project's entities: their tables, columns, primary
// key strategy and relations. Maps are written by hand, loaded from YAML, or
// reverse-engineered from a live database (see ormgorm) and cleaned up by the
// default Pipeline. Once frozen, a map is read-only and may be shared.
//
// An Engine ties a frozen map to a DB, a Dialect and a Registry of Go types.
// It renders SELECT statements through a SelectBuilder, hydrates rows into
// registered values and wires relations as Ref and List fields that load on
// first access:
//
//	engine, err := orm.NewEngine(orm.NewSQLDB(db), orm.NewSqlite3Dialect(), cfg, reg)
//	if err != nil {
//		return err
//	}
//	animals, err := orm.FindBy[Animal](ctx, engine, "Animal", "Legs", 4)
package orm
