package system

import "errors"

// Statement-level error kinds. Everything surfaces to the statement
// boundary; callers match with errors.Is.
var (
	ErrNoDatabase      = errors.New("no database selected")
	ErrDatabaseExists  = errors.New("database already exists")
	ErrUnknownDatabase = errors.New("database not found")

	ErrTableExists  = errors.New("table already exists")
	ErrUnknownTable = errors.New("table not found")

	ErrDuplicateName = errors.New("duplicate name")
	ErrInexactColumn = errors.New("ambiguous column name")

	ErrFieldCount     = errors.New("field count mismatch")
	ErrNullViolation  = errors.New("column must not be null")
	ErrOutOfRange     = errors.New("value out of range")
	ErrBadFormat      = errors.New("bad load file format")

	ErrUniqueViolation        = errors.New("duplicate value for unique constraint")
	ErrForeignKeyViolation    = errors.New("foreign key references missing row")
	ErrReferencedByForeignKey = errors.New("row is referenced by a foreign key")

	ErrMultiplePrimaryKeys = errors.New("table already has a primary key")
	ErrNoPrimaryKey        = errors.New("table has no primary key")
	ErrBadForeignKey       = errors.New("referenced columns are not a primary or unique key")

	ErrMixedAggregate = errors.New("aggregate mixed with non-aggregate selectors")
	ErrImplicitIndex  = errors.New("index supports a constraint; drop the constraint instead")
)
