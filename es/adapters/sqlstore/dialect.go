package sqlstore

import (
	sq "github.com/Masterminds/squirrel"
)

// Dialect captures what differs between SQL databases.
type Dialect interface {
	// Name is the migrations dialect name.
	Name() string

	// Placeholder is the bind variable format.
	Placeholder() sq.PlaceholderFormat

	// IsUniqueViolation reports whether err is a unique or primary key violation.
	IsUniqueViolation(err error) bool
}
