package stores

import (
	"database/sql"
	"errors"

	sqlite3 "modernc.org/sqlite/lib"

	"github.com/colonyops/tasksync/internal/data/db"
)

// IsConstraintError reports whether err is a UNIQUE or PRIMARY KEY violation.
func IsConstraintError(err error) bool {
	code, ok := db.Code(err)
	if !ok {
		return false
	}
	return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
		code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY ||
		code&0xff == sqlite3.SQLITE_CONSTRAINT
}

// IsNotFoundError reports whether err is sql.ErrNoRows.
func IsNotFoundError(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
