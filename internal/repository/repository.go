package repository

import (
	"database/sql"
	"errors"
)

// isNoRows reports whether err is the no-result sentinel, used by the
// existence probes that map an empty result to (false, nil).
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
