package session

import "strings"

// isSQLiteConflict reports whether err is a SQLITE_BUSY or "database is
// locked" error, both of which are worth retrying.
func isSQLiteConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}
