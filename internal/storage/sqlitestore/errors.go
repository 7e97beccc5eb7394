package sqlitestore

import "strings"

// isUniqueViolation reports whether err came from a UNIQUE constraint,
// the only SQLite failure mode storage.go callers need to distinguish
// from a generic storage error.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
