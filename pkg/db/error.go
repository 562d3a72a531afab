package db

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

// Substrings the supported drivers emit on unique-constraint
// violations. gorm only translates these when the dialect's error
// translator is enabled, so the raw messages are matched as well.
var duplicateKeyMarkers = []string{
	// postgres 23505
	"duplicate key value violates unique constraint",
	// mysql 1062
	"Error 1062",
	// sqlite 2067
	"UNIQUE constraint failed",
}

// IsDuplicateKeyErr reports whether err is a unique-constraint
// violation on any supported dialect.
func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	msg := err.Error()
	for _, marker := range duplicateKeyMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
