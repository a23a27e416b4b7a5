package db

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Code returns the SQLite result code carried by err.
func Code(err error) (int, bool) {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code(), true
	}
	return 0, false
}

// IsBusyError reports whether err is SQLITE_BUSY or SQLITE_LOCKED.
func IsBusyError(err error) bool {
	code, ok := Code(err)
	if !ok {
		return false
	}
	switch code & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	return false
}

// IsCorruptionError reports whether err indicates a damaged database file.
func IsCorruptionError(err error) bool {
	if err == nil {
		return false
	}
	if code, ok := Code(err); ok {
		switch code & 0xff {
		case sqlite3.SQLITE_CORRUPT, sqlite3.SQLITE_NOTADB:
			return true
		}
	}

	msg := err.Error()
	return strings.Contains(msg, "database disk image is malformed") ||
		strings.Contains(msg, "file is not a database")
}

// RecoverFromCorruption moves a damaged database in dataDir aside so the
// next Open starts from an empty replica, and returns the backup path. The
// WAL and SHM siblings go with it or SQLite would replay them into the new
// file.
func RecoverFromCorruption(dataDir string) (string, error) {
	dbPath := filepath.Join(dataDir, FileName)
	backup := fmt.Sprintf("%s.corrupt.%s", dbPath, time.Now().Format("20060102-150405"))

	if err := os.Rename(dbPath, backup); err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("move corrupted database: %w", err)
	}

	for _, suffix := range []string{"-wal", "-shm"} {
		src := dbPath + suffix
		if _, err := os.Stat(src); err != nil {
			continue
		}
		if err := os.Rename(src, backup+suffix); err != nil {
			if rmErr := os.Remove(src); rmErr != nil {
				return "", fmt.Errorf("move %s file: %w", suffix, err)
			}
		}
	}

	return backup, nil
}
