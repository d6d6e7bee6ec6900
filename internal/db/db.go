package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const defaultDBName = "quoteline.db"

type Config struct {
	Dir string
}

func dbPath(dir string) string {
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, ".quoteline", defaultDBName)
}

// EnsureDir creates the data directory if missing.
func EnsureDir(dir string) (string, error) {
	path := filepath.Join(dir, ".quoteline")
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// Open opens the SQLite database with foreign keys on and a busy timeout,
// since CLI and server invocations may share the file.
func Open(cfg Config) (*sql.DB, error) {
	if _, err := EnsureDir(cfg.Dir); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", dbPath(cfg.Dir))
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
