package store

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"
)

// migrationManager applies the versioned schema in AllMigrations against a
// schema_migrations tracking table, one migration per transaction.
type migrationManager struct {
	db *sql.DB
}

func newMigrationManager(db *sql.DB) *migrationManager {
	return &migrationManager{db: db}
}

func (m *migrationManager) initTable() error {
	_, err := m.db.Exec(`
CREATE TABLE IF NOT EXISTS schema_migrations (
    version INTEGER PRIMARY KEY,
    description TEXT NOT NULL,
    applied_at INTEGER NOT NULL,
    checksum TEXT NOT NULL
)`)
	if err != nil {
		return fmt.Errorf("init schema_migrations: %w", err)
	}
	return nil
}

func (m *migrationManager) currentVersion() (int, error) {
	var version sql.NullInt64
	if err := m.db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version); err != nil {
		return 0, fmt.Errorf("read current migration version: %w", err)
	}
	if !version.Valid {
		return 0, nil
	}
	return int(version.Int64), nil
}

func (m *migrationManager) apply(mig Migration) error {
	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration %d: %w", mig.Version, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(mig.Up); err != nil {
		return fmt.Errorf("apply migration %d (%s): %w", mig.Version, mig.Description, err)
	}

	sum := sha256.Sum256([]byte(mig.Up))
	checksum := hex.EncodeToString(sum[:])
	if _, err := tx.Exec(
		"INSERT INTO schema_migrations (version, description, applied_at, checksum) VALUES (?, ?, ?, ?)",
		mig.Version, mig.Description, time.Now().Unix(), checksum,
	); err != nil {
		return fmt.Errorf("record migration %d: %w", mig.Version, err)
	}

	return tx.Commit()
}

// migrateUp applies every migration whose version exceeds the current one.
func migrateUp(db *sql.DB) error {
	m := newMigrationManager(db)
	if err := m.initTable(); err != nil {
		return err
	}
	current, err := m.currentVersion()
	if err != nil {
		return err
	}
	for _, mig := range AllMigrations() {
		if mig.Version <= current {
			continue
		}
		if err := m.apply(mig); err != nil {
			return err
		}
	}
	return nil
}
