package postgres

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	schemaDir     = "sql/migrations"
	schemaLockKey = int64(0x5340_0001)

	schemaVersionsDDL = `
CREATE TABLE IF NOT EXISTS shop_schema_versions (
    version    INTEGER PRIMARY KEY,
    name       TEXT NOT NULL,
    checksum   TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
)

//go:embed sql/migrations/*.sql
var migrationsFS embed.FS

// ErrSchemaDrift: применённая миграция не совпадает со встроенным файлом.
var ErrSchemaDrift = errors.New("applied schema differs from embedded migrations")

var errStoreNotInitialized = errors.New("postgres store is not initialized")

// schemaChange: пара файлов NNNN_name.up.sql / NNNN_name.down.sql.
type schemaChange struct {
	Version  int
	Name     string
	Up       string
	Down     string
	Checksum string
}

// MigrationStatus: версия схемы магазина.
type MigrationStatus struct {
	Version int
	Applied int
	Pending int
}

// Migrator ведёт схему каталога, корзин, заказов и outbox.
// Запуски из нескольких реплик сериализуются advisory lock'ом.
type Migrator struct {
	db   *sql.DB
	fsys fs.FS
}

// Migrator возвращает мигратор над встроенными миграциями.
func (s *Store) Migrator() *Migrator {
	m := &Migrator{fsys: migrationsFS}
	if s != nil {
		m.db = s.db
	}
	return m
}

// Up применяет steps ожидающих миграций, 0 означает все.
// Перед применением сверяет контрольные суммы уже применённых.
func (m *Migrator) Up(ctx context.Context, steps int) error {
	return m.locked(ctx, func(conn *sql.Conn, changes []schemaChange, applied map[int]string) error {
		if err := checkDrift(changes, applied); err != nil {
			return err
		}
		done := 0
		for _, change := range changes {
			if _, ok := applied[change.Version]; ok {
				continue
			}
			if steps > 0 && done == steps {
				break
			}
			if err := applyChange(ctx, conn, change, true); err != nil {
				return err
			}
			done++
		}
		return nil
	})
}

// Down откатывает steps последних миграций, steps<=0 откатывает одну.
func (m *Migrator) Down(ctx context.Context, steps int) error {
	if steps <= 0 {
		steps = 1
	}
	return m.locked(ctx, func(conn *sql.Conn, changes []schemaChange, applied map[int]string) error {
		known := make(map[int]bool, len(changes))
		for _, change := range changes {
			known[change.Version] = true
		}
		for version := range applied {
			if !known[version] {
				return fmt.Errorf("%w: version %d has no embedded migration", ErrSchemaDrift, version)
			}
		}

		for i := len(changes) - 1; i >= 0 && steps > 0; i-- {
			if _, ok := applied[changes[i].Version]; !ok {
				continue
			}
			if err := applyChange(ctx, conn, changes[i], false); err != nil {
				return err
			}
			steps--
		}
		return nil
	})
}

// Status сообщает текущую версию и число применённых и ожидающих миграций.
func (m *Migrator) Status(ctx context.Context) (MigrationStatus, error) {
	if m == nil || m.db == nil {
		return MigrationStatus{}, errStoreNotInitialized
	}
	changes, err := readSchemaChanges(m.fsys)
	if err != nil {
		return MigrationStatus{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := m.db.ExecContext(ctx, schemaVersionsDDL); err != nil {
		return MigrationStatus{}, fmt.Errorf("ensure schema versions table: %w", err)
	}
	applied, err := appliedVersions(ctx, m.db)
	if err != nil {
		return MigrationStatus{}, err
	}

	var status MigrationStatus
	for _, change := range changes {
		if _, ok := applied[change.Version]; ok {
			status.Applied++
			status.Version = change.Version
			continue
		}
		status.Pending++
	}
	return status, nil
}

func (m *Migrator) locked(ctx context.Context, fn func(*sql.Conn, []schemaChange, map[int]string) error) error {
	if m == nil || m.db == nil {
		return errStoreNotInitialized
	}
	changes, err := readSchemaChanges(m.fsys)
	if err != nil {
		return err
	}

	conn, err := m.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire db connection: %w", err)
	}
	defer conn.Close()

	lockCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := conn.ExecContext(lockCtx, "SELECT pg_advisory_lock($1)", schemaLockKey); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", schemaLockKey)
	}()

	if _, err := conn.ExecContext(ctx, schemaVersionsDDL); err != nil {
		return fmt.Errorf("ensure schema versions table: %w", err)
	}
	applied, err := appliedVersions(ctx, conn)
	if err != nil {
		return err
	}
	return fn(conn, changes, applied)
}

func checkDrift(changes []schemaChange, applied map[int]string) error {
	for _, change := range changes {
		sum, ok := applied[change.Version]
		if ok && sum != change.Checksum {
			return fmt.Errorf("%w: version %d (%s)", ErrSchemaDrift, change.Version, change.Name)
		}
	}
	return nil
}

// applyChange выполняет миграцию и запись о ней в одной транзакции.
func applyChange(ctx context.Context, conn *sql.Conn, change schemaChange, up bool) error {
	direction, body := "down", change.Down
	if up {
		direction, body = "up", change.Up
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s %04d_%s: %w", direction, change.Version, change.Name, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, body); err != nil {
		return fmt.Errorf("%s %04d_%s: %w", direction, change.Version, change.Name, err)
	}
	if up {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO shop_schema_versions (version, name, checksum) VALUES ($1, $2, $3)`,
			change.Version, change.Name, change.Checksum)
	} else {
		_, err = tx.ExecContext(ctx, `DELETE FROM shop_schema_versions WHERE version = $1`, change.Version)
	}
	if err != nil {
		return fmt.Errorf("record %s %04d_%s: %w", direction, change.Version, change.Name, err)
	}
	return tx.Commit()
}

func appliedVersions(ctx context.Context, q dbtx) (map[int]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT version, checksum FROM shop_schema_versions`)
	if err != nil {
		return nil, fmt.Errorf("query schema versions: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]string)
	for rows.Next() {
		var (
			version  int
			checksum string
		)
		if err := rows.Scan(&version, &checksum); err != nil {
			return nil, fmt.Errorf("scan schema version: %w", err)
		}
		applied[version] = checksum
	}
	return applied, rows.Err()
}

// readSchemaChanges собирает миграции по возрастанию версии.
func readSchemaChanges(fsys fs.FS) ([]schemaChange, error) {
	entries, err := fs.ReadDir(fsys, schemaDir)
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}

	byVersion := make(map[int]*schemaChange)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version, name, up, err := parseMigrationName(entry.Name())
		if err != nil {
			return nil, err
		}
		raw, err := fs.ReadFile(fsys, path.Join(schemaDir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		body := strings.TrimSpace(string(raw))
		if body == "" {
			return nil, fmt.Errorf("migration %s is empty", entry.Name())
		}

		change, ok := byVersion[version]
		if !ok {
			change = &schemaChange{Version: version, Name: name}
			byVersion[version] = change
		}
		if change.Name != name {
			return nil, fmt.Errorf("migration %04d has two names: %s and %s", version, change.Name, name)
		}
		target := &change.Down
		if up {
			target = &change.Up
		}
		if *target != "" {
			return nil, fmt.Errorf("duplicate migration %s", entry.Name())
		}
		*target = body
	}
	if len(byVersion) == 0 {
		return nil, errors.New("no migration files found")
	}

	changes := make([]schemaChange, 0, len(byVersion))
	for _, change := range byVersion {
		if change.Up == "" || change.Down == "" {
			return nil, fmt.Errorf("migration %04d_%s needs both up and down files", change.Version, change.Name)
		}
		sum := sha256.Sum256([]byte(change.Up))
		change.Checksum = hex.EncodeToString(sum[:])
		changes = append(changes, *change)
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Version < changes[j].Version })
	return changes, nil
}

// parseMigrationName разбирает NNNN_name.up.sql.
func parseMigrationName(file string) (int, string, bool, error) {
	stem, ok := strings.CutSuffix(file, ".sql")
	if !ok {
		return 0, "", false, fmt.Errorf("invalid migration file name: %s", file)
	}
	var up bool
	switch {
	case strings.HasSuffix(stem, ".up"):
		up, stem = true, strings.TrimSuffix(stem, ".up")
	case strings.HasSuffix(stem, ".down"):
		stem = strings.TrimSuffix(stem, ".down")
	default:
		return 0, "", false, fmt.Errorf("invalid migration file name: %s", file)
	}

	digits, name, ok := strings.Cut(stem, "_")
	version, err := strconv.Atoi(digits)
	if !ok || err != nil || version <= 0 || name == "" {
		return 0, "", false, fmt.Errorf("invalid migration file name: %s", file)
	}
	return version, name, up, nil
}
