package migrations

import (
	"cmp"
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

//go:embed sql/*.sql
var embeddedFS embed.FS

// The demo dataset is versioned in its own table so it never collides with
// migrations an existing database already tracks.
const migrationTable = "nl2sql_demo_migrations"

var migrationNamePattern = regexp.MustCompile(`^([0-9]+)_.+\.(up|down)\.sql$`)

// Runner applies the embedded demo dataset migrations. Scripts are written in
// the SQL subset PostgreSQL and DuckDB share.
type Runner struct {
	fsys fs.FS
}

func NewRunner() *Runner {
	return &Runner{fsys: embeddedFS}
}

// Status reports each known migration version and whether it is applied.
type Status struct {
	Version int64 `json:"version"`
	Applied bool  `json:"applied"`
}

type migration struct {
	Version int64
	UpSQL   string
	DownSQL string
}

// ledger pairs the embedded scripts with the versions a database has
// recorded. applied is ascending.
type ledger struct {
	known   []migration
	applied []int64
}

func (l ledger) isApplied(version int64) bool {
	_, found := slices.BinarySearch(l.applied, version)
	return found
}

func (l ledger) script(version int64) (migration, bool) {
	i := slices.IndexFunc(l.known, func(m migration) bool { return m.Version == version })
	if i < 0 {
		return migration{}, false
	}
	return l.known[i], true
}

// readLedger loads the scripts, creates the version table on first use and
// reads what has been applied.
func (r *Runner) readLedger(ctx context.Context, db *sql.DB) (ledger, error) {
	known, err := loadMigrations(r.fsys)
	if err != nil {
		return ledger{}, err
	}
	create := `
CREATE TABLE IF NOT EXISTS ` + migrationTable + ` (
	version BIGINT PRIMARY KEY,
	applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`
	if _, err := db.ExecContext(ctx, create); err != nil {
		return ledger{}, fmt.Errorf("ensure migration table: %w", err)
	}

	rows, err := db.QueryContext(ctx, `SELECT version FROM `+migrationTable+` ORDER BY version`)
	if err != nil {
		return ledger{}, fmt.Errorf("query applied versions: %w", err)
	}
	defer func() { _ = rows.Close() }()
	l := ledger{known: known}
	for rows.Next() {
		var version int64
		if err := rows.Scan(&version); err != nil {
			return ledger{}, fmt.Errorf("scan version: %w", err)
		}
		l.applied = append(l.applied, version)
	}
	if err := rows.Err(); err != nil {
		return ledger{}, fmt.Errorf("read applied versions: %w", err)
	}
	slices.Sort(l.applied)
	return l, nil
}

// Up applies pending migrations in version order. steps <= 0 applies all.
func (r *Runner) Up(ctx context.Context, db *sql.DB, steps int) (int, error) {
	l, err := r.readLedger(ctx, db)
	if err != nil {
		return 0, err
	}
	done := 0
	for _, item := range l.known {
		if l.isApplied(item.Version) {
			continue
		}
		if steps > 0 && done == steps {
			break
		}
		mark := `INSERT INTO ` + migrationTable + ` (version) VALUES ($1)`
		if err := runStep(ctx, db, "apply", item.Version, item.UpSQL, mark); err != nil {
			return done, err
		}
		done++
	}
	return done, nil
}

// Down rolls back the newest applied migrations, one when steps <= 0.
func (r *Runner) Down(ctx context.Context, db *sql.DB, steps int) (int, error) {
	steps = max(steps, 1)
	l, err := r.readLedger(ctx, db)
	if err != nil {
		return 0, err
	}
	done := 0
	for i := len(l.applied) - 1; i >= 0 && done < steps; i-- {
		version := l.applied[i]
		item, ok := l.script(version)
		if !ok {
			return done, fmt.Errorf("applied migration %d is missing from source", version)
		}
		unmark := `DELETE FROM ` + migrationTable + ` WHERE version = $1`
		if err := runStep(ctx, db, "rollback", version, item.DownSQL, unmark); err != nil {
			return done, err
		}
		done++
	}
	return done, nil
}

func (r *Runner) Status(ctx context.Context, db *sql.DB) ([]Status, error) {
	l, err := r.readLedger(ctx, db)
	if err != nil {
		return nil, err
	}
	out := make([]Status, len(l.known))
	for i, item := range l.known {
		out[i] = Status{Version: item.Version, Applied: l.isApplied(item.Version)}
	}
	return out, nil
}

// runStep executes script and the bookkeeping statement in one transaction.
func runStep(ctx context.Context, db *sql.DB, verb string, version int64, script, bookkeeping string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s migration %d: begin: %w", verb, version, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, script); err != nil {
		return fmt.Errorf("%s migration %d: %w", verb, version, err)
	}
	if _, err := tx.ExecContext(ctx, bookkeeping, version); err != nil {
		return fmt.Errorf("%s migration %d: record version: %w", verb, version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s migration %d: commit: %w", verb, version, err)
	}
	return nil
}

// loadMigrations pairs every NNN_name.up.sql with its .down.sql under sql/.
func loadMigrations(fsys fs.FS) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, "sql")
	if err != nil {
		return nil, fmt.Errorf("read migration dir: %w", err)
	}

	byVersion := map[int64]*migration{}
	for _, entry := range entries {
		name := path.Base(entry.Name())
		m := migrationNamePattern.FindStringSubmatch(name)
		if entry.IsDir() || m == nil {
			continue
		}
		version, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("migration %q: bad version: %w", name, err)
		}
		body, err := fs.ReadFile(fsys, path.Join("sql", entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %q: %w", name, err)
		}
		item := byVersion[version]
		if item == nil {
			item = &migration{Version: version}
			byVersion[version] = item
		}
		if m[2] == "up" {
			item.UpSQL = string(body)
		} else {
			item.DownSQL = string(body)
		}
	}

	out := make([]migration, 0, len(byVersion))
	for _, item := range byVersion {
		switch {
		case strings.TrimSpace(item.UpSQL) == "":
			return nil, fmt.Errorf("migration %d missing up SQL", item.Version)
		case strings.TrimSpace(item.DownSQL) == "":
			return nil, fmt.Errorf("migration %d missing down SQL", item.Version)
		}
		out = append(out, *item)
	}
	slices.SortFunc(out, func(a, b migration) int { return cmp.Compare(a.Version, b.Version) })
	return out, nil
}
