package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// ErrUnsupportedGeneration is returned when the on-disk schema generation has
// no migration path to CurrentGeneration.
var ErrUnsupportedGeneration = errors.New("unsupported schema generation")

// ErrMissingTable is returned when a store tagged with CurrentGeneration has
// no note table.
var ErrMissingTable = errors.New("note table missing")

// CurrentGeneration is the schema generation this build reads and writes.
const CurrentGeneration = 2

const (
	tableName = "note"

	colID        = "id"
	colNoteTitle = "note_title"
	colNoteBody  = "note_body"
	colTimestamp = "timestamp"

	// Generation 3 layout.
	tableNameGen3    = "Notes"
	colIDGen3        = "ID"
	colNoteTitleGen3 = "NoteTitle"
	colNoteBodyGen3  = "NoteBody"
	colTimestampGen3 = "Timestamp"
)

const selectColumns = colID + ", " + colNoteTitle + ", " + colNoteBody + ", " + colTimestamp

// createNoteTable is the generation 1/2 column set with the generation 2
// NOT NULL defaults.
const createNoteTable = `CREATE TABLE ` + tableName + ` (
	` + colID + ` INTEGER PRIMARY KEY AUTOINCREMENT NOT NULL,
	` + colNoteTitle + ` TEXT DEFAULT '' NOT NULL,
	` + colNoteBody + ` TEXT DEFAULT '' NOT NULL,
	` + colTimestamp + ` TEXT DEFAULT CURRENT_TIMESTAMP NOT NULL
)`

// renamedColumn maps a column of the source table to its new name.
type renamedColumn struct {
	old string
	new string
}

// renamedColumnsGen3To1 lists renames applied when leaving generation 3. The
// identity column is copied separately because the other renames are joined
// on it. Renames are never discovered from the schema; every hop lists its
// own.
var renamedColumnsGen3To1 = []renamedColumn{
	{old: colNoteTitleGen3, new: colNoteTitle},
	{old: colNoteBodyGen3, new: colNoteBody},
	{old: colTimestampGen3, new: colTimestamp},
}

// Migration moves the note table from one generation to the next.
type Migration struct {
	From        int
	To          int
	Description string
	Up          func(ctx context.Context, tx *sql.Tx, logger *slog.Logger) error
}

var defaultMigrations = []Migration{
	{
		From:        3,
		To:          1,
		Description: "rename Notes table and its columns",
		Up:          migrateGen3To1,
	},
	{
		From:        1,
		To:          2,
		Description: "add NOT NULL defaults",
		Up:          migrateGen1To2,
	},
}

// DefaultMigrations returns a copy of the built-in migration chain.
func DefaultMigrations() []Migration {
	out := make([]Migration, len(defaultMigrations))
	copy(out, defaultMigrations)
	return out
}

// runMigrations brings db to CurrentGeneration. Each hop runs in its own
// transaction together with the user_version bump, and re-reads the
// generation inside that transaction so a hop is never applied twice.
func runMigrations(ctx context.Context, db *sql.DB, migrations []Migration, logger *slog.Logger) error {
	gen, err := readGeneration(ctx, db)
	if err != nil {
		return err
	}

	if gen == 0 {
		return createFresh(ctx, db, logger)
	}

	// The chain is not monotonic (3 -> 1 -> 2), so bound the walk.
	for hops := 0; gen != CurrentGeneration; hops++ {
		if hops > len(migrations) {
			return fmt.Errorf("%w: migration chain from generation %d does not reach %d", ErrUnsupportedGeneration, gen, CurrentGeneration)
		}

		m, ok := findMigration(migrations, gen)
		if !ok {
			return fmt.Errorf("%w: db=%d code=%d", ErrUnsupportedGeneration, gen, CurrentGeneration)
		}

		next, err := applyMigration(ctx, db, m, logger)
		if err != nil {
			return err
		}
		gen = next
	}

	exists, err := tableExists(ctx, db, tableName)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: generation %d", ErrMissingTable, gen)
	}
	return nil
}

func findMigration(migrations []Migration, from int) (Migration, bool) {
	for _, m := range migrations {
		if m.From == from {
			return m, true
		}
	}
	return Migration{}, false
}

func applyMigration(ctx context.Context, db *sql.DB, m Migration, logger *slog.Logger) (int, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin migration %d->%d: %w", m.From, m.To, err)
	}
	defer tx.Rollback()

	gen, err := readGeneration(ctx, tx)
	if err != nil {
		return 0, err
	}
	if gen != m.From {
		// Another opener already moved the file on.
		return gen, nil
	}

	logger.Info("migrating note table", "from", m.From, "to", m.To, "description", m.Description)
	if err := m.Up(ctx, tx, logger); err != nil {
		return 0, fmt.Errorf("migration %d->%d (%s): %w", m.From, m.To, m.Description, err)
	}
	if err := writeGeneration(ctx, tx, m.To); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit migration %d->%d: %w", m.From, m.To, err)
	}
	return m.To, nil
}

func createFresh(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema creation: %w", err)
	}
	defer tx.Rollback()

	gen, err := readGeneration(ctx, tx)
	if err != nil {
		return err
	}
	if gen != 0 {
		return nil
	}

	exists, err := tableExists(ctx, tx, tableName)
	if err != nil {
		return err
	}
	if !exists {
		if _, err := tx.ExecContext(ctx, createNoteTable); err != nil {
			return fmt.Errorf("creating %s table: %w", tableName, err)
		}
		logger.Debug("table created", "table", tableName)
	}
	if err := writeGeneration(ctx, tx, CurrentGeneration); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema creation: %w", err)
	}
	return nil
}

// migrateGen3To1 moves the generation 3 "Notes" table into the unified
// "note" table, copying the identity column and then each renamed column by
// joining on it.
func migrateGen3To1(ctx context.Context, tx *sql.Tx, logger *slog.Logger) error {
	tempTable := tableName + "_temp"

	if err := snapshotTable(ctx, tx, tableNameGen3, tempTable); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, createNoteTable); err != nil {
		return fmt.Errorf("creating %s table: %w", tableName, err)
	}
	logger.Debug("table created", "table", tableName)

	oldCols, newCols, err := introspectPair(ctx, tx, tempTable, tableName, logger)
	if err != nil {
		return err
	}

	if err := copyCommonColumns(ctx, tx, tempTable, tableName, oldCols, newCols); err != nil {
		return err
	}

	if hasColumn(oldCols, colIDGen3) && hasColumn(newCols, colID) {
		stmt := "INSERT INTO " + quoteIdent(tableName) + " (" + quoteIdent(colID) + ") " +
			"SELECT " + quoteIdent(colIDGen3) + " FROM " + quoteIdent(tempTable)
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("copying renamed id column: %w", err)
		}
		logger.Debug("renamed id column copied", "from", colIDGen3, "to", colID)
	}

	for _, rc := range renamedColumnsGen3To1 {
		if !hasColumn(oldCols, rc.old) || !hasColumn(newCols, rc.new) {
			continue
		}
		target, _ := findColumn(newCols, rc.new)
		stmt := "UPDATE " + quoteIdent(tableName) +
			" SET " + quoteIdent(rc.new) + " = " + valueExpr(target, quoteIdent(tempTable)+"."+quoteIdent(rc.old)) +
			" FROM " + quoteIdent(tempTable) +
			" WHERE " + quoteIdent(tableName) + "." + quoteIdent(colID) + " = " + quoteIdent(tempTable) + "." + quoteIdent(colIDGen3)
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("copying renamed column %s -> %s: %w", rc.old, rc.new, err)
		}
	}
	logger.Debug("renamed columns copied", "count", len(renamedColumnsGen3To1))

	return dropTable(ctx, tx, tempTable)
}

// migrateGen1To2 rebuilds the note table with NOT NULL defaults, keeping
// every column whose name survives. No columns are renamed in this hop.
func migrateGen1To2(ctx context.Context, tx *sql.Tx, logger *slog.Logger) error {
	tempTable := tableName + "_temp"

	if err := snapshotTable(ctx, tx, tableName, tempTable); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, createNoteTable); err != nil {
		return fmt.Errorf("creating %s table: %w", tableName, err)
	}
	logger.Debug("table created", "table", tableName)

	oldCols, newCols, err := introspectPair(ctx, tx, tempTable, tableName, logger)
	if err != nil {
		return err
	}

	if err := copyCommonColumns(ctx, tx, tempTable, tableName, oldCols, newCols); err != nil {
		return err
	}

	return dropTable(ctx, tx, tempTable)
}

// snapshotTable copies src into a fresh dst and drops src.
func snapshotTable(ctx context.Context, tx *sql.Tx, src, dst string) error {
	exists, err := tableExists(ctx, tx, src)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("source table %s does not exist", src)
	}
	if err := dropTable(ctx, tx, dst); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "CREATE TABLE "+quoteIdent(dst)+" AS SELECT * FROM "+quoteIdent(src)); err != nil {
		return fmt.Errorf("copying %s to %s: %w", src, dst, err)
	}
	return dropTable(ctx, tx, src)
}

func introspectPair(ctx context.Context, tx *sql.Tx, oldTable, newTable string, logger *slog.Logger) ([]column, []column, error) {
	oldCols, err := tableColumns(ctx, tx, oldTable)
	if err != nil {
		return nil, nil, err
	}
	newCols, err := tableColumns(ctx, tx, newTable)
	if err != nil {
		return nil, nil, err
	}
	if len(oldCols) == 0 {
		logger.Warn("source table has no columns; nothing will be copied", "table", oldTable)
	}
	if len(newCols) == 0 {
		return nil, nil, fmt.Errorf("table %s has no columns after creation", newTable)
	}
	return oldCols, newCols, nil
}

// copyCommonColumns bulk-copies the columns present by exact name in both
// tables, in the source table's order. NOT NULL targets with a default get
// the default in place of NULL. With no common columns nothing is copied.
func copyCommonColumns(ctx context.Context, tx *sql.Tx, src, dst string, oldCols, newCols []column) error {
	common := commonColumns(oldCols, newCols)
	if len(common) == 0 {
		return nil
	}

	targets := make([]string, len(common))
	exprs := make([]string, len(common))
	for i, c := range common {
		targets[i] = quoteIdent(c.name)
		exprs[i] = valueExpr(c, quoteIdent(c.name))
	}

	stmt := "INSERT INTO " + quoteIdent(dst) + " (" + strings.Join(targets, ", ") + ") " +
		"SELECT " + strings.Join(exprs, ", ") + " FROM " + quoteIdent(src)
	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("copying common columns from %s to %s: %w", src, dst, err)
	}
	return nil
}

type column struct {
	name    string
	notNull bool
	dflt    sql.NullString
	pk      bool
}

// commonColumns returns the columns of oldCols whose exact name also appears
// in newCols, in oldCols order, carrying the new table's constraints.
func commonColumns(oldCols, newCols []column) []column {
	byName := make(map[string]column, len(newCols))
	for _, c := range newCols {
		byName[c.name] = c
	}
	var out []column
	for _, c := range oldCols {
		if nc, ok := byName[c.name]; ok {
			out = append(out, nc)
		}
	}
	return out
}

// valueExpr wraps src so a NULL lands as the target's default when the
// target is NOT NULL with a default.
func valueExpr(target column, src string) string {
	if target.notNull && target.dflt.Valid && !target.pk {
		return "COALESCE(" + src + ", " + target.dflt.String + ")"
	}
	return src
}

func findColumn(cols []column, name string) (column, bool) {
	for _, c := range cols {
		if c.name == name {
			return c, true
		}
	}
	return column{}, false
}

func hasColumn(cols []column, name string) bool {
	_, ok := findColumn(cols, name)
	return ok
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type execQueryer interface {
	queryer
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func tableColumns(ctx context.Context, q queryer, table string) ([]column, error) {
	rows, err := q.QueryContext(ctx, "PRAGMA table_info("+quoteIdent(table)+")")
	if err != nil {
		return nil, fmt.Errorf("query table info %s: %w", table, err)
	}
	defer rows.Close()

	var cols []column
	for rows.Next() {
		var (
			cid     int
			name    string
			typeStr string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &typeStr, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("scan table info %s: %w", table, err)
		}
		cols = append(cols, column{name: name, notNull: notNull != 0, dflt: dflt, pk: pk != 0})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate table info %s: %w", table, err)
	}
	return cols, nil
}

func tableExists(ctx context.Context, q queryer, table string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking table %s: %w", table, err)
	}
	return n > 0, nil
}

func dropTable(ctx context.Context, tx *sql.Tx, table string) error {
	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(table)); err != nil {
		return fmt.Errorf("dropping %s: %w", table, err)
	}
	return nil
}

func readGeneration(ctx context.Context, q queryer) (int, error) {
	var gen int
	if err := q.QueryRowContext(ctx, "PRAGMA user_version").Scan(&gen); err != nil {
		return 0, fmt.Errorf("reading schema generation: %w", err)
	}
	return gen, nil
}

func writeGeneration(ctx context.Context, eq execQueryer, gen int) error {
	if _, err := eq.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", gen)); err != nil {
		return fmt.Errorf("writing schema generation %d: %w", gen, err)
	}
	return nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
