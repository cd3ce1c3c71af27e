package storage

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
)

// seedLegacy writes a raw database at path using stmts and stamps it with gen.
func seedLegacy(t *testing.T, path string, gen int, stmts ...string) {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	defer db.Close()

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("seeding %q: %v", stmt, err)
		}
	}
	if err := writeGeneration(context.Background(), db, gen); err != nil {
		t.Fatalf("writeGeneration: %v", err)
	}
}

func TestMigrateGen3ToCurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), ZoneCreative.FileName())
	seedLegacy(t, path, 3,
		`CREATE TABLE Notes (ID INTEGER PRIMARY KEY AUTOINCREMENT, NoteTitle TEXT, NoteBody TEXT, Timestamp TEXT)`,
		`INSERT INTO Notes (ID, NoteTitle, NoteBody, Timestamp) VALUES (1, 'x', 'y', '2024-01-02 19:16:19')`,
		`INSERT INTO Notes (ID, NoteTitle, NoteBody, Timestamp) VALUES (7, NULL, 'no title', '2024-02-03 04:05:06')`,
	)

	ctx := context.Background()
	s, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	gen, err := s.Generation(ctx)
	if err != nil {
		t.Fatalf("Generation: %v", err)
	}
	if gen != CurrentGeneration {
		t.Errorf("generation = %d, want %d", gen, CurrentGeneration)
	}

	got, err := s.Get(ctx, 1)
	if err != nil {
		t.Fatalf("Get(1): %v", err)
	}
	want := Note{ID: 1, Title: "x", Body: "y", Timestamp: "2024-01-02 19:16:19"}
	if !got.ContentEqual(want) {
		t.Errorf("Get(1) = %+v, want %+v", got, want)
	}

	got, err = s.Get(ctx, 7)
	if err != nil {
		t.Fatalf("Get(7): %v", err)
	}
	if got.Title != "" || got.Body != "no title" {
		t.Errorf("Get(7) = %+v, want empty title and body %q", got, "no title")
	}

	for _, table := range []string{tableNameGen3, tableName + "_temp"} {
		exists, err := tableExists(ctx, s.db, table)
		if err != nil {
			t.Fatalf("tableExists: %v", err)
		}
		if exists {
			t.Errorf("table %q left behind", table)
		}
	}

	// New rows keep counting from the migrated ids.
	id, err := s.Insert(ctx, Note{Title: "after"})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if id <= 7 {
		t.Errorf("new id = %d, want > 7", id)
	}
}

func TestMigrateGen1ToCurrentFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), ZoneBoxOfMysteries.FileName())
	seedLegacy(t, path, 1,
		`CREATE TABLE note (id INTEGER PRIMARY KEY AUTOINCREMENT, note_title TEXT, note_body TEXT, timestamp TEXT, obsolete TEXT)`,
		`INSERT INTO note (id, note_title, note_body, timestamp, obsolete) VALUES (3, 'kept', NULL, '2023-07-08 09:10:11', 'gone')`,
	)

	ctx := context.Background()
	s, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	got, err := s.Get(ctx, 3)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	want := Note{ID: 3, Title: "kept", Body: "", Timestamp: "2023-07-08 09:10:11"}
	if !got.ContentEqual(want) {
		t.Errorf("Get = %+v, want %+v", got, want)
	}

	cols, err := tableColumns(ctx, s.db, tableName)
	if err != nil {
		t.Fatalf("tableColumns: %v", err)
	}
	if hasColumn(cols, "obsolete") {
		t.Error("dropped column survived migration")
	}
	for _, name := range []string{colNoteTitle, colNoteBody, colTimestamp} {
		c, ok := findColumn(cols, name)
		if !ok {
			t.Fatalf("column %q missing", name)
		}
		if !c.notNull || !c.dflt.Valid {
			t.Errorf("column %q: notNull=%v default=%v, want NOT NULL with default", name, c.notNull, c.dflt)
		}
	}
}

func TestMigrateRunsOnceAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), ZoneCreative.FileName())
	seedLegacy(t, path, 3,
		`CREATE TABLE Notes (ID INTEGER PRIMARY KEY, NoteTitle TEXT, NoteBody TEXT, Timestamp TEXT)`,
		`INSERT INTO Notes VALUES (1, 'x', 'y', '2024-01-02 19:16:19')`,
	)

	ctx := context.Background()
	var calls int
	counting := DefaultMigrations()
	for i := range counting {
		up := counting[i].Up
		counting[i].Up = func(ctx context.Context, tx *sql.Tx, logger *slog.Logger) error {
			calls++
			return up(ctx, tx, logger)
		}
	}

	for i := 0; i < 2; i++ {
		s, err := Open(ctx, path, WithMigrations(counting))
		if err != nil {
			t.Fatalf("Open #%d: %v", i+1, err)
		}
		n, err := s.Count(ctx)
		if err != nil {
			t.Fatalf("Count: %v", err)
		}
		if n != 1 {
			t.Errorf("Open #%d: count = %d, want 1", i+1, n)
		}
		s.Close()
	}

	if calls != 2 {
		t.Errorf("migration steps run = %d, want 2 (3->1 and 1->2 once each)", calls)
	}
}

func TestMigrateUnsupportedGeneration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "future_db")
	seedLegacy(t, path, 9, `CREATE TABLE note (id INTEGER PRIMARY KEY)`)

	_, err := Open(context.Background(), path)
	if !errors.Is(err, ErrUnsupportedGeneration) {
		t.Errorf("error = %v, want ErrUnsupportedGeneration", err)
	}
}

func TestOpenCurrentGenerationWithoutNoteTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tagged_db")
	seedLegacy(t, path, CurrentGeneration, `CREATE TABLE other (x INTEGER)`)

	s, err := Open(context.Background(), path)
	if err == nil {
		s.Close()
		t.Fatal("Open succeeded, want ErrMissingTable")
	}
	if !errors.Is(err, ErrMissingTable) {
		t.Errorf("error = %v, want ErrMissingTable", err)
	}
}

func TestMigrateCycleIsRejected(t *testing.T) {
	noop := func(context.Context, *sql.Tx, *slog.Logger) error { return nil }
	cycle := []Migration{
		{From: 1, To: 3, Description: "forward", Up: noop},
		{From: 3, To: 1, Description: "back", Up: noop},
	}

	path := filepath.Join(t.TempDir(), "cycle_db")
	seedLegacy(t, path, 1, `CREATE TABLE note (id INTEGER PRIMARY KEY)`)

	_, err := Open(context.Background(), path, WithMigrations(cycle))
	if !errors.Is(err, ErrUnsupportedGeneration) {
		t.Errorf("error = %v, want ErrUnsupportedGeneration", err)
	}
}

func TestMigrateFailureLeavesPreviousGeneration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken_db")
	// Generation 3 stamp without the Notes table.
	seedLegacy(t, path, 3, `CREATE TABLE unrelated (x INTEGER)`)

	ctx := context.Background()
	if _, err := Open(ctx, path); err == nil {
		t.Fatal("Open succeeded, want migration failure")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	defer db.Close()

	gen, err := readGeneration(ctx, db)
	if err != nil {
		t.Fatalf("readGeneration: %v", err)
	}
	if gen != 3 {
		t.Errorf("generation after failed migration = %d, want 3", gen)
	}
	exists, err := tableExists(ctx, db, tableName)
	if err != nil {
		t.Fatalf("tableExists: %v", err)
	}
	if exists {
		t.Error("half-built note table left behind")
	}
}

func TestCommonColumnsKeepsOldOrder(t *testing.T) {
	oldCols := []column{{name: "c"}, {name: "a"}, {name: "gone"}, {name: "b"}}
	newCols := []column{{name: "a"}, {name: "b"}, {name: "c", notNull: true}}

	got := commonColumns(oldCols, newCols)
	var names []string
	for _, c := range got {
		names = append(names, c.name)
	}
	if !equalStrings(names, []string{"c", "a", "b"}) {
		t.Errorf("common columns = %v, want [c a b]", names)
	}
	if !got[0].notNull {
		t.Error("common column should carry the new table's constraints")
	}
}

func TestCommonColumnsExactNameOnly(t *testing.T) {
	oldCols := []column{{name: "ID"}, {name: "NoteTitle"}, {name: "Timestamp"}}
	newCols := []column{{name: "id"}, {name: "note_title"}, {name: "timestamp"}}

	if got := commonColumns(oldCols, newCols); len(got) != 0 {
		t.Errorf("common columns = %v, want none", got)
	}
}

func TestValueExpr(t *testing.T) {
	tests := []struct {
		name   string
		target column
		want   string
	}{
		{"nullable", column{name: "a"}, `"a"`},
		{"not null with default", column{name: "a", notNull: true, dflt: sql.NullString{String: "''", Valid: true}}, `COALESCE("a", '')`},
		{"not null without default", column{name: "a", notNull: true}, `"a"`},
		{"primary key", column{name: "a", notNull: true, pk: true, dflt: sql.NullString{String: "0", Valid: true}}, `"a"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := valueExpr(tt.target, quoteIdent("a")); got != tt.want {
				t.Errorf("valueExpr = %s, want %s", got, tt.want)
			}
		})
	}
}
