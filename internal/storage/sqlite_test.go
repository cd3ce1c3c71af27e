package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func insertNote(t *testing.T, s *Store, n Note) int64 {
	t.Helper()
	id, err := s.Insert(context.Background(), n)
	if err != nil {
		t.Fatalf("Insert(%q): %v", n.Title, err)
	}
	return id
}

func titles(notes []Note) []string {
	out := make([]string, len(notes))
	for i, n := range notes {
		out[i] = n.Title
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// receive waits for the next value on a subscription channel.
func receive[T any](t *testing.T, c <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-c:
		if !ok {
			t.Fatal("subscription channel closed")
		}
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for subscription value")
	}
	var zero T
	return zero
}

func TestOpenFreshDatabaseIsCurrentGeneration(t *testing.T) {
	s := openTestStore(t)

	gen, err := s.Generation(context.Background())
	if err != nil {
		t.Fatalf("Generation: %v", err)
	}
	if gen != CurrentGeneration {
		t.Errorf("generation = %d, want %d", gen, CurrentGeneration)
	}

	exists, err := tableExists(context.Background(), s.db, tableName)
	if err != nil {
		t.Fatalf("tableExists: %v", err)
	}
	if !exists {
		t.Errorf("table %q not created", tableName)
	}
}

func TestOpenCreatesDataDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", ZoneCreative.FileName())

	s, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if s.Path() != path {
		t.Errorf("Path() = %q, want %q", s.Path(), path)
	}
}

func TestFileDSNEscapesPath(t *testing.T) {
	got, err := fileDSN("/data/pouch#1/a?b/100%/notes_db")
	if err != nil {
		t.Fatalf("fileDSN: %v", err)
	}
	want := "file:///data/pouch%231/a%3Fb/100%25/notes_db?_txlock=immediate"
	if got != want {
		t.Errorf("fileDSN = %q, want %q", got, want)
	}
}

func TestInsertAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	want := Note{Title: "Groceries", Body: "milk, eggs", Timestamp: "2024-03-01 08:00:00"}
	id := insertNote(t, s, want)
	if id == 0 {
		t.Fatal("Insert returned id 0")
	}

	got, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	want.ID = id
	if !got.ContentEqual(want) {
		t.Errorf("Get = %+v, want %+v", got, want)
	}
}

func TestInsertEmptyTimestampUsesDefault(t *testing.T) {
	s := openTestStore(t)

	id := insertNote(t, s, Note{Title: "t"})
	got, err := s.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, err := time.Parse("2006-01-02 15:04:05", got.Timestamp); err != nil {
		t.Errorf("timestamp %q not in stored layout: %v", got.Timestamp, err)
	}
}

func TestInsertWithIDReplaces(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id := insertNote(t, s, Note{Title: "first", Timestamp: "2024-01-01 00:00:00"})
	insertNote(t, s, Note{ID: id, Title: "second", Timestamp: "2024-01-01 00:00:01"})

	n, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 1 {
		t.Fatalf("count = %d, want 1", n)
	}
	got, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Title != "second" {
		t.Errorf("Title = %q, want %q", got.Title, "second")
	}
}

func TestGetNotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Get(context.Background(), 42)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestUpdate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id := insertNote(t, s, Note{Title: "draft", Body: "v1", Timestamp: "2024-01-01 00:00:00"})

	ok, err := s.Update(ctx, Note{ID: id, Title: "final", Body: "v2", Timestamp: "2024-01-02 00:00:00"})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if !ok {
		t.Fatal("Update reported no row affected")
	}

	got, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	want := Note{ID: id, Title: "final", Body: "v2", Timestamp: "2024-01-02 00:00:00"}
	if !got.ContentEqual(want) {
		t.Errorf("Get = %+v, want %+v", got, want)
	}
}

func TestUpdateAndDeleteMissingAreNoOps(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	insertNote(t, s, Note{Title: "keep", Timestamp: "2024-01-01 00:00:00"})
	before, err := s.List(ctx, Query{Sort: SortAZ})
	if err != nil {
		t.Fatalf("List: %v", err)
	}

	ok, err := s.Update(ctx, Note{ID: 999, Title: "ghost"})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if ok {
		t.Error("Update of missing id reported a row affected")
	}

	ok, err = s.Delete(ctx, 999)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if ok {
		t.Error("Delete of missing id reported a row affected")
	}

	after, err := s.List(ctx, Query{Sort: SortAZ})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(before) != len(after) || !before[0].ContentEqual(after[0]) {
		t.Errorf("store changed: before %+v, after %+v", before, after)
	}
}

func TestDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id := insertNote(t, s, Note{Title: "doomed"})
	ok, err := s.Delete(ctx, id)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if !ok {
		t.Fatal("Delete reported no row affected")
	}
	if _, err := s.Get(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete: error = %v, want ErrNotFound", err)
	}
}

func TestListEmptyIsNonNil(t *testing.T) {
	s := openTestStore(t)

	got, err := s.List(context.Background(), Query{Sort: DefaultSortOption, Search: "nothing"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("List = %#v, want empty non-nil slice", got)
	}
}

func TestListInvalidSortOption(t *testing.T) {
	s := openTestStore(t)

	_, err := s.List(context.Background(), Query{Sort: SortOption(9)})
	if !errors.Is(err, ErrInvalidSortOption) {
		t.Errorf("error = %v, want ErrInvalidSortOption", err)
	}
}

// TestListSortAndSearchFruit inserts Banana, Apple, Cherry and checks the three
// canonical listings.
func TestListSortAndSearchFruit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, n := range []Note{
		{Title: "Banana", Body: "Content for Banana", Timestamp: "2024-01-02 10:00:00"},
		{Title: "Apple", Body: "Content for Apple", Timestamp: "2024-01-01 10:00:00"},
		{Title: "Cherry", Body: "Content for Cherry", Timestamp: "2024-01-03 10:00:00"},
	} {
		insertNote(t, s, n)
	}

	tests := []struct {
		name  string
		query Query
		want  []string
	}{
		{"a to z", Query{Sort: SortAZ}, []string{"Apple", "Banana", "Cherry"}},
		{"z to a", Query{Sort: SortZA}, []string{"Cherry", "Banana", "Apple"}},
		{"search Ba", Query{Sort: SortAZ, Search: "Ba"}, []string{"Banana"}},
		{"search is case-sensitive", Query{Sort: SortAZ, Search: "ba"}, []string{}},
		{"oldest first", Query{Sort: SortOldestFirst}, []string{"Apple", "Banana", "Cherry"}},
		{"newest first", Query{Sort: SortNewestFirst}, []string{"Cherry", "Banana", "Apple"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.List(ctx, tt.query)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if !equalStrings(titles(got), tt.want) {
				t.Errorf("titles = %v, want %v", titles(got), tt.want)
			}
		})
	}
}

// TestListMatchesInMemoryOrdering checks every option against SortOption.Less
// on a mixed-case data set, and that every note comes back exactly once.
func TestListMatchesInMemoryOrdering(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	seed := []Note{
		{Title: "apple", Body: "b", Timestamp: "2024-05-01 00:00:00"},
		{Title: "Apple", Body: "a", Timestamp: "2024-02-01 00:00:00"},
		{Title: "banana", Body: "", Timestamp: "2024-03-01 00:00:00"},
		{Title: "Zebra", Body: "stripes", Timestamp: "2023-12-31 23:59:59"},
		{Title: "", Body: "untitled", Timestamp: "2024-04-01 12:00:00"},
		{Title: "cherry", Body: "Ba inside", Timestamp: "2024-01-15 06:30:00"},
	}
	all := make([]Note, 0, len(seed))
	for _, n := range seed {
		n.ID = insertNote(t, s, n)
		all = append(all, n)
	}

	for _, opt := range SortOptions {
		for _, search := range []string{"", "a", "Ba", "zzz"} {
			t.Run(fmt.Sprintf("%s/%q", opt, search), func(t *testing.T) {
				q := Query{Sort: opt, Search: search}
				got, err := s.List(ctx, q)
				if err != nil {
					t.Fatalf("List: %v", err)
				}

				var want int
				for _, n := range all {
					if q.Matches(n) {
						want++
					}
				}
				if len(got) != want {
					t.Fatalf("got %d notes, want %d", len(got), want)
				}

				seen := make(map[int64]bool)
				for i, n := range got {
					if seen[n.ID] {
						t.Errorf("note %d returned twice", n.ID)
					}
					seen[n.ID] = true
					if !q.Matches(n) {
						t.Errorf("note %+v does not match search %q", n, search)
					}
					if i > 0 && opt.Less(n, got[i-1]) {
						t.Errorf("out of order at %d: %+v before %+v", i, got[i-1], n)
					}
				}
			})
		}
	}
}

func TestSearchTreatsWildcardsLiterally(t *testing.T) {
	s := openTestStore(t)

	insertNote(t, s, Note{Title: "100% done"})
	insertNote(t, s, Note{Title: "100 done"})

	got, err := s.List(context.Background(), Query{Sort: SortAZ, Search: "0%"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if !equalStrings(titles(got), []string{"100% done"}) {
		t.Errorf("titles = %v, want [100%% done]", titles(got))
	}
}

func TestWatchEmitsAfterWrite(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sub := s.Watch(ctx, Query{Sort: SortAZ})
	defer sub.Close()

	if got := receive(t, sub.C()); len(got) != 0 {
		t.Fatalf("initial emission = %v, want empty", titles(got))
	}

	insertNote(t, s, Note{Title: "hello"})

	got := receive(t, sub.C())
	if !equalStrings(titles(got), []string{"hello"}) {
		t.Errorf("emission after insert = %v, want [hello]", titles(got))
	}
}

func TestWatchNote(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id := insertNote(t, s, Note{Title: "watched"})
	sub := s.WatchNote(ctx, id)
	defer sub.Close()

	if got := receive(t, sub.C()); got == nil || got.Title != "watched" {
		t.Fatalf("initial emission = %+v, want note titled watched", got)
	}

	if _, err := s.Delete(ctx, id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if got := receive(t, sub.C()); got != nil {
		t.Errorf("emission after delete = %+v, want nil", got)
	}
}

func TestSubscriptionCloseUnregisters(t *testing.T) {
	s := openTestStore(t)

	sub := s.Watch(context.Background(), Query{Sort: SortAZ})
	receive(t, sub.C())
	sub.Close()
	sub.Close()

	if n := s.events.count(); n != 0 {
		t.Errorf("live subscriptions = %d, want 0", n)
	}
	if _, ok := <-sub.C(); ok {
		t.Error("channel still open after Close")
	}
	if err := sub.Err(); err != nil {
		t.Errorf("Err() = %v, want nil after Close", err)
	}
}

func TestSubscriptionEndsWithContext(t *testing.T) {
	s := openTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())

	sub := s.Watch(ctx, Query{Sort: SortAZ})
	receive(t, sub.C())
	cancel()

	select {
	case <-sub.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("subscription did not stop after context cancel")
	}
}

func TestStoreCloseEndsSubscriptions(t *testing.T) {
	s, err := Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	sub := s.Watch(context.Background(), Query{Sort: SortAZ})
	receive(t, sub.C())

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case <-sub.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("subscription did not stop after store Close")
	}
	if !errors.Is(sub.Err(), ErrClosed) {
		t.Errorf("Err() = %v, want ErrClosed", sub.Err())
	}
	if _, err := s.Insert(context.Background(), Note{Title: "late"}); !errors.Is(err, ErrClosed) {
		t.Errorf("Insert after Close: error = %v, want ErrClosed", err)
	}
}
