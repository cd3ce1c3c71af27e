package storage

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// ErrInvalidSortOption is returned when a sort option name is not recognised.
var ErrInvalidSortOption = errors.New("invalid sort option")

// SortOption is one of the four fixed orderings for listings.
type SortOption int

const (
	// SortAZ orders by title then body, case-insensitively, ascending.
	SortAZ SortOption = iota
	// SortZA orders by title then body, case-insensitively, descending.
	SortZA
	// SortOldestFirst orders by timestamp ascending.
	SortOldestFirst
	// SortNewestFirst orders by timestamp descending.
	SortNewestFirst
)

// DefaultSortOption applies when no preference has been stored.
const DefaultSortOption = SortNewestFirst

// SortOptions lists every option in id order.
var SortOptions = []SortOption{SortAZ, SortZA, SortOldestFirst, SortNewestFirst}

var sortOptionNames = map[SortOption]string{
	SortAZ:          "A_Z",
	SortZA:          "Z_A",
	SortOldestFirst: "OLDEST_FIRST",
	SortNewestFirst: "NEWEST_FIRST",
}

// orderings maps each option to its ORDER BY terms. Ties fall back to id,
// which is insertion order for an AUTOINCREMENT key.
var orderings = map[SortOption]string{
	SortAZ:          colNoteTitle + " COLLATE NOCASE ASC, " + colNoteBody + " COLLATE NOCASE ASC, " + colID + " ASC",
	SortZA:          colNoteTitle + " COLLATE NOCASE DESC, " + colNoteBody + " COLLATE NOCASE DESC, " + colID + " ASC",
	SortOldestFirst: colTimestamp + " ASC, " + colID + " ASC",
	SortNewestFirst: colTimestamp + " DESC, " + colID + " ASC",
}

func (o SortOption) String() string {
	if name, ok := sortOptionNames[o]; ok {
		return name
	}
	return fmt.Sprintf("SortOption(%d)", int(o))
}

// ID is the stable numeric id of the option.
func (o SortOption) ID() int { return int(o) }

// Valid reports whether o is one of SortOptions.
func (o SortOption) Valid() bool {
	_, ok := sortOptionNames[o]
	return ok
}

// ParseSortOption resolves an option by name ("A_Z", "NEWEST_FIRST", ...).
func ParseSortOption(name string) (SortOption, error) {
	want := strings.ToUpper(strings.TrimSpace(name))
	for _, o := range SortOptions {
		if sortOptionNames[o] == want {
			return o, nil
		}
	}
	return DefaultSortOption, fmt.Errorf("%w: %q", ErrInvalidSortOption, name)
}

// SortOptionFromID resolves an option by id. Unknown ids are logged to logger
// and resolve to DefaultSortOption.
func SortOptionFromID(id int, logger *slog.Logger) SortOption {
	o := SortOption(id)
	if !o.Valid() {
		logger.Error("invalid sort option id", "id", id)
		return DefaultSortOption
	}
	return o
}

// MarshalText implements encoding.TextMarshaler.
func (o SortOption) MarshalText() ([]byte, error) {
	if !o.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSortOption, int(o))
	}
	return []byte(o.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *SortOption) UnmarshalText(text []byte) error {
	v, err := ParseSortOption(string(text))
	if err != nil {
		return err
	}
	*o = v
	return nil
}

// Less reports whether a sorts before b under o, matching the SQL ordering
// including the id tie-break.
func (o SortOption) Less(a, b Note) bool {
	switch o {
	case SortAZ, SortZA:
		c := compareNoCase(a.Title, b.Title)
		if c == 0 {
			c = compareNoCase(a.Body, b.Body)
		}
		if o == SortZA {
			c = -c
		}
		if c != 0 {
			return c < 0
		}
	case SortOldestFirst, SortNewestFirst:
		c := strings.Compare(a.Timestamp, b.Timestamp)
		if o == SortNewestFirst {
			c = -c
		}
		if c != 0 {
			return c < 0
		}
	}
	return a.ID < b.ID
}

// compareNoCase folds ASCII letters only, like SQLite's NOCASE collation.
func compareNoCase(a, b string) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		ca, cb := lowerASCII(a[i]), lowerASCII(b[i])
		if ca != cb {
			if ca < cb {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return 0
}

func lowerASCII(c byte) byte {
	if 'A' <= c && c <= 'Z' {
		return c + ('a' - 'A')
	}
	return c
}

// Query selects and orders notes. An empty Search matches every note; a
// non-empty one keeps notes whose title or body contains it (case-sensitive).
type Query struct {
	Sort   SortOption
	Search string
}

// Matches reports whether n passes the search filter of q.
func (q Query) Matches(n Note) bool {
	if q.Search == "" {
		return true
	}
	return strings.Contains(n.Title, q.Search) || strings.Contains(n.Body, q.Search)
}

// build returns the SELECT statement and its arguments for q against table.
// The ordering is resolved from the option itself, never from caller text.
func (q Query) build(table string) (string, []any, error) {
	order, ok := orderings[q.Sort]
	if !ok {
		return "", nil, fmt.Errorf("%w: %d", ErrInvalidSortOption, int(q.Sort))
	}

	var sb strings.Builder
	sb.WriteString("SELECT " + selectColumns + " FROM " + quoteIdent(table))

	var args []any
	if q.Search != "" {
		// instr is a plain case-sensitive substring test; LIKE would fold
		// ASCII case and treat % and _ as wildcards.
		sb.WriteString(" WHERE instr(" + colNoteTitle + ", ?) > 0 OR instr(" + colNoteBody + ", ?) > 0")
		args = append(args, q.Search, q.Search)
	}

	sb.WriteString(" ORDER BY " + order)
	return sb.String(), args, nil
}
