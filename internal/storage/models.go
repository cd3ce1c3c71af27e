package storage

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kalambet/pouch/internal/datetime"
)

// ErrNotFound is returned when a requested note does not exist.
var ErrNotFound = errors.New("not found")

// ErrClosed is returned by operations on a closed Store.
var ErrClosed = errors.New("store closed")

// ErrUnknownZone is returned when a zone name or value is not recognised.
var ErrUnknownZone = errors.New("unknown zone")

// Note is a single row of the note table.
//
// Timestamp is stored in UTC using datetime.Layout and is only converted to
// local time by callers that present it.
type Note struct {
	ID        int64
	Title     string
	Body      string
	Timestamp string
}

// NewNote returns a note that has not been persisted yet, stamped with the
// current UTC time.
func NewNote(title, body string) Note {
	return Note{
		Title:     title,
		Body:      body,
		Timestamp: datetime.NowUTC(),
	}
}

// EmptyNote has zero and empty values for every field, including Timestamp.
var EmptyNote = Note{}

// ContentEqual reports whether all four fields of n and o match.
func (n Note) ContentEqual(o Note) bool {
	return n.ID == o.ID &&
		n.Title == o.Title &&
		n.Body == o.Body &&
		n.Timestamp == o.Timestamp
}

// FormatTimestamp returns a copy of n with its timestamp converted by kind.
func (n Note) FormatTimestamp(kind datetime.Kind) Note {
	n.Timestamp = datetime.Format(kind, n.Timestamp)
	return n
}

// Zone is one of the two isolated partitions of notes.
type Zone int

const (
	// ZoneCreative is the zone the app starts in.
	ZoneCreative Zone = iota
	// ZoneBoxOfMysteries is the hidden zone.
	ZoneBoxOfMysteries
)

// Zones lists every zone in a stable order.
var Zones = []Zone{ZoneCreative, ZoneBoxOfMysteries}

func (z Zone) String() string {
	switch z {
	case ZoneCreative:
		return "CREATIVE"
	case ZoneBoxOfMysteries:
		return "BOX_OF_MYSTERIES"
	}
	return fmt.Sprintf("Zone(%d)", int(z))
}

// FileName is the database file that backs the zone.
func (z Zone) FileName() string {
	switch z {
	case ZoneCreative:
		return "notes_db"
	case ZoneBoxOfMysteries:
		return "bom_db"
	}
	return ""
}

// Valid reports whether z is one of Zones.
func (z Zone) Valid() bool {
	return z == ZoneCreative || z == ZoneBoxOfMysteries
}

// Other returns the opposite zone.
func (z Zone) Other() Zone {
	if z == ZoneCreative {
		return ZoneBoxOfMysteries
	}
	return ZoneCreative
}

// ParseZone accepts the zone name in any case, plus the short forms
// "creative" and "bom".
func ParseZone(s string) (Zone, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CREATIVE":
		return ZoneCreative, nil
	case "BOX_OF_MYSTERIES", "BOM":
		return ZoneBoxOfMysteries, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownZone, s)
}
