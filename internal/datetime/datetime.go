// Package datetime converts note timestamps between the stored UTC form and
// the local forms shown to people.
package datetime

import (
	"log/slog"
	"time"
)

const (
	// Layout is the stored timestamp format. It sorts lexically.
	// "2006-01-02 15:04:05" = 2024-01-02 19:16:19
	Layout = "2006-01-02 15:04:05"

	// MediumLayout renders a date such as "Feb 4, 2024".
	MediumLayout = "Jan 2, 2006"

	// ShortLayout renders a date such as "Feb 4".
	ShortLayout = "Jan 2"
)

// Kind selects a conversion performed by Format.
type Kind int

const (
	// UTCToLocal converts a stored UTC timestamp to the local zone (Layout).
	UTCToLocal Kind = iota
	// LocalToUTC converts a local timestamp back to UTC (Layout).
	LocalToUTC
	// CurrentUTC is the current time in UTC (Layout), as written to storage.
	CurrentUTC
	// CurrentLocal is the current time in the local zone (Layout).
	CurrentLocal
	// LocalMedium reformats a local timestamp as MediumLayout.
	LocalMedium
	// LocalShort reformats a local timestamp as ShortLayout.
	LocalShort
)

func (k Kind) String() string {
	switch k {
	case UTCToLocal:
		return "UTC_TO_LOCAL"
	case LocalToUTC:
		return "LOCAL_TO_UTC"
	case CurrentUTC:
		return "CURRENT_UTC"
	case CurrentLocal:
		return "CURRENT_LOCAL"
	case LocalMedium:
		return "LOCAL_TO_LOCAL_MEDIUM_LENGTH_FORMAT"
	case LocalShort:
		return "LOCAL_TO_LOCAL_SHORT_LENGTH_FORMAT"
	}
	return "UNKNOWN"
}

// Formatter performs conversions against a fixed local zone and clock.
type Formatter struct {
	Location *time.Location
	Now      func() time.Time
	Logger   *slog.Logger
}

// Default uses time.Local and the wall clock.
var Default = Formatter{}

func (f Formatter) location() *time.Location {
	if f.Location != nil {
		return f.Location
	}
	return time.Local
}

func (f Formatter) now() time.Time {
	if f.Now != nil {
		return f.Now()
	}
	return time.Now()
}

func (f Formatter) logger() *slog.Logger {
	if f.Logger != nil {
		return f.Logger
	}
	return slog.Default()
}

// Format applies kind to value. value is ignored for CurrentUTC and
// CurrentLocal. A value that cannot be parsed yields "Error <value>" so a
// bad row never breaks a listing.
func (f Formatter) Format(kind Kind, value string) string {
	loc := f.location()

	switch kind {
	case CurrentUTC:
		return f.now().UTC().Format(Layout)
	case CurrentLocal:
		return f.now().In(loc).Format(Layout)
	}

	var (
		in, out *time.Location
		layout  = Layout
	)
	switch kind {
	case UTCToLocal:
		in, out = time.UTC, loc
	case LocalToUTC:
		in, out = loc, time.UTC
	case LocalMedium:
		in, out, layout = loc, loc, MediumLayout
	case LocalShort:
		in, out, layout = loc, loc, ShortLayout
	default:
		f.logger().Warn("unknown datetime conversion", "kind", int(kind))
		return errorPlaceholder(value)
	}

	t, err := time.ParseInLocation(Layout, value, in)
	if err != nil {
		f.logger().Warn("parsing timestamp", "kind", kind.String(), "value", value, "error", err)
		return errorPlaceholder(value)
	}
	return t.In(out).Format(layout)
}

func errorPlaceholder(value string) string {
	return "Error " + value
}

// Format applies kind to value using Default.
func Format(kind Kind, value string) string {
	return Default.Format(kind, value)
}

// NowUTC returns the current UTC time in Layout.
func NowUTC() string {
	return Default.Format(CurrentUTC, "")
}
