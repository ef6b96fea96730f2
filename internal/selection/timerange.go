package selection

import (
	"fmt"
	"strings"
	"time"

	reporterrors "github.com/rcourtman/zbxreport/internal/errors"
)

// DefaultWindow applies when either absolute bound is missing.
const DefaultWindow = 24 * time.Hour

// TextLayout is how bounds are written in chart URLs.
const TextLayout = "2006-01-02 15:04:05"

var inputLayouts = []string{
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	time.RFC3339,
}

// Range is a report window in the monitoring system timezone.
type Range struct {
	From time.Time
	To   time.Time
}

// FromText formats the start bound for chart.php.
func (r Range) FromText() string { return r.From.Format(TextLayout) }

// ToText formats the end bound for chart.php.
func (r Range) ToText() string { return r.To.Format(TextLayout) }

// Duration is the window length.
func (r Range) Duration() time.Duration { return r.To.Sub(r.From) }

// ResolveRange parses the requested bounds. Missing bounds yield the last
// 24 hours. Bounds are read in the client timezone (loc when clientTZ is
// empty or unknown) and returned in loc.
func ResolveRange(from, to, clientTZ string, loc *time.Location, now time.Time) (Range, error) {
	if loc == nil {
		loc = time.UTC
	}
	from, to = strings.TrimSpace(from), strings.TrimSpace(to)
	if from == "" || to == "" {
		end := now.In(loc)
		return Range{From: end.Add(-DefaultWindow), To: end}, nil
	}

	clientLoc := loc
	if tz := strings.TrimSpace(clientTZ); tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			clientLoc = l
		}
	}

	start, err := parseBound(from, clientLoc)
	if err != nil {
		return Range{}, reporterrors.InvalidInput("resolve_range", err.Error())
	}
	end, err := parseBound(to, clientLoc)
	if err != nil {
		return Range{}, reporterrors.InvalidInput("resolve_range", err.Error())
	}

	r := Range{From: start.In(loc), To: end.In(loc)}
	if !r.To.After(r.From) {
		return Range{}, reporterrors.InvalidInput("resolve_range", fmt.Sprintf("invalid range: %s >= %s", r.FromText(), r.ToText()))
	}
	return r, nil
}

func parseBound(value string, loc *time.Location) (time.Time, error) {
	for _, layout := range inputLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", value)
}
