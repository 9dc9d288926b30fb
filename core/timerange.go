package core

import (
	"fmt"
	"strings"
	"time"
)

const (
	// DateLayout is the date form accepted by the chat-log API.
	DateLayout = "2006-01-02"
	// TimeLayout is the canonical wall-clock form stored in metadata.
	TimeLayout = "2006-01-02 15:04:05"

	rangeSeparator = "~"
)

// TimeRange is an inclusive range of calendar days.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// ParseTimeRange parses "YYYY-MM-DD" or "YYYY-MM-DD~YYYY-MM-DD".
// A range whose start falls after its end is rejected.
func ParseTimeRange(s string) (TimeRange, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return TimeRange{}, fmt.Errorf("%w: %w: empty", ErrInvalidArgument, ErrInvalidTimeRange)
	}

	startStr, endStr, isRange := strings.Cut(s, rangeSeparator)
	start, err := parseDate(startStr)
	if err != nil {
		return TimeRange{}, fmt.Errorf("%w: %w: %q", ErrInvalidArgument, ErrInvalidTimeRange, s)
	}
	end := start
	if isRange {
		end, err = parseDate(endStr)
		if err != nil {
			return TimeRange{}, fmt.Errorf("%w: %w: %q", ErrInvalidArgument, ErrInvalidTimeRange, s)
		}
	}
	if start.After(end) {
		return TimeRange{}, fmt.Errorf("%w: %w: start after end in %q", ErrInvalidArgument, ErrInvalidTimeRange, s)
	}
	return TimeRange{Start: start, End: end}, nil
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if len(s) != len(DateLayout) {
		return time.Time{}, fmt.Errorf("bad date %q", s)
	}
	return time.ParseInLocation(DateLayout, s, time.Local)
}

// SingleDay reports whether the range covers exactly one date.
func (tr TimeRange) SingleDay() bool {
	return tr.Start.Format(DateLayout) == tr.End.Format(DateLayout)
}

// String renders the range in the form the chat-log API expects.
func (tr TimeRange) String() string {
	if tr.SingleDay() {
		return tr.Start.Format(DateLayout)
	}
	return tr.Start.Format(DateLayout) + rangeSeparator + tr.End.Format(DateLayout)
}

// IncrementalRange returns the window an incremental sync must cover:
// from the day of the last sync through today. A zero lastSync falls
// back to yesterday.
func IncrementalRange(lastSync, now time.Time) TimeRange {
	now = now.In(time.Local)
	start := lastSync.In(time.Local)
	if lastSync.IsZero() || start.After(now) {
		start = now.AddDate(0, 0, -1)
	}
	return TimeRange{
		Start: truncateDay(start),
		End:   truncateDay(now),
	}
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

var isoLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999999",
}

// NormalizeTime converts upstream timestamps to TimeLayout in local time.
// Values already in canonical form are returned as is. The second return
// value is false when the input could not be parsed; the input is then
// returned unchanged.
func NormalizeTime(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", true
	}
	if _, err := time.ParseInLocation(TimeLayout, raw, time.Local); err == nil {
		return raw, true
	}
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			if strings.ContainsAny(raw[len(DateLayout):], "Z+-") {
				t = t.In(time.Local)
			}
			return t.Format(TimeLayout), true
		}
	}
	return raw, false
}
