package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// EventRecord represents one schedulable occurrence as the events
// application displays it. Records arrive in one of two temporal shapes:
// a local (Date, StartTime, EndTime) triple, or a UTC datetime pair.
// Time() normalizes either shape; everything downstream of the data-model
// boundary consumes only EventTime.
type EventRecord struct {
	// ID is the sole key used for selection membership and for
	// de-duplicating enrichment lookups.
	ID string `json:"id"`

	Name     string `json:"name"`
	Location string `json:"location,omitempty"`

	// Description is normally absent until enrichment fills it in.
	Description string `json:"description,omitempty"`
	// ExternalURL may already be present in some feed schemas; enrichment
	// overlays it only when the detail provider knows the id.
	ExternalURL string `json:"url,omitempty"`

	// Local triple shape: Date is "2006-01-02", times are "15:04" or
	// "15:04:05". The times are floating wall-clock values.
	Date      string `json:"date,omitempty"`
	StartTime string `json:"start_time,omitempty"`
	EndTime   string `json:"end_time,omitempty"`

	// UTC pair shape. EndUTC may be nil when the feed knows no end.
	StartUTC *time.Time `json:"start_datetime,omitempty"`
	EndUTC   *time.Time `json:"end_datetime,omitempty"`
}

// EventTime is the canonical internal time representation.
//
// Floating marks a local wall-clock time that must never be converted to a
// fixed zone: it is rendered without a zone designator so calendar
// applications keep it in the viewer's local time.
type EventTime struct {
	Start    time.Time
	End      time.Time
	Floating bool
}

// ExportBatch is the ordered list of enriched records for one export
// action. It is built fresh per export and discarded after delivery.
type ExportBatch []EventRecord

var errNoTemporal = errors.New("event has neither a local date triple nor a UTC datetime pair")

// Time normalizes the record's temporal fields into an EventTime.
//
// Rules:
//   - The local triple wins when both shapes are populated, so a record is
//     never rendered with mixed zones.
//   - A missing end collapses onto the start.
func (r EventRecord) Time() (EventTime, error) {
	if r.Date != "" && r.StartTime != "" {
		start, err := parseLocal(r.Date, r.StartTime)
		if err != nil {
			return EventTime{}, fmt.Errorf("event %s: %w", r.ID, err)
		}
		end := start
		if r.EndTime != "" {
			end, err = parseLocal(r.Date, r.EndTime)
			if err != nil {
				return EventTime{}, fmt.Errorf("event %s: %w", r.ID, err)
			}
		}
		return EventTime{Start: start, End: end, Floating: true}, nil
	}

	if r.StartUTC != nil {
		start := r.StartUTC.UTC()
		end := start
		if r.EndUTC != nil {
			end = r.EndUTC.UTC()
		}
		return EventTime{Start: start, End: end}, nil
	}

	return EventTime{}, fmt.Errorf("event %s: %w", r.ID, errNoTemporal)
}

// parseLocal combines a "2006-01-02" date with a wall-clock time. Seconds
// are optional in the time component.
func parseLocal(date, clock string) (time.Time, error) {
	layout := "2006-01-02 15:04"
	if strings.Count(clock, ":") == 2 {
		layout = "2006-01-02 15:04:05"
	}
	t, err := time.Parse(layout, date+" "+clock)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad local time %q %q: %w", date, clock, err)
	}
	return t, nil
}

// Compact renders the time in the interchange format's compact form:
// floating times carry no zone designator, instants are UTC with a "Z".
// The same form is reused verbatim in deep-link date ranges.
func (et EventTime) Compact(t time.Time) string {
	if et.Floating {
		return t.Format("20060102T150405")
	}
	return t.UTC().Format("20060102T150405Z")
}

// CompactStart and CompactEnd render the two endpoints.
func (et EventTime) CompactStart() string { return et.Compact(et.Start) }
func (et EventTime) CompactEnd() string   { return et.Compact(et.End) }
