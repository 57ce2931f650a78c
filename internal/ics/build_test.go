package ics

import (
	"strings"
	"testing"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/stretchr/testify/require"

	"campuscal/internal/model"
)

var testBuilder = Builder{
	ProdID:    "-//campuscal//event export//EN",
	UIDDomain: "campuscal.app",
}

func localEvent(id, name string) model.EventRecord {
	return model.EventRecord{
		ID:        id,
		Name:      name,
		Date:      "2026-03-14",
		StartTime: "18:30",
		EndTime:   "20:00",
	}
}

func TestEscape_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"plain", "Chess night"},
		{"comma", "Foo, Bar"},
		{"semicolon", "Room; 201"},
		{"backslash", `C:\events\all`},
		{"newline", "line one\nline two"},
		{"everything", "a\\b;c,d\ne"},
		{"escape lookalikes", `already \n escaped; sort\,of`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.in, Unescape(Escape(tc.in)))
		})
	}
}

func TestEscape_OrderBackslashFirst(t *testing.T) {
	// A literal backslash must become \\ before the other substitutions so
	// the backslashes they introduce are not escaped twice.
	require.Equal(t, `a\\b`, Escape(`a\b`))
	require.Equal(t, `a\\\;b`, Escape(`a\;b`))
	require.Equal(t, `a\n`, Escape("a\n"))
	require.Equal(t, `a\n`, Escape("a\r\n"))
}

func TestBuild_SpecialCharacterFields(t *testing.T) {
	batch := model.ExportBatch{
		{
			ID:        "1",
			Name:      "Foo, Bar",
			Location:  "Room; 201",
			Date:      "2026-03-14",
			StartTime: "18:30",
			EndTime:   "20:00",
		},
	}

	doc := testBuilder.Build(batch, time.Now())

	require.Contains(t, doc, `SUMMARY:Foo\, Bar`+"\r\n")
	require.Contains(t, doc, `LOCATION:Room\; 201`+"\r\n")
}

func TestBuild_FramingAndBlockCount(t *testing.T) {
	batch := model.ExportBatch{
		localEvent("1", "One"),
		localEvent("2", "Two"),
		localEvent("3", "Three"),
	}

	doc := testBuilder.Build(batch, time.Now())

	require.Equal(t, 1, strings.Count(doc, "BEGIN:VCALENDAR\r\n"))
	require.Equal(t, 1, strings.Count(doc, "END:VCALENDAR\r\n"))
	require.Equal(t, 3, strings.Count(doc, "BEGIN:VEVENT\r\n"))
	require.Equal(t, 3, strings.Count(doc, "END:VEVENT\r\n"))
	require.True(t, strings.HasPrefix(doc, "BEGIN:VCALENDAR\r\n"))
	require.True(t, strings.HasSuffix(doc, "END:VCALENDAR\r\n"))
}

func TestBuild_CRLFTermination(t *testing.T) {
	doc := testBuilder.Build(model.ExportBatch{localEvent("1", "One")}, time.Now())

	for _, line := range strings.Split(strings.TrimSuffix(doc, "\r\n"), "\r\n") {
		require.NotContains(t, line, "\n")
		require.NotContains(t, line, "\r")
	}
}

func TestBuild_UIDStableAcrossInvocations(t *testing.T) {
	batch := model.ExportBatch{localEvent("42", "Answer")}

	first := testBuilder.Build(batch, time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC))
	second := testBuilder.Build(batch, time.Date(2026, 2, 2, 11, 30, 0, 0, time.UTC))

	require.Contains(t, first, "UID:42@campuscal.app\r\n")
	require.Contains(t, second, "UID:42@campuscal.app\r\n")

	// Identity is idempotent, content is not: the generation timestamp
	// makes the two documents textually different.
	require.NotEqual(t, first, second)
	require.Contains(t, first, "DTSTAMP:20260101T100000Z\r\n")
	require.Contains(t, second, "DTSTAMP:20260202T113000Z\r\n")
}

func TestBuild_SharedGenerationTimestamp(t *testing.T) {
	batch := model.ExportBatch{localEvent("1", "One"), localEvent("2", "Two")}
	now := time.Date(2026, 3, 1, 9, 15, 0, 0, time.UTC)

	doc := testBuilder.Build(batch, now)
	require.Equal(t, 2, strings.Count(doc, "DTSTAMP:20260301T091500Z\r\n"))
}

func TestBuild_OptionalFields(t *testing.T) {
	batch := model.ExportBatch{
		{ID: "1", Name: "No extras", Date: "2026-03-14", StartTime: "18:30"},
		{ID: "2", Name: "Whitespace desc", Description: "  \n ", Date: "2026-03-14", StartTime: "18:30"},
		{ID: "3", Name: "Full", Description: "desc", Location: "Hall A", Date: "2026-03-14", StartTime: "18:30"},
	}

	doc := testBuilder.Build(batch, time.Now())

	require.Equal(t, 1, strings.Count(doc, "DESCRIPTION:"))
	require.Equal(t, 1, strings.Count(doc, "LOCATION:"))
	require.Contains(t, doc, "DESCRIPTION:desc\r\n")
	require.Contains(t, doc, "LOCATION:Hall A\r\n")
}

func TestBuild_EndDefaultsToStart(t *testing.T) {
	batch := model.ExportBatch{
		{ID: "1", Name: "Open ended", Date: "2026-03-14", StartTime: "18:30"},
	}

	doc := testBuilder.Build(batch, time.Now())
	require.Contains(t, doc, "DTSTART:20260314T183000\r\n")
	require.Contains(t, doc, "DTEND:20260314T183000\r\n")
}

func TestBuild_UTCPairRendersWithZ(t *testing.T) {
	start := time.Date(2026, 3, 14, 17, 30, 0, 0, time.UTC)
	end := time.Date(2026, 3, 14, 19, 0, 0, 0, time.UTC)
	batch := model.ExportBatch{
		{ID: "1", Name: "UTC shaped", StartUTC: &start, EndUTC: &end},
	}

	doc := testBuilder.Build(batch, time.Now())
	require.Contains(t, doc, "DTSTART:20260314T173000Z\r\n")
	require.Contains(t, doc, "DTEND:20260314T190000Z\r\n")
}

func TestBuild_MalformedEventSkippedNotFatal(t *testing.T) {
	batch := model.ExportBatch{
		localEvent("1", "Good"),
		{ID: "2", Name: "No times at all"},
		localEvent("3", "Also good"),
	}

	doc := testBuilder.Build(batch, time.Now())
	require.Equal(t, 2, strings.Count(doc, "BEGIN:VEVENT\r\n"))
	require.NotContains(t, doc, "UID:2@campuscal.app")
}

func TestBuild_EmptyBatch(t *testing.T) {
	doc := testBuilder.Build(nil, time.Now())
	require.Equal(t, 0, strings.Count(doc, "BEGIN:VEVENT"))
	require.Contains(t, doc, "BEGIN:VCALENDAR\r\n")
	require.Contains(t, doc, "END:VCALENDAR\r\n")
}

// TestBuild_ImportableByRealConsumer feeds the generated document back
// through an independent iCalendar implementation, the same way a calendar
// application would import it.
func TestBuild_ImportableByRealConsumer(t *testing.T) {
	batch := model.ExportBatch{
		localEvent("1", "One"),
		localEvent("2", "Two"),
	}
	doc := testBuilder.Build(batch, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))

	cal, err := ical.ParseCalendar(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, cal.Events(), 2)

	uids := make([]string, 0, 2)
	for _, ve := range cal.Events() {
		prop := ve.GetProperty(ical.ComponentPropertyUniqueId)
		require.NotNil(t, prop)
		uids = append(uids, prop.Value)
	}
	require.ElementsMatch(t, []string{"1@campuscal.app", "2@campuscal.app"}, uids)
}
