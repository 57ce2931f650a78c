package ics

import (
	"strings"
	"time"

	appLog "campuscal/internal/log"
	"campuscal/internal/model"
)

// crlf is the line terminator mandated by the interchange format.
const crlf = "\r\n"

// Builder serializes an export batch into a single calendar-interchange
// document. It is a pure serializer: the document is returned as a string
// and never written to disk here (delivery owns that).
type Builder struct {
	// ProdID is the product identifier constant stamped into the header.
	ProdID string
	// UIDDomain is appended to each event id so re-exports of the same
	// event produce the same UID.
	UIDDomain string
}

// Build renders one document for the batch. now is the generation
// timestamp; it is rendered once and shared by every event block, so two
// builds differ textually only in DTSTAMP while all UIDs stay stable.
//
// Events whose temporal fields cannot be normalized are logged and skipped;
// a partially malformed batch must not abort the export.
func (b Builder) Build(batch model.ExportBatch, now time.Time) string {
	dtstamp := now.UTC().Format("20060102T150405Z")

	var w strings.Builder
	line := func(s string) {
		w.WriteString(s)
		w.WriteString(crlf)
	}

	line("BEGIN:VCALENDAR")
	line("VERSION:2.0")
	line("PRODID:" + b.ProdID)
	line("CALSCALE:GREGORIAN")

	for _, ev := range batch {
		et, err := ev.Time()
		if err != nil {
			appLog.Error("event skipped in document build", err, "id", ev.ID)
			continue
		}

		line("BEGIN:VEVENT")
		line("DTSTART:" + et.CompactStart())
		line("DTEND:" + et.CompactEnd())
		line("DTSTAMP:" + dtstamp)
		line("UID:" + ev.ID + "@" + b.UIDDomain)
		line("SUMMARY:" + Escape(ev.Name))
		if strings.TrimSpace(ev.Description) != "" {
			line("DESCRIPTION:" + Escape(ev.Description))
		}
		if ev.Location != "" {
			line("LOCATION:" + Escape(ev.Location))
		}
		line("END:VEVENT")
	}

	line("END:VCALENDAR")
	return w.String()
}

// Escape applies the format's TEXT escaping to a free-text field value.
//
// Order matters: the backslash substitution must run first so that the
// backslashes introduced by the later substitutions are not escaped again.
// CRLF/CR normalization to a bare newline is the only pre-escaping text
// normalization.
func Escape(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, ";", `\;`)
	s = strings.ReplaceAll(s, ",", `\,`)
	s = strings.ReplaceAll(s, "\n", `\n`)
	return s
}

// Unescape inverts Escape. Unknown escape pairs are kept verbatim.
func Unescape(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 >= len(s) {
			b.WriteByte(c)
			continue
		}
		i++
		switch s[i] {
		case 'n', 'N':
			b.WriteByte('\n')
		case '\\', ';', ',':
			b.WriteByte(s[i])
		default:
			b.WriteByte('\\')
			b.WriteByte(s[i])
		}
	}
	return b.String()
}
