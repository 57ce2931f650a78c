package deeplink

import (
	"fmt"
	"net/url"

	appLog "campuscal/internal/log"
	"campuscal/internal/model"
)

// Builder constructs external calendar-service quick-add URLs. It is a pure
// function over event records; opening the resulting URLs is the delivery
// dispatcher's job.
type Builder struct {
	// BaseURL is the service's render endpoint, e.g.
	// "https://calendar.google.com/calendar/render".
	BaseURL string
}

// BuildURL builds exactly one quick-add URL for the record.
//
// The dates parameter joins the compact start/end forms with "/"; compact
// forms carry no date separators and no zone designator beyond the UTC "Z".
// The details parameter combines description and external URL when both are
// present, either one alone otherwise.
func (b Builder) BuildURL(ev model.EventRecord) (string, error) {
	et, err := ev.Time()
	if err != nil {
		return "", fmt.Errorf("deeplink: %w", err)
	}

	q := url.Values{}
	q.Set("action", "TEMPLATE")
	q.Set("text", ev.Name)
	q.Set("dates", et.CompactStart()+"/"+et.CompactEnd())
	q.Set("details", detailsText(ev))
	q.Set("location", ev.Location)

	return b.BaseURL + "?" + q.Encode(), nil
}

// BuildAll builds one URL per record, preserving batch order. Records whose
// temporal fields cannot be normalized are logged and skipped.
func (b Builder) BuildAll(batch model.ExportBatch) []string {
	links := make([]string, 0, len(batch))
	for _, ev := range batch {
		link, err := b.BuildURL(ev)
		if err != nil {
			appLog.Error("event skipped in link build", err, "id", ev.ID)
			continue
		}
		links = append(links, link)
	}
	return links
}

func detailsText(ev model.EventRecord) string {
	switch {
	case ev.Description != "" && ev.ExternalURL != "":
		return ev.Description + "\n\n" + ev.ExternalURL
	case ev.Description != "":
		return ev.Description
	case ev.ExternalURL != "":
		return ev.ExternalURL
	default:
		return ""
	}
}
