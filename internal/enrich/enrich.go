package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	appLog "campuscal/internal/log"
	"campuscal/internal/model"
)

// Detail carries the export-relevant fields the grid view lacks.
type Detail struct {
	Description string
	URL         string
}

// Enricher fetches description/url for a batch of event ids from the
// external detail provider.
//
// Failure semantics: every failure path returns an empty map, never an
// error. A failed enrichment degrades export fidelity but must never block
// document or link generation.
type Enricher struct {
	client  *http.Client
	baseURL string
}

// New creates an Enricher against the provider's base URL.
func New(baseURL string, timeout time.Duration) *Enricher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Enricher{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// detailsResponse is the provider's JSON shape.
type detailsResponse struct {
	Events []struct {
		ID          string `json:"id"`
		Description string `json:"description"`
		URL         string `json:"url"`
	} `json:"events"`
}

// Fetch issues one batched lookup for all ids. The ids are joined into a
// single request so the provider sees one query per export action.
func (e *Enricher) Fetch(ctx context.Context, ids []string) map[string]Detail {
	details := make(map[string]Detail, len(ids))
	if len(ids) == 0 {
		return details
	}

	reqURL := e.baseURL + "/api/events/details/?ids=" + url.QueryEscape(strings.Join(ids, ","))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		appLog.Error("enrichment request build failed", err, "id_count", len(ids))
		return details
	}

	resp, err := e.client.Do(req)
	if err != nil {
		appLog.Error("enrichment fetch failed; exporting base fields only", err, "id_count", len(ids))
		return details
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		appLog.Error("enrichment fetch non-OK; exporting base fields only", errors.New(resp.Status),
			"status", resp.StatusCode, "id_count", len(ids))
		return details
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		appLog.Error("enrichment body read failed", err, "id_count", len(ids))
		return details
	}

	var parsed detailsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		appLog.Error("enrichment decode failed; exporting base fields only", err, "id_count", len(ids))
		return details
	}

	for _, ev := range parsed.Events {
		if ev.ID == "" {
			continue
		}
		details[ev.ID] = Detail{Description: ev.Description, URL: ev.URL}
	}

	appLog.Debug("enrichment fetch completed", "requested", len(ids), "resolved", len(details))
	return details
}

// Merge overlays enrichment details onto the base records without mutating
// the originals. Records without a detail entry keep their pre-existing
// external URL (some feed schemas already carry one) and stay without a
// description. An entry with an empty URL likewise preserves the base URL.
func Merge(events []model.EventRecord, details map[string]Detail) model.ExportBatch {
	batch := make(model.ExportBatch, 0, len(events))
	for _, ev := range events {
		if d, ok := details[ev.ID]; ok {
			ev.Description = d.Description
			if d.URL != "" {
				ev.ExternalURL = d.URL
			}
		}
		batch = append(batch, ev)
	}
	return batch
}
