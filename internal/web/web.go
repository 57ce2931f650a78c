package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"campuscal/internal/config"
	"campuscal/internal/deeplink"
	"campuscal/internal/deliver"
	"campuscal/internal/enrich"
	"campuscal/internal/ics"
	appLog "campuscal/internal/log"
	"campuscal/internal/model"
	"campuscal/internal/selection"
)

// Server provides the HTTP API for selection state and calendar export.
type Server struct {
	holder *config.Holder
	store  *selection.Store
	mux    *http.ServeMux

	// Per-session link batches so a later export or an explicit teardown
	// cancels opens that have not fired yet.
	batchMu sync.Mutex
	batches map[string]*deliver.LinkBatch
}

// NewServer constructs a new Server.
func NewServer(holder *config.Holder, store *selection.Store) *Server {
	s := &Server{
		holder:  holder,
		store:   store,
		mux:     http.NewServeMux(),
		batches: make(map[string]*deliver.LinkBatch),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// StartServer serves the API on cfg.Listen until ctx is cancelled, then
// shuts down gracefully.
func StartServer(ctx context.Context, holder *config.Holder, store *selection.Store) error {
	s := NewServer(holder, store)
	cfg := holder.Current()

	srv := &http.Server{
		Addr:    cfg.Listen,
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	appLog.Info("starting HTTP server", "listen", "http://"+cfg.Listen)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/session", s.handleNewSession)
	s.mux.HandleFunc("/api/selection/mode", s.handleToggleMode)
	s.mux.HandleFunc("/api/selection/toggle", s.handleToggleMembership)
	s.mux.HandleFunc("/api/selection/clear", s.handleClear)
	s.mux.HandleFunc("/api/selection/display-mode", s.handleDisplayMode)
	s.mux.HandleFunc("/api/export/document", s.handleExportDocument)
	s.mux.HandleFunc("/api/export/links", s.handleExportLinks)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// sessionResponse is the JSON response shape for /api/session.
type sessionResponse struct {
	SessionID string `json:"session_id"`
}

func (s *Server) handleNewSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	sid := s.store.NewSession()
	writeJSON(w, http.StatusOK, sessionResponse{SessionID: sid})
}

// selectionRequest is the JSON body for all /api/selection/* endpoints.
type selectionRequest struct {
	SessionID   string `json:"session_id"`
	ID          string `json:"id,omitempty"`
	DisplayMode string `json:"display_mode,omitempty"`
}

func (s *Server) decodeSelection(w http.ResponseWriter, r *http.Request) (selectionRequest, bool) {
	var req selectionRequest
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return req, false
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return req, false
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return req, false
	}
	return req, true
}

func (s *Server) handleToggleMode(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeSelection(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.store.ToggleMode(req.SessionID))
}

func (s *Server) handleToggleMembership(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeSelection(w, r)
	if !ok {
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	writeJSON(w, http.StatusOK, s.store.ToggleMembership(req.SessionID, req.ID))
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeSelection(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.store.Clear(req.SessionID))
}

func (s *Server) handleDisplayMode(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeSelection(w, r)
	if !ok {
		return
	}
	if req.DisplayMode == "" {
		writeError(w, http.StatusBadRequest, "display_mode is required")
		return
	}
	writeJSON(w, http.StatusOK, s.store.SetDisplayMode(req.SessionID, req.DisplayMode))
}

// exportRequest is the JSON body for both export endpoints. Events is the
// currently displayed collection as the caller sees it; the server filters
// it down to the session's selection.
type exportRequest struct {
	SessionID string              `json:"session_id"`
	Events    []model.EventRecord `json:"events"`
}

// decodeExport parses an export request and materializes the batch. A nil
// batch with ok=true means the selection was empty (no-op for the caller).
func (s *Server) decodeExport(w http.ResponseWriter, r *http.Request) (string, model.ExportBatch, bool) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return "", nil, false
	}

	var req exportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return "", nil, false
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return "", nil, false
	}

	snap := s.store.Snapshot(req.SessionID)
	selected := make(map[string]struct{}, len(snap.IDs))
	for _, id := range snap.IDs {
		selected[id] = struct{}{}
	}

	// Keep the collection's display order.
	base := make([]model.EventRecord, 0, len(snap.IDs))
	for _, ev := range req.Events {
		if _, ok := selected[ev.ID]; ok {
			base = append(base, ev)
		}
	}
	if len(base) == 0 {
		// Exporting an empty selection is a no-op, never an error.
		w.WriteHeader(http.StatusNoContent)
		return req.SessionID, nil, true
	}

	// Enrich with one batched lookup; ids sorted for determinism. A failed
	// enrichment yields an empty map and the export proceeds on base fields.
	cfg := s.holder.Current()
	ids := make([]string, 0, len(base))
	for _, ev := range base {
		ids = append(ids, ev.ID)
	}
	sort.Strings(ids)

	enricher := enrich.New(cfg.DetailAPI.BaseURL, time.Duration(cfg.DetailAPI.TimeoutSeconds)*time.Second)
	details := enricher.Fetch(r.Context(), ids)

	return req.SessionID, enrich.Merge(base, details), true
}

func (s *Server) handleExportDocument(w http.ResponseWriter, r *http.Request) {
	_, batch, ok := s.decodeExport(w, r)
	if !ok || batch == nil {
		return
	}

	cfg := s.holder.Current()
	builder := ics.Builder{ProdID: cfg.Export.ProdID, UIDDomain: cfg.Export.UIDDomain}
	doc := deliver.Document{
		Filename: cfg.Export.Filename,
		MIME:     deliver.MIMECalendar,
		Content:  builder.Build(batch, time.Now()),
	}

	env := deliver.DetectEnvironment(r.UserAgent())
	appLog.Info("document export", "events", len(batch), "environment", env.String())

	port := &responsePort{w: w, doc: doc}
	dispatcher := deliver.NewDispatcher(port, time.Duration(cfg.Delivery.StaggerMs)*time.Millisecond)
	if err := dispatcher.DeliverDocument(r.Context(), env, doc); err != nil {
		// Headers are already out at this point; all we can do is log.
		appLog.Error("document delivery failed", err)
	}
}

// linksResponse is the JSON response shape for /api/export/links.
type linksResponse struct {
	Links     []string `json:"links"`
	StaggerMs int      `json:"stagger_ms"`
}

func (s *Server) handleExportLinks(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodDelete {
		s.cancelLinks(w, r)
		return
	}

	sid, batch, ok := s.decodeExport(w, r)
	if !ok || batch == nil {
		return
	}

	cfg := s.holder.Current()
	links := deeplink.Builder{BaseURL: cfg.Link.BaseURL}.BuildAll(batch)
	if len(links) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	// Kiosk installations open the links themselves through a local
	// headless browser; everyone else schedules the opens client-side from
	// the returned list.
	if cfg.Delivery.Mode == "browser" {
		port := &deliver.BrowserPort{DownloadDir: cfg.Delivery.DownloadDir}
		dispatcher := deliver.NewDispatcher(port, time.Duration(cfg.Delivery.StaggerMs)*time.Millisecond)

		// Detached from the request context: the staggered opens outlive
		// this response and are bounded by the batch handle instead.
		lb := dispatcher.DeliverLinks(context.Background(), links)
		s.replaceBatch(sid, lb)
	}

	writeJSON(w, http.StatusOK, linksResponse{Links: links, StaggerMs: cfg.Delivery.StaggerMs})
}

// cancelLinks handles DELETE /api/export/links?session_id=..., the view
// teardown signal. Pending opens for the session are stopped.
func (s *Server) cancelLinks(w http.ResponseWriter, r *http.Request) {
	sid := r.URL.Query().Get("session_id")
	if sid == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}
	s.replaceBatch(sid, nil)
	w.WriteHeader(http.StatusNoContent)
}

// replaceBatch cancels any pending batch for sid and installs the new one.
func (s *Server) replaceBatch(sid string, lb *deliver.LinkBatch) {
	if sid == "" {
		return
	}
	s.batchMu.Lock()
	prev := s.batches[sid]
	if lb == nil {
		delete(s.batches, sid)
	} else {
		s.batches[sid] = lb
	}
	s.batchMu.Unlock()

	if prev != nil {
		prev.Cancel()
	}
}

// responsePort delivers a document on the HTTP response itself. Download is
// the attachment handoff; OpenContext is the viewer handoff, realized by
// serving the document inline so a mobile OS hands it to the calendar app.
type responsePort struct {
	w   http.ResponseWriter
	doc deliver.Document
}

func (p *responsePort) Download(_ context.Context, doc deliver.Document) error {
	return p.serve(doc, `attachment; filename="`+doc.Filename+`"`)
}

// OpenContext ignores the data URI it is handed: over HTTP the viewer
// handoff collapses back onto serving the same document inline.
func (p *responsePort) OpenContext(context.Context, string) error {
	return p.serve(p.doc, "inline")
}

func (p *responsePort) serve(doc deliver.Document, disposition string) error {
	p.w.Header().Set("Content-Type", doc.MIME)
	p.w.Header().Set("Content-Disposition", disposition)
	p.w.WriteHeader(http.StatusOK)
	_, err := p.w.Write([]byte(doc.Content))
	return err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
