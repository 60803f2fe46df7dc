// Package httpapi exposes [reconcile.Service] over the reconciliation wire
// protocol: a batch reconcile endpoint, properties
// listing, preview/flyout, suggest (entity/type/property), and service
// metadata. It is a thin JSON-in/JSON-out transport — all retrieval logic
// lives in pkg/reconcile and below; this package only decodes requests,
// dispatches to the service, and encodes responses in the shapes external
// spreadsheet/cleanup tools expect.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"github.com/humlab-sead/sead-reconciler/internal/observe"
	"github.com/humlab-sead/sead-reconciler/pkg/reconcile"
	"github.com/humlab-sead/sead-reconciler/pkg/strategy"
)

// Server wraps a [reconcile.Service] with a chi router implementing the
// reconciliation wire protocol.
type Server struct {
	svc     *reconcile.Service
	metrics *observe.Metrics
	router  chi.Router
}

// Config holds the transport-level settings not owned by reconcile.Service.
type Config struct {
	// CORSOrigins lists allowed Origin header values. A single "*" allows
	// any origin.
	CORSOrigins []string
}

// New builds a [Server] around svc. metrics may be nil, in which case
// request-duration instrumentation is skipped.
func New(svc *reconcile.Service, metrics *observe.Metrics, cfg Config) *Server {
	s := &Server{svc: svc, metrics: metrics}
	s.router = s.buildRouter(cfg)
	return s
}

// ServeHTTP implements [http.Handler].
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) buildRouter(cfg Config) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestID)
	if s.metrics != nil {
		r.Use(observe.Middleware(s.metrics))
	}

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/reconcile", s.handleRoot)
	r.Post("/reconcile", s.handleReconcile)
	r.Get("/properties", s.handleProperties)
	r.Get("/preview", s.handlePreview)
	r.Get("/flyout", s.handleFlyout)
	r.Get("/suggest/entity", s.handleSuggestEntity)
	r.Get("/suggest/type", s.handleSuggestType)
	r.Get("/suggest/property", s.handleSuggestProperty)
	return r
}

// requestID ensures every request carries an X-Request-ID header for log
// correlation, minting a fresh one when the client did not supply it.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
			r.Header.Set("X-Request-ID", id)
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// handleRoot returns service metadata for every GET /reconcile; query
// parameters are not read — the reconciliation protocol's convention for the
// root endpoint, so existing clients can discover the service without a
// dedicated metadata path.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, metadataToWire(s.svc.Metadata()))
}

// ─── Reconcile ───────────────────────────────────────────────────────────────

// wireQuery is one sub-query of a batch reconcile request.
type wireQuery struct {
	Query      string         `json:"query"`
	Type       string         `json:"type,omitempty"`
	Limit      int            `json:"limit,omitempty"`
	Mode       string         `json:"mode,omitempty"`
	Properties []wireProperty `json:"properties,omitempty"`
}

type wireProperty struct {
	PID string `json:"pid"`
	V   any    `json:"v"`
}

type wireBatchRequest struct {
	Queries map[string]wireQuery `json:"queries"`
}

type wireCandidate struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Score    float64         `json:"score"`
	Match    bool            `json:"match"`
	Type     []wireEntityRef `json:"type"`
	Metadata map[string]any  `json:"metadata,omitempty"`
}

type wireEntityRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type wireResult struct {
	Result []wireCandidate `json:"result"`
	Error  string          `json:"error,omitempty"`
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	req, err := decodeBatch(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	batch := reconcile.NewBatchRequest()
	// Deterministic iteration isn't required here — BatchRequest preserves
	// each key's first-seen insertion order, and Go map iteration order
	// never corresponds to a caller's intended order anyway; clients that
	// care about key order send them as distinct keys, not positionally.
	for key, q := range req.Queries {
		batch.Add(key, toServiceQuery(q))
	}

	result := s.svc.Reconcile(r.Context(), batch)
	out := make(map[string]wireResult, len(result.Keys))
	for _, key := range result.Keys {
		wr := wireResult{Result: toWireCandidates(result.Results[key].Candidates)}
		if errv, ok := result.Errors[key]; ok {
			wr.Error = errv.Error()
		}
		out[key] = wr
	}
	writeJSON(w, http.StatusOK, out)
}

func toServiceQuery(q wireQuery) reconcile.Query {
	props := make(map[string]any, len(q.Properties))
	for _, p := range q.Properties {
		props[p.PID] = p.V
	}
	return reconcile.Query{
		MentionText: q.Query,
		EntityType:  q.Type,
		Limit:       q.Limit,
		Mode:        q.Mode,
		Properties:  props,
	}
}

func toWireCandidates(cs []reconcile.Candidate) []wireCandidate {
	out := make([]wireCandidate, len(cs))
	for i, c := range cs {
		types := make([]wireEntityRef, len(c.Type))
		for j, t := range c.Type {
			types[j] = wireEntityRef{ID: t.ID, Name: t.Name}
		}
		out[i] = wireCandidate{
			ID:       c.ID,
			Name:     c.Name,
			Score:    c.Score,
			Match:    c.Match,
			Type:     types,
			Metadata: c.Metadata,
		}
	}
	if out == nil {
		out = []wireCandidate{}
	}
	return out
}

// ─── Properties ──────────────────────────────────────────────────────────────

func (s *Server) handleProperties(w http.ResponseWriter, r *http.Request) {
	entityType := r.URL.Query().Get("type")
	query := r.URL.Query().Get("query")
	props, err := s.svc.GetProperties(entityType, query)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"properties": propertiesToWire(props)})
}

func propertiesToWire(props []strategy.PropertyDescriptor) []map[string]any {
	out := make([]map[string]any, len(props))
	for i, p := range props {
		out[i] = map[string]any{
			"id":          p.ID,
			"name":        p.Name,
			"type":        string(p.Type),
			"description": p.Description,
		}
	}
	return out
}

// ─── Preview / Flyout ────────────────────────────────────────────────────────

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	preview, err := s.svc.Preview(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, previewToWire(preview))
}

func (s *Server) handleFlyout(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	preview, err := s.svc.Flyout(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	body := previewToWire(preview)
	body["html"] = flyoutHTML(preview)
	writeJSON(w, http.StatusOK, body)
}

func previewToWire(p *strategy.Preview) map[string]any {
	out := map[string]any{
		"label":       p.Label,
		"description": p.Description,
		"type":        p.Type,
	}
	if len(p.Extras) > 0 {
		out["extras"] = p.Extras
	}
	return out
}

// flyoutHTML renders a minimal inline-preview fragment for OpenRefine-style
// clients that expect the flyout payload to carry renderable HTML alongside
// the structured fields.
func flyoutHTML(p *strategy.Preview) string {
	return "<div><h3>" + p.Label + "</h3><p>" + p.Description + "</p></div>"
}

// ─── Suggest ─────────────────────────────────────────────────────────────────

func (s *Server) handleSuggestEntity(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	entityType := r.URL.Query().Get("type")
	candidates, err := s.svc.SuggestEntity(r.Context(), prefix, entityType)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": toWireCandidates(candidates)})
}

func (s *Server) handleSuggestType(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	types := s.svc.SuggestType(prefix)
	out := make([]map[string]any, len(types))
	for i, t := range types {
		out[i] = map[string]any{"id": t.ID, "name": t.Name}
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": out})
}

func (s *Server) handleSuggestProperty(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	entityType := r.URL.Query().Get("type")
	props, err := s.svc.SuggestProperty(prefix, entityType)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": propertiesToWire(props)})
}

// ─── Metadata ────────────────────────────────────────────────────────────────

func metadataToWire(m reconcile.Metadata) map[string]any {
	types := make([]map[string]any, len(m.EntityTypes))
	for i, t := range m.EntityTypes {
		types[i] = map[string]any{"id": t.ID, "name": t.Name}
	}
	width := m.Manifest.PreviewWidth
	if width == 0 {
		width = 400
	}
	height := m.Manifest.PreviewHeight
	if height == 0 {
		height = 300
	}
	return map[string]any{
		"name":             m.Manifest.Name,
		"identifierSpace":  m.Manifest.IdentifierSpace,
		"schemaSpace":      m.Manifest.SchemaSpace,
		"defaultTypes":     types,
		"view":             map[string]string{"url": m.Manifest.ViewURLTemplate},
		"preview": map[string]any{
			"url":    m.Manifest.PreviewURLTemplate,
			"width":  width,
			"height": height,
		},
		"suggest": map[string]any{
			"entity":   map[string]string{"service_url": m.Manifest.SuggestEntityURL},
			"type":     map[string]string{"service_url": m.Manifest.SuggestTypeURL},
			"property": map[string]string{"service_url": m.Manifest.SuggestPropertyURL},
		},
	}
}

// ─── Wire helpers ────────────────────────────────────────────────────────────

func decodeBatch(r *http.Request) (wireBatchRequest, error) {
	// A batch request may arrive either as a JSON body wrapped in a
	// {"queries": ...} object, or, per the reconciliation protocol's common
	// form-encoded convention, as a single "queries" form value holding the
	// bare key-to-query mapping.
	var req wireBatchRequest
	if r.Header.Get("Content-Type") == "application/x-www-form-urlencoded" {
		if err := r.ParseForm(); err != nil {
			return req, err
		}
		raw := r.PostForm.Get("queries")
		if raw == "" {
			return req, errors.New("missing queries parameter")
		}
		return req, json.Unmarshal([]byte(raw), &req.Queries)
	}
	return req, json.NewDecoder(r.Body).Decode(&req)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeServiceError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch reconcile.KindOf(err) {
	case reconcile.KindInvalidQuery:
		status = http.StatusBadRequest
	case reconcile.KindUnknownEntityType:
		status = http.StatusBadRequest
	case reconcile.KindNotFound:
		status = http.StatusNotFound
	case reconcile.KindMalformedID:
		status = http.StatusBadRequest
	case reconcile.KindOverloaded:
		status = http.StatusServiceUnavailable
	}
	writeError(w, status, err.Error())
}
