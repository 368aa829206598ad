// Package handler implements the read-mostly HTTP API over the fusion
// service: graph snapshots, host detail, conflicts, remote dump ingestion,
// and the SSE change feed mounted from the hub.
package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"netfuse/internal/domain"
	"netfuse/internal/parser"
	"netfuse/internal/service"
)

// maxDumpBytes caps the request body on POST /api/dumps. Real dumps are a
// few KB; anything beyond this is not a routing table.
const maxDumpBytes = 4 << 20

// APIHandler handles API requests.
type APIHandler struct {
	svc  *service.Service
	pool *service.Pool
}

// NewAPIHandler creates a new API handler.
func NewAPIHandler(svc *service.Service) *APIHandler {
	return &APIHandler{svc: svc}
}

// SetPool attaches a worker pool; when present, POST /api/dumps with
// async=true queues the batch instead of ingesting inline.
func (h *APIHandler) SetPool(p *service.Pool) {
	h.pool = p
}

// ErrorResponse is the JSON error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// GetGraph returns a graph snapshot filtered by query parameters.
func (h *APIHandler) GetGraph(w http.ResponseWriter, r *http.Request) {
	filter, err := parseGraphFilter(r)
	if err != nil {
		h.writeError(w, "Invalid filter", err.Error(), http.StatusBadRequest)
		return
	}

	graph, err := h.svc.GetGraph(r.Context(), filter)
	if err != nil {
		log.Printf("Failed to get graph: %v", err)
		h.writeError(w, "Failed to get graph", err.Error(), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, graph, http.StatusOK)
}

// GetHost returns one host with its interfaces and incident links. The path
// value may be a host id or a label.
func (h *APIHandler) GetHost(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, "Invalid host ID", "Host ID is required", http.StatusBadRequest)
		return
	}

	view, err := h.svc.DescribeHost(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			h.writeError(w, "Not found", id, http.StatusNotFound)
			return
		}
		log.Printf("Failed to get host: %v", err)
		h.writeError(w, "Failed to get host", err.Error(), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, view, http.StatusOK)
}

// GetConflicts returns all identity conflict annotations.
func (h *APIHandler) GetConflicts(w http.ResponseWriter, r *http.Request) {
	conflicts, err := h.svc.Conflicts(r.Context())
	if err != nil {
		log.Printf("Failed to list conflicts: %v", err)
		h.writeError(w, "Failed to list conflicts", err.Error(), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, conflicts, http.StatusOK)
}

// DumpResponse acknowledges an asynchronously queued dump.
type DumpResponse struct {
	Queued  bool   `json:"queued"`
	Source  string `json:"source"`
	Records int    `json:"records"`
}

// PostDump ingests a raw dump body. Query parameters: source (required),
// type and os (guessed from the body when omitted), trust=high, dry_run,
// async. Synchronous requests return the full MergeReport.
func (h *APIHandler) PostDump(w http.ResponseWriter, r *http.Request) {
	source := r.URL.Query().Get("source")
	if source == "" {
		h.writeError(w, "Missing source", "source query parameter is required", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxDumpBytes))
	if err != nil {
		h.writeError(w, "Failed to read body", err.Error(), http.StatusBadRequest)
		return
	}
	if len(body) == 0 {
		h.writeError(w, "Empty dump", "request body is empty", http.StatusBadRequest)
		return
	}

	records, err := parseDump(body, r.URL.Query().Get("type"), r.URL.Query().Get("os"))
	if err != nil {
		h.writeError(w, "Unparsable dump", err.Error(), http.StatusBadRequest)
		return
	}

	opts := domain.IngestOptions{
		DryRun: r.URL.Query().Get("dry_run") == "true",
	}
	if r.URL.Query().Get("trust") == "high" {
		opts.Trust = domain.TrustHigh
	}

	if h.pool != nil && !opts.DryRun && r.URL.Query().Get("async") == "true" {
		if !h.pool.Submit(service.IngestJob{SourceHost: source, Records: records, Options: opts}) {
			h.writeError(w, "Ingest queue full", "retry later", http.StatusServiceUnavailable)
			return
		}
		h.writeJSON(w, DumpResponse{Queued: true, Source: source, Records: len(records)}, http.StatusAccepted)
		return
	}

	report, err := h.svc.Ingest(r.Context(), source, records, opts)
	if err != nil {
		log.Printf("Failed to ingest dump from %s: %v", source, err)
		h.writeError(w, "Failed to ingest dump", err.Error(), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, report, http.StatusOK)
}

// Healthz reports liveness.
func (h *APIHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}

// parseDump resolves the parser from explicit hints or the guess table and
// runs it over the body.
func parseDump(body []byte, dumpType, osName string) ([]domain.RawRecord, error) {
	if dumpType == "" || osName == "" {
		guessedType, guessedOS, err := parser.Guess(bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		if dumpType == "" {
			dumpType = guessedType
		}
		if osName == "" {
			osName = guessedOS
		}
	}
	parse, ok := parser.Lookup(dumpType, osName)
	if !ok {
		return nil, &UnsupportedFormatError{DumpType: dumpType, OS: osName}
	}
	return parse(bytes.NewReader(body))
}

// UnsupportedFormatError reports a (type, os) pair with no parser.
type UnsupportedFormatError struct {
	DumpType string
	OS       string
}

func (e *UnsupportedFormatError) Error() string {
	return "no parser for type " + e.DumpType + " on os " + e.OS
}

func parseGraphFilter(r *http.Request) (domain.GraphFilter, error) {
	var filter domain.GraphFilter
	q := r.URL.Query()

	if v := q.Get("include_stale"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return filter, err
		}
		filter.IncludeStale = b
	}
	if v := q.Get("include_merged"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return filter, err
		}
		filter.IncludeMerged = b
	}
	if v := q.Get("min_confidence"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return filter, err
		}
		filter.MinConfidence = f
	}
	return filter, nil
}

func (h *APIHandler) writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Failed to encode JSON: %v", err)
	}
}

func (h *APIHandler) writeError(w http.ResponseWriter, error, details string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Details: details,
	}); err != nil {
		log.Printf("Failed to encode error response: %v", err)
	}
}
