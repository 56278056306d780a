// Package inspect serves a small HTTP surface for looking at the reference
// registry and the persisted container records.
package inspect

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	datastore "github.com/goliatone/go-datastore"
	"github.com/goliatone/go-datastore/pkg/errdefs"
	"github.com/goliatone/go-datastore/pkg/registry"
	"github.com/goliatone/go-datastore/pkg/state"
	"github.com/goliatone/go-datastore/schema/openapi"
)

// maxRecordBytes bounds PUT bodies.
const maxRecordBytes = 4 << 20

// Deps contains the handler dependencies. Nil members disable their routes.
type Deps struct {
	Registry    *registry.Registry
	Repository  *state.Repository
	Metrics     http.Handler
	MetricsPath string
	Logger      zerolog.Logger
}

// Handler serves the inspection API.
type Handler struct {
	registry    *registry.Registry
	repository  *state.Repository
	metrics     http.Handler
	metricsPath string
	logger      zerolog.Logger
	schema      datastore.SchemaGenerator
}

// NewHandler creates an inspection handler.
func NewHandler(deps Deps) *Handler {
	metricsPath := deps.MetricsPath
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	return &Handler{
		registry:    deps.Registry,
		repository:  deps.Repository,
		metrics:     deps.Metrics,
		metricsPath: metricsPath,
		logger:      deps.Logger,
		schema:      openapi.NewGenerator(),
	}
}

// Router returns the inspection router.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if h.registry != nil {
		r.Route("/registry", func(r chi.Router) {
			r.Get("/", h.ListEntries)
			// Keys may contain slashes.
			r.Get("/*", h.GetEntry)
			r.Delete("/*", h.RemoveEntry)
		})
	}

	if h.repository != nil {
		r.Route("/containers/{domain}/{name}", func(r chi.Router) {
			r.Get("/", h.GetContainer)
			r.Put("/", h.PutContainer)
			r.Get("/schema", h.GetSchema)
		})
	}

	if h.metrics != nil {
		r.Handle(h.metricsPath, h.metrics)
	}
	return r
}

// EntryResponse describes one registry entry.
type EntryResponse struct {
	Key      string `json:"key"`
	TypeName string `json:"type_name,omitempty"`
}

// ListEntries returns the registry keys.
func (h *Handler) ListEntries(w http.ResponseWriter, _ *http.Request) {
	keys := h.registry.Keys()
	writeJSON(w, http.StatusOK, map[string]any{
		"keys":  keys,
		"total": len(keys),
	})
}

// GetEntry reports whether a key is registered and the type of its handle.
func (h *Handler) GetEntry(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	handle, err := h.registry.GetObject(key)
	if err != nil {
		writeFailure(w, err)
		return
	}
	if handle == nil {
		writeError(w, http.StatusNotFound, "not_found", "registry key not found")
		return
	}
	writeJSON(w, http.StatusOK, EntryResponse{
		Key:      key,
		TypeName: reflect.TypeOf(handle).String(),
	})
}

// RemoveEntry removes a key from the registry.
func (h *Handler) RemoveEntry(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	if !h.registry.RemoveObject(key) {
		writeError(w, http.StatusNotFound, "not_found", "registry key not found")
		return
	}
	h.logger.Info().Str("key", key).Msg("registry entry removed")
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

// GetContainer returns the stored record of a container.
func (h *Handler) GetContainer(w http.ResponseWriter, r *http.Request) {
	c, meta, ok := h.loadContainer(w, r)
	if !ok {
		return
	}
	if meta.ETag != "" {
		w.Header().Set("ETag", quoteETag(meta.ETag))
	}
	writeJSON(w, http.StatusOK, c.Record())
}

// PutContainer replaces the stored record of a container. When If-Match is
// present it must carry the current ETag or the write fails with 409;
// without it the record is created or overwritten unconditionally. Bodies
// larger than maxRecordBytes are rejected with 413.
func (h *Handler) PutContainer(w http.ResponseWriter, r *http.Request) {
	ref := refFromRequest(r)
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRecordBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "body_too_large",
				fmt.Sprintf("record body exceeds %d bytes", tooLarge.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	c, err := datastore.FromJSON(body, datastore.WithName(ref.Name))
	if err != nil {
		writeFailure(w, err)
		return
	}

	meta := state.Meta{ETag: unquoteETag(r.Header.Get("If-Match"))}
	saved, err := h.repository.Save(r.Context(), ref, c, meta)
	if err != nil {
		writeFailure(w, err)
		return
	}
	h.logger.Info().Str("ref", ref.String()).Str("etag", saved.ETag).Msg("container stored")
	w.Header().Set("ETag", quoteETag(saved.ETag))
	w.WriteHeader(http.StatusNoContent)
}

// GetSchema returns the OpenAPI document of a stored container.
func (h *Handler) GetSchema(w http.ResponseWriter, r *http.Request) {
	c, _, ok := h.loadContainer(w, r)
	if !ok {
		return
	}
	doc, err := h.schema.Generate(c.Snapshot())
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc.Document)
}

func (h *Handler) loadContainer(w http.ResponseWriter, r *http.Request) (*datastore.Container, state.Meta, bool) {
	c, meta, err := h.repository.Load(r.Context(), refFromRequest(r))
	if err != nil {
		writeFailure(w, err)
		return nil, state.Meta{}, false
	}
	return c, meta, true
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("inspect request")
	})
}

func refFromRequest(r *http.Request) state.Ref {
	return state.Ref{
		Domain: chi.URLParam(r, "domain"),
		Name:   chi.URLParam(r, "name"),
	}
}

func quoteETag(etag string) string {
	return `"` + etag + `"`
}

func unquoteETag(value string) string {
	value = strings.TrimSpace(value)
	value = strings.TrimPrefix(value, "W/")
	return strings.Trim(value, `"`)
}

func writeFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, state.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, state.ErrETagMismatch):
		writeError(w, http.StatusConflict, "etag_mismatch", err.Error())
	case errors.Is(err, errdefs.ErrInvalidArgument), errors.Is(err, errdefs.ErrTypeMismatch):
		writeError(w, http.StatusBadRequest, "invalid_argument", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}
