package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"secret.vault/internal/generator"
	"secret.vault/internal/metrics"
	"secret.vault/internal/models"
	"secret.vault/internal/secrets"
	"secret.vault/internal/store"
)

type Handler struct {
	secrets   *secrets.Service
	store     store.Store
	generator *generator.Generator
	metrics   *metrics.Collector
	log       *slog.Logger
}

func NewHandler(svc *secrets.Service, st store.Store, m *metrics.Collector, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		secrets:   svc,
		store:     st,
		generator: generator.New(nil),
		metrics:   m,
		log:       log,
	}
}

type ErrorResponse struct {
	Detail string `json:"detail"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		h.log.Warn("store not ready", "err", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (h *Handler) CreateSecret(w http.ResponseWriter, r *http.Request) {
	var req models.CreateRequest
	if !h.decodeBody(w, r, "create", &req, false) {
		return
	}

	resp, err := h.secrets.Create(r.Context(), req)
	if err != nil {
		h.handleError(w, r, "create", err)
		return
	}

	h.record("create", "ok")
	h.log.Info("secret created",
		"id", resp.ID,
		"method", resp.ExpirationMethod,
		"expires_in", resp.ExpiresIn,
		"request_id", requestID(r),
	)
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) GetMetadata(w http.ResponseWriter, r *http.Request) {
	meta, err := h.secrets.Metadata(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleError(w, r, "metadata", err)
		return
	}

	h.record("metadata", "ok")
	writeJSON(w, http.StatusOK, meta)
}

func (h *Handler) UnlockSecret(w http.ResponseWriter, r *http.Request) {
	var req models.UnlockRequest
	if !h.decodeBody(w, r, "unlock", &req, true) {
		return
	}

	id := chi.URLParam(r, "id")
	resp, err := h.secrets.Unlock(r.Context(), id, req.Passphrase)
	if err != nil {
		h.handleError(w, r, "unlock", err)
		return
	}

	h.record("unlock", "ok")
	h.log.Info("secret unlocked", "id", id, "request_id", requestID(r))
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) GeneratePassword(w http.ResponseWriter, r *http.Request) {
	password, err := h.generator.Generate(r.URL.Query().Get("pattern"))
	if err != nil {
		h.handleError(w, r, "generate", err)
		return
	}

	h.record("generate", "ok")
	writeJSON(w, http.StatusOK, models.GeneratorResponse{Password: password})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *Handler) error(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Detail: message})
}

// handleError maps core errors onto responses. Not-found is reported the same
// way whatever the cause.
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var (
		verr *secrets.ValidationError
		perr *generator.PatternError
	)
	switch {
	case errors.As(err, &verr):
		h.record(op, "invalid")
		h.error(w, http.StatusUnprocessableEntity, verr.Error())
	case errors.As(err, &perr):
		h.record(op, "invalid_pattern")
		h.error(w, http.StatusBadRequest, perr.Error())
	case errors.Is(err, secrets.ErrSanitization):
		h.record(op, "forbidden_content")
		h.error(w, http.StatusBadRequest, "Input contains forbidden content")
	case errors.Is(err, secrets.ErrNotFound):
		h.record(op, "not_found")
		h.error(w, http.StatusNotFound, "Secret not found")
	case errors.Is(err, secrets.ErrInvalidPassphrase):
		h.record(op, "invalid_passphrase")
		h.error(w, http.StatusBadRequest, "Invalid passphrase")
	default:
		h.record(op, "error")
		h.log.Error("request failed", "op", op, "err", err, "request_id", requestID(r))
		h.error(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handler) record(op, outcome string) {
	if h.metrics != nil {
		h.metrics.RecordOperation(op, outcome)
	}
}

func requestID(r *http.Request) string {
	return middleware.GetReqID(r.Context())
}

// decodeBody writes the error response itself and reports whether decoding
// succeeded. An empty body is accepted when allowEmpty is set.
func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, op string, dst any, allowEmpty bool) bool {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || (allowEmpty && errors.Is(err, io.EOF)) {
		return true
	}

	h.record(op, "bad_request")
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		h.error(w, http.StatusRequestEntityTooLarge, "request body too large")
		return false
	}
	h.error(w, http.StatusBadRequest, "invalid request body")
	return false
}
