package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/yuque_exporter/internal/exporter"
	"github.com/italolelis/yuque_exporter/internal/logctx"
	"github.com/italolelis/yuque_exporter/internal/storage"
	"github.com/italolelis/yuque_exporter/internal/telemetry"
	"github.com/italolelis/yuque_exporter/internal/transfer"
	"github.com/italolelis/yuque_exporter/internal/vault"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
	maxBodySize         = 64 << 10
)

// VaultService is the part of vault.Store the API drives.
type VaultService interface {
	State() vault.State
	Root() string
	Save(ctx context.Context, h vault.Handle) error
	Clear(ctx context.Context) error
}

// ExportService starts export runs.
type ExportService interface {
	Start(ctx context.Context, pageURL string) (*exporter.Run, error)
	Current() *exporter.Run
}

type VaultStatus struct {
	State vault.State `json:"state"`
	Root  string      `json:"root,omitempty"`
}

type VaultRequest struct {
	Root string `json:"root"`
}

type ExportRequest struct {
	URL string `json:"url"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type HistoryEntry struct {
	ID         string `json:"id"`
	PageURL    string `json:"page_url"`
	Filename   string `json:"filename,omitempty"`
	State      string `json:"state"`
	Stage      string `json:"stage"`
	Error      string `json:"error,omitempty"`
	Assets     int    `json:"assets"`
	Replaced   int    `json:"replaced"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at,omitempty"`
}

// ControlHandler exposes vault configuration and export runs over HTTP.
type ControlHandler struct {
	username  string
	password  string
	vault     VaultService
	open      vault.Opener
	exports   ExportService
	history   storage.ExportRepository
	telemetry *telemetry.Telemetry
}

// NewControlHandler creates the control API. Basic auth is enforced when a username is set.
func NewControlHandler(
	username, password string,
	v VaultService,
	open vault.Opener,
	exports ExportService,
	history storage.ExportRepository,
	t *telemetry.Telemetry,
) *ControlHandler {
	return &ControlHandler{
		username:  username,
		password:  password,
		vault:     v,
		open:      open,
		exports:   exports,
		history:   history,
		telemetry: t,
	}
}

func (h *ControlHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(telemetry.RequestID, telemetry.HTTPLogging, telemetry.NewHTTPMiddleware(h.telemetry).Middleware)

	r.Handle("/metrics", h.telemetry.Handler())

	r.Group(func(r chi.Router) {
		if h.username != "" {
			r.Use(h.basicAuthMiddleware)
		}

		r.Get("/vault", h.HandleGetVault)
		r.Put("/vault", h.HandlePutVault)
		r.Delete("/vault", h.HandleDeleteVault)

		r.Post("/exports", h.HandleStartExport)
		r.Get("/exports", h.HandleListExports)
		r.Get("/exports/current", h.HandleCurrentExport)
	})

	return r
}

func (h *ControlHandler) HandleGetVault(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, http.StatusOK, VaultStatus{State: h.vault.State(), Root: h.vault.Root()})
}

// HandlePutVault replaces the configured vault with the given directory once
// write permission is granted.
func (h *ControlHandler) HandlePutVault(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req VaultRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil || req.Root == "" {
		writeError(ctx, w, http.StatusBadRequest, errors.New("body must be {\"root\": \"<directory>\"}"))

		return
	}

	handle, err := h.open(req.Root)
	if err != nil {
		writeError(ctx, w, http.StatusBadRequest, err)

		return
	}

	perm, err := handle.RequestPermission(ctx)
	if err != nil {
		writeError(ctx, w, statusFor(err), err)

		return
	}

	if perm != vault.PermissionGranted {
		writeError(ctx, w, http.StatusForbidden, fmt.Errorf("%s: %w", req.Root, vault.ErrPermissionDenied))

		return
	}

	if err := h.vault.Save(ctx, handle); err != nil {
		writeError(ctx, w, http.StatusInternalServerError, err)

		return
	}

	writeJSON(ctx, w, http.StatusOK, VaultStatus{State: h.vault.State(), Root: h.vault.Root()})
}

func (h *ControlHandler) HandleDeleteVault(w http.ResponseWriter, r *http.Request) {
	if err := h.vault.Clear(r.Context()); err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleStartExport starts a run and returns at once; progress is polled on /exports/current.
func (h *ControlHandler) HandleStartExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logctx.LoggerFromContext(ctx)

	var req ExportRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		writeError(ctx, w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))

		return
	}

	if u, err := url.Parse(req.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		writeError(ctx, w, http.StatusBadRequest, fmt.Errorf("invalid document url %q", req.URL))

		return
	}

	// The run outlives the request.
	run, err := h.exports.Start(context.WithoutCancel(ctx), req.URL)
	if err != nil {
		logger.WarnContext(ctx, "export not started", "err", err)
		writeError(ctx, w, statusFor(err), err)

		return
	}

	writeJSON(ctx, w, http.StatusAccepted, run.View())
}

func (h *ControlHandler) HandleCurrentExport(w http.ResponseWriter, r *http.Request) {
	run := h.exports.Current()
	if run == nil {
		writeError(r.Context(), w, http.StatusNotFound, errors.New("no export has run yet"))

		return
	}

	writeJSON(r.Context(), w, http.StatusOK, run.View())
}

func (h *ControlHandler) HandleListExports(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := defaultHistoryLimit

	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(ctx, w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw))

			return
		}

		limit = min(n, maxHistoryLimit)
	}

	recs, err := h.history.ListExports(ctx, limit)
	if err != nil {
		writeError(ctx, w, http.StatusInternalServerError, err)

		return
	}

	entries := make([]HistoryEntry, 0, len(recs))
	for _, rec := range recs {
		entries = append(entries, newHistoryEntry(rec))
	}

	writeJSON(ctx, w, http.StatusOK, entries)
}

func newHistoryEntry(rec storage.ExportRecord) HistoryEntry {
	e := HistoryEntry{
		ID:        rec.ID,
		PageURL:   rec.PageURL,
		Filename:  rec.Filename,
		State:     rec.State,
		Stage:     rec.Stage,
		Error:     rec.Error,
		Assets:    rec.Assets,
		Replaced:  rec.Replaced,
		StartedAt: rec.StartedAt.UTC().Format(time.RFC3339),
	}

	if !rec.FinishedAt.IsZero() {
		e.FinishedAt = rec.FinishedAt.UTC().Format(time.RFC3339)
	}

	return e
}

func (h *ControlHandler) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			http.Error(w, "invalid authorization format", http.StatusUnauthorized)

			return
		}

		if username != h.username || password != h.password {
			http.Error(w, "invalid username or password", http.StatusUnauthorized)

			return
		}

		next.ServeHTTP(w, r)
	})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, exporter.ErrAlreadyInProgress):
		return http.StatusConflict
	case errors.Is(err, vault.ErrNotFound), errors.Is(err, vault.ErrInvalidHandle):
		return http.StatusBadRequest
	case errors.Is(err, vault.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, vault.ErrNotConfigured):
		return http.StatusPreconditionFailed
	default:
		return http.StatusInternalServerError
	}
}

// formatError converts internal errors to messages safe to show API clients.
func formatError(err error) string {
	var networkErr *transfer.NetworkError
	if errors.As(err, &networkErr) {
		return fmt.Sprintf("%s failed: %s", networkErr.Operation, networkErr.APIMessage)
	}

	var authErr *transfer.AuthenticationError
	if errors.As(err, &authErr) {
		return "authentication failed"
	}

	var writeErr *vault.WriteError
	if errors.As(err, &writeErr) {
		return fmt.Sprintf("failed to write %s", writeErr.Path)
	}

	return err.Error()
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logctx.LoggerFromContext(ctx).ErrorContext(ctx, "failed to encode response", "err", err)
	}
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, err error) {
	writeJSON(ctx, w, status, ErrorResponse{Error: formatError(err)})
}
