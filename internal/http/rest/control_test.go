package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/italolelis/yuque_exporter/internal/exporter"
	"github.com/italolelis/yuque_exporter/internal/storage"
	"github.com/italolelis/yuque_exporter/internal/transfer"
	"github.com/italolelis/yuque_exporter/internal/vault"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockVault struct {
	state    vault.State
	root     string
	saveErr  error
	cleared  bool
	saveRoot string
}

func (m *mockVault) State() vault.State { return m.state }
func (m *mockVault) Root() string       { return m.root }

func (m *mockVault) Save(_ context.Context, h vault.Handle) error {
	if m.saveErr != nil {
		return m.saveErr
	}

	m.saveRoot = h.Root()
	m.root = h.Root()
	m.state = vault.StateActive

	return nil
}

func (m *mockVault) Clear(context.Context) error {
	m.cleared = true
	m.root = ""
	m.state = vault.StateNotConfigured

	return nil
}

type mockExports struct {
	startFunc func(ctx context.Context, url string) (*exporter.Run, error)
	current   *exporter.Run
	lastURL   string
	ctxErr    error
}

func (m *mockExports) Start(ctx context.Context, url string) (*exporter.Run, error) {
	m.lastURL = url
	m.ctxErr = ctx.Err()

	if m.startFunc != nil {
		return m.startFunc(ctx, url)
	}

	return &exporter.Run{ID: "run-1", PageURL: url}, nil
}

func (m *mockExports) Current() *exporter.Run { return m.current }

type mockHistory struct {
	recs      []storage.ExportRecord
	lastLimit int
}

func (m *mockHistory) StartExport(context.Context, storage.ExportRecord) error  { return nil }
func (m *mockHistory) FinishExport(context.Context, storage.ExportRecord) error { return nil }

func (m *mockHistory) ListExports(_ context.Context, limit int) ([]storage.ExportRecord, error) {
	m.lastLimit = limit

	return m.recs, nil
}

type fixture struct {
	vault   *mockVault
	exports *mockExports
	history *mockHistory
	fs      afero.Fs
	handler http.Handler
}

func newFixture(t *testing.T, username string) *fixture {
	t.Helper()

	f := &fixture{
		vault:   &mockVault{state: vault.StateNotConfigured},
		exports: &mockExports{},
		history: &mockHistory{},
		fs:      afero.NewMemMapFs(),
	}

	require.NoError(t, f.fs.MkdirAll("/notes", 0o755))

	f.handler = NewControlHandler(username, "secret", f.vault, vault.FSOpener(f.fs, vault.StaticPrompter(true)),
		f.exports, f.history, nil).Routes()

	return f
}

func (f *fixture) do(method, path, body string, auth bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if auth {
		req.SetBasicAuth("admin", "secret")
	}

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	return rec
}

func TestBasicAuth(t *testing.T) {
	f := newFixture(t, "admin")

	tests := []struct {
		name   string
		setup  func(r *http.Request)
		status int
	}{
		{name: "missing credentials", setup: func(*http.Request) {}, status: http.StatusUnauthorized},
		{name: "wrong password", setup: func(r *http.Request) { r.SetBasicAuth("admin", "nope") }, status: http.StatusUnauthorized},
		{name: "valid", setup: func(r *http.Request) { r.SetBasicAuth("admin", "secret") }, status: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/vault", nil)
			tt.setup(req)

			rec := httptest.NewRecorder()
			f.handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestVaultEndpoints(t *testing.T) {
	f := newFixture(t, "")

	rec := f.do(http.MethodGet, "/vault", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"state":"not_configured"}`, rec.Body.String())

	rec = f.do(http.MethodPut, "/vault", `{"root":"/notes"}`, false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"state":"active","root":"/notes"}`, rec.Body.String())
	assert.Equal(t, "/notes", f.vault.saveRoot)

	rec = f.do(http.MethodPut, "/vault", `{"root":"/missing"}`, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "/missing")

	rec = f.do(http.MethodPut, "/vault", `{}`, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodDelete, "/vault", "", false)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, f.vault.cleared)
}

func TestPutVault_RejectsReadOnlyDirectory(t *testing.T) {
	f := newFixture(t, "")
	readOnly := vault.FSOpener(afero.NewReadOnlyFs(f.fs), vault.StaticPrompter(true))
	handler := NewControlHandler("", "", f.vault, readOnly, f.exports, f.history, nil).Routes()

	req := httptest.NewRequest(http.MethodPut, "/vault", strings.NewReader(`{"root":"/notes"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), vault.ErrPermissionDenied.Error())
	assert.Empty(t, f.vault.saveRoot)
	assert.Equal(t, vault.StateNotConfigured, f.vault.State())
}

func TestStartExport(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		f := newFixture(t, "")

		rec := f.do(http.MethodPost, "/exports", `{"url":"https://www.yuque.com/team/book/doc"}`, false)
		require.Equal(t, http.StatusAccepted, rec.Code)

		var view exporter.RunView
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
		assert.Equal(t, "run-1", view.ID)
		assert.Equal(t, "https://www.yuque.com/team/book/doc", f.exports.lastURL)
		assert.NoError(t, f.exports.ctxErr)
	})

	t.Run("busy", func(t *testing.T) {
		f := newFixture(t, "")
		f.exports.startFunc = func(context.Context, string) (*exporter.Run, error) {
			return nil, exporter.ErrAlreadyInProgress
		}

		rec := f.do(http.MethodPost, "/exports", `{"url":"https://www.yuque.com/doc"}`, false)
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.JSONEq(t, `{"error":"export already in progress"}`, rec.Body.String())
	})

	t.Run("invalid url", func(t *testing.T) {
		f := newFixture(t, "")

		for _, body := range []string{`{"url":""}`, `{"url":"ftp://x/y"}`, `not json`} {
			rec := f.do(http.MethodPost, "/exports", body, false)
			assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		}

		assert.Empty(t, f.exports.lastURL)
	})
}

func TestCurrentExport(t *testing.T) {
	f := newFixture(t, "")

	rec := f.do(http.MethodGet, "/exports/current", "", false)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	f.exports.current = &exporter.Run{ID: "run-9", PageURL: "https://www.yuque.com/doc"}

	rec = f.do(http.MethodGet, "/exports/current", "", false)
	require.Equal(t, http.StatusOK, rec.Code)

	var view exporter.RunView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "run-9", view.ID)
	assert.Nil(t, view.Result)
}

func TestListExports(t *testing.T) {
	f := newFixture(t, "")
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	f.history.recs = []storage.ExportRecord{
		{ID: "b", PageURL: "https://www.yuque.com/b", State: storage.ExportFailed, Stage: "awaiting_download", Error: "timeout", StartedAt: started},
		{ID: "a", PageURL: "https://www.yuque.com/a", Filename: "A.md", State: storage.ExportDone, Stage: "done", Assets: 2, Replaced: 2, StartedAt: started, FinishedAt: started.Add(time.Minute)},
	}

	rec := f.do(http.MethodGet, "/exports?limit=5", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, f.history.lastLimit)

	var entries []HistoryEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, "b", entries[0].ID)
	assert.Empty(t, entries[0].FinishedAt)
	assert.Equal(t, "2026-03-01T10:01:00Z", entries[1].FinishedAt)

	rec = f.do(http.MethodGet, "/exports?limit=abc", "", false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.do(http.MethodGet, "/exports?limit=100000", "", false)
	assert.Equal(t, maxHistoryLimit, f.history.lastLimit)

	f.do(http.MethodGet, "/exports", "", false)
	assert.Equal(t, defaultHistoryLimit, f.history.lastLimit)
}

func TestMetricsDisabled(t *testing.T) {
	f := newFixture(t, "admin")

	rec := f.do(http.MethodGet, "/metrics", "", false)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFormatError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{
			name:     "network error",
			err:      &transfer.NetworkError{Operation: "fetch_content", StatusCode: 503, APIMessage: "Service Unavailable"},
			expected: "fetch_content failed: Service Unavailable",
		},
		{
			name:     "authentication error",
			err:      &transfer.AuthenticationError{Operation: "fetch_content", StatusCode: 401},
			expected: "authentication failed",
		},
		{
			name:     "vault write error",
			err:      &exporter.StageError{State: exporter.StatePersistingAssets, Err: &vault.WriteError{Path: "videos/a.mp4", Op: "write", Err: errors.New("disk full")}},
			expected: "failed to write videos/a.mp4",
		},
		{
			name:     "generic error",
			err:      errors.New("something went wrong"),
			expected: "something went wrong",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatError(tt.err))
		})
	}
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusConflict, statusFor(exporter.ErrAlreadyInProgress))
	assert.Equal(t, http.StatusBadRequest, statusFor(vault.ErrNotFound))
	assert.Equal(t, http.StatusForbidden, statusFor(vault.ErrPermissionDenied))
	assert.Equal(t, http.StatusPreconditionFailed, statusFor(vault.ErrNotConfigured))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("x")))
}
