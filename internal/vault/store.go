// Package vault manages the user-granted directory that exports are written into.
package vault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/italolelis/yuque_exporter/internal/logctx"
	"github.com/italolelis/yuque_exporter/internal/storage"
	"github.com/italolelis/yuque_exporter/internal/telemetry"
)

// CapabilityKey is the fixed key the vault record is stored under.
const CapabilityKey = "yuque_vault_handle"

// State describes whether a vault can currently be written to.
type State string

const (
	StateNotConfigured State = "not_configured"
	StateActive        State = "active"
	StateNeedsRegrant  State = "needs_regrant"
)

// Option configures a Store.
type Option func(*Store)

// WithStateListener registers fn to be called after every state change.
func WithStateListener(fn func(State)) Option {
	return func(s *Store) { s.listener = fn }
}

// WithTelemetry records vault writes.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(s *Store) { s.telemetry = tel }
}

// Store owns the persisted vault capability and the in-memory active handle.
type Store struct {
	repo      storage.CapabilityRepository
	open      Opener
	listener  func(State)
	telemetry *telemetry.Telemetry
	now       func() time.Time

	mu      sync.Mutex
	active  Handle
	pending Handle
}

func NewStore(repo storage.CapabilityRepository, open Opener, opts ...Option) *Store {
	s := &Store{repo: repo, open: open, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// State reports the current vault state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.stateLocked()
}

func (s *Store) stateLocked() State {
	switch {
	case s.active != nil:
		return StateActive
	case s.pending != nil:
		return StateNeedsRegrant
	default:
		return StateNotConfigured
	}
}

// Root returns the root of the active or pending handle, or "".
func (s *Store) Root() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.active != nil:
		return s.active.Root()
	case s.pending != nil:
		return s.pending.Root()
	default:
		return ""
	}
}

func (s *Store) set(active, pending Handle) {
	s.mu.Lock()
	s.active, s.pending = active, pending
	state := s.stateLocked()
	s.mu.Unlock()

	if s.listener != nil {
		s.listener(state)
	}
}

// Save persists h, overwriting any previous record, and makes it the active handle.
func (s *Store) Save(ctx context.Context, h Handle) error {
	rec := storage.CapabilityRecord{Key: CapabilityKey, Root: h.Root(), SavedAt: s.now()}
	if err := s.repo.PutCapability(ctx, rec); err != nil {
		return fmt.Errorf("failed to save vault: %w", err)
	}

	s.set(h, nil)
	logctx.LoggerFromContext(ctx).InfoContext(ctx, "vault saved", "root", h.Root())

	return nil
}

// Load restores the persisted handle. A granted handle becomes active; any
// other permission leaves it pending re-grant with the record kept. A handle
// that can no longer be opened or queried is purged.
func (s *Store) Load(ctx context.Context) (State, error) {
	logger := logctx.LoggerFromContext(ctx)

	rec, err := s.repo.GetCapability(ctx, CapabilityKey)
	if errors.Is(err, storage.ErrNotFound) {
		s.set(nil, nil)

		return StateNotConfigured, nil
	}

	if err != nil {
		return "", fmt.Errorf("failed to load vault: %w", err)
	}

	h, err := s.open(rec.Root)
	if err == nil {
		var perm Permission

		perm, err = h.QueryPermission(ctx)
		if err == nil {
			if perm == PermissionGranted {
				s.set(h, nil)
			} else {
				s.set(nil, h)
			}

			return s.State(), nil
		}
	}

	logger.WarnContext(ctx, "stored vault handle is no longer usable, clearing it", "root", rec.Root, "err", err)

	if err := s.Clear(ctx); err != nil {
		return "", err
	}

	return StateNotConfigured, nil
}

// Regrant asks for permission on a pending handle and activates it on success.
func (s *Store) Regrant(ctx context.Context) error {
	s.mu.Lock()
	h := s.pending
	if h == nil {
		h = s.active
	}
	s.mu.Unlock()

	if h == nil {
		return ErrNotConfigured
	}

	perm, err := h.RequestPermission(ctx)
	if err != nil {
		return s.invalidate(ctx, err)
	}

	if perm != PermissionGranted {
		return ErrPermissionDenied
	}

	s.set(h, nil)

	return nil
}

// Clear removes the persisted record and drops the in-memory handle.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.repo.DeleteCapability(ctx, CapabilityKey); err != nil {
		return fmt.Errorf("failed to clear vault: %w", err)
	}

	s.set(nil, nil)

	return nil
}

// invalidate clears the vault when err shows the handle itself is unusable.
func (s *Store) invalidate(ctx context.Context, err error) error {
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidHandle) {
		if clearErr := s.Clear(ctx); clearErr != nil {
			return errors.Join(err, clearErr)
		}
	}

	return err
}

// Validate returns the active handle after confirming it can be written to,
// requesting permission when needed. It must be called before every write.
func (s *Store) Validate(ctx context.Context) (DirHandle, error) {
	s.mu.Lock()
	h := s.active
	s.mu.Unlock()

	if h == nil {
		return nil, ErrNotConfigured
	}

	dh, ok := h.(DirHandle)
	if !ok {
		return nil, s.invalidate(ctx, ErrInvalidHandle)
	}

	perm, err := dh.QueryPermission(ctx)
	if err != nil {
		return nil, s.invalidate(ctx, err)
	}

	if perm == PermissionGranted {
		return dh, nil
	}

	perm, err = dh.RequestPermission(ctx)
	if err != nil {
		return nil, s.invalidate(ctx, err)
	}

	if perm != PermissionGranted {
		return nil, ErrPermissionDenied
	}

	return dh, nil
}

// WriteFile writes the full content of r to relPath inside the vault, creating
// intermediate directories. The file is created or truncated.
func (s *Store) WriteFile(ctx context.Context, relPath string, r io.Reader) (int64, error) {
	segments, err := splitPath(relPath)
	if err != nil {
		return 0, &WriteError{Path: relPath, Op: "create", Err: err}
	}

	dir, err := s.Validate(ctx)
	if err != nil {
		return 0, err
	}

	n, err := s.write(ctx, dir, relPath, segments, r)
	if err != nil {
		s.telemetry.RecordVaultWrite(ctx, "error", 0)

		return n, err
	}

	s.telemetry.RecordVaultWrite(ctx, "success", n)
	logctx.LoggerFromContext(ctx).DebugContext(ctx, "vault file written", "path", relPath, "bytes", n)

	return n, nil
}

func (s *Store) write(ctx context.Context, dir DirHandle, relPath string, segments []string, r io.Reader) (n int64, err error) {
	for _, seg := range segments[:len(segments)-1] {
		dir, err = dir.Dir(ctx, seg, true)
		if err != nil {
			return 0, &WriteError{Path: relPath, Op: "mkdir", Err: err}
		}
	}

	w, err := dir.CreateFile(ctx, segments[len(segments)-1])
	if err != nil {
		return 0, &WriteError{Path: relPath, Op: "create", Err: err}
	}

	defer func() {
		if cerr := w.Close(); cerr != nil && err == nil {
			err = &WriteError{Path: relPath, Op: "close", Err: cerr}
		}
	}()

	n, err = io.Copy(w, r)
	if err != nil {
		return n, &WriteError{Path: relPath, Op: "write", Err: err}
	}

	return n, nil
}

func splitPath(relPath string) ([]string, error) {
	if relPath == "" || strings.HasPrefix(relPath, "/") {
		return nil, fmt.Errorf("path must be relative to the vault: %q", relPath)
	}

	clean := path.Clean(relPath)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return nil, fmt.Errorf("path escapes the vault: %q", relPath)
	}

	return strings.Split(clean, "/"), nil
}
