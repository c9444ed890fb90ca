package vault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

const probePattern = ".yuque-exporter-probe-*"

// FSHandle is a DirHandle over a directory of an afero filesystem.
type FSHandle struct {
	fs       afero.Fs
	root     string
	prompter Prompter
}

func NewFSHandle(fsys afero.Fs, root string, prompter Prompter) *FSHandle {
	return &FSHandle{fs: fsys, root: filepath.Clean(root), prompter: prompter}
}

// FSOpener returns an Opener producing FSHandles on fsys.
func FSOpener(fsys afero.Fs, prompter Prompter) Opener {
	return func(root string) (Handle, error) {
		return NewFSHandle(fsys, root, prompter), nil
	}
}

func (h *FSHandle) Root() string {
	return h.root
}

func (h *FSHandle) stat() (os.FileInfo, error) {
	fi, err := h.fs.Stat(h.root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, h.root)
	}

	if err != nil {
		return nil, err
	}

	if !fi.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrInvalidHandle, h.root)
	}

	return fi, nil
}

// QueryPermission probes writability by creating and removing a temporary file.
func (h *FSHandle) QueryPermission(_ context.Context) (Permission, error) {
	if _, err := h.stat(); err != nil {
		return "", err
	}

	f, err := afero.TempFile(h.fs, h.root, probePattern)
	if errors.Is(err, fs.ErrPermission) {
		return PermissionPrompt, nil
	}

	if err != nil {
		return "", fmt.Errorf("failed to probe %s: %w", h.root, err)
	}

	name := f.Name()
	f.Close()

	if err := h.fs.Remove(name); err != nil {
		return "", fmt.Errorf("failed to remove probe file: %w", err)
	}

	return PermissionGranted, nil
}

// RequestPermission asks the prompter and, on consent, adds owner write permission.
func (h *FSHandle) RequestPermission(ctx context.Context) (Permission, error) {
	perm, err := h.QueryPermission(ctx)
	if err != nil || perm == PermissionGranted {
		return perm, err
	}

	if h.prompter == nil {
		return PermissionDenied, nil
	}

	ok, err := h.prompter.Confirm(ctx, h.root)
	if err != nil {
		return "", fmt.Errorf("permission prompt failed: %w", err)
	}

	if !ok {
		return PermissionDenied, nil
	}

	fi, err := h.stat()
	if err != nil {
		return "", err
	}

	if err := h.fs.Chmod(h.root, fi.Mode().Perm()|0o700); err != nil {
		return PermissionDenied, nil
	}

	perm, err = h.QueryPermission(ctx)
	if err != nil {
		return "", err
	}

	if perm != PermissionGranted {
		return PermissionDenied, nil
	}

	return PermissionGranted, nil
}

func (h *FSHandle) Dir(_ context.Context, name string, create bool) (DirHandle, error) {
	child := filepath.Join(h.root, name)

	if create {
		if err := h.fs.Mkdir(child, 0o755); err != nil && !errors.Is(err, fs.ErrExist) {
			return nil, err
		}
	}

	fi, err := h.fs.Stat(child)
	if err != nil {
		return nil, err
	}

	if !fi.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", child)
	}

	return &FSHandle{fs: h.fs, root: child, prompter: h.prompter}, nil
}

func (h *FSHandle) CreateFile(_ context.Context, name string) (io.WriteCloser, error) {
	return h.fs.OpenFile(filepath.Join(h.root, name), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
}
