package vault

import (
	"context"
	"io"
)

// Permission is the write-permission state of a handle.
type Permission string

const (
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
	PermissionPrompt  Permission = "prompt"
)

// Handle is a persisted capability to a directory.
type Handle interface {
	Root() string
	// QueryPermission reports the current permission without asking the user.
	// It fails with ErrNotFound when the directory is gone.
	QueryPermission(ctx context.Context) (Permission, error)
	// RequestPermission asks the user for write access when it is not already granted.
	RequestPermission(ctx context.Context) (Permission, error)
}

// DirHandle is a Handle that can also create directories and files.
type DirHandle interface {
	Handle
	// Dir returns the named child directory, creating it when create is set.
	Dir(ctx context.Context, name string, create bool) (DirHandle, error)
	// CreateFile creates the named file, truncating an existing one.
	CreateFile(ctx context.Context, name string) (io.WriteCloser, error)
}

// Opener reopens a handle from its persisted root.
type Opener func(root string) (Handle, error)
