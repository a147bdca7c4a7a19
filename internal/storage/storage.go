// Package storage provides remote object-store backends for backup artifacts.
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrAuth is returned when a session with the remote store cannot be
	// established. It is fatal to the whole run.
	ErrAuth = errors.New("remote store authentication failed")

	// ErrUpload is returned when an artifact upload fails.
	ErrUpload = errors.New("upload failed")

	// ErrList is returned when a folder listing cannot be completed.
	ErrList = errors.New("listing failed")

	// ErrDelete is returned when a remote entry cannot be removed.
	ErrDelete = errors.New("delete failed")
)

// RemoteEntry is one listing record from the remote store. It is read-only
// to the engine and authoritative for retention decisions.
type RemoteEntry struct {
	// ID is the store's opaque identifier for the object.
	ID string
	// Name is the object name as generated by the naming scheme.
	Name string
	// CreatedAt is the store's creation timestamp. Only used as a
	// tie-break when two entries carry the same name.
	CreatedAt time.Time
	// SizeBytes is the stored object size, when the store reports it.
	SizeBytes int64
}

// Store is the remote object-store surface the engine depends on.
// Entries are never mutated in place: the store is append/delete only.
type Store interface {
	// Name identifies the backend for logging.
	Name() string

	// EnsureFolder returns the identifier of the named folder under
	// parentID, creating it if needed. An empty parentID means the
	// store's root. It is idempotent: calling it twice with the same
	// arguments yields the same identifier and never a duplicate folder.
	EnsureFolder(ctx context.Context, parentID, name string) (string, error)

	// Upload stores the local file under remoteName inside folderID and
	// returns the resulting entry.
	Upload(ctx context.Context, folderID, localPath, remoteName string) (*RemoteEntry, error)

	// List returns every entry in folderID whose name starts with
	// namePrefix, sorted by name ascending. Implementations must follow
	// pagination to the end: a partial listing would corrupt retention
	// decisions.
	List(ctx context.Context, folderID, namePrefix string) ([]RemoteEntry, error)

	// Delete removes the entry with the given identifier.
	Delete(ctx context.Context, entryID string) error
}
