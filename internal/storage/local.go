package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// LocalStore is a filesystem-backed Store. Folder identifiers are absolute
// directory paths and entry identifiers are absolute file paths. It is used
// for air-gapped setups and in tests.
type LocalStore struct {
	root   string
	logger zerolog.Logger
}

// NewLocalStore creates a LocalStore rooted at the given directory,
// creating it if needed.
func NewLocalStore(root string, logger zerolog.Logger) (*LocalStore, error) {
	if root == "" {
		return nil, errors.New("local store: root path is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("local store: resolve root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create root %s: %v", ErrAuth, abs, err)
	}
	return &LocalStore{
		root:   abs,
		logger: logger.With().Str("component", "local_store").Logger(),
	}, nil
}

// Name identifies the backend.
func (s *LocalStore) Name() string { return "local" }

// EnsureFolder creates (if needed) and returns the directory path.
func (s *LocalStore) EnsureFolder(_ context.Context, parentID, name string) (string, error) {
	parent := parentID
	if parent == "" {
		parent = s.root
	}
	dir := filepath.Join(parent, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create folder %s: %w", dir, err)
	}
	return dir, nil
}

// Upload copies the local file into the folder directory.
func (s *LocalStore) Upload(_ context.Context, folderID, localPath, remoteName string) (*RemoteEntry, error) {
	src, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrUpload, localPath, err)
	}
	defer src.Close()

	dstPath := filepath.Join(folderID, remoteName)
	tmp := dstPath + ".partial"
	dst, err := os.Create(tmp)
	if err != nil {
		return nil, fmt.Errorf("%w: create %s: %v", ErrUpload, tmp, err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(tmp)
		return nil, fmt.Errorf("%w: copy to %s: %v", ErrUpload, tmp, err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("%w: close %s: %v", ErrUpload, tmp, err)
	}
	if err := os.Rename(tmp, dstPath); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("%w: finalize %s: %v", ErrUpload, dstPath, err)
	}

	info, err := os.Stat(dstPath)
	if err != nil {
		return nil, fmt.Errorf("%w: stat %s: %v", ErrUpload, dstPath, err)
	}

	s.logger.Debug().Str("path", dstPath).Int64("size_bytes", info.Size()).Msg("stored artifact")

	return &RemoteEntry{
		ID:        dstPath,
		Name:      remoteName,
		CreatedAt: info.ModTime(),
		SizeBytes: info.Size(),
	}, nil
}

// List returns the folder's files matching the prefix, sorted by name.
func (s *LocalStore) List(_ context.Context, folderID, namePrefix string) ([]RemoteEntry, error) {
	dirEntries, err := os.ReadDir(folderID)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrList, folderID, err)
	}

	var entries []RemoteEntry
	for _, de := range dirEntries {
		if de.IsDir() || !strings.HasPrefix(de.Name(), namePrefix) {
			continue
		}
		if strings.HasSuffix(de.Name(), ".partial") {
			continue
		}
		info, err := de.Info()
		if err != nil {
			return nil, fmt.Errorf("%w: stat %s: %v", ErrList, de.Name(), err)
		}
		entries = append(entries, RemoteEntry{
			ID:        filepath.Join(folderID, de.Name()),
			Name:      de.Name(),
			CreatedAt: info.ModTime(),
			SizeBytes: info.Size(),
		})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// Delete removes the file at the entry path.
func (s *LocalStore) Delete(_ context.Context, entryID string) error {
	if err := os.Remove(entryID); err != nil {
		return fmt.Errorf("%w: remove %s: %v", ErrDelete, entryID, err)
	}
	return nil
}
