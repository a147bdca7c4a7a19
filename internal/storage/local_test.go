package storage

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

func newTestLocalStore(t *testing.T) *LocalStore {
	t.Helper()
	store, err := NewLocalStore(t.TempDir(), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	return store
}

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return p
}

func TestLocalStoreEnsureFolderIdempotent(t *testing.T) {
	store := newTestLocalStore(t)
	ctx := context.Background()

	first, err := store.EnsureFolder(ctx, "", "database")
	if err != nil {
		t.Fatalf("EnsureFolder: %v", err)
	}
	second, err := store.EnsureFolder(ctx, "", "database")
	if err != nil {
		t.Fatalf("EnsureFolder repeat: %v", err)
	}
	if first != second {
		t.Errorf("repeated EnsureFolder returned different ids: %q vs %q", first, second)
	}
}

func TestLocalStoreEnsureFolderConcurrent(t *testing.T) {
	store := newTestLocalStore(t)
	ctx := context.Background()

	const workers = 8
	ids := make([]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := store.EnsureFolder(ctx, "", "files")
			if err != nil {
				t.Errorf("worker %d: %v", i, err)
				return
			}
			ids[i] = id
		}(i)
	}
	wg.Wait()

	for i := 1; i < workers; i++ {
		if ids[i] != ids[0] {
			t.Errorf("worker %d got id %q, want %q", i, ids[i], ids[0])
		}
	}
}

func TestLocalStoreUploadListDelete(t *testing.T) {
	store := newTestLocalStore(t)
	ctx := context.Background()

	folder, err := store.EnsureFolder(ctx, "", "files")
	if err != nil {
		t.Fatalf("EnsureFolder: %v", err)
	}

	names := []string{
		"bk_files_site_20240102_000000.tar.gz",
		"bk_files_site_20240101_000000.tar.gz",
		"bk_files_other_20240103_000000.tar.gz",
	}
	for _, name := range names {
		src := writeTempFile(t, "artifact", "payload")
		entry, err := store.Upload(ctx, folder, src, name)
		if err != nil {
			t.Fatalf("Upload %s: %v", name, err)
		}
		if entry.Name != name {
			t.Errorf("entry name = %q, want %q", entry.Name, name)
		}
		if entry.SizeBytes != int64(len("payload")) {
			t.Errorf("entry size = %d, want %d", entry.SizeBytes, len("payload"))
		}
	}

	entries, err := store.List(ctx, folder, "bk_files_site_")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("List returned %d entries, want 2", len(entries))
	}
	// Sorted by name ascending.
	if entries[0].Name != "bk_files_site_20240101_000000.tar.gz" {
		t.Errorf("first entry = %q", entries[0].Name)
	}
	if entries[1].Name != "bk_files_site_20240102_000000.tar.gz" {
		t.Errorf("second entry = %q", entries[1].Name)
	}

	if err := store.Delete(ctx, entries[0].ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	remaining, err := store.List(ctx, folder, "bk_files_site_")
	if err != nil {
		t.Fatalf("List after delete: %v", err)
	}
	if len(remaining) != 1 || remaining[0].Name != "bk_files_site_20240102_000000.tar.gz" {
		t.Errorf("unexpected remaining entries: %+v", remaining)
	}
}

func TestLocalStoreDeleteMissing(t *testing.T) {
	store := newTestLocalStore(t)
	err := store.Delete(context.Background(), filepath.Join(t.TempDir(), "missing"))
	if err == nil {
		t.Fatal("expected error deleting missing entry")
	}
}

func TestLocalStoreUploadMissingSource(t *testing.T) {
	store := newTestLocalStore(t)
	ctx := context.Background()

	folder, err := store.EnsureFolder(ctx, "", "files")
	if err != nil {
		t.Fatalf("EnsureFolder: %v", err)
	}

	_, err = store.Upload(ctx, folder, filepath.Join(t.TempDir(), "missing"), "x.tar.gz")
	if err == nil {
		t.Fatal("expected error uploading missing file")
	}
}
