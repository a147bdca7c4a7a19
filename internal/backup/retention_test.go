package backup

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/driveback/driveback/internal/storage"
)

func entry(id, name string, created time.Time) storage.RemoteEntry {
	return storage.RemoteEntry{ID: id, Name: name, CreatedAt: created}
}

func TestDecide(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	entries := []storage.RemoteEntry{
		entry("1", "bk_files_site_20240101_000000.tar.gz", base),
		entry("3", "bk_files_site_20240103_000000.tar.gz", base.AddDate(0, 0, 2)),
		entry("2", "bk_files_site_20240102_000000.tar.gz", base.AddDate(0, 0, 1)),
	}

	t.Run("keeps newest N by name", func(t *testing.T) {
		d := Decide(entries, 2)

		if len(d.Keep) != 2 || len(d.Delete) != 1 {
			t.Fatalf("keep=%d delete=%d, want 2/1", len(d.Keep), len(d.Delete))
		}
		if d.Keep[0].ID != "3" || d.Keep[1].ID != "2" {
			t.Errorf("kept %s, %s; want newest two", d.Keep[0].ID, d.Keep[1].ID)
		}
		if d.Delete[0].ID != "1" {
			t.Errorf("deleting %s, want oldest entry", d.Delete[0].ID)
		}
	})

	t.Run("keep larger than count deletes nothing", func(t *testing.T) {
		d := Decide(entries, 10)
		if len(d.Delete) != 0 {
			t.Errorf("delete=%d, want 0", len(d.Delete))
		}
		if len(d.Keep) != 3 {
			t.Errorf("keep=%d, want 3", len(d.Keep))
		}
	})

	t.Run("empty input", func(t *testing.T) {
		d := Decide(nil, 2)
		if len(d.Keep) != 0 || len(d.Delete) != 0 {
			t.Errorf("keep=%d delete=%d, want 0/0", len(d.Keep), len(d.Delete))
		}
	})

	t.Run("equal names break ties on creation time", func(t *testing.T) {
		dupes := []storage.RemoteEntry{
			entry("old", "bk_files_site_20240101_000000.tar.gz", base),
			entry("new", "bk_files_site_20240101_000000.tar.gz", base.Add(time.Hour)),
		}
		d := Decide(dupes, 1)
		if d.Keep[0].ID != "new" {
			t.Errorf("kept %s, want the more recently created entry", d.Keep[0].ID)
		}
		if d.Delete[0].ID != "old" {
			t.Errorf("deleting %s, want old", d.Delete[0].ID)
		}
	})

	t.Run("does not mutate input order", func(t *testing.T) {
		Decide(entries, 1)
		if entries[0].ID != "1" || entries[1].ID != "3" || entries[2].ID != "2" {
			t.Error("input slice was reordered")
		}
	})
}

// fakeStore implements storage.Store for orchestration and retention tests.
// It is safe for concurrent use, matching what the orchestrator requires of
// a real store.
type fakeStore struct {
	mu           sync.Mutex
	entries      map[string][]storage.RemoteEntry
	folders      map[string]string
	deleted      []string
	listErr      error
	deleteFailID string
	uploadErr    error
	folderErr    error
	uploads      []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		entries: make(map[string][]storage.RemoteEntry),
		folders: make(map[string]string),
	}
}

func (f *fakeStore) Name() string { return "fake" }

func (f *fakeStore) EnsureFolder(ctx context.Context, parentID, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.folderErr != nil {
		return "", f.folderErr
	}
	id := parentID + "/" + name
	f.folders[id] = name
	return id, nil
}

func (f *fakeStore) Upload(ctx context.Context, folderID, localPath, remoteName string) (*storage.RemoteEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	e := storage.RemoteEntry{ID: folderID + "/" + remoteName, Name: remoteName, CreatedAt: time.Now().UTC()}
	f.entries[folderID] = append(f.entries[folderID], e)
	f.uploads = append(f.uploads, remoteName)
	return &e, nil
}

func (f *fakeStore) List(ctx context.Context, folderID, namePrefix string) ([]storage.RemoteEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []storage.RemoteEntry
	for _, e := range f.entries[folderID] {
		if strings.HasPrefix(e.Name, namePrefix) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeStore) Delete(ctx context.Context, entryID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteFailID != "" && entryID == f.deleteFailID {
		return storage.ErrDelete
	}
	for folderID, list := range f.entries {
		for i, e := range list {
			if e.ID == entryID {
				f.entries[folderID] = append(list[:i], list[i+1:]...)
				f.deleted = append(f.deleted, entryID)
				return nil
			}
		}
	}
	return storage.ErrDelete
}

func TestEnforce(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("deletes only the oldest beyond keep", func(t *testing.T) {
		store := newFakeStore()
		store.entries["root/files"] = []storage.RemoteEntry{
			entry("a", "bk_files_site_20240101_000000.tar.gz", base),
			entry("b", "bk_files_site_20240102_000000.tar.gz", base.AddDate(0, 0, 1)),
			entry("c", "bk_files_site_20240103_000000.tar.gz", base.AddDate(0, 0, 2)),
		}

		enforcer := NewEnforcer(store, zerolog.Nop())
		result, err := enforcer.Enforce(ctx, "root/files", "bk_files_site_", 2)
		if err != nil {
			t.Fatalf("Enforce: %v", err)
		}

		if result.Kept != 2 {
			t.Errorf("Kept = %d, want 2", result.Kept)
		}
		if result.DeletionsAttempted != 1 || result.DeletionsFailed != 0 {
			t.Errorf("attempted=%d failed=%d, want 1/0", result.DeletionsAttempted, result.DeletionsFailed)
		}
		if len(store.deleted) != 1 || store.deleted[0] != "a" {
			t.Errorf("deleted %v, want exactly the oldest entry", store.deleted)
		}
	})

	t.Run("prefix isolates similarly named targets", func(t *testing.T) {
		store := newFakeStore()
		store.entries["root/files"] = []storage.RemoteEntry{
			entry("s1", "bk_files_site_20240101_000000.tar.gz", base),
			entry("s2", "bk_files_site_20240102_000000.tar.gz", base.AddDate(0, 0, 1)),
			entry("o1", "bk_files_site2_20240101_000000.tar.gz", base),
		}

		enforcer := NewEnforcer(store, zerolog.Nop())
		result, err := enforcer.Enforce(ctx, "root/files", "bk_files_site_", 1)
		if err != nil {
			t.Fatalf("Enforce: %v", err)
		}

		if result.DeletionsAttempted != 1 {
			t.Errorf("attempted = %d, want 1", result.DeletionsAttempted)
		}
		if len(store.deleted) != 1 || store.deleted[0] != "s1" {
			t.Errorf("deleted %v, must not touch bk_files_site2_ artifacts", store.deleted)
		}
	})

	t.Run("list failure is an error", func(t *testing.T) {
		store := newFakeStore()
		store.listErr = storage.ErrList

		enforcer := NewEnforcer(store, zerolog.Nop())
		if _, err := enforcer.Enforce(ctx, "root/files", "bk_files_site_", 1); !errors.Is(err, storage.ErrList) {
			t.Errorf("err = %v, want ErrList", err)
		}
	})

	t.Run("delete failure is counted, not fatal", func(t *testing.T) {
		store := newFakeStore()
		store.entries["root/files"] = []storage.RemoteEntry{
			entry("a", "bk_files_site_20240101_000000.tar.gz", base),
			entry("b", "bk_files_site_20240102_000000.tar.gz", base.AddDate(0, 0, 1)),
			entry("c", "bk_files_site_20240103_000000.tar.gz", base.AddDate(0, 0, 2)),
		}
		store.deleteFailID = "a"

		enforcer := NewEnforcer(store, zerolog.Nop())
		result, err := enforcer.Enforce(ctx, "root/files", "bk_files_site_", 1)
		if err != nil {
			t.Fatalf("Enforce must not fail on deletion errors: %v", err)
		}

		if result.DeletionsAttempted != 2 {
			t.Errorf("attempted = %d, want 2", result.DeletionsAttempted)
		}
		if result.DeletionsFailed != 1 {
			t.Errorf("failed = %d, want 1", result.DeletionsFailed)
		}
		if len(store.deleted) != 1 || store.deleted[0] != "b" {
			t.Errorf("deleted %v, want the non-failing entry still removed", store.deleted)
		}
	})
}
