package overrides

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bankanalyzer/bank-analyzer/pkg/api"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openStore(t *testing.T, path string) *Store {
	t.Helper()
	s, err := Open(path, testLogger())
	require.NoError(t, err)
	s.now = func() time.Time { return time.Date(2026, 1, 20, 10, 0, 0, 0, time.UTC) }
	return s
}

var groceries = api.Category{Main: "Food", Sub: "Groceries"}

func TestStore_AddGetPersist(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "overrides.yaml")

	s := openStore(t, path)
	assert.Equal(t, 0, s.Len())
	_, ok := s.Get("abc")
	assert.False(t, ok)

	require.NoError(t, s.Add(ctx, "abc", groceries, "weekly shopping"))

	got, ok := s.Get("abc")
	require.True(t, ok)
	assert.Equal(t, groceries, got)

	reopened := openStore(t, path)
	got, ok = reopened.Get("abc")
	require.True(t, ok)
	assert.Equal(t, groceries, got)

	all := reopened.All()
	require.Len(t, all, 1)
	assert.Equal(t, "weekly shopping", all[0].Note)
	assert.Equal(t, "2026-01-20T10:00:00Z", all[0].DateAdded)
}

func TestStore_LatestRecordWins(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, filepath.Join(t.TempDir(), "overrides.yaml"))

	require.NoError(t, s.Add(ctx, "abc", groceries, ""))
	require.NoError(t, s.Add(ctx, "abc", api.Category{Main: "Home", Sub: "Rent"}, "corrected"))

	got, _ := s.Get("abc")
	assert.Equal(t, "Rent", got.Sub)
	assert.Len(t, s.All(), 2, "log is append-only")
	assert.Equal(t, 1, s.Len())
}

func TestStore_Remove(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "overrides.yaml")
	s := openStore(t, path)

	require.NoError(t, s.Add(ctx, "abc", groceries, ""))
	require.NoError(t, s.Add(ctx, "def", groceries, ""))

	removed, err := s.Remove(ctx, "abc")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = s.Remove(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, removed)

	reopened := openStore(t, path)
	_, ok := reopened.Get("abc")
	assert.False(t, ok)
	_, ok = reopened.Get("def")
	assert.True(t, ok)
}

func TestStore_InvalidAdd(t *testing.T) {
	s := openStore(t, filepath.Join(t.TempDir(), "overrides.yaml"))
	err := s.Add(context.Background(), "", groceries, "")
	assert.ErrorIs(t, err, ErrInvalid)
	err = s.Add(context.Background(), "abc", api.Category{Main: "Food"}, "")
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestStore_CorruptLog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "overrides.yaml")
	require.NoError(t, os.WriteFile(path, []byte("overrides: [unclosed\n"), 0o600))

	s := openStore(t, path)
	assert.ErrorIs(t, s.Corruption(), ErrCorrupt)
	assert.Equal(t, 0, s.Len())

	require.NoError(t, s.Add(context.Background(), "abc", groceries, ""))
	assert.NoError(t, s.Corruption())

	backups, err := filepath.Glob(path + ".corrupt-*")
	require.NoError(t, err)
	require.Len(t, backups, 1, "corrupt log must be preserved before rewrite")

	data, err := os.ReadFile(backups[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), "unclosed")

	reopened := openStore(t, path)
	assert.NoError(t, reopened.Corruption())
	assert.Equal(t, 1, reopened.Len())
}

func TestStore_WrongShape(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overrides.yaml")
	require.NoError(t, os.WriteFile(path, []byte("overrides: just a string\n"), 0o600))

	s := openStore(t, path)
	assert.ErrorIs(t, s.Corruption(), ErrCorrupt)
	assert.Contains(t, s.Corruption().Error(), "line 1")
}

func TestStore_SkipsIncompleteRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overrides.yaml")
	content := `overrides:
  - transaction_id: abc
    category_main: Food
    category_sub: Groceries
  - transaction_id: def
    category_main: Food
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	s := openStore(t, path)
	assert.NoError(t, s.Corruption())
	assert.Equal(t, 1, s.Len())
}

func TestStore_EmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overrides.yaml")
	require.NoError(t, os.WriteFile(path, []byte("\n"), 0o600))

	s := openStore(t, path)
	assert.NoError(t, s.Corruption())
	assert.Equal(t, 0, s.Len())
}

func TestStore_ConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "overrides.yaml")

	// Two stores on one path stand in for two processes.
	stores := []*Store{openStore(t, path), openStore(t, path)}

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for w, s := range stores {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 10 {
				errs <- s.Add(ctx, fmt.Sprintf("w%d-%d", w, i), groceries, "")
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	final := openStore(t, path)
	assert.Equal(t, 20, final.Len(), "no update may be lost")
}

func TestStore_LockHeldElsewhere(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overrides.yaml")
	s := openStore(t, path)

	other := flock.New(path + ".lock")
	locked, err := other.TryLock()
	require.NoError(t, err)
	require.True(t, locked)
	defer other.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()

	err = s.Add(ctx, "abc", groceries, "")
	assert.Error(t, err)
	_, ok := s.Get("abc")
	assert.False(t, ok)
}

func TestStore_CreatesMissingDirectory(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data", "nested", "manual_overrides.yaml")

	s := openStore(t, path)
	require.NoError(t, s.Add(ctx, "abc", groceries, ""))
	assert.FileExists(t, path)

	removed, err := openStore(t, path).Remove(ctx, "abc")
	require.NoError(t, err)
	assert.True(t, removed)
}

func TestStore_RemoveWithMissingDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "manual_overrides.yaml")

	removed, err := openStore(t, path).Remove(context.Background(), "abc")
	require.NoError(t, err)
	assert.False(t, removed)
}
