// Package overrides persists manual, transaction-id keyed categorizations.
//
// The log is a YAML document with a single "overrides" list. It is only ever
// replaced atomically (temp file, fsync, rename) while holding an exclusive
// file lock, and it is re-read under that lock so concurrent writers do not
// lose each other's records.
package overrides

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"

	"github.com/bankanalyzer/bank-analyzer/pkg/api"
)

const (
	lockAttempts = 20
	lockDelay    = 50 * time.Millisecond
)

var (
	// ErrCorrupt reports an override log that could not be parsed.
	ErrCorrupt = errors.New("override log is corrupt")
	// ErrInvalid is returned when an override misses its id or category.
	ErrInvalid = errors.New("invalid override")

	errLocked = errors.New("override log is locked by another process")
)

type document struct {
	Overrides []api.Override `yaml:"overrides"`
}

// Store is the in-memory view of the override log.
type Store struct {
	path    string
	lock    *flock.Flock
	mu      sync.RWMutex
	entries []api.Override
	index   map[string]int
	corrupt error
	logger  *slog.Logger
	now     func() time.Time
}

// Open loads the override log at path. A missing file is an empty log. A
// corrupt file is treated as empty and reported through Corruption; it is
// backed up before the first rewrite.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{
		path:   path,
		lock:   flock.New(path + ".lock"),
		index:  make(map[string]int),
		logger: logger,
		now:    time.Now,
	}

	entries, err := s.read()
	if err != nil {
		if !errors.Is(err, ErrCorrupt) {
			return nil, err
		}
		s.corrupt = err
		logger.Error("override log is corrupt, continuing with no overrides",
			"path", path,
			"error", err,
		)
	}
	s.replace(entries)

	logger.Info("loaded overrides", "path", path, "count", len(s.entries))
	return s, nil
}

// Corruption returns the parse error found when the log was opened, if any.
func (s *Store) Corruption() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.corrupt
}

// Get returns the forced category for a transaction id. The latest record
// for an id wins.
func (s *Store) Get(id string) (api.Category, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.index[id]
	if !ok {
		return api.Category{}, false
	}
	return s.entries[i].Category(), true
}

// All returns a copy of the log in persisted order.
func (s *Store) All() []api.Override {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.entries)
}

// Len returns the number of distinct overridden transaction ids.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.index)
}

// Add appends an override record and persists the log.
func (s *Store) Add(ctx context.Context, id string, category api.Category, note string) error {
	if id == "" || category.Main == "" || category.Sub == "" {
		return fmt.Errorf("%w: transaction id, main and sub category are required", ErrInvalid)
	}

	record := api.Override{
		TransactionID: id,
		CategoryMain:  category.Main,
		CategorySub:   category.Sub,
		Note:          note,
		DateAdded:     s.now().Format(time.RFC3339),
	}

	err := s.update(ctx, func(entries []api.Override) ([]api.Override, bool) {
		return append(entries, record), true
	})
	if err != nil {
		return err
	}

	s.logger.Info("added override", "transaction_id", id, "category", category.String())
	return nil
}

// Remove deletes every record for id. It reports whether anything was removed.
func (s *Store) Remove(ctx context.Context, id string) (bool, error) {
	removed := false
	err := s.update(ctx, func(entries []api.Override) ([]api.Override, bool) {
		kept := slices.DeleteFunc(entries, func(o api.Override) bool {
			return o.TransactionID == id
		})
		removed = len(kept) != len(entries)
		return kept, removed
	})
	if err != nil {
		return false, err
	}

	if removed {
		s.logger.Info("removed override", "transaction_id", id)
	}
	return removed, nil
}

// update runs a read-modify-write cycle under the file lock.
func (s *Store) update(ctx context.Context, fn func([]api.Override) ([]api.Override, bool)) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer func() {
		if err := s.lock.Unlock(); err != nil {
			s.logger.Warn("failed to release override lock", "error", err)
		}
	}()

	entries, err := s.read()
	if err != nil {
		if !errors.Is(err, ErrCorrupt) {
			return err
		}
		if err := s.backupCorrupt(); err != nil {
			return err
		}
		entries = nil
	}

	// slices.DeleteFunc mutates in place; fn gets its own copy.
	updated, changed := fn(slices.Clone(entries))
	if changed {
		if err := s.write(updated); err != nil {
			return err
		}
	} else {
		updated = entries
	}

	s.mu.Lock()
	s.corrupt = nil
	s.mu.Unlock()
	s.replace(updated)
	return nil
}

// acquire takes the exclusive lock. The lock file lives next to the log, so
// the log's directory is created first.
func (s *Store) acquire(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating override directory: %w", err)
	}

	err := retry.Do(
		func() error {
			ok, err := s.lock.TryLock()
			if err != nil {
				return fmt.Errorf("locking override log: %w", err)
			}
			if !ok {
				return errLocked
			}
			return nil
		},
		retry.Context(ctx),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, errLocked)
		}),
		retry.Attempts(lockAttempts),
		retry.Delay(lockDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return fmt.Errorf("acquiring override lock: %w", err)
	}
	return nil
}

// read parses the log from disk. Records missing an id or category are
// skipped with a warning naming their line.
func (s *Store) read() ([]api.Override, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading override log: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if len(root.Content) == 0 {
		return nil, nil
	}

	doc := root.Content[0]
	if doc.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: line %d: expected a mapping with an overrides list", ErrCorrupt, doc.Line)
	}

	var list *yaml.Node
	for i := 0; i+1 < len(doc.Content); i += 2 {
		if doc.Content[i].Value == "overrides" {
			list = doc.Content[i+1]
			break
		}
	}
	if list == nil || (list.Kind == yaml.ScalarNode && list.Tag == "!!null") {
		return nil, nil
	}
	if list.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("%w: line %d: overrides must be a list", ErrCorrupt, list.Line)
	}

	entries := make([]api.Override, 0, len(list.Content))
	for _, item := range list.Content {
		var o api.Override
		if err := item.Decode(&o); err != nil {
			return nil, fmt.Errorf("%w: line %d: %w", ErrCorrupt, item.Line, err)
		}
		if o.TransactionID == "" || o.CategoryMain == "" || o.CategorySub == "" {
			s.logger.Warn("skipping incomplete override record", "path", s.path, "line", item.Line)
			continue
		}
		entries = append(entries, o)
	}
	return entries, nil
}

func (s *Store) write(entries []api.Override) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(document{Overrides: entries}); err != nil {
		return fmt.Errorf("encoding override log: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encoding override log: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp override log: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp override log: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp override log: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp override log: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replacing override log: %w", err)
	}
	return nil
}

func (s *Store) backupCorrupt() error {
	backup := fmt.Sprintf("%s.corrupt-%s", s.path, s.now().Format("20060102T150405"))
	if err := os.Rename(s.path, backup); err != nil {
		return fmt.Errorf("backing up corrupt override log: %w", err)
	}
	s.logger.Error("moved corrupt override log aside", "path", s.path, "backup", backup)
	return nil
}

func (s *Store) replace(entries []api.Override) {
	index := make(map[string]int, len(entries))
	for i, o := range entries {
		index[o.TransactionID] = i
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = entries
	s.index = index
}
