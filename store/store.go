// Package store persists article records as one JSON file per article,
// grouped in one directory per date.
package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/pevans/papercrawl/article"
	"github.com/pevans/papercrawl/validity"
)

// ErrInvalidKey is returned for keys that cannot be mapped to a file.
var ErrInvalidKey = errors.New("invalid record key")

// Classifier decides whether stored content is a usable record.
type Classifier interface {
	Classify(article.Content) validity.Verdict
}

// SaveResult tells the caller what Save did.
type SaveResult int

const (
	// Written means the record is now on disk.
	Written SaveResult = iota

	// KeptExisting means a valid record was already stored and the
	// invalid one passed to Save was discarded.
	KeptExisting
)

func (r SaveResult) String() string {
	if r == KeptExisting {
		return "kept-existing"
	}
	return "written"
}

// ReadError describes a failure to read a single record file.
type ReadError struct {
	Filename string
	Err      error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("%s: %v", e.Filename, e.Err)
}

// Entry is a stored record with its key.
type Entry struct {
	Key    article.Key
	Record article.Record
}

// ListResult contains the records of one date, including any per-file
// errors that occurred while reading them.
type ListResult struct {
	Entries []Entry
	Errors  []ReadError
}

// Store is a directory of article records. Saves to the same key are
// serialized; saves to different keys run independently.
type Store struct {
	root       string
	classifier Classifier
	logger     *slog.Logger

	mu    sync.Mutex
	locks map[article.Key]*keyLock
}

// keyLock serializes saves to one key. It is dropped from the map once no
// save holds or waits on it.
type keyLock struct {
	sync.Mutex
	refs int
}

// New creates a store rooted at root, creating the directory if needed.
func New(root string, classifier Classifier, logger *slog.Logger) (*Store, error) {
	// 0700: owner-only access
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Store{
		root:       root,
		classifier: classifier,
		logger:     logger.With("component", "store"),
		locks:      make(map[article.Key]*keyLock),
	}, nil
}

// Root returns the storage directory.
func (s *Store) Root() string {
	return s.root
}

// Path returns the file a key is stored in:
// <root>/<date>/<ref without extension>.json
func (s *Store) Path(key article.Key) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	name := strings.TrimSuffix(key.Ref, filepath.Ext(key.Ref)) + ".json"
	return filepath.Join(s.root, key.Date, name), nil
}

func validateKey(key article.Key) error {
	if err := article.ValidateDate(key.Date); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	ref := key.Ref
	if ref == "" || ref == "." || ref == ".." || strings.ContainsAny(ref, `/\`) {
		return fmt.Errorf("%w: reference %q", ErrInvalidKey, ref)
	}
	if strings.TrimSuffix(ref, filepath.Ext(ref)) == "" {
		return fmt.Errorf("%w: reference %q", ErrInvalidKey, ref)
	}
	return nil
}

// Load returns the stored record for key, or nil if there is none.
func (s *Store) Load(key article.Key) (*article.Record, error) {
	path, err := s.Path(key)
	if err != nil {
		return nil, err
	}
	return readRecord(path)
}

func readRecord(path string) (*article.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil // Not stored yet (not an error)
		}
		return nil, fmt.Errorf("failed to read record: %w", err)
	}

	var record article.Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return &record, nil
}

// ShouldSkip reports whether a valid record is already stored for key. An
// unreadable record does not count as stored.
func (s *Store) ShouldSkip(key article.Key) (bool, error) {
	record, err := s.Load(key)
	if err != nil {
		if errors.Is(err, ErrInvalidKey) {
			return false, err
		}
		s.logger.Warn("unreadable record will be fetched again",
			slog.String("key", key.String()),
			slog.Any("error", err),
		)
		return false, nil
	}
	return s.valid(record), nil
}

func (s *Store) valid(record *article.Record) bool {
	return record != nil && s.classifier.Classify(record.Content).Valid
}

func (s *Store) lock(key article.Key) {
	s.mu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &keyLock{}
		s.locks[key] = l
	}
	l.refs++
	s.mu.Unlock()

	l.Lock()
}

func (s *Store) unlock(key article.Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.locks[key]
	l.refs--
	if l.refs == 0 {
		delete(s.locks, key)
	}
	l.Unlock()
}

// Save writes record under key unless that would replace a valid record with
// an invalid one, in which case the stored record is kept and KeptExisting is
// returned. The write is atomic: readers see either the old or the new file.
func (s *Store) Save(key article.Key, record article.Record) (SaveResult, error) {
	path, err := s.Path(key)
	if err != nil {
		return Written, err
	}

	s.lock(key)
	defer s.unlock(key)

	if !s.classifier.Classify(record.Content).Valid {
		existing, err := readRecord(path)
		if err == nil && s.valid(existing) {
			s.logger.Info("kept valid record, discarded invalid one",
				slog.String("key", key.String()),
			)
			return KeptExisting, nil
		}
	}

	data, err := encodeRecord(record)
	if err != nil {
		return Written, err
	}
	if err := writeAtomic(path, data); err != nil {
		return Written, err
	}
	return Written, nil
}

func encodeRecord(record article.Record) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(record); err != nil {
		return nil, fmt.Errorf("failed to marshal record: %w", err)
	}
	return buf.Bytes(), nil
}

// writeAtomic writes data to a temporary file in the target directory, syncs
// it and renames it over path.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create date directory: %w", err)
	}

	// CreateTemp files are 0600: owner-only read/write
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write record: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close record: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to rename record: %w", err)
	}
	return nil
}

// List returns every record stored for date. Corrupted files are collected
// in the result's Errors slice rather than failing the whole listing. A date
// with no directory yields an empty result.
func (s *Store) List(date string) (*ListResult, error) {
	if err := article.ValidateDate(date); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	dir := filepath.Join(s.root, date)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return &ListResult{}, nil
		}
		return nil, fmt.Errorf("failed to read date directory: %w", err)
	}

	result := &ListResult{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".json" || strings.HasPrefix(name, ".") {
			continue
		}

		record, err := readRecord(filepath.Join(dir, name))
		if err != nil {
			result.Errors = append(result.Errors, ReadError{Filename: name, Err: err})
			continue
		}

		result.Entries = append(result.Entries, Entry{
			Key:    article.Key{Date: date, Ref: refFromRecord(record, name)},
			Record: *record,
		})
	}

	return result, nil
}

// refFromRecord recovers the article reference from the source URL, falling
// back to the file name.
func refFromRecord(record *article.Record, filename string) string {
	if i := strings.LastIndex(record.SourceURL, "/"); i >= 0 && i < len(record.SourceURL)-1 {
		return record.SourceURL[i+1:]
	}
	return filename
}

// Dates returns the dates that have a directory in the store, oldest first.
func (s *Store) Dates() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to read storage directory: %w", err)
	}

	var dates []string
	for _, entry := range entries {
		if entry.IsDir() && article.ValidateDate(entry.Name()) == nil {
			dates = append(dates, entry.Name())
		}
	}
	slices.Sort(dates)
	return dates, nil
}

// Classify reports the verdict for a stored record.
func (s *Store) Classify(record article.Record) validity.Verdict {
	return s.classifier.Classify(record.Content)
}
