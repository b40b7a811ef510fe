// Package filestore keeps one JSON document per username on the local filesystem.
package filestore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/natefinch/atomic"

	"github.com/insomniacmonkey/Team-Tree-House-Profile/internal/domain"
	"github.com/insomniacmonkey/Team-Tree-House-Profile/internal/observability"
)

const lockRetryDelay = 25 * time.Millisecond

// Store reads and writes <dir>/<username>.json.
type Store struct {
	dir string
}

// New constructs a Store rooted at dir, creating the directory if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Path returns the file backing username.
func (s *Store) Path(username string) string {
	return filepath.Join(s.dir, username+".json")
}

// Usernames lists every username with a record file, sorted. Lock files and temporary files
// left by interrupted writes are ignored.
func (s *Store) Usernames(context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, &domain.StorageError{Op: "list", Err: err}
	}
	var names []string
	for _, entry := range entries {
		name, ok := strings.CutSuffix(entry.Name(), ".json")
		if !ok || !entry.Type().IsRegular() || domain.ValidateUsername(name) != nil {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Get loads the record for username. A missing file yields a fresh record and found=false.
func (s *Store) Get(_ context.Context, username string) (domain.UserRecord, bool, error) {
	if err := domain.ValidateUsername(username); err != nil {
		return domain.UserRecord{}, false, err
	}
	start := time.Now()
	data, err := os.ReadFile(s.Path(username))
	observability.RecordStoreOperation("file", "get", start, err)
	if errors.Is(err, fs.ErrNotExist) {
		return domain.NewUserRecord(), false, nil
	}
	if err != nil {
		return domain.UserRecord{}, false, &domain.StorageError{Op: "read", Username: username, Err: err}
	}

	var record domain.UserRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return domain.UserRecord{}, false, &domain.StorageError{Op: "decode", Username: username, Err: err}
	}
	record.Normalize()
	return record, true, nil
}

// Put writes the record through a temporary file and rename, so readers see either the old
// or the new document.
func (s *Store) Put(_ context.Context, username string, record domain.UserRecord) error {
	if err := domain.ValidateUsername(username); err != nil {
		return err
	}
	data, err := Encode(record)
	if err != nil {
		return &domain.StorageError{Op: "encode", Username: username, Err: err}
	}
	start := time.Now()
	err = atomic.WriteFile(s.Path(username), bytes.NewReader(data))
	observability.RecordStoreOperation("file", "put", start, err)
	if err != nil {
		return &domain.StorageError{Op: "write", Username: username, Err: err}
	}
	return nil
}

// Lock takes an advisory file lock for username so separate processes sharing the data
// directory do not interleave read-modify-write cycles.
func (s *Store) Lock(ctx context.Context, username string) (func(), error) {
	if err := domain.ValidateUsername(username); err != nil {
		return nil, err
	}
	lock := flock.New(filepath.Join(s.dir, "."+username+".lock"))
	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, &domain.StorageError{Op: "lock", Username: username, Err: err}
	}
	if !locked {
		return nil, &domain.StorageError{Op: "lock", Username: username, Err: ctx.Err()}
	}
	return func() { _ = lock.Unlock() }, nil
}

// Encode renders a record as 2-space indented JSON with a trailing newline.
func Encode(record domain.UserRecord) ([]byte, error) {
	record = record.Clone()
	record.Normalize()
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
