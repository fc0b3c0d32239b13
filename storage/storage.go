// File: storage/storage.go
package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Document names used by the registry and the ledger.
const (
	DocBallots = "ballots"
	DocVoters  = "voters"
	DocAdmins  = "admins"
)

const (
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// DocumentStore reads and replaces whole JSON documents by name. Save either
// fully replaces the previous document or leaves it untouched.
type DocumentStore interface {
	// Load decodes the named document into v. found is false when the
	// document does not exist; a document that exists but cannot be decoded
	// yields found == true and a non-nil error.
	Load(ctx context.Context, name string, v any) (found bool, err error)
	Save(ctx context.Context, name string, v any) error
	Close() error
}

// Open returns the DocumentStore for backend.
func Open(backend, dataDir, databaseURL string, logger *slog.Logger) (DocumentStore, error) {
	switch backend {
	case "", BackendFile:
		return NewFileStore(dataDir, logger)
	case BackendSQLite:
		dsn := databaseURL
		if dsn == "" {
			dsn = filepath.Join(dataDir, "ballotbox.sqlite")
		}
		return NewSQLStore(BackendSQLite, dsn, logger)
	case BackendPostgres:
		return NewSQLStore(BackendPostgres, databaseURL, logger)
	case BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

const archiveStampLayout = "20060102_150405"

// Archive keeps timestamped files such as voting_results_20240101_120000.txt
// in one directory and prunes all but the newest keep of them.
type Archive struct {
	dir    string
	prefix string
	ext    string
	keep   int
	logger *slog.Logger
	mutex  sync.Mutex
}

type archiveFile struct {
	path      string
	timestamp int64
}

type archiveFiles []archiveFile

func (f archiveFiles) Len() int           { return len(f) }
func (f archiveFiles) Less(i, j int) bool { return f[i].timestamp < f[j].timestamp }
func (f archiveFiles) Swap(i, j int)      { f[i], f[j] = f[j], f[i] }

func NewArchive(dir, prefix, ext string, keep int, logger *slog.Logger) (*Archive, error) {
	absPath, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}
	if err := os.MkdirAll(absPath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	if logger == nil {
		logger = discardLogger()
	}
	return &Archive{
		dir:    absPath,
		prefix: prefix,
		ext:    ext,
		keep:   keep,
		logger: logger.With("component", "archive"),
	}, nil
}

func (a *Archive) Dir() string { return a.dir }

// Write stores data under a name derived from at and prunes old files.
func (a *Archive) Write(at time.Time, data []byte) (string, error) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	filename := filepath.Join(a.dir, a.prefix+at.Format(archiveStampLayout)+a.ext)
	if err := writeFileAtomic(filename, data, 0o644); err != nil {
		return "", err
	}

	if a.keep > 0 {
		if err := a.cleanupOldFiles(a.keep); err != nil {
			a.logger.Warn("failed to clean up old files", "error", err)
		}
	}
	a.logger.Debug("archived file", "path", filename, "bytes", len(data))
	return filename, nil
}

// List returns archived paths, oldest first.
func (a *Archive) List() ([]string, error) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	files, err := a.files()
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(files))
	for _, f := range files {
		paths = append(paths, f.path)
	}
	return paths, nil
}

// Latest returns the newest archived path, or "" when there is none.
func (a *Archive) Latest() (string, error) {
	paths, err := a.List()
	if err != nil || len(paths) == 0 {
		return "", err
	}
	return paths[len(paths)-1], nil
}

func (a *Archive) files() (archiveFiles, error) {
	matches, err := filepath.Glob(filepath.Join(a.dir, a.prefix+"*"+a.ext))
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}

	var files archiveFiles
	for _, file := range matches {
		base := filepath.Base(file)
		stamp := strings.TrimSuffix(strings.TrimPrefix(base, a.prefix), a.ext)
		timestamp, err := time.ParseInLocation(archiveStampLayout, stamp, time.Local)
		if err != nil {
			a.logger.Warn("invalid timestamp in filename", "file", base, "error", err)
			continue
		}
		files = append(files, archiveFile{path: file, timestamp: timestamp.Unix()})
	}
	sort.Stable(files)
	return files, nil
}

func (a *Archive) cleanupOldFiles(keep int) error {
	files, err := a.files()
	if err != nil {
		return err
	}
	if len(files) <= keep {
		return nil
	}

	for i := 0; i < len(files)-keep; i++ {
		if err := os.Remove(files[i].path); err != nil {
			a.logger.Warn("failed to remove old file", "path", files[i].path, "error", err)
		} else {
			a.logger.Debug("removed old file", "path", files[i].path)
		}
	}
	return nil
}
