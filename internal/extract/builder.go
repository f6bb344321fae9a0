package extract

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/withObsrvr/top10-publisher/internal/logging"
)

// Store creates extract files. Create must truncate any existing file at
// path (create-and-replace).
type Store interface {
	Create(path string) (Writer, error)
}

// Writer populates one extract file. Calls happen in order:
// CreateNamespace, CreateTable, Insert (at most once), Close.
type Writer interface {
	CreateNamespace(name string) error
	CreateTable(def TableDefinition) error
	Insert(rows []Row) error
	Close() error
}

// BuildError reports a failed extract build. The partial file has already
// been removed when this error is returned.
type BuildError struct {
	Path string
	Op   string
	Err  error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build extract %s: %s: %v", e.Path, e.Op, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// ErrDirectoryMissing is wrapped when the target directory does not exist.
var ErrDirectoryMissing = errors.New("output directory does not exist")

// Builder writes rows into new extract files.
type Builder struct {
	store Store
	log   *slog.Logger
}

// NewBuilder creates a builder over store.
func NewBuilder(store Store) *Builder {
	return &Builder{
		store: store,
		log:   logging.Component("extract"),
	}
}

// Build creates the extract at path and returns the path. A file this
// attempt created is removed before the error is returned; nothing is
// removed when the store could not create the file.
func (b *Builder) Build(path string, def TableDefinition, rows []Row) (string, error) {
	dir := filepath.Dir(path)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", &BuildError{Path: path, Op: "check directory", Err: fmt.Errorf("%w: %s", ErrDirectoryMissing, dir)}
	}

	start := time.Now()
	if op, created, err := b.populate(path, def, rows); err != nil {
		var result error = &BuildError{Path: path, Op: op, Err: err}
		if created {
			if rmErr := removeIfExists(path); rmErr != nil {
				result = multierror.Append(result, fmt.Errorf("remove partial extract: %w", rmErr))
			}
		}
		b.log.Error("extract build failed", "path", path, "op", op, "error", err)
		return "", result
	}

	b.log.Info("extract built",
		"path", path,
		"table", def.QualifiedName(),
		"rows", len(rows),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return path, nil
}

// populate runs the create/namespace/table/insert/close sequence and
// reports which step failed and whether the file was created.
func (b *Builder) populate(path string, def TableDefinition, rows []Row) (op string, created bool, err error) {
	w, err := b.store.Create(path)
	if err != nil {
		return "create file", false, err
	}

	closed := false
	defer func() {
		if !closed {
			w.Close()
		}
	}()

	if err := w.CreateNamespace(def.Namespace); err != nil {
		return "create namespace", true, err
	}
	if err := w.CreateTable(def); err != nil {
		return "create table", true, err
	}
	if len(rows) > 0 {
		if err := w.Insert(rows); err != nil {
			return "insert rows", true, err
		}
	}

	closed = true
	if err := w.Close(); err != nil {
		return "finalize", true, err
	}
	return "", true, nil
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// FileName returns a unique-per-generation extract file name for a batch.
func FileName(batchID string) string {
	return sanitize(batchID) + ".parquet"
}

// ScratchFileName is the local file name of one run's extract. runID keeps
// concurrent runs of the same batch apart.
func ScratchFileName(batchID, runID string) string {
	return sanitize(batchID) + "_" + sanitize(runID) + ".parquet"
}

func sanitize(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
