package storage

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// LocalStore archives extracts on the local filesystem.
type LocalStore struct {
	baseDir string
	prefix  string
}

// NewLocalStore creates a new local filesystem store.
func NewLocalStore(baseDir, prefix string) (*LocalStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create base directory %s: %w", baseDir, err)
	}

	return &LocalStore{
		baseDir: baseDir,
		prefix:  prefix,
	}, nil
}

func (s *LocalStore) abs(key string) string {
	return filepath.Join(s.baseDir, filepath.FromSlash(key))
}

// writeTemp writes data next to finalKey under a unique temp name.
func (s *LocalStore) writeTemp(finalKey string, data []byte) (string, error) {
	tempKey := finalKey + ".tmp." + uuid.New().String()
	path := s.abs(tempKey)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create directory %s: %w", dir, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write temp file %s: %w", path, err)
	}
	return tempKey, nil
}

// WriteExtractTemp writes extract bytes to a temporary file.
func (s *LocalStore) WriteExtractTemp(ctx context.Context, ref ExtractRef, data []byte) (string, error) {
	return s.writeTemp(ref.Path(s.prefix), data)
}

// WriteManifestTemp writes a manifest to a temporary file.
func (s *LocalStore) WriteManifestTemp(ctx context.Context, ref ExtractRef, manifest *Manifest) (string, error) {
	data, err := manifest.MarshalJSON()
	if err != nil {
		return "", fmt.Errorf("marshal manifest: %w", err)
	}
	return s.writeTemp(ref.ManifestPath(s.prefix), data)
}

// Finalize renames temp files into place.
func (s *LocalStore) Finalize(ctx context.Context, ref ExtractRef, tempKeys []string) error {
	finalKeys := []string{ref.Path(s.prefix), ref.ManifestPath(s.prefix)}
	if len(tempKeys) != len(finalKeys) {
		return fmt.Errorf("expected %d temp keys, got %d", len(finalKeys), len(tempKeys))
	}

	for i, tempKey := range tempKeys {
		if err := os.Rename(s.abs(tempKey), s.abs(finalKeys[i])); err != nil {
			for j := 0; j < i; j++ {
				os.Remove(s.abs(finalKeys[j]))
			}
			s.Abort(ctx, tempKeys[i:])
			return fmt.Errorf("rename %s to %s: %w", tempKey, finalKeys[i], err)
		}
	}
	return nil
}

// Abort removes temp files.
func (s *LocalStore) Abort(ctx context.Context, tempKeys []string) error {
	var lastErr error
	for _, key := range tempKeys {
		if err := os.Remove(s.abs(key)); err != nil && !os.IsNotExist(err) {
			lastErr = err
		}
	}
	return lastErr
}

// Exists checks whether the manifest of an archive is present.
func (s *LocalStore) Exists(ctx context.Context, ref ExtractRef) (bool, error) {
	_, err := os.Stat(s.abs(ref.ManifestPath(s.prefix)))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// Head returns metadata about a stored file.
func (s *LocalStore) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	info, err := os.Stat(s.abs(key))
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", key, err)
	}
	return &ObjectInfo{
		Key:     key,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}, nil
}

// List returns all finalized keys starting with prefix.
func (s *LocalStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(s.baseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.baseDir, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) && !strings.Contains(key, ".tmp.") {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	return keys, nil
}

// Prefix returns the key prefix.
func (s *LocalStore) Prefix() string { return s.prefix }

// URI returns the canonical URI for the given key.
func (s *LocalStore) URI(key string) string {
	absPath, err := filepath.Abs(s.abs(key))
	if err != nil {
		absPath = s.abs(key)
	}
	return "file://" + absPath
}

// Close is a no-op for local storage.
func (s *LocalStore) Close() error {
	return nil
}

var _ Store = (*LocalStore)(nil)
