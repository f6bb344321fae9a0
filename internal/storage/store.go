// Package storage archives published extracts and their manifests to a
// local directory or an object store.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// ExtractRef locates one archived extract.
type ExtractRef struct {
	Dataset string
	BatchID string
	File    string // extract file name, e.g. "<batch>.parquet"
}

// DirPath returns the directory holding this extract and its manifest.
func (r ExtractRef) DirPath(prefix string) string {
	return fmt.Sprintf("%s%s/%s", prefix, r.Dataset, r.BatchID)
}

// Path returns the storage key of the extract file.
func (r ExtractRef) Path(prefix string) string {
	return r.DirPath(prefix) + "/" + r.File
}

// ManifestPath returns the storage key of the manifest.
func (r ExtractRef) ManifestPath(prefix string) string {
	return r.DirPath(prefix) + "/_manifest.json"
}

// Manifest describes an archived extract and the publish that shipped it.
type Manifest struct {
	Extract   ExtractInfo  `json:"extract"`
	Publish   PublishInfo  `json:"publish"`
	Producer  ProducerInfo `json:"producer"`
	CreatedAt time.Time    `json:"created_at"`
}

// ExtractInfo describes the extract file.
type ExtractInfo struct {
	File     string `json:"file"`
	Table    string `json:"table"`
	Checksum string `json:"checksum"`
	RowCount int64  `json:"row_count"`
	ByteSize int64  `json:"byte_size"`
}

// PublishInfo ties the extract to its remote update.
type PublishInfo struct {
	Topic     string `json:"topic"`
	Dataset   string `json:"dataset"`
	BatchID   string `json:"batch_id"`
	RequestID string `json:"request_id"`
	JobID     string `json:"job_id"`
}

// ProducerInfo describes the software that produced the extract.
type ProducerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	GitSHA  string `json:"git_sha,omitempty"`
}

// MarshalJSON returns the manifest as indented JSON bytes.
func (m *Manifest) MarshalJSON() ([]byte, error) {
	type Alias Manifest
	return json.MarshalIndent((*Alias)(m), "", "  ")
}

// ObjectInfo contains metadata about a stored object.
type ObjectInfo struct {
	Key     string
	Size    int64
	ETag    string // MD5 for S3/GCS, empty for local
	ModTime time.Time
}

// Store writes extracts through temp keys that are finalized or aborted
// together.
type Store interface {
	// WriteExtractTemp writes extract bytes to a temporary key.
	WriteExtractTemp(ctx context.Context, ref ExtractRef, data []byte) (tempKey string, err error)

	// WriteManifestTemp writes a manifest to a temporary key.
	WriteManifestTemp(ctx context.Context, ref ExtractRef, manifest *Manifest) (tempKey string, err error)

	// Finalize moves the extract and manifest temp keys, in that order, to
	// their canonical keys. On failure nothing is left at the final keys.
	Finalize(ctx context.Context, ref ExtractRef, tempKeys []string) error

	// Abort removes temporary keys without publishing.
	Abort(ctx context.Context, tempKeys []string) error

	// Exists reports whether a complete archive (manifest included) exists.
	Exists(ctx context.Context, ref ExtractRef) (bool, error)

	// Head returns metadata about a stored object.
	Head(ctx context.Context, key string) (*ObjectInfo, error)

	// List returns all keys with the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// Prefix is the key prefix applied to every ref.
	Prefix() string

	// URI returns the canonical URI for the given key.
	// For local: file:///path, GCS: gs://bucket/path, S3: s3://bucket/path
	URI(key string) string

	Close() error
}

// Config configures the archive backend.
type Config struct {
	Backend string `yaml:"backend"` // "" (disabled) | "local" | "gcs" | "s3" | "mem"

	LocalDir string `yaml:"local_dir"`
	Bucket   string `yaml:"bucket"`

	// S3 (also works for B2, R2, MinIO)
	Endpoint string `yaml:"endpoint"`
	Region   string `yaml:"region"`

	Prefix string `yaml:"prefix"` // "extracts/"
}

// Enabled reports whether an archive backend is configured.
func (c Config) Enabled() bool {
	return c.Backend != "" && c.Backend != "none"
}

// New creates a storage backend based on configuration.
func New(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case "local":
		if cfg.LocalDir == "" {
			return nil, fmt.Errorf("local_dir required for local backend")
		}
		return NewLocalStore(cfg.LocalDir, cfg.Prefix)
	case "gcs":
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("bucket required for gcs backend")
		}
		return NewGCSStore(ctx, cfg.Bucket, cfg.Prefix)
	case "s3":
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("bucket required for s3 backend")
		}
		return NewS3Store(ctx, cfg.Bucket, cfg.Prefix, cfg.Endpoint, cfg.Region)
	case "mem":
		return NewMemStore(ctx, cfg.Prefix)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}

// ArchiveResult reports where an extract was archived.
type ArchiveResult struct {
	ExtractURI  string
	ManifestURI string
}

// Archive writes data and its manifest to temp keys and finalizes both, or
// aborts the temp keys on any failure.
func Archive(ctx context.Context, store Store, ref ExtractRef, data []byte, manifest *Manifest) (*ArchiveResult, error) {
	tempExtract, err := store.WriteExtractTemp(ctx, ref, data)
	if err != nil {
		return nil, fmt.Errorf("write extract: %w", err)
	}

	tempManifest, err := store.WriteManifestTemp(ctx, ref, manifest)
	if err != nil {
		store.Abort(ctx, []string{tempExtract})
		return nil, fmt.Errorf("write manifest: %w", err)
	}

	if err := store.Finalize(ctx, ref, []string{tempExtract, tempManifest}); err != nil {
		return nil, fmt.Errorf("finalize archive: %w", err)
	}

	return &ArchiveResult{
		ExtractURI:  store.URI(ref.Path(store.Prefix())),
		ManifestURI: store.URI(ref.ManifestPath(store.Prefix())),
	}, nil
}
