package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"

	"github.com/google/uuid"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/gcsblob" // GCS driver
	"gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob" // S3 driver
)

// BlobStore archives extracts to a gocloud bucket (GCS, S3 or memory).
type BlobStore struct {
	bucket  *blob.Bucket
	uriBase string // "gs://bucket", "s3://bucket", "mem://"
	prefix  string
}

// NewBlobStore wraps an open bucket. uriBase is used to build URIs.
func NewBlobStore(bucket *blob.Bucket, uriBase, prefix string) *BlobStore {
	return &BlobStore{bucket: bucket, uriBase: uriBase, prefix: prefix}
}

// NewGCSStore opens a Google Cloud Storage bucket.
func NewGCSStore(ctx context.Context, bucketName, prefix string) (*BlobStore, error) {
	bucket, err := blob.OpenBucket(ctx, fmt.Sprintf("gs://%s", bucketName))
	if err != nil {
		return nil, fmt.Errorf("open GCS bucket %s: %w", bucketName, err)
	}
	return NewBlobStore(bucket, "gs://"+bucketName, prefix), nil
}

// NewS3Store opens an S3-compatible bucket.
// Works with AWS S3, Backblaze B2, Cloudflare R2, and MinIO.
func NewS3Store(ctx context.Context, bucketName, prefix, endpoint, region string) (*BlobStore, error) {
	bucketURL := fmt.Sprintf("s3://%s", bucketName)

	params := url.Values{}
	if region != "" {
		params.Set("region", region)
	}
	if endpoint != "" {
		params.Set("endpoint", endpoint)
		params.Set("use_path_style", "true")
	}
	if len(params) > 0 {
		bucketURL = bucketURL + "?" + params.Encode()
	}

	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open S3 bucket %s: %w", bucketName, err)
	}
	return NewBlobStore(bucket, "s3://"+bucketName, prefix), nil
}

// NewMemStore creates an in-memory bucket. Contents vanish on Close.
func NewMemStore(ctx context.Context, prefix string) (*BlobStore, error) {
	return NewBlobStore(memblob.OpenBucket(nil), "mem://", prefix), nil
}

func (s *BlobStore) write(ctx context.Context, key string, data []byte) error {
	w, err := s.bucket.NewWriter(ctx, key, nil)
	if err != nil {
		return fmt.Errorf("create writer for %s: %w", key, err)
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("write data to %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close writer for %s: %w", key, err)
	}
	return nil
}

// WriteExtractTemp writes extract bytes to a temporary key.
func (s *BlobStore) WriteExtractTemp(ctx context.Context, ref ExtractRef, data []byte) (string, error) {
	tempKey := ref.Path(s.prefix) + ".tmp." + uuid.New().String()
	if err := s.write(ctx, tempKey, data); err != nil {
		return "", err
	}
	return tempKey, nil
}

// WriteManifestTemp writes a manifest to a temporary key.
func (s *BlobStore) WriteManifestTemp(ctx context.Context, ref ExtractRef, manifest *Manifest) (string, error) {
	data, err := manifest.MarshalJSON()
	if err != nil {
		return "", fmt.Errorf("marshal manifest: %w", err)
	}
	tempKey := ref.ManifestPath(s.prefix) + ".tmp." + uuid.New().String()
	if err := s.write(ctx, tempKey, data); err != nil {
		return "", err
	}
	return tempKey, nil
}

// Finalize copies temp objects to their final keys, then deletes the temps.
func (s *BlobStore) Finalize(ctx context.Context, ref ExtractRef, tempKeys []string) error {
	finalKeys := []string{ref.Path(s.prefix), ref.ManifestPath(s.prefix)}
	if len(tempKeys) != len(finalKeys) {
		return fmt.Errorf("expected %d temp keys, got %d", len(finalKeys), len(tempKeys))
	}

	for i, tempKey := range tempKeys {
		if err := s.bucket.Copy(ctx, finalKeys[i], tempKey, nil); err != nil {
			for j := 0; j < i; j++ {
				s.bucket.Delete(ctx, finalKeys[j])
			}
			s.Abort(ctx, tempKeys)
			return fmt.Errorf("finalize %s -> %s: %w", tempKey, finalKeys[i], err)
		}
	}

	for _, tempKey := range tempKeys {
		s.bucket.Delete(ctx, tempKey) // ignore errors
	}
	return nil
}

// Abort removes temporary objects.
func (s *BlobStore) Abort(ctx context.Context, tempKeys []string) error {
	var lastErr error
	for _, key := range tempKeys {
		if err := s.bucket.Delete(ctx, key); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Exists checks whether the manifest of an archive is present.
func (s *BlobStore) Exists(ctx context.Context, ref ExtractRef) (bool, error) {
	return s.bucket.Exists(ctx, ref.ManifestPath(s.prefix))
}

// Head returns metadata about a stored object.
func (s *BlobStore) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	attrs, err := s.bucket.Attributes(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("get attributes for %s: %w", key, err)
	}
	return &ObjectInfo{
		Key:     key,
		Size:    attrs.Size,
		ETag:    attrs.ETag,
		ModTime: attrs.ModTime,
	}, nil
}

// List returns all keys with the given prefix.
func (s *BlobStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := s.bucket.List(&blob.ListOptions{Prefix: prefix})
	for {
		obj, err := iter.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		if obj.IsDir {
			continue
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

// Prefix returns the key prefix.
func (s *BlobStore) Prefix() string { return s.prefix }

// URI returns the canonical URI for the given key.
func (s *BlobStore) URI(key string) string {
	if s.uriBase == "mem://" {
		return s.uriBase + key
	}
	return s.uriBase + "/" + key
}

// Close releases the bucket connection.
func (s *BlobStore) Close() error {
	if s.bucket != nil {
		return s.bucket.Close()
	}
	return nil
}

var _ Store = (*BlobStore)(nil)
