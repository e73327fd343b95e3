package storage_manager //nolint:revive // var-naming: using underscores for domain clarity

import (
	"context"
	"errors"
	"sort"
	"strings"
)

// S3FileProvider implements FileProvider on an S3 bucket.
type S3FileProvider struct {
	bucket   string
	prefix   string
	s3Client S3Client
}

// NewS3FileProvider creates a provider for bucket, scoping keys under prefix.
func NewS3FileProvider(bucket, prefix string, s3Client S3Client) *S3FileProvider {
	return &S3FileProvider{
		bucket:   bucket,
		prefix:   strings.Trim(prefix, "/"),
		s3Client: s3Client,
	}
}

// Read reads an object.
func (p *S3FileProvider) Read(ctx context.Context, path string) ([]byte, error) {
	return p.s3Client.GetObject(ctx, p.bucket, p.key(path))
}

// Write writes an object.
func (p *S3FileProvider) Write(ctx context.Context, path string, data []byte) error {
	return p.s3Client.PutObject(ctx, p.bucket, p.key(path), data)
}

// Exists returns (false, nil) only for "not found"; other failures propagate.
func (p *S3FileProvider) Exists(ctx context.Context, path string) (bool, error) {
	err := p.s3Client.HeadObject(ctx, p.bucket, p.key(path))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Delete removes an object.
func (p *S3FileProvider) Delete(ctx context.Context, path string) error {
	return p.s3Client.DeleteObject(ctx, p.bucket, p.key(path))
}

// List returns keys under prefix relative to the provider prefix.
func (p *S3FileProvider) List(ctx context.Context, prefix string) ([]string, error) {
	keys, err := p.s3Client.ListObjects(ctx, p.bucket, p.key(prefix))
	if err != nil {
		return nil, err
	}

	root := p.key("")
	result := make([]string, 0, len(keys))
	for _, key := range keys {
		if len(key) > len(root) && strings.HasPrefix(key, root) {
			result = append(result, key[len(root):])
		}
	}
	sort.Strings(result)
	return result, nil
}

// Ping checks the bucket.
func (p *S3FileProvider) Ping(ctx context.Context) error {
	return p.s3Client.HeadBucket(ctx, p.bucket)
}

func (p *S3FileProvider) key(path string) string {
	if p.prefix == "" {
		return path
	}
	return p.prefix + "/" + path
}
