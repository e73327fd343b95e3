// Package storage_manager provides the durable keyed store behind session
// credentials, authorized principals and contact books. Backends are the local
// filesystem, S3, a git working tree and Postgres; components receive
// namespace-scoped providers so they never see each other's keys.
package storage_manager //nolint:revive // var-naming: using underscores for domain clarity

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrNotFound is returned by Read when the key does not exist in the backend.
var ErrNotFound = errors.New("object not found")

// FileProvider defines the interface for keyed blob storage.
type FileProvider interface {
	// Read returns the content stored under path, or ErrNotFound.
	Read(ctx context.Context, path string) ([]byte, error)

	// Write stores data under path, replacing any previous content.
	Write(ctx context.Context, path string, data []byte) error

	// Exists reports whether path holds a value.
	Exists(ctx context.Context, path string) (bool, error)

	// Delete removes path. Deleting a missing key is not an error.
	Delete(ctx context.Context, path string) error

	// List returns the keys under prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Pinger is implemented by providers that can report backend reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// LocalFileProvider implements FileProvider on the local filesystem.
type LocalFileProvider struct {
	baseDir string
}

// NewLocalFileProvider creates a provider rooted at baseDir.
func NewLocalFileProvider(baseDir string) *LocalFileProvider {
	return &LocalFileProvider{baseDir: baseDir}
}

// Read reads a file from the local filesystem.
func (p *LocalFileProvider) Read(_ context.Context, path string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(p.baseDir, path)) //nolint:gosec // G304: path is joined onto trusted baseDir
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	return data, err
}

// Write writes data to a local file, creating parent directories.
func (p *LocalFileProvider) Write(_ context.Context, path string, data []byte) error {
	fullPath := filepath.Join(p.baseDir, path)

	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	// Rename so readers never observe a partial write.
	tmp := fullPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return os.Rename(tmp, fullPath)
}

// Exists checks if a file exists on the local filesystem.
func (p *LocalFileProvider) Exists(_ context.Context, path string) (bool, error) {
	return statExists(filepath.Join(p.baseDir, path))
}

// Delete removes a file from the local filesystem.
func (p *LocalFileProvider) Delete(_ context.Context, path string) error {
	err := os.Remove(filepath.Join(p.baseDir, path))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// List returns files under prefix, relative to the base directory.
func (p *LocalFileProvider) List(_ context.Context, prefix string) ([]string, error) {
	return walkFiles(p.baseDir, prefix)
}

// Ping verifies the base directory is usable.
func (p *LocalFileProvider) Ping(_ context.Context) error {
	if err := os.MkdirAll(p.baseDir, 0o750); err != nil {
		return fmt.Errorf("storage directory %s unavailable: %w", p.baseDir, err)
	}
	return nil
}

func statExists(fullPath string) (bool, error) {
	_, err := os.Stat(fullPath)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// walkFiles lists regular files below root/prefix as slash-separated keys,
// skipping .git and in-flight temp files.
func walkFiles(root, prefix string) ([]string, error) {
	result := []string{}
	err := filepath.WalkDir(filepath.Join(root, prefix), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(d.Name(), ".tmp") {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err == nil {
			result = append(result, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(result)
	return result, nil
}

// PrefixedFileProvider scopes a FileProvider to one namespace.
type PrefixedFileProvider struct {
	provider FileProvider
	prefix   string
}

// NewPrefixedFileProvider creates a new prefixed file provider.
func NewPrefixedFileProvider(provider FileProvider, prefix string) *PrefixedFileProvider {
	return &PrefixedFileProvider{
		provider: provider,
		prefix:   strings.Trim(prefix, "/"),
	}
}

// Read reads a file with the prefix applied.
func (p *PrefixedFileProvider) Read(ctx context.Context, path string) ([]byte, error) {
	return p.provider.Read(ctx, p.prefixPath(path))
}

// Write writes data with the prefix applied.
func (p *PrefixedFileProvider) Write(ctx context.Context, path string, data []byte) error {
	return p.provider.Write(ctx, p.prefixPath(path), data)
}

// Exists checks if a file exists with the prefix applied.
func (p *PrefixedFileProvider) Exists(ctx context.Context, path string) (bool, error) {
	return p.provider.Exists(ctx, p.prefixPath(path))
}

// Delete removes a file with the prefix applied.
func (p *PrefixedFileProvider) Delete(ctx context.Context, path string) error {
	return p.provider.Delete(ctx, p.prefixPath(path))
}

// List returns keys under prefix with the namespace stripped again.
func (p *PrefixedFileProvider) List(ctx context.Context, prefix string) ([]string, error) {
	files, err := p.provider.List(ctx, p.prefixPath(prefix))
	if err != nil {
		return nil, err
	}

	root := p.prefixPath("")
	result := make([]string, 0, len(files))
	for _, file := range files {
		if strings.HasPrefix(file, root) {
			result = append(result, file[len(root):])
		}
	}
	return result, nil
}

// Ping delegates to the wrapped provider when it supports it.
func (p *PrefixedFileProvider) Ping(ctx context.Context) error {
	if pinger, ok := p.provider.(Pinger); ok {
		return pinger.Ping(ctx)
	}
	return nil
}

func (p *PrefixedFileProvider) prefixPath(path string) string {
	if p.prefix == "" {
		return path
	}
	return p.prefix + "/" + path
}
