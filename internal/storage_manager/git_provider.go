package storage_manager //nolint:revive // var-naming: using underscores for domain clarity

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/format/index"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// GitFileProvider implements FileProvider on a git working tree. Every write
// and delete is committed, which gives operators an audit trail of credential
// and principal changes.
type GitFileProvider struct {
	repoPath    string
	repo        *git.Repository
	authorName  string
	authorEmail string
	mu          sync.Mutex
}

// GitProviderOptions holds options for creating a GitFileProvider.
type GitProviderOptions struct {
	Path          string
	AuthorName    string
	AuthorEmail   string
	InitIfMissing bool
}

// NewGitFileProvider opens (or initialises) the repository at opts.Path.
func NewGitFileProvider(opts GitProviderOptions) (*GitFileProvider, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("repository path is required")
	}
	if opts.AuthorName == "" {
		opts.AuthorName = "group-tagger"
	}
	if opts.AuthorEmail == "" {
		opts.AuthorEmail = "group-tagger@localhost"
	}

	repo, err := git.PlainOpen(opts.Path)
	switch {
	case err == nil:
	case errors.Is(err, git.ErrRepositoryNotExists) && opts.InitIfMissing:
		if err := os.MkdirAll(opts.Path, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create repository directory: %w", err)
		}
		repo, err = git.PlainInit(opts.Path, false)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize git repository: %w", err)
		}
	default:
		return nil, fmt.Errorf("failed to open git repository: %w", err)
	}

	return &GitFileProvider{
		repoPath:    opts.Path,
		repo:        repo,
		authorName:  opts.AuthorName,
		authorEmail: opts.AuthorEmail,
	}, nil
}

// Read reads a file from the working tree.
func (p *GitFileProvider) Read(_ context.Context, path string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(p.repoPath, path)) //nolint:gosec // G304: path is joined onto trusted repoPath
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	return data, err
}

// Write writes data and commits it.
func (p *GitFileProvider) Write(_ context.Context, path string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	fullPath := filepath.Join(p.repoPath, path)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	if err := os.WriteFile(fullPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	worktree, err := p.repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree: %w", err)
	}
	if _, err := worktree.Add(filepath.ToSlash(path)); err != nil {
		return fmt.Errorf("failed to stage %s: %w", path, err)
	}
	return p.commit(worktree, "store: write "+path)
}

// Exists checks if a file exists in the working tree.
func (p *GitFileProvider) Exists(_ context.Context, path string) (bool, error) {
	return statExists(filepath.Join(p.repoPath, path))
}

// Delete removes a file and commits the deletion.
func (p *GitFileProvider) Delete(_ context.Context, path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	fullPath := filepath.Join(p.repoPath, path)
	exists, err := statExists(fullPath)
	if err != nil || !exists {
		return err
	}

	worktree, err := p.repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree: %w", err)
	}
	if _, err := worktree.Remove(filepath.ToSlash(path)); err != nil {
		if !errors.Is(err, index.ErrEntryNotFound) {
			return fmt.Errorf("failed to stage deletion of %s: %w", path, err)
		}
		// Untracked: remove from disk, nothing to commit.
		if err := os.Remove(fullPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to remove file: %w", err)
		}
		return nil
	}
	return p.commit(worktree, "store: delete "+path)
}

// List returns files under prefix in the working tree.
func (p *GitFileProvider) List(_ context.Context, prefix string) ([]string, error) {
	return walkFiles(p.repoPath, prefix)
}

// Ping verifies the worktree is accessible.
func (p *GitFileProvider) Ping(_ context.Context) error {
	if _, err := p.repo.Worktree(); err != nil {
		return fmt.Errorf("git worktree unavailable: %w", err)
	}
	return nil
}

func (p *GitFileProvider) commit(worktree *git.Worktree, msg string) error {
	_, err := worktree.Commit(msg, &git.CommitOptions{
		Author: &object.Signature{
			Name:  p.authorName,
			Email: p.authorEmail,
			When:  time.Now(),
		},
	})
	if err != nil && !errors.Is(err, git.ErrEmptyCommit) {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}
