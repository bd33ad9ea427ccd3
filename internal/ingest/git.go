package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/go-git/go-git/v6"
	"github.com/go-git/go-git/v6/plumbing/object"
	"github.com/go-git/go-git/v6/plumbing/transport"
	"github.com/go-git/go-git/v6/storage/memory"
)

// IsGitURL reports whether source points at a remote git repository rather than a local path.
func IsGitURL(source string) bool {
	for _, prefix := range []string{"https://", "http://", "ssh://", "git@", "file://"} {
		if strings.HasPrefix(source, prefix) {
			return true
		}
	}
	return strings.HasSuffix(source, ".git")
}

// CloneRepository clones a repository into memory at depth 1.
func CloneRepository(ctx context.Context, url string) (*git.Repository, error) {
	repo, err := git.CloneContext(ctx, memory.NewStorage(), nil, &git.CloneOptions{
		URL:   url,
		Depth: 1,
	})
	if err != nil {
		if errors.Is(err, transport.ErrRepositoryNotFound) {
			return nil, notFound(url)
		}
		return nil, fmt.Errorf("failed to clone %s: %w", url, err)
	}
	return repo, nil
}

// LoadGitRepository clones url and reads every matching file from the HEAD tree.
// Source paths are "<url>/<path in repository>".
func LoadGitRepository(ctx context.Context, url string, exts []string) ([]Document, error) {
	repo, err := CloneRepository(ctx, url)
	if err != nil {
		return nil, err
	}
	return LoadRepositoryTree(ctx, repo, strings.TrimSuffix(url, "/"), exts)
}

// LoadRepositoryTree reads matching files from the HEAD commit of an opened repository.
func LoadRepositoryTree(ctx context.Context, repo *git.Repository, prefix string, exts []string) ([]Document, error) {
	if len(exts) == 0 {
		exts = DefaultExtensions
	}

	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve HEAD: %w", err)
	}

	commit, err := repo.CommitObject(head.Hash())
	if err != nil {
		return nil, fmt.Errorf("failed to get HEAD commit: %w", err)
	}

	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to get tree: %w", err)
	}

	var docs []Document
	err = tree.Files().ForEach(func(file *object.File) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if inSkippedDir(file.Name) || !HasExtension(path.Base(file.Name), exts) {
			return nil
		}

		isBinary, err := file.IsBinary()
		if err != nil || isBinary {
			return nil
		}

		content, err := file.Contents()
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", file.Name, err)
		}

		docs = append(docs, Document{
			SourcePath: prefix + "/" + file.Name,
			Text:       content,
		})
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	return docs, nil
}

func inSkippedDir(name string) bool {
	for _, part := range strings.Split(path.Dir(name), "/") {
		if skipDirs[part] {
			return true
		}
	}
	return false
}
