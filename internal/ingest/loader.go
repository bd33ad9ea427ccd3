// Package ingest loads Terraform sources and guardrail documents as raw text.
//
// Sources can be a local directory tree, a remote git repository cloned into
// memory, a local file, or a file stored in a GitHub repository.
package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// skipDirs are never descended into during a local walk.
var skipDirs = map[string]bool{
	".git":       true,
	".terraform": true,
}

// Load reads every matching file from a local directory or a remote git repository.
func Load(ctx context.Context, source string, exts []string) ([]Document, error) {
	if IsGitURL(source) {
		return LoadGitRepository(ctx, source, exts)
	}
	return LoadDirectory(ctx, source, exts)
}

// LoadDirectory walks root recursively and reads every file whose name ends with one of exts.
// Files are returned in walk order (lexical within each directory).
func LoadDirectory(ctx context.Context, root string, exts []string) ([]Document, error) {
	if len(exts) == 0 {
		exts = DefaultExtensions
	}

	info, err := os.Stat(root)
	if err != nil {
		if isNotExist(err) {
			return nil, notFound(root)
		}
		return nil, fmt.Errorf("failed to stat %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("code directory %s is not a directory", root)
	}

	var docs []Document
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if path != root && skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !HasExtension(d.Name(), exts) {
			return nil
		}

		doc, err := LoadFile(ctx, path)
		if err != nil {
			return err
		}
		docs = append(docs, doc)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", root, err)
	}

	return docs, nil
}

// LoadFile reads a single file as one document.
func LoadFile(ctx context.Context, path string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if isNotExist(err) {
			return Document{}, notFound(path)
		}
		return Document{}, fmt.Errorf("failed to read %s: %w", path, err)
	}

	return Document{SourcePath: path, Text: string(data)}, nil
}

// LoadGuardrails reads the guardrail document from a local path or a github:// reference.
func LoadGuardrails(ctx context.Context, ref string, githubToken string) (Document, error) {
	if strings.HasPrefix(ref, GitHubScheme) {
		loc, err := ParseGitHubRef(ref)
		if err != nil {
			return Document{}, err
		}
		return LoadGitHubFile(ctx, NewGitHubClient(githubToken), loc)
	}
	return LoadFile(ctx, ref)
}

// HasExtension reports whether name ends with one of exts.
func HasExtension(name string, exts []string) bool {
	for _, ext := range exts {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}
