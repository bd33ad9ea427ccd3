package ingest

import (
	"errors"
	"io/fs"
)

// DefaultExtensions are the Terraform source suffixes picked up by a directory walk.
var DefaultExtensions = []string{".tf", ".tf.json"}

// ErrNotFound is returned when a declared source path does not exist.
// It matches fs.ErrNotExist with errors.Is.
var ErrNotFound = &notFoundError{}

// Document is the raw text of one source file.
type Document struct {
	SourcePath string `json:"source_path"`
	Text       string `json:"text"`
}

type notFoundError struct{}

func (e *notFoundError) Error() string { return "source not found" }

func (e *notFoundError) Is(target error) bool {
	return target == fs.ErrNotExist
}

// PathError carries the offending path of a failed load.
type PathError struct {
	Path string
	Err  error
}

func (e *PathError) Error() string { return e.Err.Error() + ": " + e.Path }

func (e *PathError) Unwrap() error { return e.Err }

func notFound(path string) error {
	return &PathError{Path: path, Err: ErrNotFound}
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
