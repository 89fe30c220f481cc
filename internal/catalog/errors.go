package catalog

import (
	"errors"
	"fmt"
	"io/fs"
)

// ErrMissingField is returned by ReadField when the document ends before the
// requested path is found.
var ErrMissingField = errors.New("catalog: metadata field not found")

// ErrOutsideCatalog is returned when an entry does not live in a catalog directory.
var ErrOutsideCatalog = errors.New("catalog: file is outside the catalog directories")

// IOError reports a filesystem failure while building or changing the catalog.
type IOError struct {
	Op   string
	Path string
	Err  error
}

// Error implements error.
func (e *IOError) Error() string {
	return fmt.Sprintf("catalog: %s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying filesystem error.
func (e *IOError) Unwrap() error { return e.Err }

// newIOError drops a *fs.PathError wrapper so the path is reported once.
func newIOError(op, path string, err error) *IOError {
	var pe *fs.PathError
	if errors.As(err, &pe) && pe.Path == path {
		err = pe.Err
	}
	return &IOError{Op: op, Path: path, Err: err}
}
