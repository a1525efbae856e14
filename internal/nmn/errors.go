package nmn

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidMagic       = errors.New("invalid magic number")
	ErrUnsupportedVersion = errors.New("unsupported format version")
	ErrTruncated          = errors.New("truncated network file")
	ErrTrailingData       = errors.New("trailing bytes after last model block")
	ErrShape              = errors.New("shape precondition failed")
	ErrLayoutMismatch     = errors.New("written layout diverges from plan")
	ErrUnknownLayer       = errors.New("unknown layer type")
	ErrMisaligned         = errors.New("model block is not 64-byte aligned")
)

// ShapeError reports a field whose length disagrees with the dimension that describes it.
type ShapeError struct {
	Field string
	Want  int
	Got   int
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("%s: want %d, got %d", e.Field, e.Want, e.Got)
}

func (e *ShapeError) Unwrap() error { return ErrShape }

func shapeErr(field string, want, got int) error {
	return &ShapeError{Field: field, Want: want, Got: got}
}

// LayoutError is an internal consistency fault: the write pass did not end where the plan did.
type LayoutError struct {
	Planned int
	Written int
	Field   string // first diverging field, if any
}

func (e *LayoutError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("layout mismatch at %s: planned %d bytes, wrote %d", e.Field, e.Planned, e.Written)
	}
	return fmt.Sprintf("layout mismatch: planned %d bytes, wrote %d", e.Planned, e.Written)
}

func (e *LayoutError) Unwrap() error { return ErrLayoutMismatch }
