// Package surface abstracts the display side: wherever rendered quote
// documents live. The store never depends on a surface succeeding; surface
// failures are reported upward and reconciled with a forced refresh.
package surface

import (
	"context"
	"fmt"

	"quoteline/internal/render"
)

// ErrorKind classifies surface failures.
type ErrorKind int

const (
	KindTransient ErrorKind = iota
	KindRefNotFound
	KindForbidden
)

func (k ErrorKind) String() string {
	switch k {
	case KindRefNotFound:
		return "ref not found"
	case KindForbidden:
		return "forbidden"
	default:
		return "transient"
	}
}

// Error wraps a display-surface failure with its classification.
type Error struct {
	Kind ErrorKind
	Ref  string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("surface %s (ref %s): %v", e.Kind, e.Ref, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Surface is a place rendered documents can be created, replaced and removed.
type Surface interface {
	// CreatePlaceholder reserves a slot in the channel and returns its ref.
	CreatePlaceholder(ctx context.Context, channel string) (string, error)
	// Update replaces the document at ref.
	Update(ctx context.Context, ref string, doc render.Document) error
	// Delete removes the document at ref.
	Delete(ctx context.Context, ref string) error
}
