package surface

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"quoteline/internal/render"
)

// Dir writes rendered documents as markdown files under a board directory.
// A ref is the file path relative to the board root, channels are subdirs.
type Dir struct {
	Base string
}

func NewDir(base string) *Dir {
	return &Dir{Base: base}
}

func (d *Dir) CreatePlaceholder(ctx context.Context, channel string) (string, error) {
	if channel == "" {
		channel = "general"
	}
	ref := filepath.ToSlash(filepath.Join(channel, uuid.NewString()+".md"))
	path := d.path(ref)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", &Error{Kind: KindTransient, Ref: ref, Err: err}
	}
	if err := os.WriteFile(path, []byte(format(render.Placeholder())), 0o644); err != nil {
		return "", &Error{Kind: KindTransient, Ref: ref, Err: err}
	}
	return ref, nil
}

func (d *Dir) Update(ctx context.Context, ref string, doc render.Document) error {
	path := d.path(ref)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return &Error{Kind: KindRefNotFound, Ref: ref, Err: err}
		}
		if os.IsPermission(err) {
			return &Error{Kind: KindForbidden, Ref: ref, Err: err}
		}
		return &Error{Kind: KindTransient, Ref: ref, Err: err}
	}
	if err := os.WriteFile(path, []byte(format(doc)), 0o644); err != nil {
		return &Error{Kind: KindTransient, Ref: ref, Err: err}
	}
	return nil
}

func (d *Dir) Delete(ctx context.Context, ref string) error {
	if err := os.Remove(d.path(ref)); err != nil && !os.IsNotExist(err) {
		return &Error{Kind: KindTransient, Ref: ref, Err: err}
	}
	return nil
}

func (d *Dir) path(ref string) string {
	return filepath.Join(d.Base, filepath.FromSlash(ref))
}

func format(doc render.Document) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n%s", doc.Title, doc.Body)
	if !strings.HasSuffix(doc.Body, "\n") {
		b.WriteString("\n")
	}
	return b.String()
}
