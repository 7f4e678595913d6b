// Package sanitize normalises untrusted name components (project names,
// filenames) before they become part of a storage key or a filesystem path.
package sanitize

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidIdentifier is returned when nothing usable is left after stripping.
var ErrInvalidIdentifier = errors.New("invalid identifier")

// IdentifierError names the rejected input.
type IdentifierError struct {
	Field string
	Value string
}

func (e *IdentifierError) Error() string {
	return fmt.Sprintf("invalid %s %q: empty after sanitizing", e.Field, e.Value)
}

func (e *IdentifierError) Unwrap() error { return ErrInvalidIdentifier }

// Clean strips path separators, NUL bytes and leading dots. It never fails;
// callers that need a non-empty result use Component.
func Clean(value string) string {
	clean := strings.NewReplacer("/", "", `\`, "", "\x00", "").Replace(value)
	return strings.TrimLeft(clean, ".")
}

// Component returns Clean(value) or an *IdentifierError when the result is empty.
func Component(field, value string) (string, error) {
	clean := Clean(value)
	if clean == "" {
		return "", &IdentifierError{Field: field, Value: value}
	}
	return clean, nil
}

// Filename keeps only the last path segment of name (either separator style)
// and then sanitizes it, so "../../etc/passwd" becomes "passwd".
func Filename(name string) (string, error) {
	base := name
	if i := strings.LastIndexAny(base, `/\`); i >= 0 {
		base = base[i+1:]
	}
	return Component("filename", base)
}

// Key joins a sanitized project, a zero-padded task number and a sanitized
// filename into "project/NNN/filename".
func Key(project string, number int, filename string) (string, error) {
	p, err := Component("project", project)
	if err != nil {
		return "", err
	}
	f, err := Component("filename", filename)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%03d/%s", p, number, f), nil
}

// Prefix returns the namespace "project/NNN/" holding a task's objects.
func Prefix(project string, number int) (string, error) {
	p, err := Component("project", project)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%03d/", p, number), nil
}

// ProjectPrefix returns "project/" for every object under a project.
func ProjectPrefix(project string) (string, error) {
	p, err := Component("project", project)
	if err != nil {
		return "", err
	}
	return p + "/", nil
}
