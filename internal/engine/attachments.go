package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"taskgraph/internal/domain"
	"taskgraph/internal/sanitize"
)

func attachmentKey(project string, number int, filename string) (string, string, error) {
	if err := requireNumber(number); err != nil {
		return "", "", err
	}
	name, err := sanitize.Filename(filename)
	if err != nil {
		return "", "", identifierErr(err)
	}
	key, err := sanitize.Key(project, number, name)
	if err != nil {
		return "", "", identifierErr(err)
	}
	return key, name, nil
}

// SaveAttachment stores data under the last path segment of filename.
func (e Engine) SaveAttachment(ctx context.Context, project string, number int, filename string, data []byte) (domain.Attachment, error) {
	key, _, err := attachmentKey(project, number, filename)
	if err != nil {
		return domain.Attachment{}, err
	}
	att, err := e.Store.Put(ctx, key, data)
	if err != nil {
		return domain.Attachment{}, err
	}
	e.log().Info("attachment saved", "key", key, "size", att.Size)
	return att, nil
}

// CopyAttachment stores the local file at source. An empty filename keeps
// the source's base name.
func (e Engine) CopyAttachment(ctx context.Context, project string, number int, source, filename string) (domain.Attachment, error) {
	data, err := os.ReadFile(source)
	if errors.Is(err, fs.ErrNotExist) {
		return domain.Attachment{}, fmt.Errorf("source file %s: %w", source, domain.ErrSourceNotFound)
	}
	if err != nil {
		return domain.Attachment{}, fmt.Errorf("read %s: %w", source, err)
	}
	if filename == "" {
		filename = filepath.Base(source)
	}
	return e.SaveAttachment(ctx, project, number, filename, data)
}

// GetAttachmentBytes returns nil when the attachment does not exist.
func (e Engine) GetAttachmentBytes(ctx context.Context, project string, number int, filename string) ([]byte, error) {
	key, _, err := attachmentKey(project, number, filename)
	if err != nil {
		return nil, err
	}
	return e.Store.Get(ctx, key)
}

func (e Engine) ListAttachments(ctx context.Context, project string, number int) ([]domain.Attachment, error) {
	if err := requireNumber(number); err != nil {
		return nil, err
	}
	prefix, err := sanitize.Prefix(project, number)
	if err != nil {
		return nil, identifierErr(err)
	}
	return e.Store.List(ctx, prefix)
}

// DeleteAttachment reports whether the attachment existed.
func (e Engine) DeleteAttachment(ctx context.Context, project string, number int, filename string) (bool, error) {
	key, _, err := attachmentKey(project, number, filename)
	if err != nil {
		return false, err
	}
	ok, err := e.Store.Delete(ctx, key)
	if ok {
		e.log().Info("attachment deleted", "key", key)
	}
	return ok, err
}

// AttachmentURL returns a presigned download URL, or "" when the attachment
// does not exist.
func (e Engine) AttachmentURL(ctx context.Context, project string, number int, filename string) (string, error) {
	key, _, err := attachmentKey(project, number, filename)
	if err != nil {
		return "", err
	}
	return e.Store.PresignedURL(ctx, key, e.URLExpiry)
}
