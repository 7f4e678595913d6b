// Package storage keeps task attachments in a blob bucket under keys of the
// form "project/NNN/filename". Keys are built by the caller with package
// sanitize; this package only moves bytes.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	"gocloud.dev/blob/memblob"
	"gocloud.dev/gcerrors"

	"taskgraph/internal/domain"
	"taskgraph/internal/sanitize"
)

// DefaultURLExpiry is used by PresignedURL when no expiry is given.
const DefaultURLExpiry = time.Hour

// Options configure Open. An empty Root selects an in-memory bucket.
type Options struct {
	Root string
	// SigningKey and BaseURL enable presigned URLs; BaseURL is the absolute
	// URL of the download handler, e.g. http://localhost:8080/blobs.
	SigningKey string
	BaseURL    string
}

// KeyResolver verifies a presigned URL and returns the object key it grants.
type KeyResolver interface {
	KeyFromURL(ctx context.Context, u *url.URL) (string, error)
}

type Store struct {
	bucket *blob.Bucket
	signer KeyResolver
}

func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.Root == "" {
		return New(memblob.OpenBucket(nil), nil), nil
	}
	fopts := &fileblob.Options{CreateDir: true}
	var signer *fileblob.URLSignerHMAC
	if opts.SigningKey != "" && opts.BaseURL != "" {
		base, err := url.Parse(opts.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("storage base url: %w", err)
		}
		signer = fileblob.NewURLSignerHMAC(base, []byte(opts.SigningKey))
		fopts.URLSigner = signer
	}
	if err := os.MkdirAll(opts.Root, 0o755); err != nil {
		return nil, domain.Unavailable("open storage", err)
	}
	bucket, err := fileblob.OpenBucket(opts.Root, fopts)
	if err != nil {
		return nil, domain.Unavailable("open storage", err)
	}
	if signer == nil {
		return New(bucket, nil), nil
	}
	return New(bucket, signer), nil
}

// New wraps an already opened bucket. signer may be nil.
func New(bucket *blob.Bucket, signer KeyResolver) *Store {
	return &Store{bucket: bucket, signer: signer}
}

func (s *Store) Close() error { return s.bucket.Close() }

func isNotFound(err error) bool { return gcerrors.Code(err) == gcerrors.NotFound }

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	switch gcerrors.Code(err) {
	case gcerrors.InvalidArgument:
		return fmt.Errorf("%s: %w: %w", op, domain.ErrInvalidArgument, err)
	case gcerrors.NotFound:
		return fmt.Errorf("%s: %w: %w", op, domain.ErrNotFound, err)
	}
	return domain.Unavailable(op, err)
}

func baseName(key string) string {
	if i := strings.LastIndex(key, "/"); i >= 0 {
		return key[i+1:]
	}
	return key
}

// Put writes data under key, replacing any existing object.
func (s *Store) Put(ctx context.Context, key string, data []byte) (domain.Attachment, error) {
	if err := s.bucket.WriteAll(ctx, key, data, nil); err != nil {
		return domain.Attachment{}, wrap("put "+key, err)
	}
	attrs, err := s.bucket.Attributes(ctx, key)
	if err != nil {
		return domain.Attachment{}, wrap("stat "+key, err)
	}
	return domain.Attachment{Name: baseName(key), Size: attrs.Size, ETag: attrs.ETag}, nil
}

// Get returns nil, nil when key does not exist.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.bucket.ReadAll(ctx, key)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("get "+key, err)
	}
	return data, nil
}

// List returns the objects under prefix ordered by key, named relative to
// the prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]domain.Attachment, error) {
	res := []domain.Attachment{}
	err := s.each(ctx, prefix, func(obj *blob.ListObject) error {
		res = append(res, domain.Attachment{Name: strings.TrimPrefix(obj.Key, prefix), Size: obj.Size})
		return nil
	})
	return res, err
}

func (s *Store) each(ctx context.Context, prefix string, fn func(*blob.ListObject) error) error {
	it := s.bucket.List(&blob.ListOptions{Prefix: prefix})
	for {
		obj, err := it.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return wrap("list "+prefix, err)
		}
		if obj.IsDir {
			continue
		}
		if err := fn(obj); err != nil {
			return err
		}
	}
}

// Delete reports whether key existed.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	err := s.bucket.Delete(ctx, key)
	if isNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, wrap("delete "+key, err)
	}
	return true, nil
}

// DeleteAll removes every object under prefix and returns how many were removed.
func (s *Store) DeleteAll(ctx context.Context, prefix string) (int, error) {
	var keys []string
	if err := s.each(ctx, prefix, func(obj *blob.ListObject) error {
		keys = append(keys, obj.Key)
		return nil
	}); err != nil {
		return 0, err
	}
	n := 0
	for _, k := range keys {
		ok, err := s.Delete(ctx, k)
		if err != nil {
			return n, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	ok, err := s.bucket.Exists(ctx, key)
	return ok, wrap("exists "+key, err)
}

// PresignedURL returns a time-limited download URL, or "" when key does not
// exist. expiry <= 0 means DefaultURLExpiry.
func (s *Store) PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	ok, err := s.Exists(ctx, key)
	if err != nil || !ok {
		return "", err
	}
	if expiry <= 0 {
		expiry = DefaultURLExpiry
	}
	u, err := s.bucket.SignedURL(ctx, key, &blob.SignedURLOptions{Expiry: expiry})
	if err != nil {
		if gcerrors.Code(err) == gcerrors.Unimplemented {
			return "", fmt.Errorf("presigned urls are not configured: %w", domain.ErrInvalidArgument)
		}
		return "", wrap("sign "+key, err)
	}
	return u, nil
}

// Resolve checks a presigned URL and returns the object it grants access to.
func (s *Store) Resolve(ctx context.Context, u *url.URL) (string, error) {
	if s.signer == nil {
		return "", fmt.Errorf("presigned urls are not configured: %w", domain.ErrNotFound)
	}
	key, err := s.signer.KeyFromURL(ctx, u)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrInvalidArgument, err)
	}
	return key, nil
}

// MigratePrefix moves every object of oldProject under newProject and returns
// the number moved. Names that sanitize to the same prefix move nothing.
func (s *Store) MigratePrefix(ctx context.Context, oldProject, newProject string) (int, error) {
	from, err := sanitize.ProjectPrefix(oldProject)
	if err != nil {
		return 0, err
	}
	to, err := sanitize.ProjectPrefix(newProject)
	if err != nil {
		return 0, err
	}
	if from == to {
		return 0, nil
	}
	var keys []string
	if err := s.each(ctx, from, func(obj *blob.ListObject) error {
		keys = append(keys, obj.Key)
		return nil
	}); err != nil {
		return 0, err
	}
	moved := 0
	for _, k := range keys {
		dst := to + strings.TrimPrefix(k, from)
		if err := s.bucket.Copy(ctx, dst, k, nil); err != nil {
			return moved, wrap("copy "+k, err)
		}
		if err := s.bucket.Delete(ctx, k); err != nil && !isNotFound(err) {
			return moved, wrap("delete "+k, err)
		}
		moved++
	}
	return moved, nil
}
