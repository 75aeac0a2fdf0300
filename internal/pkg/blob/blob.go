// Package blob stores message attachments on local disk.
package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/Gopher0727/TimeChat/config"
	"github.com/Gopher0727/TimeChat/internal/pkg/errs"
)

var (
	ErrTooLarge        = errs.New(errs.ErrValidation, "file_too_large", "file exceeds the upload size limit")
	ErrUnsupportedType = errs.New(errs.ErrValidation, "unsupported_file_type", "file type is not allowed")
	ErrEmpty           = errs.New(errs.ErrValidation, "empty_file", "file is empty")
)

// Object describes a stored blob.
type Object struct {
	URL      string
	Name     string
	MIMEType string
	Size     int64
}

// Store persists attachments.
type Store interface {
	Save(ctx context.Context, name string, r io.Reader) (*Object, error)
}

// LocalStore writes blobs under Dir and serves them from PublicPrefix.
type LocalStore struct {
	dir      string
	prefix   string
	maxBytes int64
	allowed  []string
}

func NewLocalStore(cfg *config.UploadConfig) (*LocalStore, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	allowed := cfg.AllowedMIME
	if len(allowed) == 0 {
		allowed = config.DefaultAllowedMIME
	}
	return &LocalStore{
		dir:      cfg.Dir,
		prefix:   strings.TrimSuffix(cfg.PublicPrefix, "/"),
		maxBytes: cfg.MaxBytes,
		allowed:  allowed,
	}, nil
}

// Dir is the directory blobs are written to.
func (s *LocalStore) Dir() string { return s.dir }

// Save sniffs the content type, checks it against the allowlist and writes
// the blob under a random name that keeps the detected extension.
func (s *LocalStore) Save(ctx context.Context, name string, r io.Reader) (*Object, error) {
	data, err := io.ReadAll(io.LimitReader(r, s.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	if int64(len(data)) > s.maxBytes {
		return nil, ErrTooLarge
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mtype := mimetype.Detect(data)
	if !s.isAllowed(mtype) {
		return nil, ErrUnsupportedType
	}

	stored := uuid.NewString() + mtype.Extension()
	if err := os.WriteFile(filepath.Join(s.dir, stored), data, 0o644); err != nil {
		return nil, fmt.Errorf("write upload: %w", err)
	}

	base, _, _ := strings.Cut(mtype.String(), ";")
	return &Object{
		URL:      path.Join(s.prefix, stored),
		Name:     filepath.Base(name),
		MIMEType: base,
		Size:     int64(len(data)),
	}, nil
}

func (s *LocalStore) isAllowed(m *mimetype.MIME) bool {
	return slices.ContainsFunc(s.allowed, m.Is)
}
