package blob

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Gopher0727/TimeChat/config"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

func newStore(t *testing.T, maxBytes int64) *LocalStore {
	s, err := NewLocalStore(&config.UploadConfig{
		Dir:          t.TempDir(),
		PublicPrefix: "/uploads/",
		MaxBytes:     maxBytes,
	})
	require.NoError(t, err)
	return s
}

func TestLocalStore_SavePNG(t *testing.T) {
	s := newStore(t, 1<<20)

	obj, err := s.Save(context.Background(), "../../photo.png", bytes.NewReader(pngHeader))
	require.NoError(t, err)
	assert.Equal(t, "image/png", obj.MIMEType)
	assert.Equal(t, "photo.png", obj.Name)
	assert.EqualValues(t, len(pngHeader), obj.Size)
	assert.True(t, strings.HasPrefix(obj.URL, "/uploads/"))
	assert.True(t, strings.HasSuffix(obj.URL, ".png"))

	written, err := os.ReadFile(filepath.Join(s.Dir(), filepath.Base(obj.URL)))
	require.NoError(t, err)
	assert.Equal(t, pngHeader, written)
}

func TestLocalStore_SaveText(t *testing.T) {
	s := newStore(t, 1<<20)
	obj, err := s.Save(context.Background(), "notes.txt", strings.NewReader("hello there"))
	require.NoError(t, err)
	assert.Equal(t, "text/plain", obj.MIMEType)
}

func TestLocalStore_Rejects(t *testing.T) {
	s := newStore(t, 16)

	_, err := s.Save(context.Background(), "big.txt", strings.NewReader(strings.Repeat("a", 17)))
	assert.ErrorIs(t, err, ErrTooLarge)

	_, err = s.Save(context.Background(), "empty.txt", strings.NewReader(""))
	assert.ErrorIs(t, err, ErrEmpty)

	// ELF header
	_, err = s.Save(context.Background(), "a.out", bytes.NewReader([]byte("\x7fELF\x02\x01\x01\x00\x00\x00")))
	assert.ErrorIs(t, err, ErrUnsupportedType)
}
