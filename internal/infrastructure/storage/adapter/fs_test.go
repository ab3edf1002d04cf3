package adapter

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutWritesUnderRootAndReturnsURL(t *testing.T) {
	root := t.TempDir()
	s, err := NewFSStorage(root, "http://localhost:8080/files/")
	require.NoError(t, err)

	url, err := s.Put(context.Background(), "conv-1/msg-1/scan.pdf", []byte("data"), "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/files/conv-1/msg-1/scan.pdf", url)

	content, err := os.ReadFile(filepath.Join(root, "conv-1", "msg-1", "scan.pdf"))
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), content)
}

func TestPutConfinesTraversalToRoot(t *testing.T) {
	root := t.TempDir()
	s, err := NewFSStorage(root, "http://files")
	require.NoError(t, err)

	url, err := s.Put(context.Background(), "../../etc/passwd", []byte("x"), "text/plain")
	require.NoError(t, err)
	assert.Equal(t, "http://files/etc/passwd", url)

	_, err = os.Stat(filepath.Join(root, "etc", "passwd"))
	assert.NoError(t, err, "written inside the root, not outside")
}

func TestPutRejectsEmptyPath(t *testing.T) {
	s, err := NewFSStorage(t.TempDir(), "http://files")
	require.NoError(t, err)

	_, err = s.Put(context.Background(), "", []byte("x"), "text/plain")
	assert.Error(t, err)
}

func TestNewFSStorageRequiresRoot(t *testing.T) {
	_, err := NewFSStorage("", "http://files")
	assert.Error(t, err)
}
