package blobstore

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/modzoo/hubfetch/internal/download"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := New(t.TempDir())
	require.NoError(t, err)

	return s
}

func TestScratchDir_CreatedAndStable(t *testing.T) {
	s := newTestStore(t)

	dir, err := s.ScratchDir("acme--llama-7b-abc123")
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	again, err := s.ScratchDir("acme--llama-7b-abc123")
	require.NoError(t, err)
	assert.Equal(t, dir, again)
}

func TestFinalize_MovesScratchToModels(t *testing.T) {
	s := newTestStore(t)

	dir, err := s.ScratchDir("id1")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "weights.gguf"), []byte("data"), 0644))

	location, err := s.Finalize("id1")
	require.NoError(t, err)
	assert.Equal(t, s.ModelPath("id1"), location)

	// Scratch is gone, model is in place.
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))

	content, err := os.ReadFile(filepath.Join(location, "weights.gguf"))
	require.NoError(t, err)
	assert.Equal(t, "data", string(content))
}

func TestFinalize_ReplacesPreviousModel(t *testing.T) {
	s := newTestStore(t)

	dir, err := s.ScratchDir("id1")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "v1.bin"), []byte("old"), 0644))
	_, err = s.Finalize("id1")
	require.NoError(t, err)

	dir, err = s.ScratchDir("id1")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "v2.bin"), []byte("new"), 0644))

	location, err := s.Finalize("id1")
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(location, "v1.bin"))
	assert.True(t, os.IsNotExist(err))

	_, err = os.Stat(filepath.Join(location, "v2.bin"))
	assert.NoError(t, err)
}

func TestFinalize_NoScratchData(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Finalize("never-started")
	assert.Error(t, err)
}

func TestDiscard(t *testing.T) {
	s := newTestStore(t)

	dir, err := s.ScratchDir("id1")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "partial.gguf"), []byte("half"), 0644))

	require.NoError(t, s.Discard("id1"))

	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))

	// Discarding an unknown identity is not an error.
	assert.NoError(t, s.Discard("missing"))
}

func TestAvailableSpace(t *testing.T) {
	s := newTestStore(t)

	free, err := s.AvailableSpace()
	require.NoError(t, err)
	assert.Positive(t, free)
}

func TestVerify(t *testing.T) {
	s := newTestStore(t)

	dir, err := s.ScratchDir("id1")
	require.NoError(t, err)

	path := filepath.Join(dir, "weights.gguf")
	require.NoError(t, os.WriteFile(path, []byte("model bytes"), 0644))

	sum := sha256.Sum256([]byte("model bytes"))
	digest := hex.EncodeToString(sum[:])

	assert.NoError(t, s.Verify(path, digest))
	assert.NoError(t, s.Verify(path, "sha256:"+digest))

	err = s.Verify(path, "sha256:deadbeef")
	require.Error(t, err)

	var checksumErr *download.ChecksumError
	assert.True(t, errors.As(err, &checksumErr))
	assert.False(t, download.IsRetryable(err))
}
