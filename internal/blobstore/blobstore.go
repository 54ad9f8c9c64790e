// Package blobstore manages local storage for model downloads: per-resource
// scratch directories for partial transfers, atomic promotion of completed
// downloads into the models directory, capacity reporting and integrity
// verification.
package blobstore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/modzoo/hubfetch/internal/download"
)

const dirPerm = 0755

// Store lays storage out as <root>/partial/<identity> for in-flight
// transfers and <root>/models/<identity> for finalized ones. Both live on
// the same volume so Finalize is a single rename.
type Store struct {
	scratchRoot string
	modelsRoot  string
}

// New creates the storage roots if needed.
func New(root string) (*Store, error) {
	s := &Store{
		scratchRoot: filepath.Join(root, "partial"),
		modelsRoot:  filepath.Join(root, "models"),
	}

	for _, dir := range []string{s.scratchRoot, s.modelsRoot} {
		if err := os.MkdirAll(dir, dirPerm); err != nil {
			return nil, fmt.Errorf("failed to create storage dir: %w", err)
		}
	}

	return s, nil
}

// ScratchRoot returns the directory holding partial transfers.
func (s *Store) ScratchRoot() string {
	return s.scratchRoot
}

// ScratchDir returns the scratch directory for an identity, creating it if
// needed. Partial files survive here across pause/resume and process
// restarts.
func (s *Store) ScratchDir(identity string) (string, error) {
	dir := filepath.Join(s.scratchRoot, identity)

	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return "", fmt.Errorf("failed to create scratch dir: %w", err)
	}

	return dir, nil
}

// ModelPath returns the permanent location for an identity without touching
// the filesystem.
func (s *Store) ModelPath(identity string) string {
	return filepath.Join(s.modelsRoot, identity)
}

// Finalize promotes a completed scratch directory into the models directory,
// replacing any previous download of the same identity. Returns the
// permanent location.
func (s *Store) Finalize(identity string) (string, error) {
	src := filepath.Join(s.scratchRoot, identity)
	dst := s.ModelPath(identity)

	if _, err := os.Stat(src); err != nil {
		return "", fmt.Errorf("no scratch data to finalize: %w", err)
	}

	if err := os.RemoveAll(dst); err != nil {
		return "", fmt.Errorf("failed to clear previous model: %w", err)
	}

	if err := os.Rename(src, dst); err != nil {
		return "", fmt.Errorf("failed to finalize model: %w", err)
	}

	return dst, nil
}

// Discard removes the scratch directory of an identity. Used on cancel and
// on checksum failure, where partial data must not be resumed.
func (s *Store) Discard(identity string) error {
	if err := os.RemoveAll(filepath.Join(s.scratchRoot, identity)); err != nil {
		return fmt.Errorf("failed to discard scratch dir: %w", err)
	}

	return nil
}

// AvailableSpace reports the free bytes on the volume holding the store.
func (s *Store) AvailableSpace() (int64, error) {
	var stat syscall.Statfs_t

	if err := syscall.Statfs(s.modelsRoot, &stat); err != nil {
		return 0, fmt.Errorf("failed to stat filesystem: %w", err)
	}

	return int64(stat.Bavail) * int64(stat.Bsize), nil
}

// Verify checks a file against its expected sha256 digest. The hub reports
// LFS digests as "sha256:<hex>" but bare hex is accepted too.
func (s *Store) Verify(path, wantHash string) error {
	want := strings.TrimPrefix(wantHash, "sha256:")

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open file for verification: %w", err)
	}

	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("failed to hash file: %w", err)
	}

	got := hex.EncodeToString(h.Sum(nil))
	if !strings.EqualFold(got, want) {
		return &download.ChecksumError{Path: path, Want: want, Got: got}
	}

	return nil
}
