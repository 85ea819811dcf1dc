// Package store persists rendered math artifacts keyed by expression hash.
//
// Artifacts are SVG documents named by the BLAKE3 digest of the expression
// text, so textually identical expressions share one artifact no matter how
// often they appear. Writes are atomic (temp file plus rename) and reads of
// absent keys report a typed not-found error so callers can treat them as
// cache misses.
package store

import (
	"encoding/hex"
	"os"
	"path"
	"path/filepath"

	"github.com/zeebo/blake3"

	"github.com/FocuswithJustin/readmetex/core/errors"
)

// osRename is a variable to allow testing of rename errors.
var osRename = os.Rename

// Key returns the content hash naming the artifact for an expression.
// Identical expression text always yields the identical key.
func Key(expression string) string {
	h := blake3.Sum256([]byte(expression))
	return hex.EncodeToString(h[:])
}

// Store is a directory of rendered artifacts keyed by expression hash.
type Store struct {
	dir string
}

// NewStore returns a store rooted at dir. The directory is created lazily
// on the first write so a read-only run never mutates the filesystem.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the artifact directory.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the filesystem path of the artifact with the given name.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, name+".svg")
}

// RelPath returns the forward-slash path of the artifact relative to the
// repository root, as expected by "git show <rev>:<path>".
func (s *Store) RelPath(name string) string {
	return path.Join(filepath.ToSlash(s.dir), name+".svg")
}

// Read returns the stored artifact bytes for name.
// A missing artifact is reported as a NotFoundError (a cache miss).
func (s *Store) Read(name string) ([]byte, error) {
	data, err := os.ReadFile(s.Path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFound("artifact", name)
		}
		return nil, errors.NewIO("read", s.Path(name), err)
	}
	return data, nil
}

// Exists reports whether an artifact with the given name is stored locally.
func (s *Store) Exists(name string) bool {
	_, err := os.Stat(s.Path(name))
	return err == nil
}

// Write stores the artifact bytes under name, atomically replacing any
// previous content.
func (s *Store) Write(name string, data []byte) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return errors.NewIO("create", s.dir, err)
	}

	tempFile, err := os.CreateTemp(s.dir, ".artifact-*")
	if err != nil {
		return errors.NewIO("create temp file in", s.dir, err)
	}
	tempPath := tempFile.Name()

	if _, err := tempFile.Write(data); err != nil {
		tempFile.Close()
		os.Remove(tempPath)
		return errors.NewIO("write", tempPath, err)
	}
	if err := tempFile.Close(); err != nil {
		os.Remove(tempPath)
		return errors.NewIO("close", tempPath, err)
	}

	// Rename to final path (atomic on POSIX)
	if err := osRename(tempPath, s.Path(name)); err != nil {
		os.Remove(tempPath)
		return errors.NewIO("rename", s.Path(name), err)
	}
	return nil
}
