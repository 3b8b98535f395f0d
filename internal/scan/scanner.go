// Package scan implements the Working-Tree Scanner: a recursive
// directory walk that yields regular files, honoring the ignore set and
// skipping symlinks and repository metadata.
package scan

import (
	"bytes"
	"io"
	"os"
	"path/filepath"

	"github.com/gyattvc/gyatt/internal/core"
	"github.com/gyattvc/gyatt/internal/ignore"
)

// MetaDir is the repository metadata subtree excluded from every scan.
const MetaDir = ".gyatt"

// Filter lets a caller short-circuit a path before the scanner yields
// it, e.g. to skip hashing files that are already known unchanged.
type Filter func(relPath string, info os.FileInfo) bool

// Scanner walks a working tree applying an ignore set.
type Scanner struct {
	root   string
	ignore *ignore.Set
	filter Filter
}

// New creates a scanner rooted at root. A nil ignore set matches nothing.
func New(root string, ignoreSet *ignore.Set) *Scanner {
	return &Scanner{root: root, ignore: ignoreSet}
}

// WithFilter attaches an optional filter callback, replacing any
// previously set one.
func (s *Scanner) WithFilter(f Filter) *Scanner {
	s.filter = f
	return s
}

// Scan walks the working tree and returns every eligible regular file's
// path relative to root, using forward slashes.
func (s *Scanner) Scan() ([]string, error) {
	var out []string
	err := s.Walk(func(relPath string, info os.FileInfo) error {
		out = append(out, relPath)
		return nil
	})
	return out, err
}

// WalkFunc is invoked once per eligible regular file.
type WalkFunc func(relPath string, info os.FileInfo) error

// Walk drives fn over every eligible regular file without buffering
// the whole path list in memory.
func (s *Scanner) Walk(fn WalkFunc) error {
	return filepath.Walk(s.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		rel, relErr := filepath.Rel(s.root, path)
		if relErr != nil {
			return relErr
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if info.IsDir() {
			if info.Name() == MetaDir && filepath.Dir(path) == s.root {
				return filepath.SkipDir
			}
			if s.ignore.Match(rel, true) {
				return filepath.SkipDir
			}
			return nil
		}

		if info.Mode()&os.ModeSymlink != 0 {
			return nil
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		if s.ignore.Match(rel, false) {
			return nil
		}
		if s.filter != nil && !s.filter(rel, info) {
			return nil
		}
		return fn(rel, info)
	})
}

// HashFile streams a file's content through the hasher without loading
// the whole file into memory, and returns the same blob-object hash a
// store.WriteBlob of that content would produce (SHA-1 of the
// "blob <size>\0"-prefixed payload, not the raw content alone), so
// callers can compare it directly against index and tree entry hashes.
func HashFile(path string) (core.Hash, error) {
	f, err := os.Open(path)
	if err != nil {
		return core.Hash{}, &core.IoError{Path: path, Cause: err}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return core.Hash{}, &core.IoError{Path: path, Cause: err}
	}

	header := core.Header(core.ObjectTypeBlob, int(info.Size()))
	return core.HashReader(io.MultiReader(bytes.NewReader(header), f))
}
