// Package refs implements the Ref Store: HEAD and branch/remote pointer
// files under a repository's ".gyatt/refs" subtree, each updated with a
// write-temp-then-rename sequence so a crash never leaves a half-written
// pointer on disk.
package refs

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gyattvc/gyatt/internal/core"
)

const (
	headFile     = "HEAD"
	headsDir     = "refs/heads"
	remotesDir   = "refs/remotes"
	symbolicPrefix = "ref: "
)

// Head describes the current HEAD state: exactly one of Branch (symbolic)
// or Commit (detached) is meaningful, selected by Detached.
type Head struct {
	Branch   string
	Commit   core.Hash
	Detached bool
}

// Store owns every ref file under root (the ".gyatt" directory).
type Store struct {
	root string
}

// NewStore returns a ref store rooted at the given ".gyatt" directory.
func NewStore(root string) *Store {
	return &Store{root: root}
}

func (s *Store) headPath() string {
	return filepath.Join(s.root, headFile)
}

func (s *Store) branchPath(name string) string {
	return filepath.Join(s.root, headsDir, name)
}

func (s *Store) remotePath(remote, branch string) string {
	return filepath.Join(s.root, remotesDir, remote, branch)
}

// atomicWrite writes content to path via a temp file in the same
// directory followed by rename, so readers never observe a partial write.
func atomicWrite(path, content string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return &core.IoError{Path: dir, Cause: err}
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return &core.IoError{Path: dir, Cause: err}
	}
	tmpPath := tmp.Name()
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return &core.IoError{Path: tmpPath, Cause: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return &core.IoError{Path: tmpPath, Cause: err}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return &core.IoError{Path: path, Cause: err}
	}
	return nil
}

// ReadHead parses HEAD, returning its symbolic or detached target.
func (s *Store) ReadHead() (Head, error) {
	data, err := os.ReadFile(s.headPath())
	if err != nil {
		if os.IsNotExist(err) {
			return Head{}, core.ErrNoSuchRef
		}
		return Head{}, &core.IoError{Path: s.headPath(), Cause: err}
	}
	line := strings.TrimRight(string(data), "\n")

	if strings.HasPrefix(line, symbolicPrefix) {
		target := strings.TrimPrefix(line, symbolicPrefix)
		name := strings.TrimPrefix(target, "refs/heads/")
		return Head{Branch: name}, nil
	}

	hash, err := core.ParseHash(line)
	if err != nil {
		return Head{}, &core.CorruptRef{Name: "HEAD", Err: err}
	}
	return Head{Commit: hash, Detached: true}, nil
}

// WriteHeadSymbolic points HEAD at a local branch name.
func (s *Store) WriteHeadSymbolic(branch string) error {
	if err := validateRefName(branch); err != nil {
		return err
	}
	return atomicWrite(s.headPath(), fmt.Sprintf("%srefs/heads/%s\n", symbolicPrefix, branch))
}

// WriteHeadDetached points HEAD directly at a commit hash.
func (s *Store) WriteHeadDetached(hash core.Hash) error {
	return atomicWrite(s.headPath(), hash.String()+"\n")
}

// ResolveBranch returns the commit hash a branch currently points to.
func (s *Store) ResolveBranch(name string) (core.Hash, error) {
	data, err := os.ReadFile(s.branchPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return core.Hash{}, core.ErrBranchNotFound
		}
		return core.Hash{}, &core.IoError{Path: s.branchPath(name), Cause: err}
	}
	hash, err := core.ParseHash(strings.TrimSpace(string(data)))
	if err != nil {
		return core.Hash{}, &core.CorruptRef{Name: name, Err: err}
	}
	return hash, nil
}

// UpdateBranch atomically repoints branch name at hash. The branch need
// not already exist; this is also how CreateBranch stores its pointer.
func (s *Store) UpdateBranch(name string, hash core.Hash) error {
	if err := validateRefName(name); err != nil {
		return err
	}
	return atomicWrite(s.branchPath(name), hash.String()+"\n")
}

// CreateBranch creates a new branch named name pointing at source's
// current commit. The source branch must have at least one commit.
func (s *Store) CreateBranch(name, source string) error {
	if err := validateRefName(name); err != nil {
		return err
	}
	if _, err := os.Stat(s.branchPath(name)); err == nil {
		return core.ErrBranchExists
	}
	hash, err := s.ResolveBranch(source)
	if err != nil {
		if err == core.ErrBranchNotFound {
			return core.ErrNoCommits
		}
		return err
	}
	if hash.IsZero() {
		return core.ErrNoCommits
	}
	return s.UpdateBranch(name, hash)
}

// DeleteBranch removes a branch ref, refusing if it is HEAD's current
// symbolic target.
func (s *Store) DeleteBranch(name string) error {
	head, err := s.ReadHead()
	if err == nil && !head.Detached && head.Branch == name {
		return core.ErrRefInUse
	}
	path := s.branchPath(name)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return core.ErrBranchNotFound
	}
	if err := os.Remove(path); err != nil {
		return &core.IoError{Path: path, Cause: err}
	}
	return nil
}

// ListBranches walks refs/heads and returns every local branch name,
// sorted lexicographically.
func (s *Store) ListBranches() ([]string, error) {
	dir := filepath.Join(s.root, headsDir)
	var names []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == dir {
				return filepath.SkipDir
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		names = append(names, filepath.ToSlash(rel))
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, &core.IoError{Path: dir, Cause: err}
	}
	sort.Strings(names)
	return names, nil
}

// ResolveRemoteBranch returns the last-known head commit recorded for a
// remote-tracking branch, or a zero hash if none has been recorded yet.
func (s *Store) ResolveRemoteBranch(remote, branch string) (core.Hash, error) {
	data, err := os.ReadFile(s.remotePath(remote, branch))
	if err != nil {
		if os.IsNotExist(err) {
			return core.Hash{}, nil
		}
		return core.Hash{}, &core.IoError{Path: s.remotePath(remote, branch), Cause: err}
	}
	hash, err := core.ParseHash(strings.TrimSpace(string(data)))
	if err != nil {
		return core.Hash{}, &core.CorruptRef{Name: remote + "/" + branch, Err: err}
	}
	return hash, nil
}

// UpdateRemoteBranch records the last-known head commit for a
// remote-tracking branch after a successful push.
func (s *Store) UpdateRemoteBranch(remote, branch string, hash core.Hash) error {
	return atomicWrite(s.remotePath(remote, branch), hash.String()+"\n")
}

// validateRefName rejects branch/ref names containing characters that
// would be ambiguous or unsafe as path components.
func validateRefName(name string) error {
	if name == "" {
		return core.ErrInvalidName
	}
	if strings.ContainsAny(name, " \t\n~^:?*[\\") || strings.Contains(name, "..") {
		return core.ErrInvalidName
	}
	if strings.HasPrefix(name, "/") || strings.HasSuffix(name, "/") || strings.HasSuffix(name, ".lock") {
		return core.ErrInvalidName
	}
	return nil
}
