// Package repository composes the object store, ref store, staging
// index, commit graph, scanner and push pipeline into the top-level
// entry point a caller (CLI or otherwise) drives a working copy through.
package repository

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gyattvc/gyatt/internal/commitgraph"
	"github.com/gyattvc/gyatt/internal/core"
	"github.com/gyattvc/gyatt/internal/ignore"
	"github.com/gyattvc/gyatt/internal/index"
	"github.com/gyattvc/gyatt/internal/objstore"
	"github.com/gyattvc/gyatt/internal/refs"
	"github.com/gyattvc/gyatt/internal/remoteconfig"
)

// GyattDir is the metadata subtree's name at the root of a working copy.
const GyattDir = ".gyatt"

const (
	indexFileName   = "index"
	ignoreFileName  = ".gyattignore"
	defaultBranch   = "main"
)

// Repository is a single working copy: its root on disk and its object
// and ref stores. ".gyatt/config" is read on demand by Config.
type Repository struct {
	Root     string
	gyattDir string
	Objects  *objstore.Store
	Refs     *refs.Store
}

// Init creates a new repository rooted at path: the ".gyatt" metadata
// subtree, an empty object store, refs/heads, and HEAD pointing at the
// symbolic default branch before any commit exists.
func Init(path string) (*Repository, error) {
	gyattPath := filepath.Join(path, GyattDir)
	if _, err := os.Stat(gyattPath); err == nil {
		return nil, core.ErrAlreadyRepository
	}

	dirs := []string{
		gyattPath,
		filepath.Join(gyattPath, "objects"),
		filepath.Join(gyattPath, "refs", "heads"),
		filepath.Join(gyattPath, "refs", "remotes"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, &core.IoError{Path: dir, Cause: err}
		}
	}

	r := &Repository{
		Root:     path,
		gyattDir: gyattPath,
		Objects:  objstore.NewStore(gyattPath),
		Refs:     refs.NewStore(gyattPath),
	}
	if err := r.Refs.WriteHeadSymbolic(defaultBranch); err != nil {
		return nil, err
	}

	cfg := &remoteconfig.Config{Remotes: make(map[string]remoteconfig.Remote)}
	if err := cfg.Save(gyattPath); err != nil {
		return nil, err
	}

	return r, nil
}

// Open opens an existing repository rooted at path.
func Open(path string) (*Repository, error) {
	gyattPath := filepath.Join(path, GyattDir)
	if _, err := os.Stat(gyattPath); os.IsNotExist(err) {
		return nil, core.ErrNotARepository
	}
	return &Repository{
		Root:     path,
		gyattDir: gyattPath,
		Objects:  objstore.NewStore(gyattPath),
		Refs:     refs.NewStore(gyattPath),
	}, nil
}

// FindRoot walks up from startPath looking for a ".gyatt" directory.
func FindRoot(startPath string) (string, error) {
	path, err := filepath.Abs(startPath)
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(path, GyattDir)); err == nil {
			return path, nil
		}
		parent := filepath.Dir(path)
		if parent == path {
			return "", core.ErrNotARepository
		}
		path = parent
	}
}

// GyattPath returns the ".gyatt" metadata directory path.
func (r *Repository) GyattPath() string {
	return r.gyattDir
}

// Config loads ".gyatt/config".
func (r *Repository) Config() (*remoteconfig.Config, error) {
	return remoteconfig.Load(r.gyattDir)
}

// IgnoreSet loads ".gyattignore" from the repository root. A missing
// file yields an empty set rather than an error; a malformed pattern
// surfaces its parse error immediately, per spec's correction of the
// source's silent-tolerance behavior.
func (r *Repository) IgnoreSet() (*ignore.Set, error) {
	return ignore.Load(filepath.Join(r.Root, ignoreFileName))
}

func (r *Repository) indexPath() string {
	return filepath.Join(r.gyattDir, indexFileName)
}

// LoadIndex reads the persisted staging index, returning a fresh empty
// one if none has been saved yet.
func (r *Repository) LoadIndex() (*index.Index, error) {
	data, err := os.ReadFile(r.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return index.New(r.Objects), nil
		}
		return nil, &core.IoError{Path: r.indexPath(), Cause: err}
	}
	return index.Load(bytes.NewReader(data), r.Objects)
}

// SaveIndex persists idx to disk.
func (r *Repository) SaveIndex(idx *index.Index) error {
	var buf bytes.Buffer
	if err := idx.Save(&buf); err != nil {
		return err
	}
	tmp := r.indexPath() + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0644); err != nil {
		return &core.IoError{Path: tmp, Cause: err}
	}
	if err := os.Rename(tmp, r.indexPath()); err != nil {
		return &core.IoError{Path: r.indexPath(), Cause: err}
	}
	return nil
}

// CurrentBranch returns HEAD's symbolic branch name. It returns
// ("", false, nil) when HEAD is detached.
func (r *Repository) CurrentBranch() (name string, symbolic bool, err error) {
	head, err := r.Refs.ReadHead()
	if err != nil {
		return "", false, err
	}
	return head.Branch, !head.Detached, nil
}

// CurrentCommit resolves HEAD to a commit hash: either the symbolic
// branch's current pointer, or the detached hash directly. A symbolic
// HEAD with no commits yet returns the zero hash.
func (r *Repository) CurrentCommit() (core.Hash, error) {
	head, err := r.Refs.ReadHead()
	if err != nil {
		return core.Hash{}, err
	}
	if head.Detached {
		return head.Commit, nil
	}
	hash, err := r.Refs.ResolveBranch(head.Branch)
	if err == core.ErrBranchNotFound {
		return core.Hash{}, nil
	}
	return hash, err
}

// ListBranches returns every local branch name.
func (r *Repository) ListBranches() ([]string, error) {
	return r.Refs.ListBranches()
}

// CreateBranch creates name pointing at HEAD's current commit. The
// current branch must already have at least one commit.
func (r *Repository) CreateBranch(name string) error {
	head, err := r.Refs.ReadHead()
	if err != nil {
		return err
	}
	if !head.Detached {
		return r.Refs.CreateBranch(name, head.Branch)
	}
	if head.Commit.IsZero() {
		return core.ErrNoCommits
	}
	if _, err := r.Refs.ResolveBranch(name); err == nil {
		return core.ErrBranchExists
	}
	return r.Refs.UpdateBranch(name, head.Commit)
}

// SwitchBranch points HEAD at an existing local branch.
func (r *Repository) SwitchBranch(name string) error {
	if _, err := r.Refs.ResolveBranch(name); err != nil {
		return err
	}
	return r.Refs.WriteHeadSymbolic(name)
}

// SwitchDetached points HEAD directly at a commit, outside any branch.
func (r *Repository) SwitchDetached(hash core.Hash) error {
	if _, err := r.Objects.ReadCommit(hash); err != nil {
		return err
	}
	return r.Refs.WriteHeadDetached(hash)
}

// DeleteBranch removes a local branch, refusing to delete the one HEAD
// currently points to.
func (r *Repository) DeleteBranch(name string) error {
	return r.Refs.DeleteBranch(name)
}

// Log returns the commit history reachable from HEAD, newest first.
func (r *Repository) Log(limit int) ([]*commitgraph.Record, error) {
	start, err := r.CurrentCommit()
	if err != nil {
		return nil, err
	}
	var records []*commitgraph.Record
	err = commitgraph.Walk(r.Objects, start, func(rec *commitgraph.Record) bool {
		records = append(records, rec)
		return limit == 0 || len(records) < limit
	})
	return records, err
}

// identity resolves the author/committer identity for a new commit:
// ".gyatt/config" [user] section first, then GYATT_AUTHOR_{NAME,EMAIL},
// then USER/EMAIL, matching the teacher's environment-fallback shape.
func (r *Repository) identity() core.Identity {
	name, email := "", ""
	if cfg, err := r.Config(); err == nil {
		name, email = cfg.User.Name, cfg.User.Email
	}
	if name == "" {
		name = firstNonEmpty(os.Getenv("GYATT_AUTHOR_NAME"), os.Getenv("USER"), "Unknown")
	}
	if email == "" {
		email = firstNonEmpty(os.Getenv("GYATT_AUTHOR_EMAIL"), os.Getenv("EMAIL"), "unknown@localhost")
	}
	return core.Identity{Name: name, Email: email}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// validatePathComponent guards against paths that would escape the
// working root once joined.
func validatePathComponent(relPath string) error {
	if relPath == "" || filepath.IsAbs(relPath) || !filepath.IsLocal(relPath) {
		return fmt.Errorf("%w: %q", core.ErrFileNotFound, relPath)
	}
	return nil
}
