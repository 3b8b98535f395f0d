package repository

import (
	"os"
	"path/filepath"
	"time"

	"github.com/gyattvc/gyatt/internal/commitgraph"
	"github.com/gyattvc/gyatt/internal/core"
	"github.com/gyattvc/gyatt/internal/index"
	"github.com/gyattvc/gyatt/internal/objstore"
	"github.com/gyattvc/gyatt/internal/scan"
)

// Add stages the given repo-relative paths. A bare "." (or an empty
// list) stages every eligible file under the working tree, honoring
// ".gyattignore".
func (r *Repository) Add(paths ...string) error {
	idx, err := r.LoadIndex()
	if err != nil {
		return err
	}

	targets, err := r.resolveAddTargets(paths)
	if err != nil {
		return err
	}
	for _, p := range targets {
		if err := idx.Add(r.Root, p); err != nil {
			return err
		}
	}
	return r.SaveIndex(idx)
}

func (r *Repository) resolveAddTargets(paths []string) ([]string, error) {
	if len(paths) == 0 || (len(paths) == 1 && paths[0] == ".") {
		ignoreSet, err := r.IgnoreSet()
		if err != nil {
			return nil, err
		}
		return scan.New(r.Root, ignoreSet).Scan()
	}

	var out []string
	for _, p := range paths {
		if err := validatePathComponent(p); err != nil {
			return nil, err
		}
		full := filepath.Join(r.Root, p)
		info, err := os.Stat(full)
		if err != nil {
			return nil, &core.IoError{Path: full, Cause: err}
		}
		if !info.IsDir() {
			out = append(out, filepath.ToSlash(p))
			continue
		}
		ignoreSet, err := r.IgnoreSet()
		if err != nil {
			return nil, err
		}
		files, err := scan.New(full, ignoreSet).Scan()
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			out = append(out, filepath.ToSlash(filepath.Join(p, f)))
		}
	}
	return out, nil
}

// Remove unstages a path. It is a no-op if the path isn't staged.
func (r *Repository) Remove(relPath string) error {
	idx, err := r.LoadIndex()
	if err != nil {
		return err
	}
	idx.Remove(relPath)
	return r.SaveIndex(idx)
}

// CommitResult reports either the new commit's hash, or that there was
// nothing staged to commit — which is an informational outcome, not an
// error, per spec §7.
type CommitResult struct {
	Hash            core.Hash
	NothingToCommit bool
}

// nowProvider is overridable by tests that need deterministic commit
// timestamps.
var nowProvider = time.Now

// Commit builds a tree from the current staging index and records a
// commit linking it to HEAD's current commit as parent. Committing on a
// symbolic HEAD advances that branch's ref; committing on a detached
// HEAD repoints HEAD at the new commit directly without touching any
// branch.
func (r *Repository) Commit(message string) (CommitResult, error) {
	idx, err := r.LoadIndex()
	if err != nil {
		return CommitResult{}, err
	}

	treeHash, err := idx.BuildTree()
	if err != nil {
		return CommitResult{}, err
	}

	head, err := r.Refs.ReadHead()
	if err != nil {
		return CommitResult{}, err
	}

	parent, err := r.CurrentCommit()
	if err != nil {
		return CommitResult{}, err
	}

	if !parent.IsZero() {
		parentCommit, err := r.Objects.ReadCommit(parent)
		if err != nil {
			return CommitResult{}, err
		}
		if parentCommit.Tree == treeHash {
			return CommitResult{NothingToCommit: true}, nil
		}
	} else if len(idx.Entries()) == 0 {
		return CommitResult{NothingToCommit: true}, nil
	}

	who := r.identity()
	who.When = nowProvider()

	commitHash, err := commitgraph.CreateCommit(r.Objects, treeHash, parent, who, who, message)
	if err != nil {
		return CommitResult{}, err
	}

	if head.Detached {
		if err := r.Refs.WriteHeadDetached(commitHash); err != nil {
			return CommitResult{}, err
		}
	} else {
		if err := r.Refs.UpdateBranch(head.Branch, commitHash); err != nil {
			return CommitResult{}, err
		}
	}

	return CommitResult{Hash: commitHash}, nil
}

// Status classifies every path seen in the index or the working tree
// against the last committed tree.
func (r *Repository) Status() (map[string]index.Status, error) {
	idx, err := r.LoadIndex()
	if err != nil {
		return nil, err
	}

	ignoreSet, err := r.IgnoreSet()
	if err != nil {
		return nil, err
	}

	scanned, err := scan.New(r.Root, ignoreSet).Scan()
	if err != nil {
		return nil, err
	}

	scanPaths := make(map[string]core.Hash, len(scanned))
	for _, rel := range scanned {
		hash, err := scan.HashFile(filepath.Join(r.Root, rel))
		if err != nil {
			return nil, err
		}
		scanPaths[rel] = hash
	}

	var headTree map[string]core.Hash
	if commitHash, err := r.CurrentCommit(); err == nil && !commitHash.IsZero() {
		commit, err := r.Objects.ReadCommit(commitHash)
		if err != nil {
			return nil, err
		}
		headTree = make(map[string]core.Hash)
		if err := flattenTree(r.Objects, commit.Tree, "", headTree); err != nil {
			return nil, err
		}
	}

	return index.Statuses(idx, r.Root, scanPaths, headTree), nil
}

// flattenTree recursively walks a (possibly nested) tree, accumulating
// every blob's full repo-relative path into out.
func flattenTree(store *objstore.Store, hash core.Hash, prefix string, out map[string]core.Hash) error {
	tree, err := store.ReadTree(hash)
	if err != nil {
		return err
	}
	for _, e := range tree.Entries {
		name := e.Name
		if prefix != "" {
			name = prefix + "/" + name
		}
		if e.Kind == core.ObjectTypeTree {
			if err := flattenTree(store, e.Hash, name, out); err != nil {
				return err
			}
			continue
		}
		out[name] = e.Hash
	}
	return nil
}

// Checkout restores every file in commitHash's tree into the working
// directory, recursing through nested trees.
func (r *Repository) Checkout(commitHash core.Hash) error {
	commit, err := r.Objects.ReadCommit(commitHash)
	if err != nil {
		return err
	}
	return restoreTree(r.Objects, r.Root, commit.Tree)
}

func restoreTree(store *objstore.Store, root string, hash core.Hash) error {
	tree, err := store.ReadTree(hash)
	if err != nil {
		return err
	}
	for _, e := range tree.Entries {
		target := filepath.Join(root, e.Name)
		if e.Kind == core.ObjectTypeTree {
			if err := os.MkdirAll(target, 0755); err != nil {
				return &core.IoError{Path: target, Cause: err}
			}
			if err := restoreTree(store, target, e.Hash); err != nil {
				return err
			}
			continue
		}

		data, err := store.ReadBlob(e.Hash)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return &core.IoError{Path: target, Cause: err}
		}
		if err := os.WriteFile(target, data, os.FileMode(e.Mode&0777)); err != nil {
			return &core.IoError{Path: target, Cause: err}
		}
	}
	return nil
}
