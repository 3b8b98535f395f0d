// Package commitgraph builds and walks the commit DAG: each commit
// object links a tree to at most one parent, per the Non-goal excluding
// merge commits.
package commitgraph

import (
	"github.com/gyattvc/gyatt/internal/core"
	"github.com/gyattvc/gyatt/internal/objstore"
)

// maxWalkDepth bounds Walk against malformed or cyclic parent chains.
const maxWalkDepth = 1 << 20

// Record pairs a commit's hash with its decoded fields, as returned by
// ReadCommit and Walk.
type Record struct {
	Hash core.Hash
	*core.Commit
}

// CreateCommit encodes and writes a commit object linking tree to an
// optional parent.
func CreateCommit(store *objstore.Store, tree core.Hash, parent core.Hash, author, committer core.Identity, message string) (core.Hash, error) {
	commit := &core.Commit{
		Tree:      tree,
		Parent:    parent,
		Author:    author,
		Committer: committer,
		Message:   message,
	}
	return store.WriteCommit(commit)
}

// ReadCommit loads and decodes a single commit record.
func ReadCommit(store *objstore.Store, hash core.Hash) (*Record, error) {
	commit, err := store.ReadCommit(hash)
	if err != nil {
		return nil, err
	}
	return &Record{Hash: hash, Commit: commit}, nil
}

// Walk follows the parent chain from start, invoking fn with each
// commit record from newest to oldest. It stops at a commit with no
// parent, and is bounded against cycles both by a visited-hash set and
// an absolute depth cap. Returning false from fn stops the walk early.
func Walk(store *objstore.Store, start core.Hash, fn func(*Record) bool) error {
	visited := make(map[core.Hash]bool)
	current := start

	for depth := 0; !current.IsZero() && depth < maxWalkDepth; depth++ {
		if visited[current] {
			return nil
		}
		visited[current] = true

		record, err := ReadCommit(store, current)
		if err != nil {
			return err
		}
		if !fn(record) {
			return nil
		}
		current = record.Parent
	}
	return nil
}

// Collect materializes Walk's output into a slice, for callers that
// don't need the lazy/early-exit form.
func Collect(store *objstore.Store, start core.Hash) ([]*Record, error) {
	var records []*Record
	err := Walk(store, start, func(r *Record) bool {
		records = append(records, r)
		return true
	})
	return records, err
}
