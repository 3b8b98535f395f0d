// Package index implements the staging index: a flat path → (hash,
// mode, size, mtime) table persisted in a compact binary format, plus
// the tree-building and status-classification logic built on top of it.
package index

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/gyattvc/gyatt/internal/core"
	"github.com/gyattvc/gyatt/internal/memcache"
	"github.com/gyattvc/gyatt/internal/objstore"
)

const (
	magic         uint32 = 0x47594154 // "GYAT"
	formatVersion uint32 = 1

	// chunkSize bounds how much of the file is buffered at once during
	// save/load, so a huge index never forces a whole-file read.
	chunkSize = 64 * 1024
)

// Entry is one staged path's recorded state.
type Entry struct {
	Path  string
	Hash  core.Hash
	Mode  uint32
	Size  uint64
	Mtime int64
	Flags uint32
}

// Status classifies a path's relationship between the index and the
// working tree (and, for Staged, the last committed tree).
type Status int

const (
	StatusClean Status = iota
	StatusUntracked
	StatusModified
	StatusStaged
	StatusDeleted
)

func (s Status) String() string {
	switch s {
	case StatusClean:
		return "clean"
	case StatusUntracked:
		return "untracked"
	case StatusModified:
		return "modified"
	case StatusStaged:
		return "staged"
	case StatusDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Index is the in-memory staging area, keyed by repo-relative path.
type Index struct {
	entries map[string]*Entry
	store   *objstore.Store
	slab    *memcache.Slab
}

// New creates an empty index backed by store for blob writes.
func New(store *objstore.Store) *Index {
	return &Index{entries: make(map[string]*Entry), store: store, slab: memcache.NewSlab(memcache.DefaultBlockSize)}
}

// Add stats path (resolved relative to workRoot), hashes its content,
// writes a blob, and upserts the index entry.
func (idx *Index) Add(workRoot, relPath string) error {
	full := path.Join(workRoot, relPath)
	info, err := os.Stat(full)
	if err != nil {
		return &core.IoError{Path: full, Cause: err}
	}
	if !info.Mode().IsRegular() {
		return core.ErrRegularFileRequired
	}

	data, err := os.ReadFile(full)
	if err != nil {
		return &core.IoError{Path: full, Cause: err}
	}
	hash, err := idx.store.WriteBlob(data)
	if err != nil {
		return err
	}

	mode := core.ModeRegularFile
	if info.Mode()&0111 != 0 {
		mode = core.ModeExecutableFile
	}

	idx.entries[relPath] = &Entry{
		Path:  relPath,
		Hash:  hash,
		Mode:  mode,
		Size:  uint64(info.Size()),
		Mtime: info.ModTime().Unix(),
	}
	return nil
}

// Remove deletes an entry by exact path match. It is a no-op if the
// path is not staged.
func (idx *Index) Remove(relPath string) {
	delete(idx.entries, relPath)
}

// Find looks up an entry by exact path match.
func (idx *Index) Find(relPath string) (*Entry, bool) {
	e, ok := idx.entries[relPath]
	return e, ok
}

// Entries returns every staged entry, sorted by path.
func (idx *Index) Entries() []*Entry {
	out := make([]*Entry, 0, len(idx.entries))
	for _, e := range idx.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// BuildTree constructs the nested tree hierarchy implied by the flat
// entry list and writes every tree bottom-up, returning the root hash.
// An empty index yields the hash of an empty tree.
func (idx *Index) BuildTree() (core.Hash, error) {
	return buildTreeLevel(idx.store, idx.slab, idx.Entries())
}

// buildTreeLevel groups entries by their first remaining path
// component: a group with a single entry whose path has no further
// component is a blob leaf, everything else recurses into a subtree,
// built bottom-up and hashed in parallel across sibling groups.
func buildTreeLevel(store *objstore.Store, slab *memcache.Slab, entries []*Entry) (core.Hash, error) {
	type bucket struct {
		leaf     *Entry
		children []*Entry
	}
	buckets := make(map[string]*bucket)
	order := make([]string, 0)

	for _, e := range entries {
		first, rest, isNested := splitFirstComponent(e.Path)
		b, ok := buckets[first]
		if !ok {
			b = &bucket{}
			buckets[first] = b
			order = append(order, first)
		}
		if !isNested {
			b.leaf = e
			continue
		}
		b.children = append(b.children, &Entry{Path: rest, Hash: e.Hash, Mode: e.Mode, Size: e.Size, Mtime: e.Mtime, Flags: e.Flags})
	}
	sort.Strings(order)

	var wg errgroup.Group
	results := make([]core.TreeEntry, len(order))
	for i, name := range order {
		i, name := i, name
		b := buckets[name]
		wg.Go(func() error {
			if b.leaf != nil {
				results[i] = core.TreeEntry{Mode: b.leaf.Mode, Name: name, Hash: b.leaf.Hash, Kind: core.ObjectTypeBlob}
				return nil
			}
			hash, err := buildTreeLevel(store, slab, b.children)
			if err != nil {
				return err
			}
			results[i] = core.TreeEntry{Mode: core.ModeTree, Name: name, Hash: hash, Kind: core.ObjectTypeTree}
			return nil
		})
	}
	if err := wg.Wait(); err != nil {
		return core.Hash{}, err
	}

	// results is already in `order`'s sorted-by-name sequence, so the
	// canonical record for each entry can be appended directly without
	// a second sort pass. Each entry's "<mode> <name>\0<hash>" record is
	// carved out of the slab instead of a fresh make() per entry.
	payload := make([]byte, 0, len(results)*48)
	for _, e := range results {
		if strings.ContainsAny(e.Name, "/\x00") {
			return core.Hash{}, fmt.Errorf("%w: tree entry name %q contains '/' or NUL", core.ErrInvalidObject, e.Name)
		}
		scratch := slab.Alloc(len(e.Name) + 32)[:0]
		scratch = strconv.AppendInt(scratch, int64(e.Mode), 8)
		scratch = append(scratch, ' ')
		scratch = append(scratch, e.Name...)
		scratch = append(scratch, 0)
		scratch = append(scratch, e.Hash[:]...)
		payload = append(payload, scratch...)
	}

	return store.WriteTreeEncoded(payload)
}

func splitFirstComponent(p string) (first, rest string, isNested bool) {
	for i := 0; i < len(p); i++ {
		if p[i] == '/' {
			return p[:i], p[i+1:], true
		}
	}
	return p, "", false
}

// Statuses classifies every path seen in the index or the working tree
// rooted at workRoot, relative to the last committed tree (nil if there
// is none yet, in which case every staged path reads as Staged).
func Statuses(idx *Index, workRoot string, scanPaths map[string]core.Hash, headTree map[string]core.Hash) map[string]Status {
	out := make(map[string]Status)

	for relPath, entry := range idx.entries {
		workHash, inWorkTree := scanPaths[relPath]
		switch {
		case !inWorkTree:
			out[relPath] = StatusDeleted
		case workHash != entry.Hash:
			out[relPath] = StatusModified
		default:
			if headTree != nil && headTree[relPath] == entry.Hash {
				out[relPath] = StatusClean
			} else {
				out[relPath] = StatusStaged
			}
		}
	}

	for relPath := range scanPaths {
		if _, staged := idx.entries[relPath]; !staged {
			out[relPath] = StatusUntracked
		}
	}

	return out
}

// Save serializes the index in fixed-size chunks to w.
func (idx *Index) Save(w io.Writer) error {
	bw := bufio.NewWriterSize(w, chunkSize)
	entries := idx.Entries()

	header := make([]byte, 12)
	binary.LittleEndian.PutUint32(header[0:4], magic)
	binary.LittleEndian.PutUint32(header[4:8], formatVersion)
	binary.LittleEndian.PutUint32(header[8:12], uint32(len(entries)))
	if _, err := bw.Write(header); err != nil {
		return err
	}

	for _, e := range entries {
		if err := writeEntry(bw, e); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func writeEntry(w io.Writer, e *Entry) error {
	pathBytes := []byte(e.Path)
	buf := make([]byte, 2+len(pathBytes)+20+4+8+8+4)
	off := 0
	binary.LittleEndian.PutUint16(buf[off:], uint16(len(pathBytes)))
	off += 2
	copy(buf[off:], pathBytes)
	off += len(pathBytes)
	copy(buf[off:], e.Hash[:])
	off += 20
	binary.LittleEndian.PutUint32(buf[off:], e.Mode)
	off += 4
	binary.LittleEndian.PutUint64(buf[off:], e.Size)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], uint64(e.Mtime))
	off += 8
	binary.LittleEndian.PutUint32(buf[off:], e.Flags)
	_, err := w.Write(buf)
	return err
}

// Load deserializes an index previously written by Save.
func Load(r io.Reader, store *objstore.Store) (*Index, error) {
	br := bufio.NewReaderSize(r, chunkSize)

	header := make([]byte, 12)
	if _, err := io.ReadFull(br, header); err != nil {
		return nil, &core.CorruptRef{Name: "index", Err: err}
	}
	if binary.LittleEndian.Uint32(header[0:4]) != magic {
		return nil, core.ErrCorruptIndex
	}
	count := binary.LittleEndian.Uint32(header[8:12])

	idx := &Index{entries: make(map[string]*Entry, count), store: store, slab: memcache.NewSlab(memcache.DefaultBlockSize)}
	for i := uint32(0); i < count; i++ {
		e, err := readEntry(br)
		if err != nil {
			return nil, err
		}
		idx.entries[e.Path] = e
	}
	return idx, nil
}

func readEntry(r io.Reader) (*Entry, error) {
	var pathLen uint16
	if err := binary.Read(r, binary.LittleEndian, &pathLen); err != nil {
		if err == io.EOF {
			return nil, core.ErrCorruptIndex
		}
		return nil, &core.CorruptRef{Name: "index", Err: err}
	}

	pathBytes := make([]byte, pathLen)
	if _, err := io.ReadFull(r, pathBytes); err != nil {
		return nil, core.ErrCorruptIndex
	}

	var hash core.Hash
	if _, err := io.ReadFull(r, hash[:]); err != nil {
		return nil, core.ErrCorruptIndex
	}

	rest := make([]byte, 4+8+8+4)
	if _, err := io.ReadFull(r, rest); err != nil {
		return nil, core.ErrCorruptIndex
	}

	return &Entry{
		Path:  string(pathBytes),
		Hash:  hash,
		Mode:  binary.LittleEndian.Uint32(rest[0:4]),
		Size:  binary.LittleEndian.Uint64(rest[4:12]),
		Mtime: int64(binary.LittleEndian.Uint64(rest[12:20])),
		Flags: binary.LittleEndian.Uint32(rest[20:24]),
	}, nil
}
