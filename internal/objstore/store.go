// Package objstore implements the Object Store component: a
// content-addressed, compressed, deduplicated database of blob, tree
// and commit objects sharded two levels deep on disk.
package objstore

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gyattvc/gyatt/internal/compress"
	"github.com/gyattvc/gyatt/internal/core"
	"github.com/gyattvc/gyatt/internal/memcache"
)

// mmapThreshold is the compressed-file size above which Read uses an
// mmap'd read instead of a plain ReadFile, per spec.md §4.3.
const mmapThreshold = 64 * 1024

// Store manages the on-disk object database rooted at
// "<repo>/objects/<first-two-hex>/<remaining-38-hex>".
type Store struct {
	root      string
	cache     *memcache.ObjectCache
	useMmap   bool
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithObjectCache bounds the in-memory decoded-object cache to
// maxEntries. If never called, a default of 4096 is used.
func WithObjectCache(maxEntries int) Option {
	return func(s *Store) {
		c, err := memcache.NewObjectCache(maxEntries)
		if err == nil {
			s.cache = c
		}
	}
}

// WithMmap enables or disables memory-mapped reads for large objects.
// Enabled by default.
func WithMmap(enabled bool) Option {
	return func(s *Store) { s.useMmap = enabled }
}

// NewStore creates an object store rooted at root/objects.
func NewStore(root string, opts ...Option) *Store {
	cache, _ := memcache.NewObjectCache(4096)
	s := &Store{root: root, cache: cache, useMmap: true}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// objectPath returns the on-disk path for a hash's compressed object file.
func (s *Store) objectPath(hash core.Hash) string {
	hex := hash.String()
	return filepath.Join(s.root, "objects", hex[:2], hex[2:])
}

// Write stores an object of the given kind and payload, returning its
// content hash. Writing the same (kind, payload) twice is a no-op on
// the second call (dedup) and both calls return the same hash.
func (s *Store) Write(kind core.ObjectType, payload []byte) (core.Hash, error) {
	serialized := core.Serialize(kind, payload)
	hash := core.HashBytes(serialized)

	path := s.objectPath(hash)
	if _, err := os.Stat(path); err == nil {
		return hash, nil // dedup: identical content already stored
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return core.Hash{}, &core.IoError{Path: dir, Cause: err}
	}

	compressed, err := compress.CompressAdaptive(serialized)
	if err != nil {
		return core.Hash{}, err
	}

	tmp, err := os.CreateTemp(dir, "obj-*.tmp")
	if err != nil {
		return core.Hash{}, &core.IoError{Path: dir, Cause: err}
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(compressed); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return core.Hash{}, &core.IoError{Path: tmpPath, Cause: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return core.Hash{}, &core.IoError{Path: tmpPath, Cause: err}
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		// A concurrent writer may have already placed the same content
		// at path; that's success for a content-addressed store.
		if _, statErr := os.Stat(path); statErr == nil {
			return hash, nil
		}
		return core.Hash{}, &core.IoError{Path: path, Cause: err}
	}

	if s.cache != nil {
		s.cache.Put(&core.Object{Type: kind, Data: payload, Hash: hash})
	}
	return hash, nil
}

// Read loads and decodes the object stored at hash.
func (s *Store) Read(hash core.Hash) (*core.Object, error) {
	if s.cache != nil {
		if obj, ok := s.cache.Get(hash); ok {
			return obj, nil
		}
	}

	path := s.objectPath(hash)
	compressed, err := s.readCompressed(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, core.ErrObjectNotFound
		}
		return nil, &core.IoError{Path: path, Cause: err}
	}

	data, err := compress.Decompress(compressed, 0)
	if err != nil {
		return nil, &core.CorruptObject{Hash: hash, Err: err}
	}

	typeEnd := -1
	for i, b := range data {
		if b == ' ' {
			typeEnd = i
			break
		}
	}
	if typeEnd == -1 {
		return nil, &core.CorruptObject{Hash: hash, Err: core.ErrInvalidObject}
	}

	nullIdx := -1
	for i := typeEnd + 1; i < len(data); i++ {
		if data[i] == 0 {
			nullIdx = i
			break
		}
	}
	if nullIdx == -1 {
		return nil, &core.CorruptObject{Hash: hash, Err: core.ErrInvalidObject}
	}

	declaredSize := 0
	if _, err := fmt.Sscanf(string(data[typeEnd+1:nullIdx]), "%d", &declaredSize); err != nil {
		return nil, &core.CorruptObject{Hash: hash, Err: fmt.Errorf("bad size header: %w", err)}
	}

	payload := data[nullIdx+1:]
	if len(payload) != declaredSize {
		return nil, &core.CorruptObject{Hash: hash, Err: fmt.Errorf("declared size %d, got %d", declaredSize, len(payload))}
	}

	obj := &core.Object{Type: core.ObjectType(data[:typeEnd]), Data: payload, Hash: hash}
	if s.cache != nil {
		s.cache.Put(obj)
	}
	return obj, nil
}

// readCompressed reads the raw compressed bytes for path, using mmap for
// files larger than mmapThreshold when mmap is enabled.
func (s *Store) readCompressed(path string) ([]byte, error) {
	if !s.useMmap {
		return os.ReadFile(path)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() <= mmapThreshold {
		return os.ReadFile(path)
	}

	mf, err := memcache.OpenMmap(path)
	if err != nil {
		return os.ReadFile(path) // fall back rather than fail a valid read
	}
	defer mf.Close()
	out := make([]byte, len(mf.Bytes()))
	copy(out, mf.Bytes())
	return out, nil
}

// Exists reports whether an object for hash is present.
func (s *Store) Exists(hash core.Hash) bool {
	_, err := os.Stat(s.objectPath(hash))
	return err == nil
}

// List returns every hash currently stored, by walking the two-level
// shard directories. There is no ordering guarantee.
func (s *Store) List() ([]core.Hash, error) {
	objectsDir := filepath.Join(s.root, "objects")
	var hashes []core.Hash

	shardDirs, err := os.ReadDir(objectsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &core.IoError{Path: objectsDir, Cause: err}
	}

	for _, shard := range shardDirs {
		if !shard.IsDir() || len(shard.Name()) != 2 {
			continue
		}
		shardPath := filepath.Join(objectsDir, shard.Name())
		entries, err := os.ReadDir(shardPath)
		if err != nil {
			return nil, &core.IoError{Path: shardPath, Cause: err}
		}
		for _, e := range entries {
			if e.IsDir() || len(e.Name()) != 38 {
				continue
			}
			hash, err := core.ParseHash(shard.Name() + e.Name())
			if err != nil {
				continue
			}
			hashes = append(hashes, hash)
		}
	}
	return hashes, nil
}

// WriteBlob stores raw file content as a blob object.
func (s *Store) WriteBlob(data []byte) (core.Hash, error) {
	return s.Write(core.ObjectTypeBlob, data)
}

// WriteTree encodes and stores a tree object.
func (s *Store) WriteTree(tree *core.Tree) (core.Hash, error) {
	data, err := core.EncodeTree(tree)
	if err != nil {
		return core.Hash{}, err
	}
	return s.Write(core.ObjectTypeTree, data)
}

// WriteTreeEncoded stores a tree payload a caller has already encoded
// itself (e.g. via a slab-backed encoder), skipping the re-encode
// EncodeTree would otherwise perform.
func (s *Store) WriteTreeEncoded(encoded []byte) (core.Hash, error) {
	return s.Write(core.ObjectTypeTree, encoded)
}

// WriteCommit encodes and stores a commit object.
func (s *Store) WriteCommit(commit *core.Commit) (core.Hash, error) {
	return s.Write(core.ObjectTypeCommit, core.EncodeCommit(commit))
}

// ReadBlob reads and type-checks a blob object.
func (s *Store) ReadBlob(hash core.Hash) ([]byte, error) {
	obj, err := s.Read(hash)
	if err != nil {
		return nil, err
	}
	if obj.Type != core.ObjectTypeBlob {
		return nil, fmt.Errorf("%w: expected blob, got %s", core.ErrInvalidObject, obj.Type)
	}
	return obj.Data, nil
}

// ReadTree reads and decodes a tree object.
func (s *Store) ReadTree(hash core.Hash) (*core.Tree, error) {
	obj, err := s.Read(hash)
	if err != nil {
		return nil, err
	}
	if obj.Type != core.ObjectTypeTree {
		return nil, fmt.Errorf("%w: expected tree, got %s", core.ErrInvalidObject, obj.Type)
	}
	return core.DecodeTree(obj.Data)
}

// ReadCommit reads and decodes a commit object.
func (s *Store) ReadCommit(hash core.Hash) (*core.Commit, error) {
	obj, err := s.Read(hash)
	if err != nil {
		return nil, err
	}
	if obj.Type != core.ObjectTypeCommit {
		return nil, fmt.Errorf("%w: expected commit, got %s", core.ErrInvalidObject, obj.Type)
	}
	return core.DecodeCommit(obj.Data)
}
