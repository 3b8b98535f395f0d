package memcache

import (
	"bytes"
	"errors"
	"os"

	"github.com/edsrzf/mmap-go"

	"github.com/gyattvc/gyatt/internal/core"
)

// ErrEmptyOrMissingFile is returned by OpenMmap for a file that does
// not exist or has zero length; mapping zero bytes is not meaningful.
var ErrEmptyOrMissingFile = errors.New("file is absent or empty, cannot mmap")

// MmapFile is a read-only, zero-copy view of a file's bytes.
type MmapFile struct {
	f *os.File
	m mmap.MMap
}

// OpenMmap opens path read-only and maps its entire contents into
// memory. It is the fast path the Object Store's read() uses for
// objects larger than 64 KiB.
func OpenMmap(path string) (*MmapFile, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrEmptyOrMissingFile
		}
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.Size() == 0 {
		f.Close()
		return nil, ErrEmptyOrMissingFile
	}

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, err
	}

	return &MmapFile{f: f, m: m}, nil
}

// Bytes returns the mapped region. The slice is valid until Close.
func (mf *MmapFile) Bytes() []byte {
	return mf.m
}

// Hash computes the content hash of the mapped bytes without copying
// them into a separate buffer first.
func (mf *MmapFile) Hash() core.Hash {
	return core.HashBytes(mf.m)
}

// Equal reports whether the mapped bytes are byte-for-byte identical to
// other. bytes.Equal is used as the comparison primitive: on amd64 and
// arm64 the Go runtime already lowers it to a vectorized routine, which
// is the practical reading of "SIMD byte-comparison when available"
// without hand-rolling architecture-specific assembly.
func (mf *MmapFile) Equal(other []byte) bool {
	return bytes.Equal(mf.m, other)
}

// Close unmaps the region and closes the underlying file.
func (mf *MmapFile) Close() error {
	if err := mf.m.Unmap(); err != nil {
		mf.f.Close()
		return err
	}
	return mf.f.Close()
}
