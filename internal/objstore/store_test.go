package objstore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gyattvc/gyatt/internal/core"
)

func testIdentity() core.Identity {
	return core.Identity{Name: "Ada Lovelace", Email: "ada@example.com", When: time.Unix(1700000000, 0).UTC()}
}

func TestWriteReadBlobRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)

	hash, err := s.WriteBlob([]byte("hello\n"))
	if err != nil {
		t.Fatalf("WriteBlob: %v", err)
	}

	got, err := s.ReadBlob(hash)
	if err != nil {
		t.Fatalf("ReadBlob: %v", err)
	}
	if string(got) != "hello\n" {
		t.Errorf("got %q, want %q", got, "hello\n")
	}
}

func TestWriteDedupWritesSingleFile(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)

	h1, err := s.WriteBlob([]byte("same content"))
	if err != nil {
		t.Fatal(err)
	}
	h2, err := s.WriteBlob([]byte("same content"))
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Fatal("identical content must hash identically")
	}

	path := s.objectPath(h1)
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected object file to exist at %s: %v", path, err)
	}
}

func TestWriteShardsByFirstTwoHexDigits(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)

	hash, err := s.WriteBlob([]byte("shard me"))
	if err != nil {
		t.Fatal(err)
	}

	hex := hash.String()
	shardDir := filepath.Join(dir, "objects", hex[:2])
	if info, err := os.Stat(shardDir); err != nil || !info.IsDir() {
		t.Fatalf("expected shard directory %s", shardDir)
	}
}

func TestTreeCommitRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)

	blobHash, err := s.WriteBlob([]byte("content"))
	if err != nil {
		t.Fatal(err)
	}

	tree := &core.Tree{Entries: []core.TreeEntry{
		{Mode: core.ModeRegularFile, Name: "a.txt", Hash: blobHash, Kind: core.ObjectTypeBlob},
	}}
	treeHash, err := s.WriteTree(tree)
	if err != nil {
		t.Fatal(err)
	}

	gotTree, err := s.ReadTree(treeHash)
	if err != nil {
		t.Fatal(err)
	}
	if len(gotTree.Entries) != 1 || gotTree.Entries[0].Name != "a.txt" {
		t.Fatalf("unexpected tree round trip: %+v", gotTree)
	}

	commit := &core.Commit{
		Tree:      treeHash,
		Author:    testIdentity(),
		Committer: testIdentity(),
		Message:   "initial commit",
	}
	commitHash, err := s.WriteCommit(commit)
	if err != nil {
		t.Fatal(err)
	}

	gotCommit, err := s.ReadCommit(commitHash)
	if err != nil {
		t.Fatal(err)
	}
	if gotCommit.Message != "initial commit" || gotCommit.Tree != treeHash {
		t.Fatalf("unexpected commit round trip: %+v", gotCommit)
	}
}

func TestReadUsesCacheOnSecondCall(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)

	hash, err := s.WriteBlob([]byte("cached"))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.Read(hash); err != nil {
		t.Fatal(err)
	}
	// Remove the backing file: if Read still succeeds, it served from cache.
	if err := os.Remove(s.objectPath(hash)); err != nil {
		t.Fatal(err)
	}

	obj, err := s.Read(hash)
	if err != nil {
		t.Fatalf("expected cache hit after file removal, got error: %v", err)
	}
	if string(obj.Data) != "cached" {
		t.Errorf("got %q", obj.Data)
	}
}

func TestReadMissingObjectReturnsNotFound(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)

	_, err := s.Read(core.HashBytes([]byte("never written")))
	if err != core.ErrObjectNotFound {
		t.Fatalf("expected ErrObjectNotFound, got %v", err)
	}
}

func TestExists(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)

	hash, err := s.WriteBlob([]byte("present"))
	if err != nil {
		t.Fatal(err)
	}
	if !s.Exists(hash) {
		t.Error("expected Exists to report true for a written object")
	}
	if s.Exists(core.HashBytes([]byte("absent"))) {
		t.Error("expected Exists to report false for an unwritten object")
	}
}

func TestListReturnsAllWrittenHashes(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)

	want := map[core.Hash]bool{}
	for _, content := range []string{"one", "two", "three"} {
		h, err := s.WriteBlob([]byte(content))
		if err != nil {
			t.Fatal(err)
		}
		want[h] = true
	}

	got, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d objects, got %d", len(want), len(got))
	}
	for _, h := range got {
		if !want[h] {
			t.Errorf("unexpected hash in List: %s", h)
		}
	}
}

func TestListOnEmptyStoreReturnsEmpty(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)

	got, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no objects, got %d", len(got))
	}
}

func TestReadWrongTypeReturnsError(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)

	hash, err := s.WriteBlob([]byte("not a tree"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.ReadTree(hash); err == nil {
		t.Fatal("expected error reading a blob as a tree")
	}
}

func BenchmarkWriteBlob(b *testing.B) {
	dir := b.TempDir()
	s := NewStore(dir)
	data := make([]byte, 4096)
	for i := 0; i < b.N; i++ {
		data[0] = byte(i)
		if _, err := s.WriteBlob(data); err != nil {
			b.Fatal(err)
		}
	}
}
