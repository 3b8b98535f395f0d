package index

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/gyattvc/gyatt/internal/core"
	"github.com/gyattvc/gyatt/internal/objstore"
)

func setupWorkRoot(t *testing.T) (string, *objstore.Store) {
	t.Helper()
	root := t.TempDir()
	store := objstore.NewStore(filepath.Join(root, ".gyatt"))
	return root, store
}

func writeWorkFile(t *testing.T, root, relPath, content string) {
	t.Helper()
	full := filepath.Join(root, relPath)
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(full, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestAddCreatesBlobAndEntry(t *testing.T) {
	root, store := setupWorkRoot(t)
	writeWorkFile(t, root, "a.txt", "hello\n")

	idx := New(store)
	if err := idx.Add(root, "a.txt"); err != nil {
		t.Fatal(err)
	}

	entry, ok := idx.Find("a.txt")
	if !ok {
		t.Fatal("expected a.txt to be staged")
	}
	if entry.Mode != core.ModeRegularFile {
		t.Errorf("expected regular file mode, got %o", entry.Mode)
	}

	data, err := store.ReadBlob(entry.Hash)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello\n" {
		t.Errorf("got %q", data)
	}
}

func TestAddRejectsNonRegularFile(t *testing.T) {
	root, store := setupWorkRoot(t)
	if err := os.MkdirAll(filepath.Join(root, "adir"), 0755); err != nil {
		t.Fatal(err)
	}

	idx := New(store)
	if err := idx.Add(root, "adir"); err != core.ErrRegularFileRequired {
		t.Fatalf("expected ErrRegularFileRequired, got %v", err)
	}
}

func TestRemoveDeletesEntry(t *testing.T) {
	root, store := setupWorkRoot(t)
	writeWorkFile(t, root, "a.txt", "x")
	idx := New(store)
	if err := idx.Add(root, "a.txt"); err != nil {
		t.Fatal(err)
	}
	idx.Remove("a.txt")
	if _, ok := idx.Find("a.txt"); ok {
		t.Fatal("expected a.txt to be removed")
	}
}

func TestBuildTreeSingleFile(t *testing.T) {
	root, store := setupWorkRoot(t)
	writeWorkFile(t, root, "a.txt", "hello\n")
	idx := New(store)
	if err := idx.Add(root, "a.txt"); err != nil {
		t.Fatal(err)
	}

	hash, err := idx.BuildTree()
	if err != nil {
		t.Fatal(err)
	}
	tree, err := store.ReadTree(hash)
	if err != nil {
		t.Fatal(err)
	}
	if len(tree.Entries) != 1 || tree.Entries[0].Name != "a.txt" {
		t.Fatalf("unexpected tree: %+v", tree)
	}
}

func TestBuildTreeNestedDirectories(t *testing.T) {
	root, store := setupWorkRoot(t)
	writeWorkFile(t, root, "a.txt", "top")
	writeWorkFile(t, root, "sub/b.txt", "nested")
	writeWorkFile(t, root, "sub/deeper/c.txt", "deep")

	idx := New(store)
	for _, p := range []string{"a.txt", "sub/b.txt", "sub/deeper/c.txt"} {
		if err := idx.Add(root, p); err != nil {
			t.Fatal(err)
		}
	}

	rootHash, err := idx.BuildTree()
	if err != nil {
		t.Fatal(err)
	}
	rootTree, err := store.ReadTree(rootHash)
	if err != nil {
		t.Fatal(err)
	}
	if len(rootTree.Entries) != 2 {
		t.Fatalf("expected 2 top-level entries (a.txt, sub), got %+v", rootTree.Entries)
	}

	var subHash core.Hash
	for _, e := range rootTree.Entries {
		if e.Name == "sub" {
			if e.Kind != core.ObjectTypeTree {
				t.Fatalf("expected sub to be a tree entry, got %v", e.Kind)
			}
			subHash = e.Hash
		}
	}
	subTree, err := store.ReadTree(subHash)
	if err != nil {
		t.Fatal(err)
	}
	if len(subTree.Entries) != 2 {
		t.Fatalf("expected 2 entries under sub (b.txt, deeper), got %+v", subTree.Entries)
	}
}

func TestStatusesClassification(t *testing.T) {
	_, store := setupWorkRoot(t)
	idx := New(store)

	stagedHash, err := store.WriteBlob([]byte("staged content"))
	if err != nil {
		t.Fatal(err)
	}
	idx.entries["staged.txt"] = &Entry{Path: "staged.txt", Hash: stagedHash}

	modHash, err := store.WriteBlob([]byte("old content"))
	if err != nil {
		t.Fatal(err)
	}
	idx.entries["modified.txt"] = &Entry{Path: "modified.txt", Hash: modHash}

	deletedHash, err := store.WriteBlob([]byte("gone"))
	if err != nil {
		t.Fatal(err)
	}
	idx.entries["deleted.txt"] = &Entry{Path: "deleted.txt", Hash: deletedHash}

	cleanHash, err := store.WriteBlob([]byte("unchanged"))
	if err != nil {
		t.Fatal(err)
	}
	idx.entries["clean.txt"] = &Entry{Path: "clean.txt", Hash: cleanHash}

	newModHash, err := store.WriteBlob([]byte("new content"))
	if err != nil {
		t.Fatal(err)
	}

	scanPaths := map[string]core.Hash{
		"staged.txt":    stagedHash,
		"modified.txt":  newModHash,
		"clean.txt":     cleanHash,
		"untracked.txt": core.HashBytes([]byte("untracked")),
	}
	headTree := map[string]core.Hash{
		"clean.txt": cleanHash,
	}

	statuses := Statuses(idx, "", scanPaths, headTree)

	want := map[string]Status{
		"staged.txt":    StatusStaged,
		"modified.txt":  StatusModified,
		"deleted.txt":   StatusDeleted,
		"clean.txt":     StatusClean,
		"untracked.txt": StatusUntracked,
	}
	for path, expected := range want {
		if statuses[path] != expected {
			t.Errorf("path %q: expected %v, got %v", path, expected, statuses[path])
		}
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	root, store := setupWorkRoot(t)
	writeWorkFile(t, root, "a.txt", "hello")
	writeWorkFile(t, root, "sub/b.txt", "world")

	idx := New(store)
	for _, p := range []string{"a.txt", "sub/b.txt"} {
		if err := idx.Add(root, p); err != nil {
			t.Fatal(err)
		}
	}

	var buf bytes.Buffer
	if err := idx.Save(&buf); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(&buf, store)
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded.entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(loaded.entries))
	}
	for _, p := range []string{"a.txt", "sub/b.txt"} {
		orig, _ := idx.Find(p)
		got, ok := loaded.Find(p)
		if !ok || got.Hash != orig.Hash || got.Mode != orig.Mode {
			t.Fatalf("round trip mismatch for %q: %+v vs %+v", p, orig, got)
		}
	}
}

func TestLoadRejectsBadMagic(t *testing.T) {
	_, store := setupWorkRoot(t)
	buf := bytes.NewBuffer(make([]byte, 12))
	if _, err := Load(buf, store); err != core.ErrCorruptIndex {
		t.Fatalf("expected ErrCorruptIndex, got %v", err)
	}
}

func TestLoadRejectsTruncatedEntry(t *testing.T) {
	root, store := setupWorkRoot(t)
	writeWorkFile(t, root, "a.txt", "hello")
	idx := New(store)
	if err := idx.Add(root, "a.txt"); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := idx.Save(&buf); err != nil {
		t.Fatal(err)
	}
	truncated := buf.Bytes()[:buf.Len()-5]

	if _, err := Load(bytes.NewReader(truncated), store); err != core.ErrCorruptIndex {
		t.Fatalf("expected ErrCorruptIndex for truncated entry, got %v", err)
	}
}
