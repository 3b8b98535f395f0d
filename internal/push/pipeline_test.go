package push

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gyattvc/gyatt/internal/auth"
	"github.com/gyattvc/gyatt/internal/core"
	"github.com/gyattvc/gyatt/internal/httppool"
	"github.com/gyattvc/gyatt/internal/ignore"
	"github.com/gyattvc/gyatt/internal/index"
	"github.com/gyattvc/gyatt/internal/objstore"
)

func newTestRepo(t *testing.T) (string, *objstore.Store, *index.Index) {
	t.Helper()
	root := t.TempDir()
	store := objstore.NewStore(filepath.Join(root, ".gyatt"))
	return root, store, index.New(store)
}

func stageFile(t *testing.T, root string, idx *index.Index, relPath, content string) {
	t.Helper()
	full := filepath.Join(root, relPath)
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(full, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	if err := idx.Add(root, relPath); err != nil {
		t.Fatal(err)
	}
}

func emptyIgnoreSet(t *testing.T) *ignore.Set {
	t.Helper()
	set, err := ignore.Load(filepath.Join(t.TempDir(), ".gyattignore"))
	if err != nil {
		t.Fatal(err)
	}
	return set
}

// TestPushEmptyRemoteUsesContentsFallback exercises scenario S5: a
// remote that exists but reports no contents goes through the
// Contents-API fallback for its first file.
func TestPushEmptyRemoteUsesContentsFallback(t *testing.T) {
	root, store, idx := newTestRepo(t)
	stageFile(t, root, idx, "a.txt", "hello\n")

	fake := NewFakeGithubServer()
	fake.SeedRepo("acme", "widgets", true)
	srv := httptest.NewServer(fake)
	defer srv.Close()

	pipeline := New(httppool.New(), &auth.NoneAuth{}, Options{APIBase: srv.URL})
	result, err := pipeline.Push(context.Background(), Request{
		Owner:       "acme",
		Repo:        "widgets",
		Branch:      "main",
		LocalCommit: core.HashBytes([]byte("placeholder-commit")),
		Message:     "first",
		Author:      core.Identity{Name: "tester", Email: "tester@example.com"},
		Index:       idx,
		Ignore:      emptyIgnoreSet(t),
		Store:       store,
	})
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if !result.UsedContentsFallback {
		t.Fatal("expected the contents-API fallback to have been used")
	}
	if result.BlobsUploaded != 1 {
		t.Errorf("BlobsUploaded = %d, want 1", result.BlobsUploaded)
	}

	// A second push with more content should now take the standard path.
	stageFile(t, root, idx, "b.txt", "second\n")
	result2, err := pipeline.Push(context.Background(), Request{
		Owner:       "acme",
		Repo:        "widgets",
		Branch:      "main",
		LocalCommit: core.HashBytes([]byte("placeholder-commit-2")),
		Message:     "second",
		Author:      core.Identity{Name: "tester", Email: "tester@example.com"},
		Index:       idx,
		Ignore:      emptyIgnoreSet(t),
		Store:       store,
	})
	if err != nil {
		t.Fatalf("second Push: %v", err)
	}
	if result2.UsedContentsFallback {
		t.Fatal("expected the second push to take the standard tree/commit/ref path")
	}
	if result2.BlobsUploaded != 2 {
		t.Errorf("second push BlobsUploaded = %d, want 2", result2.BlobsUploaded)
	}
}

// TestPushParallelBlobsWithOneTransient exercises scenario S6: 20 staged
// files upload through the bounded-parallelism uploader, one of which
// fails once with 503 before the pool's retry succeeds.
func TestPushParallelBlobsWithOneTransient(t *testing.T) {
	root, store, idx := newTestRepo(t)
	for i := 0; i < 20; i++ {
		stageFile(t, root, idx, filepathForIndex(i), contentForIndex(i))
	}

	fake := NewFakeGithubServer()
	fake.SeedRepo("acme", "widgets", false)
	fake.SetTransientFailures(1)
	srv := httptest.NewServer(fake)
	defer srv.Close()

	pipeline := New(httppool.New(), &auth.NoneAuth{}, Options{APIBase: srv.URL})
	result, err := pipeline.Push(context.Background(), Request{
		Owner:       "acme",
		Repo:        "widgets",
		Branch:      "main",
		LocalCommit: core.HashBytes([]byte("placeholder-commit")),
		Message:     "bulk import",
		Author:      core.Identity{Name: "tester", Email: "tester@example.com"},
		Index:       idx,
		Ignore:      emptyIgnoreSet(t),
		Store:       store,
	})
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if result.BlobsUploaded != 20 {
		t.Errorf("BlobsUploaded = %d, want 20", result.BlobsUploaded)
	}
	if result.CommitSHA == "" {
		t.Error("expected a commit sha to be assembled")
	}
	if fake.BranchSHA("acme", "widgets", "main") != result.CommitSHA {
		t.Error("expected refs/heads/main to point at the new commit")
	}
}

func TestPushFailsOnEmptyLocalBranch(t *testing.T) {
	_, store, idx := newTestRepo(t)
	pipeline := New(httppool.New(), &auth.NoneAuth{}, Options{})
	_, err := pipeline.Push(context.Background(), Request{
		Owner:  "acme",
		Repo:   "widgets",
		Branch: "main",
		Index:  idx,
		Ignore: emptyIgnoreSet(t),
		Store:  store,
	})
	if err != core.ErrEmptyBranch {
		t.Fatalf("err = %v, want ErrEmptyBranch", err)
	}
}

func TestPushRejectsOversizedFile(t *testing.T) {
	root, store, idx := newTestRepo(t)
	stageFile(t, root, idx, "big.bin", "0123456789")

	fake := NewFakeGithubServer()
	fake.SeedRepo("acme", "widgets", false)
	srv := httptest.NewServer(fake)
	defer srv.Close()

	pipeline := New(httppool.New(), &auth.NoneAuth{}, Options{APIBase: srv.URL, MaxFileSize: 4})
	_, err := pipeline.Push(context.Background(), Request{
		Owner:       "acme",
		Repo:        "widgets",
		Branch:      "main",
		LocalCommit: core.HashBytes([]byte("placeholder-commit")),
		Message:     "too big",
		Index:       idx,
		Ignore:      emptyIgnoreSet(t),
		Store:       store,
	})
	if _, ok := err.(*core.FileTooLarge); !ok {
		t.Fatalf("err = %v (%T), want *core.FileTooLarge", err, err)
	}
}

func filepathForIndex(i int) string {
	return "blob-" + string(rune('a'+i)) + ".txt"
}

func contentForIndex(i int) string {
	return string(rune('a'+i)) + "-content\n"
}
