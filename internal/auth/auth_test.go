package auth

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"
)

func TestTokenAuthSetsGitHubHeaders(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "https://api.github.com/", nil)
	a := &TokenAuth{Token: "abc123"}
	if err := a.Authenticate(req); err != nil {
		t.Fatal(err)
	}
	if got := req.Header.Get("Authorization"); got != "token abc123" {
		t.Errorf("got Authorization %q", got)
	}
	if got := req.Header.Get("Accept"); got != "application/vnd.github.v3+json" {
		t.Errorf("got Accept %q", got)
	}
}

func TestTokenAuthRejectsEmptyToken(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "https://api.github.com/", nil)
	a := &TokenAuth{}
	if err := a.Authenticate(req); err == nil {
		t.Fatal("expected error for empty token")
	}
}

func TestResolveTokenPrefersEnv(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "from-env")
	dir := t.TempDir()
	if err := StoreToken(dir, "from-file"); err != nil {
		t.Fatal(err)
	}

	tok, err := ResolveToken(dir)
	if err != nil {
		t.Fatal(err)
	}
	if tok != "from-env" {
		t.Errorf("expected env token to win, got %q", tok)
	}
}

func TestResolveTokenFallsBackToFile(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "")
	dir := t.TempDir()
	if err := StoreToken(dir, "from-file"); err != nil {
		t.Fatal(err)
	}

	tok, err := ResolveToken(dir)
	if err != nil {
		t.Fatal(err)
	}
	if tok != "from-file" {
		t.Errorf("expected file token, got %q", tok)
	}
}

func TestStoreTokenSetsOwnerOnlyPermissions(t *testing.T) {
	dir := t.TempDir()
	if err := StoreToken(dir, "secret"); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(filepath.Join(dir, tokenFileName))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != tokenFilePerm {
		t.Errorf("expected perm %o, got %o", tokenFilePerm, info.Mode().Perm())
	}
}

func TestResolveTokenMissingYieldsEmpty(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "")
	tok, err := ResolveToken(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if tok != "" {
		t.Errorf("expected empty token, got %q", tok)
	}
}
