package push

import (
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
)

// FakeGithubServer is an in-process stand-in for the GitHub REST API
// surface the push pipeline drives (§6): just enough of
// /repos/{owner}/{repo}/{contents,git/*} and /user/repos to exercise
// every phase of Pipeline.Push against httptest.NewServer.
type FakeGithubServer struct {
	mu    sync.Mutex
	repos map[string]*fakeRepo

	// transientFailures makes the next N createBlob calls return 503
	// before succeeding, for exercising the pool's retry behavior.
	transientFailures int
	blobCalls         int
}

type fakeRepo struct {
	exists        bool
	contentsEmpty bool
	blobs         map[string][]byte
	trees         map[string][]treeEntryPayload
	commits       map[string]fakeCommit
	refs          map[string]string // branch -> commit sha
}

type fakeCommit struct {
	Message string
	Tree    string
	Parent  string
}

// NewFakeGithubServer creates a server with no repositories registered;
// use SeedRepo to pre-populate one.
func NewFakeGithubServer() *FakeGithubServer {
	return &FakeGithubServer{repos: make(map[string]*fakeRepo)}
}

// SeedRepo registers owner/repo, optionally already containing commits
// (contentsEmpty=false makes the contents listing non-empty). No branch
// refs are created, so every branch starts out absent.
func (s *FakeGithubServer) SeedRepo(owner, repo string, contentsEmpty bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.repos[key(owner, repo)] = &fakeRepo{
		exists:        true,
		contentsEmpty: contentsEmpty,
		blobs:         make(map[string][]byte),
		trees:         make(map[string][]treeEntryPayload),
		commits:       make(map[string]fakeCommit),
		refs:          make(map[string]string),
	}
}

// SetTransientFailures makes the first n blob-creation requests fail
// with HTTP 503 before the server starts accepting them, simulating a
// flaky upstream for retry coverage.
func (s *FakeGithubServer) SetTransientFailures(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transientFailures = n
}

func key(owner, repo string) string { return owner + "/" + repo }

// BranchSHA returns the commit sha a branch currently points to, or ""
// if the repo or branch doesn't exist.
func (s *FakeGithubServer) BranchSHA(owner, repo, branch string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.repos[key(owner, repo)]
	if !ok {
		return ""
	}
	return r.refs[branch]
}

func (s *FakeGithubServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/user/repos" && r.Method == http.MethodPost:
		s.handleCreateRepo(w, r)
		return
	}

	const prefix = "/repos/"
	if !strings.HasPrefix(r.URL.Path, prefix) {
		http.NotFound(w, r)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, prefix)
	parts := strings.SplitN(rest, "/", 3)
	if len(parts) < 2 {
		http.NotFound(w, r)
		return
	}
	owner, repo := parts[0], parts[1]
	sub := ""
	if len(parts) == 3 {
		sub = parts[2]
	}

	s.mu.Lock()
	repoState, exists := s.repos[key(owner, repo)]
	s.mu.Unlock()

	switch {
	case sub == "":
		s.handleRepoGet(w, r, exists)
	case sub == "contents":
		s.handleContentsList(w, repoState)
	case strings.HasPrefix(sub, "contents/"):
		s.handleContentsPut(w, r, owner, repo, strings.TrimPrefix(sub, "contents/"))
	case strings.HasPrefix(sub, "git/ref/heads/"):
		s.handleBranchHead(w, repoState, strings.TrimPrefix(sub, "git/ref/heads/"))
	case sub == "git/blobs":
		s.handleCreateBlob(w, r, repoState)
	case sub == "git/trees":
		s.handleCreateTree(w, r, repoState)
	case sub == "git/commits":
		s.handleCreateCommit(w, r, repoState)
	case sub == "git/refs":
		s.handleCreateRef(w, r, repoState)
	case strings.HasPrefix(sub, "git/refs/heads/"):
		s.handleUpdateRef(w, r, repoState, strings.TrimPrefix(sub, "git/refs/heads/"))
	default:
		http.NotFound(w, r)
	}
}

func (s *FakeGithubServer) handleRepoGet(w http.ResponseWriter, r *http.Request, exists bool) {
	if !exists {
		http.NotFound(w, r)
		return
	}
}

func (s *FakeGithubServer) handleCreateRepo(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.SeedRepo("owner", body.Name, true)
	w.WriteHeader(http.StatusCreated)
}

func (s *FakeGithubServer) handleContentsList(w http.ResponseWriter, repoState *fakeRepo) {
	if repoState == nil {
		http.NotFound(w, nil)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if repoState.contentsEmpty {
		w.Write([]byte("[]"))
		return
	}
	w.Write([]byte(`[{"name":"seed"}]`))
}

func (s *FakeGithubServer) handleContentsPut(w http.ResponseWriter, r *http.Request, owner, repo, path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	repoState := s.repos[key(owner, repo)]
	if repoState == nil {
		http.NotFound(w, r)
		return
	}
	var body struct {
		Message string `json:"message"`
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	data, err := base64.StdEncoding.DecodeString(body.Content)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	sha := fakeSHA(data)
	repoState.blobs[sha] = data
	commitSHA := fakeSHA([]byte(body.Message + path))
	repoState.commits[commitSHA] = fakeCommit{Message: body.Message}
	repoState.refs["main"] = commitSHA
	repoState.contentsEmpty = false
	w.WriteHeader(http.StatusCreated)
}

func (s *FakeGithubServer) handleBranchHead(w http.ResponseWriter, repoState *fakeRepo, branch string) {
	if repoState == nil {
		http.NotFound(w, nil)
		return
	}
	s.mu.Lock()
	sha, ok := repoState.refs[branch]
	s.mu.Unlock()
	if !ok {
		http.NotFound(w, nil)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"sha": sha})
}

func (s *FakeGithubServer) handleCreateBlob(w http.ResponseWriter, r *http.Request, repoState *fakeRepo) {
	if repoState == nil {
		http.NotFound(w, r)
		return
	}
	var body struct {
		Content  string `json:"content"`
		Encoding string `json:"encoding"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.blobCalls++
	shouldFail := s.transientFailures > 0
	if shouldFail {
		s.transientFailures--
	}
	s.mu.Unlock()
	if shouldFail {
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}

	data, err := base64.StdEncoding.DecodeString(body.Content)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	sha := fakeSHA(data)

	s.mu.Lock()
	repoState.blobs[sha] = data
	s.mu.Unlock()

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"sha": sha})
}

func (s *FakeGithubServer) handleCreateTree(w http.ResponseWriter, r *http.Request, repoState *fakeRepo) {
	if repoState == nil {
		http.NotFound(w, r)
		return
	}
	var body struct {
		Tree     []treeEntryPayload `json:"tree"`
		BaseTree string             `json:"base_tree"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	sha := fakeSHA([]byte(fmt.Sprintf("%v%s", body.Tree, body.BaseTree)))

	s.mu.Lock()
	repoState.trees[sha] = body.Tree
	s.mu.Unlock()

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"sha": sha})
}

func (s *FakeGithubServer) handleCreateCommit(w http.ResponseWriter, r *http.Request, repoState *fakeRepo) {
	if repoState == nil {
		http.NotFound(w, r)
		return
	}
	var body struct {
		Message string   `json:"message"`
		Tree    string    `json:"tree"`
		Parents []string `json:"parents"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var parent string
	if len(body.Parents) > 0 {
		parent = body.Parents[0]
	}
	sha := fakeSHA([]byte(body.Message + body.Tree + parent))

	s.mu.Lock()
	repoState.commits[sha] = fakeCommit{Message: body.Message, Tree: body.Tree, Parent: parent}
	s.mu.Unlock()

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"sha": sha})
}

func (s *FakeGithubServer) handleCreateRef(w http.ResponseWriter, r *http.Request, repoState *fakeRepo) {
	if repoState == nil {
		http.NotFound(w, r)
		return
	}
	var body struct {
		Ref string `json:"ref"`
		SHA string `json:"sha"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	branch := strings.TrimPrefix(body.Ref, "refs/heads/")

	s.mu.Lock()
	repoState.refs[branch] = body.SHA
	s.mu.Unlock()

	w.WriteHeader(http.StatusCreated)
}

func (s *FakeGithubServer) handleUpdateRef(w http.ResponseWriter, r *http.Request, repoState *fakeRepo, branch string) {
	if repoState == nil {
		http.NotFound(w, r)
		return
	}
	var body struct {
		SHA string `json:"sha"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	repoState.refs[branch] = body.SHA
	s.mu.Unlock()

	w.WriteHeader(http.StatusOK)
}

func fakeSHA(data []byte) string {
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])
}
