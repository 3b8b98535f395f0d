// Package push implements the Remote Push Pipeline (§4.8): the
// five-phase state machine — Resolve, Precheck, Branch probe, Upload,
// Assemble — that drives a local branch's staged content onto a
// GitHub-compatible REST host (§6).
package push

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/gyattvc/gyatt/internal/auth"
	"github.com/gyattvc/gyatt/internal/core"
	"github.com/gyattvc/gyatt/internal/httppool"
	"github.com/gyattvc/gyatt/internal/ignore"
	"github.com/gyattvc/gyatt/internal/index"
	"github.com/gyattvc/gyatt/internal/objstore"
	pkglog "github.com/gyattvc/gyatt/internal/pkg/log"
)

// reservedBasenames are skipped during Upload eligibility regardless of
// the ignore set: repo metadata and common VCS/OS cruft.
var reservedBasenames = map[string]bool{
	".gyatt":     true,
	".git":       true,
	".DS_Store":  true,
	"Thumbs.db":  true,
}

// Options configures a Pipeline instance.
type Options struct {
	// APIBase is the GitHub-compatible API root, e.g.
	// "https://api.github.com". Defaults to DefaultAPIBase.
	APIBase string
	// AutoCreate enables the POST /user/repos fallback when Precheck
	// reports the target repository doesn't exist.
	AutoCreate bool
	// MaxFileSize rejects staged files larger than this many bytes
	// before any upload begins. Zero means unlimited.
	MaxFileSize int64
}

// Request bundles everything one push attempt needs: which repository
// and branch to push the index's staged content to.
type Request struct {
	Owner, Repo string
	Branch      string
	// LocalCommit is the branch tip's commit hash; zero means the
	// branch has no commits, which fails the push with EmptyBranch.
	LocalCommit core.Hash
	Message     string
	Author      core.Identity
	Index       *index.Index
	Ignore      *ignore.Set
	Store       *objstore.Store
}

// Result reports the outcome of a successful push.
type Result struct {
	CommitSHA            string
	UsedContentsFallback bool
	BlobsUploaded        int
}

// Pipeline drives one push attempt's five phases against a
// GitHub-compatible remote through a shared connection pool.
type Pipeline struct {
	pool *httppool.Pool
	auth auth.Authenticator
	opts Options
}

// New creates a Pipeline. pool and authenticator are shared,
// process-wide resources the caller owns.
func New(pool *httppool.Pool, authenticator auth.Authenticator, opts Options) *Pipeline {
	if opts.APIBase == "" {
		opts.APIBase = DefaultAPIBase
	}
	return &Pipeline{pool: pool, auth: authenticator, opts: opts}
}

// Push runs the five-phase state machine to completion or failure.
// Phases execute strictly in order; within Upload, blob-creation calls
// may complete in any order.
func (p *Pipeline) Push(ctx context.Context, req Request) (Result, error) {
	logger := pkglog.WithComponent("push")

	// --- Resolve ---
	if req.LocalCommit.IsZero() {
		return Result{}, core.ErrEmptyBranch
	}
	client := newGithubClient(p.opts.APIBase, req.Owner, req.Repo, p.pool, p.auth)
	logger = logger.With().Str("owner", req.Owner).Str("repo", req.Repo).Str("branch", req.Branch).Logger()

	// --- Precheck ---
	exists, err := client.repoExists(ctx)
	if err != nil {
		return Result{}, err
	}
	if !exists {
		if !p.opts.AutoCreate {
			return Result{}, fmt.Errorf("push: repository %s/%s not found and auto-create is disabled", req.Owner, req.Repo)
		}
		logger.Info().Msg("auto-creating missing remote repository")
		if err := client.createRepo(ctx); err != nil {
			return Result{}, err
		}
	}

	empty, err := client.contentsIsEmpty(ctx)
	if err != nil {
		return Result{}, err
	}

	eligible, err := p.eligibleFiles(req)
	if err != nil {
		return Result{}, err
	}
	if err := p.checkFileSizes(eligible); err != nil {
		return Result{}, err
	}

	if empty {
		return p.pushViaContentsFallback(ctx, client, req, eligible, logger)
	}

	// --- Branch probe ---
	branchHead, err := client.branchHead(ctx, req.Branch)
	if err != nil {
		return Result{}, err
	}
	branchExists := branchHead != ""

	// --- Upload ---
	pathSHAs, err := p.uploadBlobs(ctx, client, eligible, req.Store, logger)
	if err != nil {
		return Result{}, err
	}

	// --- Assemble ---
	var baseTreeSHA string
	if branchExists {
		baseTreeSHA = branchHead // GitHub resolves a commit sha as a tree base transparently
	}

	entries := make([]treeEntryPayload, 0, len(eligible))
	for _, f := range eligible {
		entries = append(entries, treeEntryPayload{
			Path: f.Path,
			Mode: modeString(f.Mode),
			Type: "blob",
			SHA:  pathSHAs[f.Path],
		})
	}

	treeSHA, err := client.createTree(ctx, entries, baseTreeSHA)
	if err != nil {
		return Result{}, err
	}

	var parentSHA string
	if branchExists {
		parentSHA = branchHead
	}
	commitSHA, err := client.createCommit(ctx, req.Message, treeSHA, parentSHA, req.Author)
	if err != nil {
		return Result{}, err
	}

	if err := client.updateRef(ctx, req.Branch, commitSHA, branchExists); err != nil {
		return Result{}, err
	}

	logger.Info().Str("commit", commitSHA).Int("blobs", len(pathSHAs)).Msg("push complete")
	return Result{CommitSHA: commitSHA, BlobsUploaded: len(pathSHAs)}, nil
}

// pushViaContentsFallback handles an empty target repository: GitHub's
// tree/commit API has nothing to branch from, so the first push seeds
// the repo with a single file through the Contents API. Any remaining
// staged files are left for the caller's next, standard-path push.
func (p *Pipeline) pushViaContentsFallback(ctx context.Context, client *githubClient, req Request, eligible []eligibleFile, logger zerolog.Logger) (Result, error) {
	if len(eligible) == 0 {
		return Result{}, fmt.Errorf("push: nothing eligible to seed an empty remote repository")
	}
	seed := eligible[0]
	data, err := req.Store.ReadBlob(seed.Hash)
	if err != nil {
		return Result{}, err
	}

	logger.Info().Str("path", seed.Path).Msg("seeding empty remote via contents API")
	if err := client.contentsCreateFile(ctx, seed.Path, req.Message, data); err != nil {
		return Result{}, &core.UploadFailed{Path: seed.Path, Reason: err}
	}

	head, err := client.branchHead(ctx, req.Branch)
	if err != nil {
		return Result{}, err
	}
	return Result{CommitSHA: head, UsedContentsFallback: true, BlobsUploaded: 1}, nil
}

// eligibleFile is a staged file cleared for upload: not ignored, not
// under a reserved path.
type eligibleFile struct {
	Path string
	Hash core.Hash
	Mode uint32
	Size int64
}

// eligibleFiles filters the index to the files Upload may send,
// ordered largest-first to maximize pipelining per §4.8.
func (p *Pipeline) eligibleFiles(req Request) ([]eligibleFile, error) {
	var out []eligibleFile
	for _, e := range req.Index.Entries() {
		if isReservedPath(e.Path) {
			continue
		}
		if req.Ignore.Match(e.Path, false) {
			continue
		}
		out = append(out, eligibleFile{Path: e.Path, Hash: e.Hash, Mode: e.Mode, Size: int64(e.Size)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Size > out[j].Size })
	return out, nil
}

func (p *Pipeline) checkFileSizes(files []eligibleFile) error {
	if p.opts.MaxFileSize <= 0 {
		return nil
	}
	for _, f := range files {
		if f.Size > p.opts.MaxFileSize {
			return &core.FileTooLarge{Path: f.Path, Size: f.Size}
		}
	}
	return nil
}

// uploadBlobs runs the bounded-parallelism uploader: at most
// min(pool_cap, hw_threads/2, 8) blob-creation requests in flight,
// aborting every outstanding request on the first permanent failure.
func (p *Pipeline) uploadBlobs(ctx context.Context, client *githubClient, files []eligibleFile, store *objstore.Store, logger zerolog.Logger) (map[string]string, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uploadConcurrency())

	var mu sync.Mutex
	results := make(map[string]string, len(files))

	for _, f := range files {
		f := f
		g.Go(func() error {
			data, err := store.ReadBlob(f.Hash)
			if err != nil {
				return &core.UploadFailed{Path: f.Path, Reason: err}
			}
			sha, err := client.createBlob(gctx, data)
			if err != nil {
				return &core.UploadFailed{Path: f.Path, Reason: err}
			}
			mu.Lock()
			results[f.Path] = sha
			mu.Unlock()
			logger.Debug().Str("path", f.Path).Int64("size", f.Size).Msg("blob uploaded")
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func modeString(mode uint32) string {
	return fmt.Sprintf("%06o", mode)
}

// isReservedPath reports whether relPath (or one of its ancestors)
// names a reserved file: the repo metadata subtree or common VCS/OS cruft.
func isReservedPath(relPath string) bool {
	for _, seg := range strings.Split(relPath, "/") {
		if reservedBasenames[seg] {
			return true
		}
	}
	return false
}

func uploadConcurrency() int {
	n := httppool.NominalMaxHandles
	if hw := runtime.NumCPU() / 2; hw < n {
		n = hw
	}
	if n > 8 {
		n = 8
	}
	if n < 1 {
		n = 1
	}
	return n
}
