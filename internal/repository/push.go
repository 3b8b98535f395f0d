package repository

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/gyattvc/gyatt/internal/auth"
	"github.com/gyattvc/gyatt/internal/core"
	"github.com/gyattvc/gyatt/internal/httppool"
	"github.com/gyattvc/gyatt/internal/push"
	"github.com/gyattvc/gyatt/internal/remoteconfig"
)

// PushOptions configures a single Push call; every field is optional and
// an empty value falls back to the default documented on the field.
type PushOptions struct {
	// Remote names the configured remote to push to. Defaults to "origin".
	Remote string
	// Branch names the local branch to push. Defaults to HEAD's current
	// branch; pushing from a detached HEAD is not supported.
	Branch string
	// Message overrides the message recorded for the pushed commit.
	// Defaults to the local branch tip's own commit message.
	Message string
	// APIBase overrides the GitHub-compatible API root, mainly for tests.
	APIBase string
	// AutoCreate lets the pipeline create the remote repository if it
	// doesn't exist yet.
	AutoCreate bool
	// MaxFileSize rejects any staged file larger than this many bytes.
	// Zero means unlimited.
	MaxFileSize int64
}

var (
	poolOnce sync.Once
	sharedPool *httppool.Pool
)

// httpPool returns the process-wide connection pool, created on first use.
func httpPool() *httppool.Pool {
	poolOnce.Do(func() { sharedPool = httppool.New() })
	return sharedPool
}

// Push drives the given local branch's staged content onto a
// GitHub-compatible remote through the five-phase push pipeline.
func (r *Repository) Push(ctx context.Context, opts PushOptions) (push.Result, error) {
	remoteName := opts.Remote
	if remoteName == "" {
		remoteName = "origin"
	}

	cfg, err := r.Config()
	if err != nil {
		return push.Result{}, err
	}
	remote, ok := cfg.Remotes[remoteName]
	if !ok {
		return push.Result{}, core.ErrNoSuchRemote
	}

	owner, repo, err := parseOwnerRepo(remote.URL)
	if err != nil {
		return push.Result{}, err
	}

	branch := opts.Branch
	if branch == "" {
		name, symbolic, err := r.CurrentBranch()
		if err != nil {
			return push.Result{}, err
		}
		if !symbolic {
			return push.Result{}, fmt.Errorf("push: HEAD is detached; check out a branch first")
		}
		branch = name
	}

	localCommit, err := r.Refs.ResolveBranch(branch)
	if err != nil {
		if err == core.ErrBranchNotFound {
			return push.Result{}, core.ErrEmptyBranch
		}
		return push.Result{}, err
	}

	message := opts.Message
	author := core.Identity{}
	if !localCommit.IsZero() {
		commit, err := r.Objects.ReadCommit(localCommit)
		if err != nil {
			return push.Result{}, err
		}
		if message == "" {
			message = commit.Message
		}
		author = commit.Author
	}

	idx, err := r.LoadIndex()
	if err != nil {
		return push.Result{}, err
	}
	ignoreSet, err := r.IgnoreSet()
	if err != nil {
		return push.Result{}, err
	}

	authenticator, err := buildAuthenticator(remote.Auth, r.gyattDir)
	if err != nil {
		return push.Result{}, err
	}

	pipeline := push.New(httpPool(), authenticator, push.Options{
		APIBase:     opts.APIBase,
		AutoCreate:  opts.AutoCreate,
		MaxFileSize: opts.MaxFileSize,
	})

	return pipeline.Push(ctx, push.Request{
		Owner:       owner,
		Repo:        repo,
		Branch:      branch,
		LocalCommit: localCommit,
		Message:     message,
		Author:      author,
		Index:       idx,
		Ignore:      ignoreSet,
		Store:       r.Objects,
	})
}

// parseOwnerRepo extracts "owner/repo" from a remote URL's path
// component, tolerating an optional trailing ".git".
func parseOwnerRepo(remoteURL string) (owner, repo string, err error) {
	parsed, err := remoteconfig.ParseURL(remoteURL)
	if err != nil {
		return "", "", fmt.Errorf("push: parsing remote url %q: %w", remoteURL, err)
	}
	parts := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("push: remote url %q does not name an owner/repo", remoteURL)
	}
	owner = parts[0]
	repo = strings.TrimSuffix(parts[1], ".git")
	return owner, repo, nil
}

// buildAuthenticator translates a remote's configured auth descriptor
// into the Authenticator the push pipeline attaches to every request.
func buildAuthenticator(desc remoteconfig.AuthDescriptor, gyattDir string) (auth.Authenticator, error) {
	switch desc.Kind {
	case remoteconfig.AuthToken:
		token := desc.Token
		if token == "" {
			resolved, err := auth.ResolveToken(gyattDir)
			if err != nil {
				return nil, err
			}
			token = resolved
		}
		return &auth.TokenAuth{Token: token}, nil
	case remoteconfig.AuthUserPassword:
		return &auth.BasicAuth{Username: desc.User, Password: desc.Password}, nil
	default:
		if token, err := auth.ResolveToken(gyattDir); err == nil && token != "" {
			return &auth.TokenAuth{Token: token}, nil
		}
		return &auth.NoneAuth{}, nil
	}
}
