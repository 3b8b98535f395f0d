package push

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gyattvc/gyatt/internal/auth"
	"github.com/gyattvc/gyatt/internal/core"
	"github.com/gyattvc/gyatt/internal/httppool"
)

func base64Encode(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DefaultAPIBase is the GitHub REST API's root, overridable so tests
// can point the pipeline at a fake server.
const DefaultAPIBase = "https://api.github.com"

// githubClient issues the authenticated JSON calls of §6's wire
// protocol through the shared connection pool.
type githubClient struct {
	apiBase string
	owner   string
	repo    string
	pool    *httppool.Pool
	auth    auth.Authenticator
}

func newGithubClient(apiBase, owner, repo string, pool *httppool.Pool, authenticator auth.Authenticator) *githubClient {
	return &githubClient{apiBase: strings.TrimSuffix(apiBase, "/"), owner: owner, repo: repo, pool: pool, auth: authenticator}
}

func (c *githubClient) url(format string, a ...any) string {
	return c.apiBase + "/repos/" + url.PathEscape(c.owner) + "/" + url.PathEscape(c.repo) + fmt.Sprintf(format, a...)
}

func (c *githubClient) do(ctx context.Context, method, rawURL string, body any) (*httppool.Response, error) {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.auth != nil {
		if err := c.auth.Authenticate(req); err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrAuthFailed, err)
		}
	}

	resp, err := c.pool.Do(ctx, req)
	var httpErr *core.HttpError
	if errors.As(err, &httpErr) {
		// The pool reports every 4xx status as an error; hand it back as a
		// response so callers can branch on the status code.
		return &httppool.Response{StatusCode: httpErr.Code, Body: []byte(httpErr.Body)}, nil
	}
	return resp, err
}

// repoExists probes the repository itself: GET /repos/{owner}/{repo}.
func (c *githubClient) repoExists(ctx context.Context) (bool, error) {
	resp, err := c.do(ctx, http.MethodGet, c.url(""), nil)
	if err != nil {
		return false, classifyTransport(err)
	}
	switch {
	case resp.StatusCode == http.StatusOK:
		return true, nil
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return false, core.ErrAuthFailed
	default:
		return false, &core.HttpError{Code: resp.StatusCode, Body: string(resp.Body)}
	}
}

// createRepo POSTs /user/repos to auto-create a missing target.
func (c *githubClient) createRepo(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodPost, c.apiBase+"/user/repos", map[string]any{
		"name":    c.repo,
		"private": false,
	})
	if err != nil {
		return classifyTransport(err)
	}
	if resp.StatusCode != http.StatusCreated {
		return &core.HttpError{Code: resp.StatusCode, Body: string(resp.Body)}
	}
	return nil
}

// contentsIsEmpty checks GET /repos/{owner}/{repo}/contents for an
// empty listing, the signal that the repo has no commits yet.
func (c *githubClient) contentsIsEmpty(ctx context.Context) (bool, error) {
	resp, err := c.do(ctx, http.MethodGet, c.url("/contents"), nil)
	if err != nil {
		return false, classifyTransport(err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return true, nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, &core.HttpError{Code: resp.StatusCode, Body: string(resp.Body)}
	}
	var listing []json.RawMessage
	if err := json.Unmarshal(resp.Body, &listing); err != nil {
		return false, fmt.Errorf("decoding contents listing: %w", err)
	}
	return len(listing) == 0, nil
}

// branchHead probes GET /repos/{owner}/{repo}/git/ref/heads/{branch},
// returning "" if the branch does not exist yet.
func (c *githubClient) branchHead(ctx context.Context, branch string) (string, error) {
	resp, err := c.do(ctx, http.MethodGet, c.url("/git/ref/heads/%s", branch), nil)
	if err != nil {
		return "", classifyTransport(err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return "", nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", &core.HttpError{Code: resp.StatusCode, Body: string(resp.Body)}
	}
	var out struct {
		SHA string `json:"sha"`
	}
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return "", fmt.Errorf("decoding branch ref: %w", err)
	}
	return out.SHA, nil
}

// createBlob POSTs /repos/{owner}/{repo}/git/blobs and returns its sha.
func (c *githubClient) createBlob(ctx context.Context, content []byte) (string, error) {
	resp, err := c.do(ctx, http.MethodPost, c.url("/git/blobs"), map[string]string{
		"content":  base64Encode(content),
		"encoding": "base64",
	})
	if err != nil {
		return "", classifyTransport(err)
	}
	if resp.StatusCode != http.StatusCreated {
		return "", &core.HttpError{Code: resp.StatusCode, Body: string(resp.Body)}
	}
	return decodeSHA(resp.Body)
}

type treeEntryPayload struct {
	Path string `json:"path"`
	Mode string `json:"mode"`
	Type string `json:"type"`
	SHA  string `json:"sha"`
}

// createTree POSTs /repos/{owner}/{repo}/git/trees, optionally layered
// atop baseTreeSHA to preserve paths the push didn't touch.
func (c *githubClient) createTree(ctx context.Context, entries []treeEntryPayload, baseTreeSHA string) (string, error) {
	body := map[string]any{"tree": entries}
	if baseTreeSHA != "" {
		body["base_tree"] = baseTreeSHA
	}
	resp, err := c.do(ctx, http.MethodPost, c.url("/git/trees"), body)
	if err != nil {
		return "", classifyTransport(err)
	}
	if resp.StatusCode != http.StatusCreated {
		return "", &core.HttpError{Code: resp.StatusCode, Body: string(resp.Body)}
	}
	return decodeSHA(resp.Body)
}

// createCommit POSTs /repos/{owner}/{repo}/git/commits.
func (c *githubClient) createCommit(ctx context.Context, message, treeSHA, parentSHA string, author core.Identity) (string, error) {
	body := map[string]any{
		"message": message,
		"tree":    treeSHA,
		"author": map[string]string{
			"name":  author.Name,
			"email": author.Email,
		},
	}
	if parentSHA != "" {
		body["parents"] = []string{parentSHA}
	}
	resp, err := c.do(ctx, http.MethodPost, c.url("/git/commits"), body)
	if err != nil {
		return "", classifyTransport(err)
	}
	if resp.StatusCode != http.StatusCreated {
		return "", &core.HttpError{Code: resp.StatusCode, Body: string(resp.Body)}
	}
	return decodeSHA(resp.Body)
}

// updateRef creates (POST) or repoints (PATCH) refs/heads/{branch}.
func (c *githubClient) updateRef(ctx context.Context, branch, commitSHA string, branchExists bool) error {
	if branchExists {
		resp, err := c.do(ctx, http.MethodPatch, c.url("/git/refs/heads/%s", branch), map[string]string{"sha": commitSHA})
		if err != nil {
			return classifyTransport(err)
		}
		if resp.StatusCode != http.StatusOK {
			return &core.HttpError{Code: resp.StatusCode, Body: string(resp.Body)}
		}
		return nil
	}

	resp, err := c.do(ctx, http.MethodPost, c.url("/git/refs"), map[string]string{
		"ref": "refs/heads/" + branch,
		"sha": commitSHA,
	})
	if err != nil {
		return classifyTransport(err)
	}
	if resp.StatusCode != http.StatusCreated {
		return &core.HttpError{Code: resp.StatusCode, Body: string(resp.Body)}
	}
	return nil
}

// contentsCreateFile PUTs /repos/{owner}/{repo}/contents/{path}, the
// single-file fallback used to seed an empty repository's first commit.
func (c *githubClient) contentsCreateFile(ctx context.Context, path, message string, content []byte) error {
	resp, err := c.do(ctx, http.MethodPut, c.url("/contents/%s", path), map[string]string{
		"message": message,
		"content": base64Encode(content),
	})
	if err != nil {
		return classifyTransport(err)
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return &core.HttpError{Code: resp.StatusCode, Body: string(resp.Body)}
	}
	return nil
}

func decodeSHA(body []byte) (string, error) {
	var out struct {
		SHA string `json:"sha"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decoding sha: %w", err)
	}
	return out.SHA, nil
}

// classifyTransport maps a pool-level error onto the remote error
// taxonomy: anything already tagged NetworkTransient or HttpError
// passes through, everything else is wrapped as transient so the
// caller's retry accounting stays meaningful in logs.
func classifyTransport(err error) error {
	switch err.(type) {
	case *core.NetworkTransient, *core.HttpError:
		return err
	default:
		return &core.NetworkTransient{Cause: err}
	}
}
