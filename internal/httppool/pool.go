// Package httppool implements the Connection & Cache Pool: a bounded
// set of reusable HTTP clients with host affinity, a TTL'd response
// cache for GETs, a global rate-limiting gatekeeper, and retry with
// backoff for transient failures.
package httppool

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/gyattvc/gyatt/internal/core"
)

const (
	// NominalMaxHandles is the preferred steady-state handle count;
	// the soft cap used by acquire's create-new fallback is 3x this.
	NominalMaxHandles = 8
	softCapMultiplier = 3

	handleMaxRequests = 100
	handleMaxIdle     = 5 * time.Minute

	defaultCacheTTL     = 5 * time.Minute
	defaultMinInterval  = 25 * time.Millisecond // ~40 rps
	acquireWaitBudget   = 30 * time.Second
	acquirePollInterval = 50 * time.Millisecond

	retryBaseDelay = 100 * time.Millisecond
	maxRetries     = 3
)

// handle wraps a reusable *http.Client tagged with the host it was
// last used against and its service lifetime counters.
type handle struct {
	client    *http.Client
	host      string
	requests  int
	lastUsed  time.Time
	idle      bool
}

// cacheEntry is a cached successful GET response.
type cacheEntry struct {
	status int
	header http.Header
	body   []byte
	stored time.Time
}

// Response wraps an HTTP response body read into memory, alongside
// whether it was served from the response cache.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	FromCache  bool
}

// Pool is the process-wide connection-and-cache pool.
type Pool struct {
	mu      sync.Mutex
	handles []*handle

	cacheMu sync.Mutex
	cache   map[string]cacheEntry
	cacheTTL time.Duration

	limiter *rate.Limiter
}

// New creates a pool with the default rate limit and cache TTL.
func New() *Pool {
	return &Pool{
		cache:    make(map[string]cacheEntry),
		cacheTTL: defaultCacheTTL,
		limiter:  rate.NewLimiter(rate.Every(defaultMinInterval), 1),
	}
}

// WithCacheTTL overrides the default 5-minute response-cache TTL.
func (p *Pool) WithCacheTTL(ttl time.Duration) *Pool {
	p.cacheTTL = ttl
	return p
}

// acquire returns a handle preferring one already warmed to host, per
// the four-step preference order in the component contract.
func (p *Pool) acquire(host string) (*handle, error) {
	p.reapIdle()
	deadline := time.Now().Add(acquireWaitBudget)
	for {
		p.mu.Lock()
		// (1) idle handle tagged with the same host.
		for _, h := range p.handles {
			if h.idle && h.host == host {
				h.idle = false
				p.mu.Unlock()
				return h, nil
			}
		}
		// (2) any idle handle, retagged.
		for _, h := range p.handles {
			if h.idle {
				h.idle = false
				h.host = host
				p.mu.Unlock()
				return h, nil
			}
		}
		// (3) create one if under the soft cap.
		if len(p.handles) < NominalMaxHandles*softCapMultiplier {
			h := &handle{
				client: &http.Client{Timeout: 30 * time.Second},
				host:   host,
			}
			p.handles = append(p.handles, h)
			p.mu.Unlock()
			return h, nil
		}
		p.mu.Unlock()

		// (4) wait briefly then retry, up to the acquire budget.
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("httppool: no handle available for %s after %s", host, acquireWaitBudget)
		}
		time.Sleep(acquirePollInterval)
	}
}

// release returns h to the idle set, retiring and replacing it if it
// has served its request quota or sat idle too long.
func (p *Pool) release(h *handle) {
	p.mu.Lock()
	defer p.mu.Unlock()

	h.requests++
	h.lastUsed = time.Now()

	if h.requests >= handleMaxRequests {
		p.retireLocked(h)
		return
	}
	h.idle = true
}

func (p *Pool) retireLocked(h *handle) {
	for i, existing := range p.handles {
		if existing == h {
			p.handles = append(p.handles[:i], p.handles[i+1:]...)
			return
		}
	}
}

// reapIdle retires handles that have been idle past handleMaxIdle.
// acquire calls it before handing out a handle.
func (p *Pool) reapIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	cutoff := time.Now().Add(-handleMaxIdle)
	kept := p.handles[:0]
	for _, h := range p.handles {
		if h.idle && h.lastUsed.Before(cutoff) {
			continue
		}
		kept = append(kept, h)
	}
	p.handles = kept
}

func cacheKey(method, url string, body []byte) string {
	sum := sha256.Sum256(body)
	return method + " " + url + " " + hex.EncodeToString(sum[:])
}

// Do executes req through the pool: gatekept by the rate limiter,
// served from cache when eligible, retried with backoff on transient
// failure, and decompressed transparently.
func (p *Pool) Do(ctx context.Context, req *http.Request) (*Response, error) {
	var bodyBytes []byte
	if req.Body != nil {
		b, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		req.Body.Close()
		bodyBytes = b
	}

	key := cacheKey(req.Method, req.URL.String(), bodyBytes)
	if req.Method == http.MethodGet {
		if entry, ok := p.lookupCache(key); ok {
			return &Response{StatusCode: entry.status, Header: entry.header, Body: entry.body, FromCache: true}, nil
		}
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, &core.NetworkTransient{Cause: err}
	}

	req.Header.Set("Accept-Encoding", "gzip,deflate")

	var resp *Response
	operation := func() error {
		if len(bodyBytes) > 0 {
			req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
			req.ContentLength = int64(len(bodyBytes))
		}

		h, err := p.acquire(req.URL.Hostname())
		if err != nil {
			return backoff.Permanent(err)
		}
		httpResp, err := h.client.Do(req)
		if err != nil {
			p.release(h)
			return &core.NetworkTransient{Cause: err}
		}
		defer p.release(h)

		body, err := decodeBody(httpResp)
		if err != nil {
			return &core.NetworkTransient{Cause: err}
		}

		if isRetryableStatus(httpResp.StatusCode) {
			return fmt.Errorf("retryable status %d", httpResp.StatusCode)
		}
		if httpResp.StatusCode >= 400 {
			return backoff.Permanent(&core.HttpError{Code: httpResp.StatusCode, Body: string(body)})
		}

		resp = &Response{StatusCode: httpResp.StatusCode, Header: httpResp.Header, Body: body}
		return nil
	}

	policy := backoff.WithMaxRetries(newLinearBackOff(retryBaseDelay), maxRetries)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}

	if req.Method == http.MethodGet && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		p.storeCache(key, *resp)
	} else if req.Method != http.MethodGet {
		// A successful write can change what later GETs return.
		p.cacheMu.Lock()
		p.cache = make(map[string]cacheEntry)
		p.cacheMu.Unlock()
	}
	return resp, nil
}

// linearBackOff grows the retry delay by base*attempt, matching the
// spec's "100 ms * attempt" failure model rather than cenkalti's
// built-in constant or exponential curves.
type linearBackOff struct {
	base    time.Duration
	attempt int
}

func newLinearBackOff(base time.Duration) *linearBackOff {
	return &linearBackOff{base: base}
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.attempt++
	return b.base * time.Duration(b.attempt)
}

func (b *linearBackOff) Reset() {
	b.attempt = 0
}

func isRetryableStatus(code int) bool {
	if code == http.StatusRequestTimeout || code == http.StatusTooManyRequests {
		return true
	}
	return code >= 500
}

func decodeBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		return io.ReadAll(gz)
	case "deflate":
		zr, err := zlib.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return io.ReadAll(zr)
	default:
		return io.ReadAll(resp.Body)
	}
}

func (p *Pool) lookupCache(key string) (cacheEntry, bool) {
	p.cacheMu.Lock()
	defer p.cacheMu.Unlock()
	entry, ok := p.cache[key]
	if !ok {
		return cacheEntry{}, false
	}
	if time.Since(entry.stored) > p.cacheTTL {
		delete(p.cache, key)
		return cacheEntry{}, false
	}
	return entry, true
}

func (p *Pool) storeCache(key string, resp Response) {
	p.cacheMu.Lock()
	defer p.cacheMu.Unlock()
	p.cache[key] = cacheEntry{status: resp.StatusCode, header: resp.Header, body: resp.Body, stored: time.Now()}
}
