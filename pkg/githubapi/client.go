// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package githubapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/kraklabs/repomind/internal/apierr"
	"github.com/kraklabs/repomind/internal/backoff"
)

// RepoRef identifies a repository on the host.
type RepoRef struct {
	Owner string
	Name  string
}

func (r RepoRef) String() string { return r.Owner + "/" + r.Name }

// ParseRepoURL extracts owner and name from a GitHub repository URL.
func ParseRepoURL(raw string) (RepoRef, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return RepoRef{}, apierr.Newf(apierr.KindInvalidInput, "invalid repository URL %q", raw)
	}
	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	if host != "github.com" {
		return RepoRef{}, apierr.Newf(apierr.KindInvalidInput, "unsupported host %q", u.Host)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return RepoRef{}, apierr.Newf(apierr.KindInvalidInput, "URL %q does not name a repository", raw)
	}
	return RepoRef{Owner: parts[0], Name: strings.TrimSuffix(parts[1], ".git")}, nil
}

// Metadata is the repository-level record from the host.
type Metadata struct {
	Owner         string
	Name          string
	DefaultBranch string
	Description   string
	Languages     map[string]int
}

// BlobEntry is one text-eligible blob of the repository tree.
type BlobEntry struct {
	Path string
	Size int64
	SHA  string
}

// Config holds client settings.
type Config struct {
	// Token is an optional bearer token; it raises the host rate
	// ceiling.
	Token string

	// BaseURL overrides the API endpoint, for tests.
	BaseURL string

	// FetchConcurrency bounds in-flight blob fetches.
	FetchConcurrency int

	// BlobSizeLimit is the per-blob content ceiling in bytes.
	BlobSizeLimit int64

	// Retry controls transport-error retries.
	Retry backoff.Config

	// ThrottleCycles is how many rate-limit backoff cycles are
	// tolerated before the fetch fails as rate_limited_host.
	ThrottleCycles int
}

// Client talks to the GitHub REST API.
type Client struct {
	base           string
	token          string
	hc             *http.Client
	limiter        *rate.Limiter
	sem            *semaphore.Weighted
	retry          backoff.Config
	blobLimit      int64
	throttleCycles int
	logger         *slog.Logger
}

// NewClient creates a GitHub API client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.github.com"
	}
	if cfg.FetchConcurrency <= 0 {
		cfg.FetchConcurrency = 8
	}
	if cfg.BlobSizeLimit <= 0 {
		cfg.BlobSizeLimit = 1 << 20
	}
	if cfg.ThrottleCycles <= 0 {
		cfg.ThrottleCycles = 5
	}

	// Unauthenticated requests get a conservative 1 rps; a token
	// raises the host ceiling substantially.
	limit := rate.Limit(1)
	burst := 1
	if cfg.Token != "" {
		limit = rate.Limit(5)
		burst = 5
	}

	return &Client{
		base:           strings.TrimSuffix(cfg.BaseURL, "/"),
		token:          cfg.Token,
		hc:             &http.Client{Timeout: 30 * time.Second},
		limiter:        rate.NewLimiter(limit, burst),
		sem:            semaphore.NewWeighted(int64(cfg.FetchConcurrency)),
		retry:          cfg.Retry.WithDefaults(),
		blobLimit:      cfg.BlobSizeLimit,
		throttleCycles: cfg.ThrottleCycles,
		logger:         logger,
	}
}

// BlobSizeLimit returns the configured per-blob ceiling.
func (c *Client) BlobSizeLimit() int64 { return c.blobLimit }

// get issues one rate-limited GET with transport retries and bounded
// throttle cycles.
func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	transportTries := 0
	throttles := 0
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/vnd.github+json")
		req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.hc.Do(req)
		if err != nil {
			transportTries++
			if transportTries > c.retry.MaxRetries {
				return nil, fmt.Errorf("github request %s: %w", path, err)
			}
			sleep := c.retry.Delay(transportTries - 1)
			c.logger.Warn("github.fetch.retry", "path", path, "attempt", transportTries, "sleep_ms", sleep.Milliseconds(), "err", err)
			if err := backoff.Sleep(ctx, sleep); err != nil {
				return nil, err
			}
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			if readErr != nil {
				return nil, fmt.Errorf("github read %s: %w", path, readErr)
			}
			return body, nil

		case resp.StatusCode == http.StatusNotFound:
			return nil, apierr.New(apierr.KindNotFound, "repository not found")

		case isRateLimited(resp):
			throttles++
			if throttles > c.throttleCycles {
				return nil, apierr.New(apierr.KindRateLimitedHost, "GitHub rate limit exhausted")
			}
			sleep := retryAfter(resp)
			if sleep <= 0 {
				sleep = c.retry.Delay(throttles - 1)
			}
			c.logger.Warn("github.fetch.throttle", "path", path, "cycle", throttles, "sleep_ms", sleep.Milliseconds())
			if err := backoff.Sleep(ctx, sleep); err != nil {
				return nil, err
			}

		case resp.StatusCode >= 500:
			transportTries++
			if transportTries > c.retry.MaxRetries {
				return nil, fmt.Errorf("github %s: status %d", path, resp.StatusCode)
			}
			if err := backoff.Sleep(ctx, c.retry.Delay(transportTries-1)); err != nil {
				return nil, err
			}

		default:
			return nil, fmt.Errorf("github %s: status %d: %s", path, resp.StatusCode, truncateBody(body))
		}
	}
}

func isRateLimited(resp *http.Response) bool {
	if resp.StatusCode == http.StatusTooManyRequests {
		return true
	}
	return resp.StatusCode == http.StatusForbidden &&
		resp.Header.Get("X-RateLimit-Remaining") == "0"
}

func retryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	if v := resp.Header.Get("X-RateLimit-Reset"); v != "" {
		if reset, err := strconv.ParseInt(v, 10, 64); err == nil {
			if d := time.Until(time.Unix(reset, 0)); d > 0 {
				return d
			}
		}
	}
	return 0
}

func truncateBody(b []byte) string {
	const max = 200
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}

// Metadata fetches the repository record and its language histogram.
func (c *Client) Metadata(ctx context.Context, ref RepoRef) (*Metadata, error) {
	body, err := c.get(ctx, "/repos/"+ref.Owner+"/"+ref.Name)
	if err != nil {
		return nil, err
	}
	var repo struct {
		Name  string `json:"name"`
		Owner struct {
			Login string `json:"login"`
		} `json:"owner"`
		DefaultBranch string `json:"default_branch"`
		Description   string `json:"description"`
	}
	if err := json.Unmarshal(body, &repo); err != nil {
		return nil, fmt.Errorf("decode repository metadata: %w", err)
	}

	langBody, err := c.get(ctx, "/repos/"+ref.Owner+"/"+ref.Name+"/languages")
	if err != nil {
		return nil, err
	}
	langs := map[string]int{}
	if err := json.Unmarshal(langBody, &langs); err != nil {
		return nil, fmt.Errorf("decode language histogram: %w", err)
	}

	branch := repo.DefaultBranch
	if branch == "" {
		branch = "main"
	}
	return &Metadata{
		Owner:         repo.Owner.Login,
		Name:          repo.Name,
		DefaultBranch: branch,
		Description:   repo.Description,
		Languages:     langs,
	}, nil
}

// Tree fetches the recursive git tree and returns the text-eligible
// blobs sorted by path.
func (c *Client) Tree(ctx context.Context, ref RepoRef, branch string) ([]BlobEntry, error) {
	body, err := c.get(ctx, "/repos/"+ref.Owner+"/"+ref.Name+"/git/trees/"+url.PathEscape(branch)+"?recursive=1")
	if err != nil {
		return nil, err
	}
	var tree struct {
		Tree []struct {
			Path string `json:"path"`
			Type string `json:"type"`
			Size int64  `json:"size"`
			SHA  string `json:"sha"`
		} `json:"tree"`
		Truncated bool `json:"truncated"`
	}
	if err := json.Unmarshal(body, &tree); err != nil {
		return nil, fmt.Errorf("decode git tree: %w", err)
	}
	if tree.Truncated {
		c.logger.Warn("github.tree.truncated", "repo", ref.String())
	}

	var entries []BlobEntry
	for _, e := range tree.Tree {
		if e.Type != "blob" {
			continue
		}
		if !Eligible(e.Path, e.Size, c.blobLimit) {
			continue
		}
		entries = append(entries, BlobEntry{Path: e.Path, Size: e.Size, SHA: e.SHA})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

// Blob fetches and decodes one blob's content. Calls share the
// client's concurrency bound.
func (c *Client) Blob(ctx context.Context, ref RepoRef, sha string) (string, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer c.sem.Release(1)

	body, err := c.get(ctx, "/repos/"+ref.Owner+"/"+ref.Name+"/git/blobs/"+sha)
	if err != nil {
		return "", err
	}
	var blob struct {
		Content  string `json:"content"`
		Encoding string `json:"encoding"`
	}
	if err := json.Unmarshal(body, &blob); err != nil {
		return "", fmt.Errorf("decode blob: %w", err)
	}

	var content string
	switch blob.Encoding {
	case "base64":
		// The API wraps base64 content with newlines.
		raw, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(blob.Content, "\n", ""))
		if err != nil {
			return "", fmt.Errorf("decode blob content: %w", err)
		}
		content = string(raw)
	case "utf-8", "":
		content = blob.Content
	default:
		return "", fmt.Errorf("unsupported blob encoding %q", blob.Encoding)
	}

	if !utf8.ValidString(content) {
		return "", fmt.Errorf("blob %s is not valid UTF-8 text", sha)
	}
	return content, nil
}
