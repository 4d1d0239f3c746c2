package ics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"icssync/internal/fileutil"
	appLog "icssync/internal/log"
)

const (
	cacheMetaFile = "meta.json"
	cacheBodyFile = "feed.ics"
	userAgent     = "icssync/1.0"
)

// FetchResult is one downloaded (or cached) ICS payload.
type FetchResult struct {
	URL       string
	Body      []byte
	FromCache bool
}

// cacheMeta holds the validators of the last successful download.
type cacheMeta struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Fetcher downloads ICS feeds with conditional requests, keeping the last
// good body on disk so an unreachable feed still yields data.
type Fetcher struct {
	client   *http.Client
	cacheDir string
}

// NewFetcher returns a Fetcher caching under cacheDir. An empty cacheDir
// disables the disk cache.
func NewFetcher(client *http.Client, cacheDir string) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Fetcher{client: client, cacheDir: cacheDir}
}

// Fetch downloads url. On 304, network errors and non-OK statuses it falls
// back to the cached body when one exists.
func (f *Fetcher) Fetch(ctx context.Context, url string) (FetchResult, error) {
	if url == "" {
		return FetchResult{}, errors.New("ics url is empty")
	}

	dir := f.cachePath(url)
	meta, cached := f.loadCache(dir)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return FetchResult{}, err
	}
	req.Header.Set("User-Agent", userAgent)
	if len(cached) > 0 {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}

	appLog.Info("ics fetch start", "url", RedactURL(url))

	resp, err := f.client.Do(req)
	if err != nil {
		if len(cached) > 0 {
			appLog.Error("ics fetch failed; using cached feed", err, "url", RedactURL(url))
			return FetchResult{URL: url, Body: cached, FromCache: true}, nil
		}
		return FetchResult{}, fmt.Errorf("fetch ics: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return FetchResult{}, fmt.Errorf("read ics body: %w", err)
		}
		f.saveCache(dir, cacheMeta{
			URL:          url,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
		}, body)
		appLog.Info("ics fetch success", "url", RedactURL(url), "bytes", len(body))
		return FetchResult{URL: url, Body: body}, nil

	case http.StatusNotModified:
		if len(cached) == 0 {
			return FetchResult{}, errors.New("ics feed answered 304 but nothing is cached")
		}
		appLog.Info("ics feed not modified; using cache", "url", RedactURL(url))
		return FetchResult{URL: url, Body: cached, FromCache: true}, nil

	default:
		statusErr := fmt.Errorf("ics feed returned %s", resp.Status)
		if len(cached) > 0 {
			appLog.Error("ics fetch non-OK; using cached feed", statusErr, "url", RedactURL(url))
			return FetchResult{URL: url, Body: cached, FromCache: true}, nil
		}
		return FetchResult{}, statusErr
	}
}

// cachePath is the per-URL cache directory, or "" when caching is off.
func (f *Fetcher) cachePath(url string) string {
	if f.cacheDir == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(url))
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))
}

func (f *Fetcher) loadCache(dir string) (cacheMeta, []byte) {
	var meta cacheMeta
	if dir == "" {
		return meta, nil
	}
	body, err := os.ReadFile(filepath.Join(dir, cacheBodyFile))
	if err != nil {
		return meta, nil
	}
	if data, err := os.ReadFile(filepath.Join(dir, cacheMetaFile)); err == nil {
		_ = json.Unmarshal(data, &meta)
	}
	return meta, body
}

func (f *Fetcher) saveCache(dir string, meta cacheMeta, body []byte) {
	if dir == "" {
		return
	}
	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err == nil {
		// Body first so the metadata never describes a missing body.
		err = fileutil.WriteAtomic(filepath.Join(dir, cacheBodyFile), body)
	}
	if err == nil {
		err = fileutil.WriteAtomic(filepath.Join(dir, cacheMetaFile), data)
	}
	if err != nil {
		appLog.Error("ics cache save failed", err, "url", RedactURL(meta.URL))
	}
}

// RedactURL keeps scheme and host only; feed paths and queries often embed
// private tokens.
func RedactURL(u string) string {
	const redacted = "/...(redacted)"
	i := -1
	for idx := 0; idx+2 < len(u); idx++ {
		if u[idx:idx+3] == "://" {
			i = idx + 3
			break
		}
	}
	if i == -1 {
		return "ics://...(redacted)"
	}
	j := i
	for j < len(u) && u[j] != '/' && u[j] != '?' {
		j++
	}
	return u[:j] + redacted
}
