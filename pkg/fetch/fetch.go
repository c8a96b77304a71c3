// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

// Package fetch is the §4.4 fetcher adapter: it turns a fragment URL
// into a byte stream, enforcing the scheme and file-extension
// allowlists and supporting ranged reads and size probing so the
// byte-stream state machine in pkg/repstream never has to know whether
// a fragment came from HTTP, a local file or a custom scheme.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"os"
	"path"
	"strconv"
	"strings"
)

// Options configures which URLs a Fetcher will serve.
type Options struct {
	// AllowedSchemes is the set of URL schemes the fetcher accepts, e.g.
	// "http", "https", "file". A scheme of the form "crypto+<scheme>" is
	// treated as an opaque passthrough to <scheme> (§4.4): only the
	// prefix is stripped before dispatch, decryption is out of scope.
	AllowedSchemes []string
	// AllowedExtensions restricts which file extensions may be fetched,
	// or nil/["ALL"] to allow any.
	AllowedExtensions []string
}

// DefaultAllowedExtensions is the spec's documented default list.
var DefaultAllowedExtensions = []string{"aac", "m4a", "m4s", "m4v", "mov", "mp4", "webm", "ts"}

// DefaultOptions allows http/https/file and the default extension list.
func DefaultOptions() Options {
	return Options{
		AllowedSchemes:    []string{"http", "https", "file"},
		AllowedExtensions: DefaultAllowedExtensions,
	}
}

var ErrSchemeNotAllowed = fmt.Errorf("fetch: scheme not allowed")
var ErrExtensionNotAllowed = fmt.Errorf("fetch: extension not allowed")

// Fetcher performs ranged fetches of a URL, sharing a cookie jar and
// HTTP client across calls so Set-Cookie responses from a manifest's
// origin are forwarded to subsequent segment requests (§4.4).
type Fetcher struct {
	opts   Options
	client *http.Client
}

// New builds a Fetcher with its own cookie jar.
func New(opts Options) (*Fetcher, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: cookie jar: %w", err)
	}
	return &Fetcher{
		opts:   opts,
		client: &http.Client{Jar: jar},
	}, nil
}

// resolvedScheme strips a "crypto+" prefix and returns the scheme that
// actually governs transport.
func resolvedScheme(rawURL string) string {
	idx := strings.Index(rawURL, "://")
	if idx == -1 {
		return "file"
	}
	scheme := rawURL[:idx]
	scheme = strings.TrimPrefix(scheme, "crypto+")
	return scheme
}

func (f *Fetcher) checkAllowed(rawURL string) error {
	scheme := resolvedScheme(rawURL)
	if len(f.opts.AllowedSchemes) > 0 {
		ok := false
		for _, s := range f.opts.AllowedSchemes {
			if s == scheme {
				ok = true
				break
			}
		}
		if !ok {
			return fmt.Errorf("%w: %q", ErrSchemeNotAllowed, scheme)
		}
	}
	if len(f.opts.AllowedExtensions) > 0 && !(len(f.opts.AllowedExtensions) == 1 && f.opts.AllowedExtensions[0] == "ALL") {
		ext := strings.TrimPrefix(path.Ext(rawURL), ".")
		ok := false
		for _, e := range f.opts.AllowedExtensions {
			if strings.EqualFold(e, ext) {
				ok = true
				break
			}
		}
		if !ok {
			return fmt.Errorf("%w: %q", ErrExtensionNotAllowed, ext)
		}
	}
	return nil
}

// Open returns a reader for the full content at rawURL, and its size in
// bytes if known (-1 if not). The caller must close the returned reader.
func (f *Fetcher) Open(ctx context.Context, rawURL string) (io.ReadCloser, int64, error) {
	return f.OpenRange(ctx, rawURL, 0, -1)
}

// OpenRange returns a reader for [offset, offset+length) of rawURL, or
// from offset to EOF if length < 0.
func (f *Fetcher) OpenRange(ctx context.Context, rawURL string, offset, length int64) (io.ReadCloser, int64, error) {
	if err := f.checkAllowed(rawURL); err != nil {
		return nil, 0, err
	}
	rawURL = strings.TrimPrefix(rawURL, "crypto+")
	scheme := resolvedScheme(rawURL)
	if scheme == "file" {
		return f.openFileRange(rawURL, offset, length)
	}
	return f.openHTTPRange(ctx, rawURL, offset, length)
}

// Size probes rawURL's total byte length without downloading its body:
// a stat for file URLs, a HEAD request otherwise.
func (f *Fetcher) Size(ctx context.Context, rawURL string) (int64, error) {
	if err := f.checkAllowed(rawURL); err != nil {
		return 0, err
	}
	rawURL = strings.TrimPrefix(rawURL, "crypto+")
	if resolvedScheme(rawURL) == "file" {
		fi, err := os.Stat(strings.TrimPrefix(rawURL, "file://"))
		if err != nil {
			return 0, fmt.Errorf("fetch: stat: %w", err)
		}
		return fi.Size(), nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return 0, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetch: HEAD %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.ContentLength < 0 {
		return 0, fmt.Errorf("fetch: %s did not report Content-Length", rawURL)
	}
	return resp.ContentLength, nil
}

func (f *Fetcher) openFileRange(rawURL string, offset, length int64) (io.ReadCloser, int64, error) {
	p := strings.TrimPrefix(rawURL, "file://")
	fh, err := os.Open(p)
	if err != nil {
		return nil, 0, fmt.Errorf("fetch: open %s: %w", p, err)
	}
	fi, err := fh.Stat()
	if err != nil {
		fh.Close()
		return nil, 0, fmt.Errorf("fetch: stat %s: %w", p, err)
	}
	if offset > 0 {
		if _, err := fh.Seek(offset, io.SeekStart); err != nil {
			fh.Close()
			return nil, 0, fmt.Errorf("fetch: seek %s: %w", p, err)
		}
	}
	size := fi.Size() - offset
	if length >= 0 && length < size {
		size = length
		return limitedReadCloser{io.LimitReader(fh, length), fh}, size, nil
	}
	return fh, size, nil
}

func (f *Fetcher) openHTTPRange(ctx context.Context, rawURL string, offset, length int64) (io.ReadCloser, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, err
	}
	if offset > 0 || length >= 0 {
		req.Header.Set("Range", rangeHeader(offset, length))
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("fetch: GET %s: %w", rawURL, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, 0, fmt.Errorf("%w: %s", ErrNotFound, rawURL)
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, 0, fmt.Errorf("fetch: %s returned status %d", rawURL, resp.StatusCode)
	}
	size := resp.ContentLength
	return resp.Body, size, nil
}

func rangeHeader(offset, length int64) string {
	if length < 0 {
		return fmt.Sprintf("bytes=%d-", offset)
	}
	return fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)
}

type limitedReadCloser struct {
	io.Reader
	io.Closer
}

// ParseContentRange extracts the total size from a "Content-Range:
// bytes a-b/total" header value, or -1 if total is unknown ("*").
func ParseContentRange(headerVal string) (int64, error) {
	idx := strings.LastIndex(headerVal, "/")
	if idx == -1 {
		return -1, fmt.Errorf("fetch: malformed Content-Range %q", headerVal)
	}
	totalStr := headerVal[idx+1:]
	if totalStr == "*" {
		return -1, nil
	}
	return strconv.ParseInt(totalStr, 10, 64)
}
