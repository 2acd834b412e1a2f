// Package fetch implements the Print-URI/Send-URI document fetch of
// spec.md §4.6/§9: `file:` URIs confined to a configured directory
// allow-list, and `http`/`https` URIs followed through a bounded
// number of redirects with a 30-second connect timeout. Grounded on
// the teacher's use of net/http as the transport contract named by
// spec §6 ("HTTP layer is provided by an external library"); no
// filter-pipeline analogue exists in the teacher for this operation,
// so the shape follows spec §9 directly.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// MaxRedirects bounds the hops FetchHTTP will follow (spec §9,
// "bounded hops").
const MaxRedirects = 10

// ConnectTimeout is the fetch connect timeout (spec §5, "Job URI fetch
// uses a 30-second connect timeout").
const ConnectTimeout = 30 * time.Second

// ErrAccessDenied is returned when a file: URI escapes its allow-list,
// surfacing as IPP document-access-error (spec §7).
var ErrAccessDenied = errors.New("fetch: path outside allowed directories")

// ErrTooManyRedirects is returned when an http(s) fetch exceeds
// MaxRedirects.
var ErrTooManyRedirects = errors.New("fetch: too many redirects")

// URI streams the document at rawURI into w. scheme must be "file",
// "http", or "https"; any other scheme is rejected here with an error
// (spec §4.4 target-URI triage covers request targets, not document
// sources, so the scheme check lives here).
func URI(ctx context.Context, rawScheme, path string, allowedDirs []string, w io.Writer) error {
	switch rawScheme {
	case "file":
		return File(path, allowedDirs, w)
	case "http", "https":
		return HTTP(ctx, rawScheme+"://"+path, w)
	default:
		return fmt.Errorf("fetch: unsupported URI scheme %q", rawScheme)
	}
}

// File streams the file at path into w, rejecting any path that does
// not resolve inside one of allowedDirs, and any path element equal to
// ".." (spec §4.6, "confined to configured directories and not
// crossing '..'").
func File(path string, allowedDirs []string, w io.Writer) error {
	for _, part := range strings.Split(path, string(filepath.Separator)) {
		if part == ".." {
			return ErrAccessDenied
		}
	}
	clean := filepath.Clean(path)
	allowed := false
	for _, dir := range allowedDirs {
		rel, err := filepath.Rel(dir, clean)
		if err != nil {
			continue
		}
		if rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel)) {
			allowed = true
			break
		}
	}
	if !allowed {
		return ErrAccessDenied
	}
	f, err := os.Open(clean)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}

// HTTP fetches rawURI with the client's redirect follower bounded at
// MaxRedirects hops, an "Accept-Language: en" request header (spec
// §4.6), and a connect timeout of ConnectTimeout.
func HTTP(ctx context.Context, rawURI string, w io.Writer) error {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.DialContext = (&net.Dialer{Timeout: ConnectTimeout}).DialContext
	client := &http.Client{
		Transport: tr,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= MaxRedirects {
				return ErrTooManyRedirects
			}
			return nil
		},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURI, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept-Language", "en")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("fetch: unexpected status %s", resp.Status)
	}
	_, err = io.Copy(w, resp.Body)
	return err
}
