// Package capability detects whether a page advertises Webmention and/or
// Pingback reception endpoints.
package capability

import (
	"context"
	"net/http"
	"strings"

	"webmentions/internal/httpwrap"
)

// Capabilities holds the endpoints discovered for a single page, if any.
type Capabilities struct {
	WebmentionURL string
	PingbackURL   string
}

// HasAny reports whether any capability was found.
func (c Capabilities) HasAny() bool {
	return c.WebmentionURL != "" || c.PingbackURL != ""
}

// FetchPageCheckMentionCapabilities fetches url and resolves its Webmention
// and Pingback endpoints, if any. A non-OK response or fetch error yields a
// nil result with no error — callers continue draining rather than treating
// this as fatal.
func FetchPageCheckMentionCapabilities(ctx context.Context, client *http.Client, url string) (*Capabilities, error) {
	resp, err := httpwrap.Get(ctx, client, url)
	if err != nil {
		return nil, nil
	}
	if !resp.OK() {
		return nil, nil
	}

	wm, err := resolveWebmentionURL(resp)
	if err != nil {
		return nil, err
	}
	pb, err := resolvePingbackURL(resp)
	if err != nil {
		return nil, err
	}
	if wm == "" && pb == "" {
		return nil, nil
	}
	return &Capabilities{WebmentionURL: wm, PingbackURL: pb}, nil
}

// resolveWebmentionURL implements the documented three-step precedence: an
// exact "webmention" Link-header rel key, then a scan of every Link entry's
// space-separated rel tokens (requests-library compatibility workaround),
// then an HTML <link>/<a rel="webmention"> element.
func resolveWebmentionURL(resp *httpwrap.Response) (string, error) {
	if target, _, ok := resp.Link("webmention"); ok {
		return resp.ResolveURL(target)
	}
	if target, ok := resp.LinkRelContains("webmention"); ok {
		return resp.ResolveURL(target)
	}

	doc, err := resp.ParsedHTML()
	if err != nil {
		return "", err
	}
	sel := doc.Find(`link[rel="webmention"], a[rel="webmention"]`).First()
	if sel.Length() == 0 {
		return "", nil
	}
	href, ok := sel.Attr("href")
	if !ok {
		// Element present without an href is not a valid endpoint.
		return "", nil
	}
	if href == "" {
		// An explicit empty href is a valid self-reference to the page itself.
		return resp.URL().String(), nil
	}
	return resp.ResolveURL(href)
}

// resolvePingbackURL prefers the X-Pingback header (required by that spec
// to be absolute) over the HTML <link rel="pingback"> element, which is
// deliberately left un-absolutised here, matching the documented
// simplification this system commits to rather than fully implementing the
// Pingback spec's resolution rules.
func resolvePingbackURL(resp *httpwrap.Response) (string, error) {
	if header := strings.TrimSpace(resp.Header("X-Pingback")); header != "" {
		return header, nil
	}

	doc, err := resp.ParsedHTML()
	if err != nil {
		return "", err
	}
	sel := doc.Find(`link[rel="pingback"]`).First()
	if sel.Length() == 0 {
		return "", nil
	}
	href, _ := sel.Attr("href")
	return href, nil
}
