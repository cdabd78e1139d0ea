// Package httpwrap builds SSRF-guarded HTTP clients and wraps their
// responses behind a small explicit accessor set — text, headers, parsed
// Link header, final URL, lazily-parsed HTML/XML, and relative-URL
// resolution against the final (post-redirect) URL. This replaces the
// __getattr__-delegation pattern of the Python original with named methods,
// per the corrected design this system commits to.
package httpwrap

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"webmentions/internal/ssrfguard"
)

// NewClient builds an *http.Client whose transport dials exclusively
// through the given SSRF guard.
func NewClient(guard *ssrfguard.Guard, userAgent string, timeout time.Duration) *http.Client {
	transport := &http.Transport{
		DialContext: guard.DialContext(),
	}
	return &http.Client{
		Transport: &userAgentTransport{base: transport, userAgent: userAgent},
		Timeout:   timeout,
	}
}

type userAgentTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", t.userAgent)
	}
	return t.base.RoundTrip(req)
}

// Response wraps an *http.Response with the small set of accessors the
// pipeline needs. It must be built via Wrap before the underlying body is
// closed.
type Response struct {
	resp *http.Response
	body []byte

	finalURL *url.URL
	links    map[string]map[string]string // rel-token -> params (incl. "url")

	htmlOnce sync.Once
	htmlDoc  *goquery.Document
	htmlErr  error

	xmlOnce sync.Once
	xmlDoc  *xmlDocument
	xmlErr  error
}

// Wrap reads resp's body fully and builds a Response. The caller remains
// responsible for resp.Body.Close(); Wrap does not close it.
func Wrap(resp *http.Response) (*Response, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("httpwrap: reading response body: %w", err)
	}
	r := &Response{resp: resp, body: body, finalURL: resp.Request.URL}
	r.links = parseLinkHeader(resp.Header.Get("Link"))
	return r, nil
}

// StatusCode returns the response's HTTP status code.
func (r *Response) StatusCode() int { return r.resp.StatusCode }

// OK reports whether the response's status code is in the 2xx range.
func (r *Response) OK() bool { return r.resp.StatusCode >= 200 && r.resp.StatusCode < 300 }

// Text returns the response body decoded as a string.
func (r *Response) Text() string { return string(r.body) }

// Bytes returns the raw response body, preserving whatever content
// encoding the remote server used — feed parsers need the bytes, not a
// pre-decoded string, to get encoding detection right.
func (r *Response) Bytes() []byte { return r.body }

// Header returns the named response header.
func (r *Response) Header(name string) string { return r.resp.Header.Get(name) }

// URL returns the final, post-redirect URL this response was fetched from.
func (r *Response) URL() *url.URL { return r.finalURL }

// Link returns the URL and parameters registered under the given rel
// token in the Link header, if any, exactly as that token appeared as a
// single rel value (not matching space-separated compound rel values —
// see LinkRelContains for that).
func (r *Response) Link(rel string) (target string, params map[string]string, ok bool) {
	p, ok := r.links[rel]
	if !ok {
		return "", nil, false
	}
	return p["url"], p, true
}

// LinkRelContains reports whether any Link header entry's rel attribute,
// split on whitespace, contains the given token — working around the fact
// that a literal compound rel value (e.g. "alternate webmention") is not
// indexed under each of its space-separated tokens by Link, matching the
// documented quirk in the system this implementation is grounded on.
func (r *Response) LinkRelContains(token string) (target string, ok bool) {
	for rel, params := range r.links {
		for _, part := range strings.Fields(rel) {
			if part == token {
				return params["url"], true
			}
		}
	}
	return "", false
}

// ResolveURL resolves ref against this response's final URL.
func (r *Response) ResolveURL(ref string) (string, error) {
	parsed, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("httpwrap: parsing relative URL %q: %w", ref, err)
	}
	return r.finalURL.ResolveReference(parsed).String(), nil
}

// ParsedHTML lazily parses the body as HTML, memoizing the result.
func (r *Response) ParsedHTML() (*goquery.Document, error) {
	r.htmlOnce.Do(func() {
		r.htmlDoc, r.htmlErr = goquery.NewDocumentFromReader(bytes.NewReader(r.body))
	})
	return r.htmlDoc, r.htmlErr
}

// xmlDocument is the minimal XML tree this system ever needs to read: an
// XML-RPC methodResponse, either a success (params) or a fault.
type xmlDocument struct {
	XMLName xml.Name `xml:"methodResponse"`
	Params  *struct {
		Param []struct {
			Value struct {
				String *string `xml:"string"`
				Int    *string `xml:"int"`
			} `xml:"value"`
		} `xml:"param"`
	} `xml:"params"`
	Fault *struct {
		Value struct {
			Struct struct {
				Member []struct {
					Name  string `xml:"name"`
					Value struct {
						String *string `xml:"string"`
						Int    *string `xml:"int"`
					} `xml:"value"`
				} `xml:"member"`
			} `xml:"struct"`
		} `xml:"value"`
	} `xml:"fault"`
}

// ParsedXML lazily parses the body as an XML-RPC methodResponse, memoizing
// the result.
func (r *Response) ParsedXML() (*xmlDocument, error) {
	r.xmlOnce.Do(func() {
		var doc xmlDocument
		if err := xml.Unmarshal(r.body, &doc); err != nil {
			r.xmlErr = fmt.Errorf("httpwrap: parsing XML body: %w", err)
			return
		}
		r.xmlDoc = &doc
	})
	return r.xmlDoc, r.xmlErr
}

// IsFault reports whether a parsed XML-RPC response carries a fault.
func (d *xmlDocument) IsFault() bool { return d != nil && d.Fault != nil }

// FaultMember looks up a named member (e.g. "faultCode", "faultString")
// within a fault response's struct, returning its string and int value
// slots exactly as present (an XML-RPC <int> renders as a string here;
// callers parse it numerically).
func (d *xmlDocument) FaultMember(name string) (str *string, i *string, ok bool) {
	if d == nil || d.Fault == nil {
		return nil, nil, false
	}
	for _, m := range d.Fault.Value.Struct.Member {
		if m.Name == name {
			return m.Value.String, m.Value.Int, true
		}
	}
	return nil, nil, false
}

// FirstParamString returns the first <param><value><string> of a
// successful methodResponse, if present.
func (d *xmlDocument) FirstParamString() (string, bool) {
	if d == nil || d.Params == nil || len(d.Params.Param) == 0 {
		return "", false
	}
	s := d.Params.Param[0].Value.String
	if s == nil {
		return "", false
	}
	return *s, true
}

// parseLinkHeader parses an RFC 5988 Link header into a map keyed by each
// entry's full (unsplit) rel attribute value.
func parseLinkHeader(header string) map[string]map[string]string {
	result := map[string]map[string]string{}
	if header == "" {
		return result
	}
	for _, entry := range splitTopLevel(header, ',') {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := splitTopLevel(entry, ';')
		if len(parts) == 0 {
			continue
		}
		urlPart := strings.TrimSpace(parts[0])
		urlPart = strings.TrimPrefix(urlPart, "<")
		urlPart = strings.TrimSuffix(urlPart, ">")

		params := map[string]string{"url": urlPart}
		for _, p := range parts[1:] {
			p = strings.TrimSpace(p)
			kv := strings.SplitN(p, "=", 2)
			if len(kv) != 2 {
				continue
			}
			key := strings.TrimSpace(kv[0])
			val := strings.Trim(strings.TrimSpace(kv[1]), `"`)
			params[key] = val
		}
		if rel, ok := params["rel"]; ok {
			result[rel] = params
		}
	}
	return result
}

// splitTopLevel splits s on sep, ignoring separators inside angle brackets,
// since a Link header's URL-reference segment may itself legally contain a
// comma.
func splitTopLevel(s string, sep byte) []string {
	var result []string
	depth := 0
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '<':
			depth++
		case '>':
			if depth > 0 {
				depth--
			}
		default:
			if s[i] == sep && depth == 0 {
				result = append(result, s[start:i])
				start = i + 1
			}
		}
	}
	result = append(result, s[start:])
	return result
}
