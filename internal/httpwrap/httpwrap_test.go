package httpwrap

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestResolveURLUsesFinalRedirectedURL(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body>hi</body></html>"))
	}))
	defer target.Close()

	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, target.URL+"/nested/page.html", http.StatusFound)
	}))
	defer origin.Close()

	resp, err := Get(context.Background(), origin.Client(), origin.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	resolved, err := resp.ResolveURL("sibling.html")
	if err != nil {
		t.Fatalf("ResolveURL: %v", err)
	}
	want := target.URL + "/nested/sibling.html"
	if resolved != want {
		t.Errorf("ResolveURL(%q) = %q, want %q (final URL must drive resolution, not the originally requested one)", "sibling.html", resolved, want)
	}
}

func TestLinkHeaderExactRel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Link", `<https://example.com/wm>; rel="webmention", <https://example.com/feed>; rel="alternate"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	resp, err := Get(context.Background(), server.Client(), server.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	target, _, ok := resp.Link("webmention")
	if !ok {
		t.Fatalf("expected a webmention rel link")
	}
	if target != "https://example.com/wm" {
		t.Errorf("Link(webmention) = %q, want https://example.com/wm", target)
	}
}

func TestLinkRelContainsSpaceSeparatedToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Link", `<https://example.com/wm>; rel="alternate webmention"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	resp, err := Get(context.Background(), server.Client(), server.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, _, ok := resp.Link("webmention"); ok {
		t.Fatalf("exact Link lookup should not match a compound rel value")
	}
	target, ok := resp.LinkRelContains("webmention")
	if !ok {
		t.Fatalf("expected LinkRelContains to find webmention token in compound rel")
	}
	if target != "https://example.com/wm" {
		t.Errorf("LinkRelContains(webmention) = %q, want https://example.com/wm", target)
	}
}

func TestParsedXMLFault(t *testing.T) {
	body := `<?xml version="1.0"?>
<methodResponse>
  <fault>
    <value>
      <struct>
        <member><name>faultCode</name><value><int>32</int></value></member>
        <member><name>faultString</name><value><string>target does not exist</string></value></member>
      </struct>
    </value>
  </fault>
</methodResponse>`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/xml")
		w.Write([]byte(body))
	}))
	defer server.Close()

	resp, err := Get(context.Background(), server.Client(), server.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	doc, err := resp.ParsedXML()
	if err != nil {
		t.Fatalf("ParsedXML: %v", err)
	}
	if !doc.IsFault() {
		t.Fatalf("expected fault response")
	}
	_, codeInt, ok := doc.FaultMember("faultCode")
	if !ok || codeInt == nil || *codeInt != "32" {
		t.Errorf("expected faultCode 32, got %v", codeInt)
	}
	str, _, ok := doc.FaultMember("faultString")
	if !ok || str == nil || *str != "target does not exist" {
		t.Errorf("expected faultString 'target does not exist', got %v", str)
	}
}
