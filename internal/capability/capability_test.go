package capability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

// S1: webmention discovered via an exact Link-header rel key.
func TestWebmentionViaLinkHeader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Link", `<https://example.com/webmention-endpoint>; rel="webmention"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	caps, err := FetchPageCheckMentionCapabilities(context.Background(), server.Client(), server.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if caps == nil || caps.WebmentionURL != "https://example.com/webmention-endpoint" {
		t.Fatalf("expected webmention endpoint from Link header, got %+v", caps)
	}
}

// S2: webmention discovered via an HTML <link> element with a relative
// href, correctly resolved against the final (post-redirect) URL.
func TestWebmentionViaHTMLRelativeResolvedAgainstFinalURL(t *testing.T) {
	var mux http.ServeMux
	mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><link rel="webmention" href="/wm"></head></html>`))
	})
	mux.HandleFunc("/redirect", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/page", http.StatusFound)
	})
	server := httptest.NewServer(&mux)
	defer server.Close()

	caps, err := FetchPageCheckMentionCapabilities(context.Background(), server.Client(), server.URL+"/redirect")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := server.URL + "/wm"
	if caps == nil || caps.WebmentionURL != want {
		t.Fatalf("expected webmention endpoint %q resolved against final URL, got %+v", want, caps)
	}
}

// S3: pingback discovered via the X-Pingback header.
func TestPingbackViaHeader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Pingback", "https://example.com/xmlrpc")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	caps, err := FetchPageCheckMentionCapabilities(context.Background(), server.Client(), server.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if caps == nil || caps.PingbackURL != "https://example.com/xmlrpc" {
		t.Fatalf("expected pingback endpoint from X-Pingback header, got %+v", caps)
	}
}

func TestPingbackViaHTMLLinkIsNotAbsolutised(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><link rel="pingback" href="/xmlrpc"></head></html>`))
	}))
	defer server.Close()

	caps, err := FetchPageCheckMentionCapabilities(context.Background(), server.Client(), server.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if caps == nil || caps.PingbackURL != "/xmlrpc" {
		t.Fatalf("expected un-absolutised pingback href /xmlrpc, got %+v", caps)
	}
}

func TestNoCapabilitiesReturnsNil(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body>nothing here</body></html>`))
	}))
	defer server.Close()

	caps, err := FetchPageCheckMentionCapabilities(context.Background(), server.Client(), server.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if caps != nil {
		t.Fatalf("expected nil capabilities, got %+v", caps)
	}
}

func TestNonOKStatusReturnsNilNoError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	caps, err := FetchPageCheckMentionCapabilities(context.Background(), server.Client(), server.URL)
	if err != nil {
		t.Fatalf("expected no error on non-OK status, got %v", err)
	}
	if caps != nil {
		t.Fatalf("expected nil capabilities for non-OK status, got %+v", caps)
	}
}
