package feeddiscovery

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mmcdole/gofeed"
)

func parsedFeedWithLinks(t *testing.T, links ...string) *gofeed.Feed {
	t.Helper()
	f := &gofeed.Feed{}
	for _, link := range links {
		f.Items = append(f.Items, &gofeed.Item{Title: link, Link: link})
	}
	return f
}

const rssBody = `<?xml version="1.0"?>
<rss version="2.0"><channel>
<title>Example</title>
<item><title>Hello</title><link>https://target.example/hello</link><guid>guid-1</guid></item>
</channel></rss>`

const atomBody = `<?xml version="1.0"?>
<feed xmlns="http://www.w3.org/2005/Atom">
<title>Example</title>
<entry><title>World</title><link href="https://target.example/world"/><id>guid-2</id></entry>
</feed>`

func TestScanSiteForFeedPrefersRSSAndResolvesPerElement(t *testing.T) {
	var mux http.ServeMux
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head>
			<link rel="alternate" type="application/rss+xml" href="/feed.rss">
			<link rel="alternate" type="application/atom+xml" href="/feed.atom">
		</head></html>`)
	})
	mux.HandleFunc("/feed.rss", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, rssBody)
	})
	mux.HandleFunc("/feed.atom", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, atomBody)
	})
	server := httptest.NewServer(&mux)
	defer server.Close()

	feed, err := ScanSiteForFeed(context.Background(), server.Client(), server.URL)
	if err != nil {
		t.Fatalf("ScanSiteForFeed: %v", err)
	}
	items := LinkGeneratorFromFeed(feed)
	if len(items) != 1 || items[0].Title != "Hello" {
		t.Fatalf("expected the RSS feed to be preferred, got items %+v", items)
	}
}

func TestScanSiteForFeedFallsBackToAtomWithCorrectHref(t *testing.T) {
	var mux http.ServeMux
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head>
			<link rel="alternate" type="application/rss+xml" href="/missing.rss">
			<link rel="alternate" type="application/atom+xml" href="/feed.atom">
		</head></html>`)
	})
	mux.HandleFunc("/feed.atom", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, atomBody)
	})
	server := httptest.NewServer(&mux)
	defer server.Close()

	feed, err := ScanSiteForFeed(context.Background(), server.Client(), server.URL)
	if err != nil {
		t.Fatalf("ScanSiteForFeed: %v", err)
	}
	items := LinkGeneratorFromFeed(feed)
	if len(items) != 1 || items[0].Title != "World" {
		t.Fatalf("expected the atom link's own href (/feed.atom) to be used, got items %+v", items)
	}
}

func TestLinkGeneratorSkipsNonAbsoluteLinks(t *testing.T) {
	f := &Feed{Content: parsedFeedWithLinks(t, "", "relative/path", "https://ok.example/x")}
	items := LinkGeneratorFromFeed(f)
	if len(items) != 1 || items[0].AbsoluteURL != "https://ok.example/x" {
		t.Fatalf("expected only the absolute link to survive, got %+v", items)
	}
}
