// Package feeddiscovery finds the RSS/Atom feed for a site (by scanning its
// HTML for <link rel="alternate"> elements, preferring RSS) and parses feed
// bodies into absolute-URL entries.
package feeddiscovery

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"webmentions/internal/httpwrap"
)

// Feed is a successfully fetched and parsed feed.
type Feed struct {
	AbsoluteURL string
	Content     *gofeed.Feed
}

// Item is one syndicated entry with an absolute link.
type Item struct {
	Title       string
	AbsoluteURL string
	GUID        string
}

var parser = gofeed.NewParser()

// ScanSiteForFeed fetches url, scans its HTML for <link rel="alternate">
// feed references (RSS preferred over Atom), and returns the first one that
// parses successfully.
func ScanSiteForFeed(ctx context.Context, client *http.Client, siteURL string) (*Feed, error) {
	resp, err := httpwrap.Get(ctx, client, siteURL)
	if err != nil {
		return nil, err
	}
	doc, err := resp.ParsedHTML()
	if err != nil {
		return nil, fmt.Errorf("feeddiscovery: parsing %s: %w", siteURL, err)
	}

	var rssLink, atomLink *goquery.Selection
	doc.Find(`link[rel="alternate"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		typ, _ := s.Attr("type")
		switch typ {
		case "application/rss+xml":
			if rssLink == nil {
				sel := s
				rssLink = sel
			}
		case "application/atom+xml":
			if atomLink == nil {
				sel := s
				atomLink = sel
			}
		}
		return true
	})

	for _, candidate := range []*goquery.Selection{rssLink, atomLink} {
		if candidate == nil {
			continue
		}
		feed, err := fetchFeed(ctx, client, resp, candidate)
		if err == nil {
			return feed, nil
		}
	}
	return nil, fmt.Errorf("feeddiscovery: no feed found for %s", siteURL)
}

// fetchFeed resolves the href of link (the specific element under
// evaluation, not whichever element was tried first) against resp's final
// URL and fetches+parses it.
func fetchFeed(ctx context.Context, client *http.Client, resp *httpwrap.Response, link *goquery.Selection) (*Feed, error) {
	href, ok := link.Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return nil, fmt.Errorf("feeddiscovery: link element has no href")
	}
	absolute, err := resp.ResolveURL(href)
	if err != nil {
		return nil, err
	}
	return FeedFromURL(ctx, client, absolute)
}

// FeedFromURL fetches and parses the feed at url directly.
func FeedFromURL(ctx context.Context, client *http.Client, url string) (*Feed, error) {
	resp, err := httpwrap.Get(ctx, client, url)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, fmt.Errorf("feeddiscovery: fetching feed %s: status %d", url, resp.StatusCode())
	}
	// Parsed from bytes, not the decoded text, so gofeed can use the
	// document's own declared encoding rather than whatever the HTTP
	// transport guessed.
	parsed, err := parser.Parse(bytes.NewReader(resp.Bytes()))
	if err != nil {
		return nil, fmt.Errorf("feeddiscovery: parsing feed %s: %w", url, err)
	}
	return &Feed{AbsoluteURL: url, Content: parsed}, nil
}

// LinkGeneratorFromFeed yields an Item for every entry in f with an
// absolute link, skipping entries with no link or a relative one.
func LinkGeneratorFromFeed(f *Feed) []Item {
	var items []Item
	for _, entry := range f.Content.Items {
		if entry.Link == "" || !isAbsoluteLink(entry.Link) {
			continue
		}
		title := entry.Title
		if title == "" {
			title = entry.Link
		}
		items = append(items, Item{
			Title:       title,
			AbsoluteURL: entry.Link,
			GUID:        entry.GUID,
		})
	}
	return items
}

// isAbsoluteLink reports whether link has both a scheme and a non-empty
// host, correctly implementing what the reference implementation intended
// (its netloc-is-not-None check was a no-op since url.Parse's netloc
// equivalent is never nil, only possibly empty).
func isAbsoluteLink(link string) bool {
	u, err := url.Parse(link)
	if err != nil {
		return false
	}
	return u.IsAbs() && u.Host != ""
}
