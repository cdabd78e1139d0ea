// Package linkextractor locates an article's body content and enumerates
// the outbound links within it that are eligible Webmention/Pingback
// targets: cross-origin, http(s), non-fragment-only links.
package linkextractor

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"webmentions/internal/httpwrap"
)

// ParsePageFindLinks fetches absoluteURL and returns every outbound link
// found within its article body that crosses origin.
func ParsePageFindLinks(ctx context.Context, client *http.Client, absoluteURL string) ([]string, error) {
	sourceHost, err := hostOf(absoluteURL)
	if err != nil {
		return nil, err
	}

	resp, err := httpwrap.Get(ctx, client, absoluteURL)
	if err != nil {
		return nil, err
	}
	doc, err := resp.ParsedHTML()
	if err != nil {
		return nil, err
	}

	article := findArticle(doc)
	if article == nil {
		return nil, nil
	}

	var links []string
	article.Find("a").Each(func(_ int, a *goquery.Selection) {
		href, ok := a.Attr("href")
		if !ok || isOnlyFragment(href) {
			return
		}
		resolved, err := resp.ResolveURL(href)
		if err != nil {
			return
		}
		u, err := url.Parse(resolved)
		if err != nil {
			return
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return
		}
		if u.Host == sourceHost {
			return
		}
		links = append(links, resolved)
	})
	return links, nil
}

// findArticle locates the article body: a schema.org Article's articleBody
// property first, falling back to a sole <article> element.
func findArticle(doc *goquery.Document) *goquery.Selection {
	if sel := findArticleSchemaOrg(doc); sel != nil {
		return sel
	}
	return findArticleSemanticHTML(doc)
}

func findArticleSchemaOrg(doc *goquery.Document) *goquery.Selection {
	articles := doc.Find(`[itemtype="https://schema.org/Article"]`)
	if articles.Length() != 1 {
		// None or more than one is ambiguous; fall back to <article>.
		return nil
	}
	body := articles.First().Find(`[itemprop="articleBody"]`).First()
	if body.Length() == 0 {
		return nil
	}
	return body
}

func findArticleSemanticHTML(doc *goquery.Document) *goquery.Selection {
	articles := doc.Find("article")
	if articles.Length() == 1 {
		return articles.First()
	}
	return nil
}

func isOnlyFragment(href string) bool {
	u, err := url.Parse(href)
	if err != nil {
		return false
	}
	return u.Fragment != "" && u.Scheme == "" && u.Host == "" && u.Path == "" &&
		u.RawQuery == "" && !strings.HasPrefix(href, "//")
}

func hostOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	return u.Host, nil
}
