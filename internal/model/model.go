// Package model defines the persisted entities of the discovery-and-dispatch
// pipeline: discovered feeds, the feed tasks that drive periodic scanning,
// articles found within those feeds, and the outbound notifications sent for
// links found within those articles.
package model

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"time"
)

// NewID generates an identifier of the form "<prefix>_<16 random bytes,
// url-safe base64>". The prefix must not itself end in an underscore.
func NewID(prefix string) string {
	if strings.HasSuffix(prefix, "_") {
		panic(fmt.Sprintf("model: prefix %q must not end with an underscore", prefix))
	}
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("model: reading random bytes: %v", err))
	}
	return prefix + "_" + base64.RawURLEncoding.EncodeToString(buf)
}

// DiscoveryFeed records one successful discovery of a feed for a
// user-submitted site URL.
type DiscoveryFeed struct {
	ID                     string
	SubmittedURL           string
	DiscoveredFeed         string
	FeedTypeWhenDiscovered string
	Created                time.Time
	Updated                time.Time
}

// NewDiscoveryFeed constructs a DiscoveryFeed with a fresh ID.
func NewDiscoveryFeed(submittedURL, discoveredFeed, feedType string) *DiscoveryFeed {
	return &DiscoveryFeed{
		ID:                     NewID("feed"),
		SubmittedURL:           submittedURL,
		DiscoveredFeed:         discoveredFeed,
		FeedTypeWhenDiscovered: feedType,
	}
}

// FeedTask is a saved feed URL that the pipeline periodically rescans.
// NextScan is nil while the task is deactivated (not currently scheduled).
type FeedTask struct {
	ID                   string
	FeedURL              string
	LastScanStarted      *time.Time
	LastScanCompleted    *time.Time
	LastReportedUpdate   *time.Time
	NextScan             *time.Time
	Created              time.Time
	Updated              time.Time
}

// NewFeedTask constructs a FeedTask scheduled to run immediately.
func NewFeedTask(feedURL string, now time.Time) *FeedTask {
	return &FeedTask{
		ID:       NewID("feedtask"),
		FeedURL:  feedURL,
		NextScan: &now,
	}
}

// Article is a link discovered within a feed, pending (or having completed)
// an article-page scan for outbound mention capability.
type Article struct {
	ID                       string
	FeedGUID                 *string
	URL                      string
	PageScanCompletedAt      *time.Time
	NotificationsCompletedAt *time.Time
	Created                  time.Time
	Updated                  time.Time
}

// NewArticle constructs an Article with a fresh ID.
func NewArticle(url string, feedGUID *string) *Article {
	return &Article{
		ID:       NewID("article"),
		URL:      url,
		FeedGUID: feedGUID,
	}
}

// OutboundNotification is a pending or sent Webmention/Pingback notification
// for a single target link found within an Article. At least one of
// WebmentionEndpoint or PingbackEndpoint must be set.
type OutboundNotification struct {
	ID                 string
	SourceArticleID    string
	TargetURL          string
	WebmentionEndpoint *string
	PingbackEndpoint   *string
	NumAttempts        int
	LastAttemptedAt    *time.Time
	SucceededAt        *time.Time
	Created            time.Time
	Updated            time.Time
}

// NewOutboundNotification constructs an OutboundNotification with a fresh
// ID. It panics if both endpoints are nil, mirroring the database-level
// check constraint this entity must always satisfy.
func NewOutboundNotification(sourceArticleID, targetURL string, webmentionEndpoint, pingbackEndpoint *string) *OutboundNotification {
	if webmentionEndpoint == nil && pingbackEndpoint == nil {
		panic("model: OutboundNotification requires a webmention or pingback endpoint")
	}
	return &OutboundNotification{
		ID:                 NewID("outboundnotif"),
		SourceArticleID:    sourceArticleID,
		TargetURL:          targetURL,
		WebmentionEndpoint: webmentionEndpoint,
		PingbackEndpoint:   pingbackEndpoint,
	}
}

// Terminal reports whether this notification has either succeeded or
// exhausted the single attempt this pipeline makes per item (no retry
// scheduler exists; a notification with any attempt recorded and no
// success is left as-is for operator visibility, not retried).
func (n *OutboundNotification) Terminal() bool {
	return n.SucceededAt != nil || n.NumAttempts > 0
}
