// Package orchestrator wires the feed, article, and notification pipeline
// stages together and implements the CLI's mutually-exclusive run modes.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"webmentions/internal/breaker"
	"webmentions/internal/capability"
	"webmentions/internal/feeddiscovery"
	"webmentions/internal/linkextractor"
	"webmentions/internal/mentionsender"
	"webmentions/internal/metrics"
	"webmentions/internal/model"
	"webmentions/internal/pipeline"
	"webmentions/internal/store"
)

// Orchestrator wires the store, HTTP client, circuit breakers, and metrics
// that every mode shares.
type Orchestrator struct {
	Store       *store.Store
	Client      *http.Client
	Breakers    *breaker.Manager
	Metrics     *metrics.Metrics
	Dry         bool
	Concurrency Capacities
}

// Capacities sizes each stage's queue buffer.
type Capacities struct {
	Feed, Article, Notification int
}

// Site runs a single ad-hoc scan of siteURL: discover its feed and run the
// same per-page report as Page for every article link in it, saving nothing
// to the store. Errors propagate to the
// caller (ad-hoc modes are synchronous and user-facing, unlike the drain
// pipeline's catch-and-log discipline).
func (o *Orchestrator) Site(ctx context.Context, siteURL string) error {
	feed, err := feeddiscovery.ScanSiteForFeed(ctx, o.Client, siteURL)
	if err != nil {
		return fmt.Errorf("orchestrator: scanning site %s: %w", siteURL, err)
	}
	for _, item := range feeddiscovery.LinkGeneratorFromFeed(feed) {
		if err := o.reportPage(ctx, item.AbsoluteURL); err != nil {
			return err
		}
	}
	return nil
}

// Page runs a single ad-hoc capability check against one article page URL.
func (o *Orchestrator) Page(ctx context.Context, pageURL string) error {
	return o.reportPage(ctx, pageURL)
}

// reportPage finds outbound links on pageURL and, for each, probes and
// reports (or sends) a mention, printing the dry-run emoji lines the
// original tool used.
func (o *Orchestrator) reportPage(ctx context.Context, pageURL string) error {
	links, err := linkextractor.ParsePageFindLinks(ctx, o.Client, pageURL)
	if err != nil {
		return fmt.Errorf("orchestrator: extracting links from %s: %w", pageURL, err)
	}
	for _, target := range links {
		caps, err := capability.FetchPageCheckMentionCapabilities(ctx, o.Client, target)
		if err != nil {
			return fmt.Errorf("orchestrator: probing %s: %w", target, err)
		}
		if caps == nil || !caps.HasAny() {
			if o.Dry {
				fmt.Printf("😢 %s -> %s\n", pageURL, target)
			}
			continue
		}
		if o.Dry {
			if caps.WebmentionURL != "" {
				fmt.Printf("🥕 %s -> %s\n", pageURL, target)
			} else {
				fmt.Printf("🥬 %s -> %s\n", pageURL, target)
			}
			continue
		}
		candidate := mentionCandidate(pageURL, target, caps)
		if err := mentionsender.SendMention(ctx, o.Client, candidate); err != nil {
			log.Printf("orchestrator: sending mention %s -> %s: %v", pageURL, target, err)
		}
	}
	return nil
}

func mentionCandidate(source, target string, caps *capability.Capabilities) mentionsender.Candidate {
	return mentionsender.Candidate{
		MentionerURL:       source,
		MentionedURL:       target,
		WebmentionEndpoint: caps.WebmentionURL,
		PingbackEndpoint:   caps.PingbackURL,
	}
}

// Register discovers a feed for siteURL and saves/refreshes the
// corresponding FeedTask, failing loudly (per spec) if no feed is found.
func (o *Orchestrator) Register(ctx context.Context, siteURL string) (err error) {
	feed, err := feeddiscovery.ScanSiteForFeed(ctx, o.Client, siteURL)
	if err != nil {
		return fmt.Errorf("couldn't find feed for URL %q: %w", siteURL, err)
	}

	sess, err := o.Store.ReadWrite(ctx)
	if err != nil {
		return err
	}
	defer func() { err = sess.Close(err) }()

	feedType := ""
	if feed.Content != nil {
		feedType = feed.Content.FeedVersion
	}
	discovery := model.NewDiscoveryFeed(siteURL, feed.AbsoluteURL, feedType)
	if err = sess.InsertDiscoveryFeed(ctx, discovery); err != nil {
		return err
	}
	_, err = sess.UpsertFeedTask(ctx, feed.AbsoluteURL)
	return err
}

// Drain runs the full three-stage pipeline once over every currently-due
// FeedTask, then waits for every stage to finish draining in order:
// feed queue first, then article queue, then notification queue.
func (o *Orchestrator) Drain(ctx context.Context) error {
	runID := uuid.New().String()
	log.Printf("orchestrator: drain run %s starting", runID)

	var notificationQueue pipeline.ItemQueue[string]
	if o.Dry {
		notificationQueue = pipeline.NoopQueue[string]{}
	} else {
		notificationQueue = pipeline.NewQueue(o.Concurrency.Notification, func(id string) error {
			return o.processNotification(ctx, id)
		})
	}

	articleQueue := pipeline.NewQueue(o.Concurrency.Article, func(id string) error {
		return o.processArticle(ctx, id, notificationQueue)
	})

	feedQueue := pipeline.NewQueue(o.Concurrency.Feed, func(task *model.FeedTask) error {
		return o.processFeed(ctx, task, articleQueue)
	})

	tasks, err := o.claimDueTasks(ctx)
	if err != nil {
		feedQueue.Close()
		articleQueue.Close()
		notificationQueue.Close()
		return err
	}
	for _, task := range tasks {
		feedQueue.Enqueue(task)
	}
	o.Metrics.SetQueueDepth("feed", feedQueue.Len())
	o.Metrics.SetQueueDepth("article", articleQueue.Len())
	o.Metrics.SetQueueDepth("notification", notificationQueue.Len())

	feedQueue.Close()
	articleQueue.Close()
	notificationQueue.Close()
	log.Printf("orchestrator: drain run %s finished, %d feed task(s)", runID, len(tasks))
	return nil
}

func (o *Orchestrator) claimDueTasks(ctx context.Context) (tasks []*model.FeedTask, err error) {
	sess, err := o.Store.ReadWrite(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { err = sess.Close(err) }()

	tasks, err = sess.ClaimDueFeedTasks(ctx)
	return tasks, err
}

func (o *Orchestrator) processFeed(ctx context.Context, task *model.FeedTask, articleQueue *pipeline.Queue[string]) error {
	start := time.Now()
	feedURL := task.FeedURL
	breakerKey := "rss_feed_" + feedURL
	err := o.Breakers.Do(breakerKey, func() error {
		feed, err := feeddiscovery.FeedFromURL(ctx, o.Client, feedURL)
		if err != nil {
			return err
		}
		discovered := 0
		for _, item := range feeddiscovery.LinkGeneratorFromFeed(feed) {
			created, err := o.upsertArticle(ctx, item)
			if err != nil {
				return err
			}
			if created {
				discovered++
				articleQueue.Enqueue(item.AbsoluteURL)
			}
		}
		o.Metrics.RecordArticlesDiscovered(feedURL, discovered)
		return nil
	})

	result := "success"
	if err != nil {
		result = "failure"
	}
	o.Metrics.RecordFeedScan(result, time.Since(start))
	o.Metrics.SetCircuitBreakerState(breakerKey, o.Breakers.StateValue(breakerKey))

	if completeErr := o.completeFeedTask(ctx, task.ID); completeErr != nil {
		log.Printf("orchestrator: marking feed task %s complete: %v", task.ID, completeErr)
	}
	return err
}

func (o *Orchestrator) upsertArticle(ctx context.Context, item feeddiscovery.Item) (created bool, err error) {
	sess, err := o.Store.ReadWrite(ctx)
	if err != nil {
		return false, err
	}
	defer func() { err = sess.Close(err) }()

	guid := item.GUID
	_, created, err = sess.UpsertArticle(ctx, item.AbsoluteURL, &guid)
	return created, err
}

func (o *Orchestrator) completeFeedTask(ctx context.Context, taskID string) (err error) {
	sess, err := o.Store.ReadWrite(ctx)
	if err != nil {
		return err
	}
	defer func() { err = sess.Close(err) }()
	return sess.CompleteFeedTask(ctx, taskID)
}

func (o *Orchestrator) processArticle(ctx context.Context, articleURL string, notificationQueue pipeline.ItemQueue[string]) (err error) {
	links, err := linkextractor.ParsePageFindLinks(ctx, o.Client, articleURL)
	if err != nil {
		return fmt.Errorf("orchestrator: extracting links from %s: %w", articleURL, err)
	}

	var pending []*model.OutboundNotification
	for _, target := range links {
		caps, err := capability.FetchPageCheckMentionCapabilities(ctx, o.Client, target)
		if err != nil {
			log.Printf("orchestrator: probing %s: %v", target, err)
			continue
		}
		if caps == nil || !caps.HasAny() {
			o.Metrics.RecordCapabilityProbe("none")
			continue
		}
		o.Metrics.RecordCapabilityProbe(probeOutcome(caps))

		var wm, pb *string
		if caps.WebmentionURL != "" {
			wm = &caps.WebmentionURL
		}
		if caps.PingbackURL != "" {
			pb = &caps.PingbackURL
		}
		pending = append(pending, model.NewOutboundNotification("", target, wm, pb))
	}

	sess, err := o.Store.ReadWrite(ctx)
	if err != nil {
		return err
	}
	defer func() { err = sess.Close(err) }()

	var article *model.Article
	article, _, err = sess.UpsertArticle(ctx, articleURL, nil)
	if err != nil {
		return err
	}
	if err = sess.CompleteArticlePageScan(ctx, article.ID, pending); err != nil {
		return err
	}
	for _, n := range pending {
		notificationQueue.Enqueue(n.ID)
	}
	return nil
}

func probeOutcome(caps *capability.Capabilities) string {
	switch {
	case caps.WebmentionURL != "" && caps.PingbackURL != "":
		return "both"
	case caps.WebmentionURL != "":
		return "webmention"
	default:
		return "pingback"
	}
}

func (o *Orchestrator) processNotification(ctx context.Context, id string) error {
	roSess, err := o.Store.ReadOnly(ctx)
	if err != nil {
		return err
	}
	withSource, err := roSess.LoadNotificationWithSource(ctx, id)
	roSess.Close()
	if err != nil {
		return err
	}
	if withSource == nil || withSource.Notification.Terminal() {
		return nil
	}

	n := withSource.Notification
	candidate := mentionsender.Candidate{
		MentionerURL:     withSource.SourceURL,
		MentionedURL:     n.TargetURL,
	}
	if n.WebmentionEndpoint != nil {
		candidate.WebmentionEndpoint = *n.WebmentionEndpoint
	}
	if n.PingbackEndpoint != nil {
		candidate.PingbackEndpoint = *n.PingbackEndpoint
	}

	protocol := "pingback"
	if candidate.WebmentionEndpoint != "" {
		protocol = "webmention"
	}

	breakerKey := "target_" + candidate.MentionedURL
	if u, err := url.Parse(candidate.MentionedURL); err == nil && u.Host != "" {
		breakerKey = "target_" + u.Host
	}
	sendErr := o.Breakers.Do(breakerKey, func() error {
		return mentionsender.SendMention(ctx, o.Client, candidate)
	})
	o.Metrics.SetCircuitBreakerState(breakerKey, o.Breakers.StateValue(breakerKey))

	rwSess, err := o.Store.ReadWrite(ctx)
	if err != nil {
		return err
	}
	succeeded := sendErr == nil
	recErr := rwSess.RecordAttempt(ctx, id, succeeded)
	if closeErr := rwSess.Close(recErr); closeErr != nil {
		return closeErr
	}

	result := "success"
	if sendErr != nil {
		result = "failure"
	}
	o.Metrics.RecordMentionSent(protocol, result)
	return sendErr
}
