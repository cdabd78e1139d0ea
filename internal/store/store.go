// Package store persists the pipeline's entities to Postgres via
// database/sql and lib/pq, with an explicit read-only/read-write session
// discipline: a read-only session always rolls back and refuses mutations;
// a read-write session commits on success and rolls back on error.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"webmentions/internal/model"
)

// ErrReadOnly is returned by ReadOnlySession.RejectWrite.
var ErrReadOnly = errors.New("store: mutation attempted on a read-only session")

// Store wraps a *sql.DB and creates the pipeline's tables.
type Store struct {
	db *sql.DB
}

// Open connects to Postgres using connStr (a lib/pq connection string) and
// ensures the pipeline's tables exist.
func Open(ctx context.Context, connStr string) (*Store, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("store: opening database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: pinging database: %w", err)
	}
	s := &Store{db: db}
	if err := s.createTables(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS discovery_feeds (
			id TEXT PRIMARY KEY,
			submitted_url TEXT NOT NULL,
			discovered_feed TEXT NOT NULL,
			feed_type_when_discovered TEXT NOT NULL,
			created TIMESTAMP NOT NULL DEFAULT NOW(),
			updated TIMESTAMP NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS feed_tasks (
			id TEXT PRIMARY KEY,
			feed_url TEXT NOT NULL UNIQUE,
			last_scan_started TIMESTAMP,
			last_scan_completed TIMESTAMP,
			last_reported_update_time TIMESTAMP,
			next_scan TIMESTAMP,
			created TIMESTAMP NOT NULL DEFAULT NOW(),
			updated TIMESTAMP NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS articles (
			id TEXT PRIMARY KEY,
			feed_guid TEXT,
			url TEXT NOT NULL UNIQUE,
			page_scan_completed_at TIMESTAMP,
			notifications_completed_at TIMESTAMP,
			created TIMESTAMP NOT NULL DEFAULT NOW(),
			updated TIMESTAMP NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS outbound_notifications (
			id TEXT PRIMARY KEY,
			source_article_id TEXT NOT NULL REFERENCES articles(id),
			target_url TEXT NOT NULL,
			webmention_endpoint TEXT,
			pingback_endpoint TEXT,
			num_attempts INTEGER NOT NULL DEFAULT 0,
			last_attempted_at TIMESTAMP,
			succeeded_at TIMESTAMP,
			created TIMESTAMP NOT NULL DEFAULT NOW(),
			updated TIMESTAMP NOT NULL DEFAULT NOW(),
			CONSTRAINT one_of_webmention_or_pingback
				CHECK (webmention_endpoint IS NOT NULL OR pingback_endpoint IS NOT NULL)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_feed_tasks_next_scan ON feed_tasks(next_scan)`,
		`CREATE INDEX IF NOT EXISTS idx_articles_page_scan ON articles(page_scan_completed_at)`,
		`CREATE INDEX IF NOT EXISTS idx_outbound_notifications_source ON outbound_notifications(source_article_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: creating schema: %w", err)
		}
	}
	return nil
}

// querier is satisfied by both *sql.DB and *sql.Tx, letting the session
// types below share query/exec helpers.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// ReadOnlySession is a read-only transaction that is always rolled back on
// Close. It has no mutating methods; RejectWrite returns ErrReadOnly.
type ReadOnlySession struct {
	tx *sql.Tx
}

// ReadOnly opens a read-only session. Close must be called to release the
// underlying transaction; it is always a rollback.
func (s *Store) ReadOnly(ctx context.Context) (*ReadOnlySession, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("store: beginning read-only session: %w", err)
	}
	return &ReadOnlySession{tx: tx}, nil
}

// Close rolls back the underlying transaction. Safe to call once.
func (r *ReadOnlySession) Close() {
	_ = r.tx.Rollback()
}

// ReadWriteSession commits on Close(nil) and rolls back on any other error.
type ReadWriteSession struct {
	tx *sql.Tx
}

// ReadWrite opens a read-write session.
func (s *Store) ReadWrite(ctx context.Context) (*ReadWriteSession, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: beginning read-write session: %w", err)
	}
	return &ReadWriteSession{tx: tx}, nil
}

// Close commits the transaction if cause is nil, otherwise rolls it back and
// returns cause unchanged (so callers can `defer func() { err = sess.Close(err) }()`).
func (w *ReadWriteSession) Close(cause error) error {
	if cause != nil {
		_ = w.tx.Rollback()
		return cause
	}
	if err := w.tx.Commit(); err != nil {
		return fmt.Errorf("store: committing read-write session: %w", err)
	}
	return nil
}

func now() time.Time { return time.Now().UTC() }

// --- FeedTask ---------------------------------------------------------

// UpsertFeedTask inserts a new FeedTask for feedURL, or, if one already
// exists, refreshes its next_scan to now so the next drain picks it up
// again. This mirrors the original register command's re-registration
// behavior.
func (w *ReadWriteSession) UpsertFeedTask(ctx context.Context, feedURL string) (*model.FeedTask, error) {
	ts := now()
	var id string
	err := w.tx.QueryRowContext(ctx, `SELECT id FROM feed_tasks WHERE feed_url = $1`, feedURL).Scan(&id)
	switch {
	case err == sql.ErrNoRows:
		task := model.NewFeedTask(feedURL, ts)
		_, err := w.tx.ExecContext(ctx,
			`INSERT INTO feed_tasks (id, feed_url, next_scan, created, updated) VALUES ($1,$2,$3,$4,$4)`,
			task.ID, task.FeedURL, ts, ts)
		if err != nil {
			return nil, fmt.Errorf("store: inserting feed task: %w", err)
		}
		task.Created, task.Updated = ts, ts
		return task, nil
	case err != nil:
		return nil, fmt.Errorf("store: looking up feed task: %w", err)
	default:
		_, err := w.tx.ExecContext(ctx,
			`UPDATE feed_tasks SET next_scan = $1, updated = $1 WHERE id = $2`, ts, id)
		if err != nil {
			return nil, fmt.Errorf("store: refreshing feed task: %w", err)
		}
		return &model.FeedTask{ID: id, FeedURL: feedURL, NextScan: &ts, Updated: ts}, nil
	}
}

// ClaimDueFeedTasks returns all FeedTasks whose next_scan is set, and
// deactivates them (sets next_scan to NULL) so repeated drains don't
// re-enqueue a task still in flight.
func (w *ReadWriteSession) ClaimDueFeedTasks(ctx context.Context) ([]*model.FeedTask, error) {
	rows, err := w.tx.QueryContext(ctx,
		`SELECT id, feed_url FROM feed_tasks WHERE next_scan IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("store: querying due feed tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*model.FeedTask
	for rows.Next() {
		t := &model.FeedTask{}
		if err := rows.Scan(&t.ID, &t.FeedURL); err != nil {
			return nil, fmt.Errorf("store: scanning feed task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	ts := now()
	for _, t := range tasks {
		if _, err := w.tx.ExecContext(ctx,
			`UPDATE feed_tasks SET next_scan = NULL, last_scan_started = $1, updated = $1 WHERE id = $2`,
			ts, t.ID); err != nil {
			return nil, fmt.Errorf("store: claiming feed task %s: %w", t.ID, err)
		}
	}
	return tasks, nil
}

// CompleteFeedTask records that a scan of the given feed task finished.
func (w *ReadWriteSession) CompleteFeedTask(ctx context.Context, id string) error {
	ts := now()
	_, err := w.tx.ExecContext(ctx,
		`UPDATE feed_tasks SET last_scan_completed = $1, last_reported_update_time = $1, updated = $1 WHERE id = $2`,
		ts, id)
	if err != nil {
		return fmt.Errorf("store: completing feed task %s: %w", id, err)
	}
	return nil
}

// --- DiscoveryFeed ------------------------------------------------------

// InsertDiscoveryFeed records a successful feed discovery.
func (w *ReadWriteSession) InsertDiscoveryFeed(ctx context.Context, f *model.DiscoveryFeed) error {
	ts := now()
	_, err := w.tx.ExecContext(ctx,
		`INSERT INTO discovery_feeds (id, submitted_url, discovered_feed, feed_type_when_discovered, created, updated)
		 VALUES ($1,$2,$3,$4,$5,$5)`,
		f.ID, f.SubmittedURL, f.DiscoveredFeed, f.FeedTypeWhenDiscovered, ts)
	if err != nil {
		return fmt.Errorf("store: inserting discovery feed: %w", err)
	}
	f.Created, f.Updated = ts, ts
	return nil
}

// --- Article --------------------------------------------------------

// UpsertArticle inserts a new Article for url if one does not already
// exist (articles are globally unique by URL across all feeds).
func (w *ReadWriteSession) UpsertArticle(ctx context.Context, url string, feedGUID *string) (*model.Article, bool, error) {
	var existing string
	err := w.tx.QueryRowContext(ctx, `SELECT id FROM articles WHERE url = $1`, url).Scan(&existing)
	if err == nil {
		return &model.Article{ID: existing, URL: url, FeedGUID: feedGUID}, false, nil
	}
	if err != sql.ErrNoRows {
		return nil, false, fmt.Errorf("store: looking up article: %w", err)
	}

	ts := now()
	a := model.NewArticle(url, feedGUID)
	_, err = w.tx.ExecContext(ctx,
		`INSERT INTO articles (id, feed_guid, url, created, updated) VALUES ($1,$2,$3,$4,$4)`,
		a.ID, a.FeedGUID, a.URL, ts)
	if err != nil {
		return nil, false, fmt.Errorf("store: inserting article: %w", err)
	}
	a.Created, a.Updated = ts, ts
	return a, true, nil
}

// CompleteArticlePageScan marks an article's page scan done and inserts the
// notifications found during it in the same transaction.
func (w *ReadWriteSession) CompleteArticlePageScan(ctx context.Context, articleID string, notifications []*model.OutboundNotification) error {
	ts := now()
	_, err := w.tx.ExecContext(ctx,
		`UPDATE articles SET page_scan_completed_at = $1, updated = $1 WHERE id = $2`, ts, articleID)
	if err != nil {
		return fmt.Errorf("store: completing article page scan: %w", err)
	}
	for _, n := range notifications {
		if n.WebmentionEndpoint == nil && n.PingbackEndpoint == nil {
			return fmt.Errorf("store: notification %s has neither endpoint set", n.ID)
		}
		_, err := w.tx.ExecContext(ctx,
			`INSERT INTO outbound_notifications
			 (id, source_article_id, target_url, webmention_endpoint, pingback_endpoint, num_attempts, created, updated)
			 VALUES ($1,$2,$3,$4,$5,0,$6,$6)`,
			n.ID, articleID, n.TargetURL, n.WebmentionEndpoint, n.PingbackEndpoint, ts)
		if err != nil {
			return fmt.Errorf("store: inserting outbound notification: %w", err)
		}
		n.SourceArticleID, n.Created, n.Updated = articleID, ts, ts
	}
	return nil
}

// --- OutboundNotification ------------------------------------------------

// NotificationWithSource pairs a notification with its source article's URL,
// the information the notification stage needs without an ORM relationship.
type NotificationWithSource struct {
	Notification *model.OutboundNotification
	SourceURL    string
}

// LoadNotificationWithSource performs the two-query lookup that replaces an
// ORM join: the notification row, then its source article's URL.
func (r *ReadOnlySession) LoadNotificationWithSource(ctx context.Context, id string) (*NotificationWithSource, error) {
	n := &model.OutboundNotification{ID: id}
	err := r.tx.QueryRowContext(ctx,
		`SELECT source_article_id, target_url, webmention_endpoint, pingback_endpoint, num_attempts, succeeded_at
		 FROM outbound_notifications WHERE id = $1`, id).
		Scan(&n.SourceArticleID, &n.TargetURL, &n.WebmentionEndpoint, &n.PingbackEndpoint, &n.NumAttempts, &n.SucceededAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: loading notification %s: %w", id, err)
	}

	var sourceURL string
	err = r.tx.QueryRowContext(ctx, `SELECT url FROM articles WHERE id = $1`, n.SourceArticleID).Scan(&sourceURL)
	if err != nil {
		return nil, fmt.Errorf("store: loading source article for notification %s: %w", id, err)
	}
	return &NotificationWithSource{Notification: n, SourceURL: sourceURL}, nil
}

// RecordAttempt updates a notification's bookkeeping fields after an attempt
// to send it, whether or not it succeeded.
func (w *ReadWriteSession) RecordAttempt(ctx context.Context, id string, succeeded bool) error {
	ts := now()
	if succeeded {
		_, err := w.tx.ExecContext(ctx,
			`UPDATE outbound_notifications
			 SET num_attempts = num_attempts + 1, last_attempted_at = $1, succeeded_at = $1, updated = $1
			 WHERE id = $2`, ts, id)
		if err != nil {
			return fmt.Errorf("store: recording successful attempt for %s: %w", id, err)
		}
		return nil
	}
	_, err := w.tx.ExecContext(ctx,
		`UPDATE outbound_notifications
		 SET num_attempts = num_attempts + 1, last_attempted_at = $1, updated = $1
		 WHERE id = $2`, ts, id)
	if err != nil {
		return fmt.Errorf("store: recording failed attempt for %s: %w", id, err)
	}
	return nil
}

// Mutation guard: a *ReadOnlySession exposes no Exec-capable methods at all
// beyond the query helpers above, so attempting to write through one is a
// compile error, not a runtime one. RejectWrite exists only so call sites
// that receive a session through an interface value can fail loudly instead
// of silently skipping the write.
func (r *ReadOnlySession) RejectWrite() error {
	return ErrReadOnly
}
