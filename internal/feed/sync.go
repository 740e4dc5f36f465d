package feed

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"feedie/internal/database"
)

// Syncer runs the per-feed ingestion pipeline: fetch, classify against
// the feed's ledger, sanitize, persist, append the ledger.
type Syncer struct {
	db      *database.DB
	fetcher *Fetcher
	logger  *logrus.Logger
}

func NewSyncer(db *database.DB, logger *logrus.Logger) *Syncer {
	return &Syncer{
		db:      db,
		fetcher: NewFetcher(logger),
		logger:  logger,
	}
}

// SyncAll runs the pipeline over every known feed. An error here means
// the feed list itself could not be loaded, which is fatal to the run;
// per-feed failures are absorbed into the summary.
func (s *Syncer) SyncAll(ctx context.Context) (Summary, error) {
	feeds, err := s.db.GetFeeds(ctx)
	if err != nil {
		return Summary{}, err
	}
	return s.run(ctx, feeds), nil
}

// SyncOne runs the pipeline over a single feed.
func (s *Syncer) SyncOne(ctx context.Context, feedID string) (Summary, error) {
	f, err := s.db.GetFeed(ctx, feedID)
	if err != nil {
		return Summary{}, err
	}
	return s.run(ctx, []database.Feed{f}), nil
}

// run launches one pipeline per feed and joins on all of them. Feeds
// complete in arbitrary order; the summary exists only after every feed
// reaches a terminal state.
func (s *Syncer) run(ctx context.Context, feeds []database.Feed) Summary {
	s.logger.WithField("feeds", len(feeds)).Info("Starting sync run")

	results := make(chan error, len(feeds))
	var wg sync.WaitGroup

	for _, f := range feeds {
		wg.Add(1)
		go func(f database.Feed) {
			defer wg.Done()
			err := s.syncFeed(ctx, f)
			if err != nil {
				s.logger.WithFields(logrus.Fields{
					"feed": f.ID,
					"url":  f.URL,
				}).WithError(err).Error("Feed failed")
			} else {
				s.logger.WithFields(logrus.Fields{
					"feed": f.ID,
					"url":  f.URL,
				}).Info("Feed succeeded")
			}
			results <- err
		}(f)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	var summary Summary
	for err := range results {
		if err != nil {
			summary.Failed++
		} else {
			summary.Succeeded++
		}
	}

	s.logger.WithFields(logrus.Fields{
		"succeeded": summary.Succeeded,
		"failed":    summary.Failed,
	}).Info("Sync run done")
	return summary
}

// syncFeed drives one feed to a terminal state. Every failure is
// recorded on the feed's own record and never disturbs sibling feeds.
func (s *Syncer) syncFeed(ctx context.Context, f database.Feed) error {
	candidates, err := s.fetcher.Fetch(ctx, f.URL)
	if err != nil {
		return s.fail(ctx, f, err)
	}

	// Ledger snapshot from before any of this run's writes; candidates
	// within the batch are not compared against each other.
	ledger, err := s.db.GetLedger(ctx, f.ID)
	if err != nil {
		return s.fail(ctx, f, err)
	}

	now := time.Now()
	var items []database.Item
	for _, c := range candidates {
		linkHash, titleHash := potentialHashes(f.ID, c)
		if isDuplicate(ledger, linkHash, titleHash) {
			continue
		}
		items = append(items, buildItem(f.ID, c, linkHash, titleHash, now))
	}

	if len(items) == 0 {
		return s.finish(ctx, f)
	}

	inserted, err := s.db.InsertItems(ctx, items)
	if err != nil {
		return s.fail(ctx, f, err)
	}
	if inserted == 0 {
		return s.finish(ctx, f)
	}

	hashes := lo.FlatMap(items, func(it database.Item, _ int) []string {
		return []string{it.LinkHash, it.TitleHash}
	})
	if err := s.db.AppendLedger(ctx, f.ID, hashes); err != nil {
		return s.fail(ctx, f, err)
	}

	s.logger.WithFields(logrus.Fields{
		"feed":  f.ID,
		"items": len(items),
	}).Info("Inserted items")
	return s.finish(ctx, f)
}

// fail records the terminal error on the feed record, overwriting any
// prior error.
func (s *Syncer) fail(ctx context.Context, f database.Feed, err error) error {
	if dbErr := s.db.SetFeedError(ctx, f.ID, err.Error()); dbErr != nil {
		s.logger.WithField("feed", f.ID).WithError(dbErr).Error("Error recording feed failure")
	}
	return err
}

// finish clears the feed's error field on the way to the Succeeded state.
func (s *Syncer) finish(ctx context.Context, f database.Feed) error {
	if err := s.db.ClearFeedError(ctx, f.ID); err != nil {
		return err
	}
	return nil
}

// buildItem assembles the persisted item shape for a genuinely new
// candidate. Identity is fixed as the link-based hash for the lifetime
// of the item; a missing publish date defaults to the creation time.
func buildItem(feedID string, c Candidate, linkHash, titleHash string, now time.Time) database.Item {
	pubDate := now
	if c.PubDate != nil {
		pubDate = *c.PubDate
	}

	item := database.Item{
		ID:        linkHash,
		LinkHash:  linkHash,
		TitleHash: titleHash,
		FeedID:    feedID,
		Link:      c.Link,
		Title:     c.Title,
		Created:   now,
		PubDate:   pubDate,
	}
	if c.FeedTitle != "" {
		item.FeedTitle = sql.NullString{String: c.FeedTitle, Valid: true}
	}
	if c.Description != "" {
		preview, description := sanitize(c.Description)
		item.Preview = sql.NullString{String: preview, Valid: true}
		item.Description = sql.NullString{String: description, Valid: true}
	}
	return item
}
