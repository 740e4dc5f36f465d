package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Error definitions
var (
	ErrNotFound = errors.New("record not found")
)

// StorageError marks a failed durable-store operation. Sync treats one as
// a rejected pipeline for the feed it occurred in; the feed-list load and
// prune treat one as fatal to the invocation.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error in %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// Feed is a configured external content source. Rows are operator-owned;
// sync only sets or clears LastError.
type Feed struct {
	ID        string
	URL       string
	LastError sql.NullString
	CreatedAt time.Time
}

// Item is a persisted, deduplicated, sanitized content entry. ID is the
// link-based potential hash.
type Item struct {
	ID            string
	LinkHash      string
	TitleHash     string
	FeedID        string
	FeedTitle     sql.NullString
	Link          string
	Title         string
	Preview       sql.NullString
	Description   sql.NullString
	FeaturedImage sql.NullString
	Created       time.Time
	PubDate       time.Time
}

// User carries the per-user read state relevant to the prune cascade.
type User struct {
	ID        string
	Email     sql.NullString
	ItemsRead []string
}

// sqliteMaxParams keeps IN-list sizes under SQLite's bound-variable limit.
const sqliteMaxParams = 500

// GetFeeds returns every known feed.
func (db *DB) GetFeeds(ctx context.Context) ([]Feed, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT id, url, last_error, created_at FROM feeds ORDER BY created_at")
	if err != nil {
		return nil, storageErr("get feeds", err)
	}
	defer rows.Close()

	var feeds []Feed
	for rows.Next() {
		var f Feed
		if err := rows.Scan(&f.ID, &f.URL, &f.LastError, &f.CreatedAt); err != nil {
			return nil, storageErr("scan feed", err)
		}
		feeds = append(feeds, f)
	}
	return feeds, storageErr("get feeds", rows.Err())
}

// GetFeed returns one feed by id.
func (db *DB) GetFeed(ctx context.Context, id string) (Feed, error) {
	var f Feed
	err := db.QueryRowContext(ctx,
		"SELECT id, url, last_error, created_at FROM feeds WHERE id = ?", id,
	).Scan(&f.ID, &f.URL, &f.LastError, &f.CreatedAt)
	if err == sql.ErrNoRows {
		return Feed{}, ErrNotFound
	}
	if err != nil {
		return Feed{}, storageErr("get feed", err)
	}
	return f, nil
}

// AddFeed registers a feed source.
func (db *DB) AddFeed(ctx context.Context, id, url string) error {
	_, err := db.ExecContext(ctx,
		"INSERT INTO feeds (id, url) VALUES (?, ?)", id, url)
	return storageErr("add feed", err)
}

// SetFeedError records a failed run on the feed, overwriting any prior error.
func (db *DB) SetFeedError(ctx context.Context, id, message string) error {
	_, err := db.ExecContext(ctx,
		"UPDATE feeds SET last_error = ? WHERE id = ?", message, id)
	return storageErr("set feed error", err)
}

// ClearFeedError removes the feed's recorded error after a successful run.
func (db *DB) ClearFeedError(ctx context.Context, id string) error {
	_, err := db.ExecContext(ctx,
		"UPDATE feeds SET last_error = NULL WHERE id = ?", id)
	return storageErr("clear feed error", err)
}

// GetLedger loads the feed's full set of accepted fingerprints. A feed
// that has never synced simply has no rows yet; the ledger materializes
// with its first append.
func (db *DB) GetLedger(ctx context.Context, feedID string) (map[string]struct{}, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT hash FROM feed_hashes WHERE feed_id = ?", feedID)
	if err != nil {
		return nil, storageErr("get ledger", err)
	}
	defer rows.Close()

	ledger := make(map[string]struct{})
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, storageErr("scan ledger", err)
		}
		ledger[h] = struct{}{}
	}
	return ledger, storageErr("get ledger", rows.Err())
}

// AppendLedger adds fingerprints to the feed's ledger in one update.
// INSERT OR IGNORE keeps set semantics when two new items share a title.
func (db *DB) AppendLedger(ctx context.Context, feedID string, hashes []string) error {
	if len(hashes) == 0 {
		return nil
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("append ledger", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		"INSERT OR IGNORE INTO feed_hashes (feed_id, hash) VALUES (?, ?)")
	if err != nil {
		return storageErr("append ledger", err)
	}
	defer stmt.Close()

	for _, h := range hashes {
		if _, err := stmt.ExecContext(ctx, feedID, h); err != nil {
			return storageErr("append ledger", err)
		}
	}
	return storageErr("append ledger", tx.Commit())
}

// InsertItems writes the batch of new items in one transaction and
// returns the inserted count. A row whose identity is already present
// is skipped, not an error: a feed document that repeats the same link
// within one batch collapses to one row instead of failing the batch.
func (db *DB) InsertItems(ctx context.Context, items []Item) (int64, error) {
	if len(items) == 0 {
		return 0, nil
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storageErr("insert items", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO items (
			id, link_hash, title_hash, feed_id, feed_title, link, title,
			preview, description, featured_image, created_at, pub_date
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, storageErr("insert items", err)
	}
	defer stmt.Close()

	var inserted int64
	for _, it := range items {
		res, err := stmt.ExecContext(ctx,
			it.ID, it.LinkHash, it.TitleHash, it.FeedID, it.FeedTitle,
			it.Link, it.Title, it.Preview, it.Description, it.FeaturedImage,
			it.Created, it.PubDate,
		)
		if err != nil {
			return 0, storageErr("insert items", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, storageErr("insert items", err)
		}
		inserted += n
	}
	if err := tx.Commit(); err != nil {
		return 0, storageErr("insert items", err)
	}
	return inserted, nil
}

// GetItem returns one item by identity.
func (db *DB) GetItem(ctx context.Context, id string) (Item, error) {
	var it Item
	err := db.QueryRowContext(ctx, `
		SELECT id, link_hash, title_hash, feed_id, feed_title, link, title,
		       preview, description, featured_image, created_at, pub_date
		FROM items WHERE id = ?`, id,
	).Scan(&it.ID, &it.LinkHash, &it.TitleHash, &it.FeedID, &it.FeedTitle,
		&it.Link, &it.Title, &it.Preview, &it.Description, &it.FeaturedImage,
		&it.Created, &it.PubDate)
	if err == sql.ErrNoRows {
		return Item{}, ErrNotFound
	}
	if err != nil {
		return Item{}, storageErr("get item", err)
	}
	return it, nil
}

// CountItems returns the number of items for a feed, or for all feeds
// when feedID is empty.
func (db *DB) CountItems(ctx context.Context, feedID string) (int, error) {
	var n int
	var err error
	if feedID == "" {
		err = db.QueryRowContext(ctx, "SELECT COUNT(*) FROM items").Scan(&n)
	} else {
		err = db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM items WHERE feed_id = ?", feedID).Scan(&n)
	}
	return n, storageErr("count items", err)
}

// ItemIDsPublishedBefore returns the identities of items with a publish
// date at or before the cutoff.
func (db *DB) ItemIDsPublishedBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT id FROM items WHERE pub_date <= ?", cutoff)
	if err != nil {
		return nil, storageErr("select aged items", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storageErr("scan aged item", err)
		}
		ids = append(ids, id)
	}
	return ids, storageErr("select aged items", rows.Err())
}

// TeamItemRefs returns every item identity referenced by a team item.
func (db *DB) TeamItemRefs(ctx context.Context) ([]string, error) {
	rows, err := db.QueryContext(ctx, "SELECT item_id FROM team_items")
	if err != nil {
		return nil, storageErr("get team item refs", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storageErr("scan team item ref", err)
		}
		ids = append(ids, id)
	}
	return ids, storageErr("get team item refs", rows.Err())
}

// DeleteItems removes the given items, chunking the IN-lists to stay
// under the bound-variable limit. Logically one batch operation.
func (db *DB) DeleteItems(ctx context.Context, ids []string) error {
	for len(ids) > 0 {
		chunk := ids
		if len(chunk) > sqliteMaxParams {
			chunk = chunk[:sqliteMaxParams]
		}
		ids = ids[len(chunk):]

		query := "DELETE FROM items WHERE id IN (?" +
			strings.Repeat(",?", len(chunk)-1) + ")"
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		if _, err := db.ExecContext(ctx, query, args...); err != nil {
			return storageErr("delete items", err)
		}
	}
	return nil
}

// GetUsers returns every user with their decoded read-state.
func (db *DB) GetUsers(ctx context.Context) ([]User, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT id, email, items_read FROM users")
	if err != nil {
		return nil, storageErr("get users", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		var read string
		if err := rows.Scan(&u.ID, &u.Email, &read); err != nil {
			return nil, storageErr("scan user", err)
		}
		if err := json.Unmarshal([]byte(read), &u.ItemsRead); err != nil {
			return nil, storageErr("decode items_read", err)
		}
		users = append(users, u)
	}
	return users, storageErr("get users", rows.Err())
}

// SetUserItemsRead rewrites one user's read-state.
func (db *DB) SetUserItemsRead(ctx context.Context, userID string, itemsRead []string) error {
	if itemsRead == nil {
		itemsRead = []string{}
	}
	encoded, err := json.Marshal(itemsRead)
	if err != nil {
		return storageErr("encode items_read", err)
	}
	_, err = db.ExecContext(ctx,
		"UPDATE users SET items_read = ? WHERE id = ?", string(encoded), userID)
	return storageErr("set items_read", err)
}
