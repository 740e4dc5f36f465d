package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedie/internal/database"
)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "feedie.db"), database.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func singleItemRSS(link, title string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
	<title>Single Item Feed</title>
	<item>
		<title>%s</title>
		<link>%s</link>
		<description>Body of %s</description>
	</item>
</channel>
</rss>`, title, link, title)
}

// switchableServer serves whatever body/status the test currently wants.
type switchableServer struct {
	mu     sync.Mutex
	body   string
	status int
	*httptest.Server
}

func newSwitchableServer(t *testing.T, body string) *switchableServer {
	t.Helper()
	s := &switchableServer{body: body, status: http.StatusOK}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		body, status := s.body, s.status
		s.mu.Unlock()
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	t.Cleanup(s.Server.Close)
	return s
}

func (s *switchableServer) set(body string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.body, s.status = body, status
}

func TestSyncFeedPersistsNewItems(t *testing.T) {
	db := newTestDB(t)
	server := newSwitchableServer(t, sampleRSS)
	ctx := context.Background()

	require.NoError(t, db.AddFeed(ctx, "f1", server.URL))

	syncer := NewSyncer(db, newTestLogger())
	summary, err := syncer.SyncAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Succeeded: 1}, summary)

	count, err := db.CountItems(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	ledger, err := db.GetLedger(ctx, "f1")
	require.NoError(t, err)
	assert.Len(t, ledger, 4)

	linkHash, titleHash := potentialHashes("f1", Candidate{
		Link:  "http://example.com/rss/entry1",
		Title: "RSS Entry 1",
	})
	item, err := db.GetItem(ctx, linkHash)
	require.NoError(t, err)
	assert.Equal(t, "RSS Entry 1", item.Title)
	assert.Equal(t, linkHash, item.LinkHash)
	assert.Equal(t, titleHash, item.TitleHash)
	assert.Equal(t, "Sample RSS Feed", item.FeedTitle.String)
	assert.Equal(t, "Description for RSS Entry 1", item.Preview.String)
	assert.True(t, item.Description.Valid)
	assert.False(t, item.FeaturedImage.Valid)

	f, err := db.GetFeed(ctx, "f1")
	require.NoError(t, err)
	assert.False(t, f.LastError.Valid)
}

func TestSyncIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	server := newSwitchableServer(t, sampleRSS)
	ctx := context.Background()

	require.NoError(t, db.AddFeed(ctx, "f1", server.URL))
	syncer := NewSyncer(db, newTestLogger())

	_, err := syncer.SyncAll(ctx)
	require.NoError(t, err)

	summary, err := syncer.SyncAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Succeeded: 1}, summary)

	count, err := db.CountItems(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestSyncDualHashDedup(t *testing.T) {
	db := newTestDB(t)
	server := newSwitchableServer(t, singleItemRSS("http://example.com/a", "t1"))
	ctx := context.Background()

	require.NoError(t, db.AddFeed(ctx, "f1", server.URL))
	syncer := NewSyncer(db, newTestLogger())

	_, err := syncer.SyncAll(ctx)
	require.NoError(t, err)

	// Same link, new title: still a duplicate through the link hash.
	server.set(singleItemRSS("http://example.com/a", "t2"), http.StatusOK)
	_, err = syncer.SyncAll(ctx)
	require.NoError(t, err)

	count, err := db.CountItems(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// New link, original title: still a duplicate through the title hash.
	server.set(singleItemRSS("http://example.com/b", "t1"), http.StatusOK)
	_, err = syncer.SyncAll(ctx)
	require.NoError(t, err)

	count, err = db.CountItems(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// Genuinely new on both axes.
	server.set(singleItemRSS("http://example.com/c", "t3"), http.StatusOK)
	_, err = syncer.SyncAll(ctx)
	require.NoError(t, err)

	count, err = db.CountItems(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestSyncAgainstSeededLedger(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	linkA, linkB := "http://example.com/a", "http://example.com/b"
	h1, _ := potentialHashes("F", Candidate{Link: linkA, Title: "t1"})
	h3, h4 := potentialHashes("F", Candidate{Link: linkB, Title: "t2"})

	body := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
	<title>Seeded Feed</title>
	<item><title>t1</title><link>%s</link></item>
	<item><title>t2</title><link>%s</link></item>
</channel>
</rss>`, linkA, linkB)

	server := newSwitchableServer(t, body)
	require.NoError(t, db.AddFeed(ctx, "F", server.URL))
	require.NoError(t, db.AppendLedger(ctx, "F", []string{h1}))

	syncer := NewSyncer(db, newTestLogger())
	summary, err := syncer.SyncOne(ctx, "F")
	require.NoError(t, err)
	assert.Equal(t, Summary{Succeeded: 1}, summary)

	// First candidate dropped: its link hash was already known. Second
	// persisted under its link hash, and the ledger gained both of its
	// fingerprints.
	count, err := db.CountItems(ctx, "F")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	item, err := db.GetItem(ctx, h3)
	require.NoError(t, err)
	assert.Equal(t, "t2", item.Title)

	ledger, err := db.GetLedger(ctx, "F")
	require.NoError(t, err)
	assert.Len(t, ledger, 3)
	for _, h := range []string{h1, h3, h4} {
		assert.Contains(t, ledger, h)
	}
}

func TestSyncFeedRepeatingSameLink(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	// One document listing the same link twice under different titles.
	// Neither entry matches the pre-run ledger, so both reach the insert;
	// the repeated identity must not fail the feed.
	body := `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
	<title>Repeating Feed</title>
	<item><title>t1</title><link>http://example.com/a</link></item>
	<item><title>t2</title><link>http://example.com/a</link></item>
</channel>
</rss>`

	server := newSwitchableServer(t, body)
	require.NoError(t, db.AddFeed(ctx, "f1", server.URL))
	syncer := NewSyncer(db, newTestLogger())

	summary, err := syncer.SyncAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Succeeded: 1}, summary)

	count, err := db.CountItems(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// Ledger holds the shared link hash plus both title hashes, so the
	// next run of the same document is all duplicates.
	ledger, err := db.GetLedger(ctx, "f1")
	require.NoError(t, err)
	assert.Len(t, ledger, 3)

	f, err := db.GetFeed(ctx, "f1")
	require.NoError(t, err)
	assert.False(t, f.LastError.Valid)

	summary, err = syncer.SyncAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Succeeded: 1}, summary)

	count, err = db.CountItems(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSyncTimeoutFailsOnlyThatFeed(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	t.Cleanup(slow.Close)
	fast := newSwitchableServer(t, sampleRSS)

	require.NoError(t, db.AddFeed(ctx, "slow", slow.URL))
	require.NoError(t, db.AddFeed(ctx, "fast", fast.URL))

	syncer := NewSyncer(db, newTestLogger())
	syncer.fetcher.client.Timeout = 100 * time.Millisecond

	summary, err := syncer.SyncAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Succeeded: 1, Failed: 1}, summary)

	slowFeed, err := db.GetFeed(ctx, "slow")
	require.NoError(t, err)
	require.True(t, slowFeed.LastError.Valid)
	assert.Contains(t, slowFeed.LastError.String, "Timeout")

	count, err := db.CountItems(ctx, "slow")
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	// The sibling feed completed normally in the same run.
	fastFeed, err := db.GetFeed(ctx, "fast")
	require.NoError(t, err)
	assert.False(t, fastFeed.LastError.Valid)

	count, err = db.CountItems(ctx, "fast")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestSyncRecordsAndClearsFeedError(t *testing.T) {
	db := newTestDB(t)
	server := newSwitchableServer(t, "boom")
	server.set("boom", http.StatusInternalServerError)
	ctx := context.Background()

	require.NoError(t, db.AddFeed(ctx, "f1", server.URL))
	syncer := NewSyncer(db, newTestLogger())

	summary, err := syncer.SyncAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Failed: 1}, summary)

	f, err := db.GetFeed(ctx, "f1")
	require.NoError(t, err)
	require.True(t, f.LastError.Valid)
	assert.Contains(t, f.LastError.String, "500")

	server.set(sampleRSS, http.StatusOK)
	summary, err = syncer.SyncAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Succeeded: 1}, summary)

	f, err = db.GetFeed(ctx, "f1")
	require.NoError(t, err)
	assert.False(t, f.LastError.Valid)
}

func TestSyncOneUnknownFeed(t *testing.T) {
	db := newTestDB(t)
	syncer := NewSyncer(db, newTestLogger())

	_, err := syncer.SyncOne(context.Background(), "missing")
	assert.ErrorIs(t, err, database.ErrNotFound)
}
