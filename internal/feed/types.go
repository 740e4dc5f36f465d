package feed

import "time"

// Candidate is a parsed, not-yet-classified entry from a feed document.
// It is ephemeral; only candidates classified as new are persisted.
type Candidate struct {
	Link        string
	Title       string
	Description string
	FeedTitle   string
	PubDate     *time.Time
}

// Summary counts terminal pipeline states after a sync run.
type Summary struct {
	Succeeded int
	Failed    int
}
