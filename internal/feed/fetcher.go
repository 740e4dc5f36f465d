package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/sirupsen/logrus"
)

const (
	// fetchTimeout is the whole-request budget: connection establishment
	// plus response body.
	fetchTimeout = 10 * time.Second

	// Some feed origins reject default Go agents, so every request goes
	// out with a realistic browser string.
	userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_8_5) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/31.0.1650.63 Safari/537.36"

	// maxFeedBytes caps the download size of a single feed document.
	maxFeedBytes = 5 << 20
)

// Fetcher retrieves one feed document per call and turns it into a
// candidate item sequence. It performs no retries and touches no storage.
type Fetcher struct {
	client *http.Client
	parser *gofeed.Parser
	logger *logrus.Logger
}

func NewFetcher(logger *logrus.Logger) *Fetcher {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: fetchTimeout, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   fetchTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		// The transport decoder owns content-encoding handling.
		DisableCompression: true,
	}
	return &Fetcher{
		client: &http.Client{
			Timeout:   fetchTimeout,
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("stopped after 5 redirects")
				}
				return nil
			},
		},
		parser: gofeed.NewParser(),
		logger: logger,
	}
}

// Fetch retrieves and parses one feed. The returned error is a
// *FetchError, *TranscodeError or *FeedFormatError; the candidate
// sequence is complete or absent, never partial.
func (f *Fetcher) Fetch(ctx context.Context, feedURL string) ([]Candidate, error) {
	u, err := url.Parse(feedURL)
	if err != nil {
		return nil, &FetchError{URL: feedURL, Err: err}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, &FetchError{URL: feedURL, Err: fmt.Errorf("unsupported scheme %q", u.Scheme)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, &FetchError{URL: feedURL, Err: err}
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: feedURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{URL: feedURL, Err: fmt.Errorf("bad status code %d", resp.StatusCode)}
	}

	body, err := decodeTransport(
		io.LimitReader(resp.Body, maxFeedBytes),
		resp.Header.Get("Content-Encoding"),
		resp.Header.Get("Content-Type"),
	)
	if err != nil {
		return nil, err
	}

	parsed, err := f.parser.Parse(body)
	if err != nil {
		// A parse failure caused by a mid-stream body error is a
		// transport problem, not a grammar problem. A timeout that fired
		// while reading the body is a fetch failure like any other.
		if body.err != nil {
			var terr *TranscodeError
			if errors.As(body.err, &terr) {
				return nil, body.err
			}
			return nil, &FetchError{URL: feedURL, Err: body.err}
		}
		return nil, &FeedFormatError{Err: err}
	}
	if parsed == nil {
		return nil, &FeedFormatError{Err: fmt.Errorf("empty document")}
	}

	candidates := make([]Candidate, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		pubDate := item.PublishedParsed
		if pubDate == nil {
			pubDate = item.UpdatedParsed
		}
		candidates = append(candidates, Candidate{
			Link:        item.Link,
			Title:       item.Title,
			Description: item.Description,
			FeedTitle:   parsed.Title,
			PubDate:     pubDate,
		})
	}
	return candidates, nil
}
