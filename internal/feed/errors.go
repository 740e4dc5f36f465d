package feed

import "fmt"

// FetchError covers connection failures, timeouts and non-200 responses.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("error fetching %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// TranscodeError covers unsupported charsets, transcoder setup failures,
// malformed bytes mid-stream and decompression failures.
type TranscodeError struct {
	Charset string
	Err     error
}

func (e *TranscodeError) Error() string {
	if e.Charset != "" {
		return fmt.Sprintf("error transcoding from %s: %v", e.Charset, e.Err)
	}
	return fmt.Sprintf("error decoding response body: %v", e.Err)
}

func (e *TranscodeError) Unwrap() error { return e.Err }

// FeedFormatError marks a malformed feed document. No partial results
// accompany one.
type FeedFormatError struct {
	Err error
}

func (e *FeedFormatError) Error() string {
	return fmt.Sprintf("error parsing feed: %v", e.Err)
}

func (e *FeedFormatError) Unwrap() error { return e.Err }
