package feed

import (
	"compress/gzip"
	"compress/zlib"
	"context"
	"errors"
	"io"
	"mime"
	"net"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

// transportReader wraps the decoded body so that mid-stream failures can
// be told apart from feed-format errors after the parser gives up. The
// first such failure is recorded in err: inflation and transcoding
// failures as a TranscodeError, a timeout firing mid-body as the raw
// error so the caller can classify it as a fetch failure instead.
type transportReader struct {
	r       io.Reader
	charset string
	err     error
}

func (t *transportReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && err != io.EOF {
		if isTimeout(err) {
			t.err = err
		} else {
			t.err = &TranscodeError{Charset: t.charset, Err: err}
		}
		return n, t.err
	}
	return n, err
}

// isTimeout reports whether a body read failed because the request's
// time budget ran out rather than because the bytes were bad.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}

// decodeTransport converts a raw response body into a canonical UTF-8
// stream using the advisory Content-Encoding and Content-Type headers.
// Unknown content encodings pass through unchanged; an unknown charset
// label fails immediately with a TranscodeError.
func decodeTransport(body io.Reader, contentEncoding, contentType string) (*transportReader, error) {
	r := body

	switch {
	case hasToken(contentEncoding, "gzip"):
		gz, err := gzip.NewReader(body)
		if err != nil {
			return nil, &TranscodeError{Err: err}
		}
		r = gz
	case hasToken(contentEncoding, "deflate"):
		// HTTP deflate in the wild is a zlib stream.
		zr, err := zlib.NewReader(body)
		if err != nil {
			return nil, &TranscodeError{Err: err}
		}
		r = zr
	}

	charset := charsetParam(contentType)
	if charset == "" || isUTF8(charset) {
		return &transportReader{r: r}, nil
	}

	enc, err := htmlindex.Get(charset)
	if err != nil {
		return nil, &TranscodeError{Charset: charset, Err: err}
	}
	return &transportReader{
		r:       transform.NewReader(r, enc.NewDecoder()),
		charset: charset,
	}, nil
}

// hasToken reports whether a comma-separated header value contains the
// given token. Matches whole tokens only; the legacy "x-gzip" and
// "x-deflate" spellings count as their plain forms.
func hasToken(header, token string) bool {
	for _, part := range strings.Split(header, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == token || part == "x-"+token {
			return true
		}
	}
	return false
}

func charsetParam(contentType string) string {
	if contentType == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return params["charset"]
}

// isUTF8 matches utf-8 labels case-insensitively and hyphen-insensitively.
func isUTF8(charset string) bool {
	return strings.ReplaceAll(strings.ToLower(charset), "-", "") == "utf8"
}
