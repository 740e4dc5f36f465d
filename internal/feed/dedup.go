package feed

import (
	"crypto/md5"
	"encoding/hex"
)

// potentialHashes computes the two content fingerprints for a candidate:
// one over (feed id, link) and one over (feed id, title). An item whose
// link changes but keeps its title, or vice versa, still matches the
// ledger through the other fingerprint.
func potentialHashes(feedID string, c Candidate) (linkHash, titleHash string) {
	return fingerprint(feedID + c.Link), fingerprint(feedID + c.Title)
}

func fingerprint(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// isDuplicate reports whether either fingerprint is already present in
// the feed's ledger. Candidates are only ever checked against the
// pre-run ledger snapshot, never against each other.
func isDuplicate(ledger map[string]struct{}, linkHash, titleHash string) bool {
	if _, ok := ledger[linkHash]; ok {
		return true
	}
	_, ok := ledger[titleHash]
	return ok
}
