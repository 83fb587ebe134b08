// Package discovery supplies candidate businesses to the pipeline. A
// Source streams per-query batches over a channel so the pipeline can
// evaluate while later queries are still being fetched.
package discovery

import (
	"context"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Candidate is one raw business record from a source, before scoring
// and persistence. PlaceID is the stable identity; CID is the
// secondary identifier some sources carry.
type Candidate struct {
	PlaceID  string `json:"place_id"`
	CID      string `json:"cid,omitempty"`
	Name     string `json:"name"`
	Website  string `json:"website,omitempty"`
	Address  string `json:"address,omitempty"`
	Phone    string `json:"phone,omitempty"`
	City     string `json:"city,omitempty"`
	Category string `json:"category,omitempty"`
}

// Result is one per-query batch. A source that fails a query emits a
// Result carrying Err and no candidates; the pipeline counts it and
// moves on.
type Result struct {
	Query      string
	Candidates []Candidate
	Err        error
}

// Source streams candidate batches. The returned channel is closed
// when the source is exhausted or ctx is canceled. Implementations
// must not block forever on send; they select on ctx.Done.
type Source interface {
	Discover(ctx context.Context) <-chan Result
}

// Normalize canonicalizes a free-text attribute: NFC normalization and
// whitespace collapse. Identity fields (PlaceID, CID) are passed
// through untouched.
func Normalize(s string) string {
	s = norm.NFC.String(s)
	return strings.Join(strings.Fields(s), " ")
}

// NormalizeCandidate returns a copy with attribute fields cleaned.
func NormalizeCandidate(c Candidate) Candidate {
	c.Name = Normalize(c.Name)
	c.Website = strings.TrimSpace(c.Website)
	c.Address = Normalize(c.Address)
	c.Phone = Normalize(c.Phone)
	c.City = Normalize(c.City)
	c.Category = Normalize(c.Category)
	return c
}
