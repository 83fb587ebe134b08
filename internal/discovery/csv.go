package discovery

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// CSVSource reads candidates from a CSV file, one batch per distinct
// query column value. Used for offline runs and replays of a prior
// scrape.
type CSVSource struct {
	Path string
	// BatchSize caps candidates per emitted Result when the file has
	// no query column. Zero means 100.
	BatchSize int
}

// csvColumns maps recognized column names to setters. Header matching
// is case-insensitive; unknown columns are ignored.
var csvColumns = map[string]func(*Candidate, string){
	"place_id": func(c *Candidate, v string) { c.PlaceID = v },
	"cid":      func(c *Candidate, v string) { c.CID = v },
	"name":     func(c *Candidate, v string) { c.Name = v },
	"website":  func(c *Candidate, v string) { c.Website = v },
	"address":  func(c *Candidate, v string) { c.Address = v },
	"phone":    func(c *Candidate, v string) { c.Phone = v },
	"city":     func(c *Candidate, v string) { c.City = v },
	"category": func(c *Candidate, v string) { c.Category = v },
}

// Discover streams the file's rows grouped by the optional "query"
// column. Rows missing a place_id are emitted as record-less error
// results so the pipeline can count them without stopping.
func (s *CSVSource) Discover(ctx context.Context) <-chan Result {
	out := make(chan Result)

	go func() {
		defer close(out)

		f, err := os.Open(s.Path)
		if err != nil {
			emit(ctx, out, Result{Err: eris.Wrapf(err, "discovery: open %s", s.Path)})
			return
		}
		defer f.Close()

		r := csv.NewReader(f)
		r.TrimLeadingSpace = true

		header, err := r.Read()
		if err != nil {
			emit(ctx, out, Result{Err: eris.Wrapf(err, "discovery: read header of %s", s.Path)})
			return
		}

		queryCol := -1
		setters := make([]func(*Candidate, string), len(header))
		for i, h := range header {
			name := strings.ToLower(strings.TrimSpace(h))
			if name == "query" {
				queryCol = i
				continue
			}
			setters[i] = csvColumns[name]
		}

		batchSize := s.BatchSize
		if batchSize <= 0 {
			batchSize = 100
		}

		var (
			query string
			batch []Candidate
			line  int
		)
		flush := func() bool {
			if len(batch) == 0 {
				return true
			}
			ok := emit(ctx, out, Result{Query: query, Candidates: batch})
			batch = nil
			return ok
		}

		for {
			record, err := r.Read()
			line++
			if err == io.EOF {
				break
			}
			if err != nil {
				if !emit(ctx, out, Result{Query: query, Err: eris.Wrapf(err, "discovery: %s line %d", s.Path, line)}) {
					return
				}
				continue
			}

			var c Candidate
			rowQuery := ""
			for i, v := range record {
				if i == queryCol {
					rowQuery = strings.TrimSpace(v)
					continue
				}
				if i < len(setters) && setters[i] != nil {
					setters[i](&c, strings.TrimSpace(v))
				}
			}
			c = NormalizeCandidate(c)

			if c.PlaceID == "" {
				zap.L().Warn("discovery: row without place_id skipped",
					zap.String("file", s.Path), zap.Int("line", line))
				if !emit(ctx, out, Result{Query: rowQuery, Err: eris.Errorf("row %d: missing place_id", line)}) {
					return
				}
				continue
			}

			if rowQuery != query {
				if !flush() {
					return
				}
				query = rowQuery
			}
			batch = append(batch, c)
			if queryCol < 0 && len(batch) >= batchSize {
				if !flush() {
					return
				}
			}
		}
		flush()
	}()

	return out
}

// emit sends unless the consumer has gone away.
func emit(ctx context.Context, out chan<- Result, r Result) bool {
	select {
	case out <- r:
		return true
	case <-ctx.Done():
		return false
	}
}
