package discovery

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "candidates.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func collect(t *testing.T, src Source) []Result {
	t.Helper()
	var results []Result
	for r := range src.Discover(context.Background()) {
		results = append(results, r)
	}
	return results
}

func TestCSVSource_GroupsByQuery(t *testing.T) {
	path := writeCSV(t, `query,place_id,name,website
plumber springfield,p1,Acme  Plumbing,http://acme.example
plumber springfield,p2,Beta Pipes,
roofer springfield,p3,Gamma Roofing,http://gamma.example
`)

	results := collect(t, &CSVSource{Path: path})
	require.Len(t, results, 2)

	assert.Equal(t, "plumber springfield", results[0].Query)
	require.Len(t, results[0].Candidates, 2)
	assert.Equal(t, "Acme Plumbing", results[0].Candidates[0].Name, "whitespace collapsed")
	assert.Equal(t, "p2", results[0].Candidates[1].PlaceID)

	assert.Equal(t, "roofer springfield", results[1].Query)
	require.Len(t, results[1].Candidates, 1)
}

func TestCSVSource_MissingPlaceID(t *testing.T) {
	path := writeCSV(t, `place_id,name
p1,Acme
,Nameless
p2,Beta
`)

	results := collect(t, &CSVSource{Path: path})

	var errs, candidates int
	for _, r := range results {
		if r.Err != nil {
			errs++
			assert.Empty(t, r.Candidates)
			continue
		}
		candidates += len(r.Candidates)
	}
	assert.Equal(t, 1, errs, "bad row becomes a record-less error result")
	assert.Equal(t, 2, candidates)
}

func TestCSVSource_FileMissing(t *testing.T) {
	results := collect(t, &CSVSource{Path: filepath.Join(t.TempDir(), "nope.csv")})
	require.Len(t, results, 1)
	assert.Error(t, results[0].Err)
}

func TestCSVSource_BatchSize(t *testing.T) {
	path := writeCSV(t, `place_id,name
p1,A
p2,B
p3,C
`)

	results := collect(t, &CSVSource{Path: path, BatchSize: 2})
	require.Len(t, results, 2)
	assert.Len(t, results[0].Candidates, 2)
	assert.Len(t, results[1].Candidates, 1)
}

func TestCSVSource_ContextCancel(t *testing.T) {
	path := writeCSV(t, `place_id,name
p1,A
p2,B
`)

	ctx, cancel := context.WithCancel(context.Background())
	ch := (&CSVSource{Path: path, BatchSize: 1}).Discover(ctx)

	<-ch
	cancel()

	// Channel closes promptly once the consumer is gone.
	for range ch {
	}
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "Cafe Munoz", Normalize("  Cafe   Munoz "))
	assert.Equal(t, "", Normalize("   "))
}
