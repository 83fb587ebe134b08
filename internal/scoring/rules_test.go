package scoring

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/sitewatch-cli/internal/model"
)

func writeRules(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestApplyRulesFile_MergesWeights(t *testing.T) {
	path := writeRules(t, `weights:
  unreachable: 120
  custom_signal: 33
threshold: 50
`)

	cfg, err := ApplyRulesFile(DefaultConfig(), path)
	require.NoError(t, err)

	assert.Equal(t, 120, cfg.Weights[model.CodeUnreachable])
	assert.Equal(t, 33, cfg.Weights["custom_signal"])
	assert.Equal(t, 25, cfg.Weights[model.CodeOldCopyright], "untouched weights survive the merge")
	assert.Equal(t, 50, cfg.Threshold)
	assert.Len(t, cfg.Bonuses, 2, "bonuses keep defaults when the file has none")
}

func TestApplyRulesFile_ReplacesBonuses(t *testing.T) {
	path := writeRules(t, `bonuses:
  - codes: [no_https, no_viewport]
    bonus: 20
`)

	cfg, err := ApplyRulesFile(DefaultConfig(), path)
	require.NoError(t, err)

	require.Len(t, cfg.Bonuses, 1)
	assert.Equal(t, 20, cfg.Bonuses[0].Bonus)
}

func TestApplyRulesFile_InvalidResultRejected(t *testing.T) {
	path := writeRules(t, `threshold: -10`)

	_, err := ApplyRulesFile(DefaultConfig(), path)
	assert.Error(t, err)
}

func TestApplyRulesFile_MissingFile(t *testing.T) {
	_, err := ApplyRulesFile(DefaultConfig(), filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestApplyRulesFile_BadYAML(t *testing.T) {
	path := writeRules(t, "weights: [not a map")
	_, err := ApplyRulesFile(DefaultConfig(), path)
	assert.Error(t, err)
}
