package scoring

import (
	"go.uber.org/zap"

	"github.com/sells-group/sitewatch-cli/internal/model"
)

// Result is the reduced output of one evaluation.
type Result struct {
	Score   int        `json:"score"`
	Reasons []string   `json:"reasons"`
	Tier    model.Tier `json:"tier"`
}

// Score reduces a finding set against the weight table. The base score
// is the sum of weights for present codes (unknown codes contribute
// zero and are logged, never fatal). Every stacking rule whose required
// codes are all present adds its bonus exactly once. The result is
// clamped to >= 0 with no upper clamp. Reasons are the present codes
// regardless of whether they carried weight.
//
// For a fixed finding set and config the output is always identical:
// there is no time-dependent or random component.
func Score(findings []model.Finding, cfg Config) Result {
	codes := model.FindingCodes(findings)

	present := make(map[string]bool, len(codes))
	score := 0
	for _, code := range codes {
		present[code] = true
		w, ok := cfg.Weights[code]
		if !ok {
			zap.L().Warn("scoring: unknown signal code", zap.String("code", code))
			continue
		}
		score += w
	}

	for _, rule := range cfg.Bonuses {
		if len(rule.Codes) == 0 {
			continue
		}
		satisfied := true
		for _, required := range rule.Codes {
			if !present[required] {
				satisfied = false
				break
			}
		}
		if satisfied {
			score += rule.Bonus
		}
	}

	if score < 0 {
		score = 0
	}

	return Result{
		Score:   score,
		Reasons: codes,
		Tier:    model.TierFor(score, cfg.Tiers),
	}
}
