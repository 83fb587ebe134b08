// Package scoring reduces website signal findings into a weighted score,
// a reason set, and a triage tier.
package scoring

import (
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/sells-group/sitewatch-cli/internal/model"
)

// Social-only policy values. "score" treats a social-media-only website
// as a weighted signal; "skip" treats the record as not evaluable.
const (
	SocialOnlyScore = "score"
	SocialOnlySkip  = "skip"
)

// BonusRule adds a fixed bonus when every one of its codes is present
// in the finding set. Each rule fires at most once per evaluation.
type BonusRule struct {
	Codes []string `yaml:"codes" mapstructure:"codes"`
	Bonus int      `yaml:"bonus" mapstructure:"bonus"`
}

// Config is the immutable per-run scoring configuration.
type Config struct {
	Weights          map[string]int        `yaml:"weights" mapstructure:"weights"`
	Bonuses          []BonusRule           `yaml:"bonuses" mapstructure:"bonuses"`
	Threshold        int                   `yaml:"threshold" mapstructure:"threshold"`
	Tiers            model.TierBreakpoints `yaml:"tiers" mapstructure:"tiers"`
	IncludeNoWebsite bool                  `yaml:"include_no_website" mapstructure:"include_no_website"`
	SocialOnlyPolicy string                `yaml:"social_only_policy" mapstructure:"social_only_policy"`
	RulesFile        string                `yaml:"rules_file" mapstructure:"rules_file"`
}

// DefaultConfig returns the standard weight table and stacking rules.
//
// Weight philosophy: hard failures (unreachable, 5xx, parked) land in
// the 75-100 band, medium signals (no TLS, stale copyright) in 15-40,
// and weak signals (DIY builders) in 5-10 to minimize false positives.
func DefaultConfig() Config {
	return Config{
		Weights: map[string]int{
			// Hard failures.
			model.CodeUnreachable:      100,
			model.CodeTimeout:          90,
			model.CodeServerError:      85,
			model.CodeTLSError:         80,
			model.CodeParkedDomain:     75,
			model.CodeFetchFailed:      70,
			model.CodeTooManyRedirects: 60,
			model.CodeEmptyPage:        60,
			model.CodeHTTPBlocked:      50,
			model.CodeClientError:      40,
			model.CodeEvaluationError:  100,
			model.CodeNoWebsite:        95,

			// Medium signals.
			model.CodeFlashContent:      40,
			model.CodeNoHTTPS:           30,
			model.CodeOldCopyright:      25,
			model.CodeNoViewport:        20,
			model.CodeSlowResponse:      20,
			model.CodeStaleLastModified: 20,
			model.CodeNotResponsive:     15,
			model.CodeRedirectChain:     15,
			model.CodeSocialOnly:        15,
			model.CodeLegacyMarkup:      10,
			model.CodeOldJQuery:         10,
			model.CodeMissingTitle:      10,
			model.CodeMissingMetaDesc:   10,

			// Weak signals.
			model.CodeDIYBuilder: 5,
		},
		Bonuses: []BonusRule{
			// Neglect compounds: a stale footer on a non-mobile site is a
			// stronger sell than either alone.
			{Codes: []string{model.CodeOldCopyright, model.CodeNoViewport}, Bonus: 15},
			{Codes: []string{model.CodeNoHTTPS, model.CodeOldCopyright}, Bonus: 10},
		},
		Threshold:        40,
		Tiers:            model.DefaultTierBreakpoints(),
		SocialOnlyPolicy: SocialOnlyScore,
	}
}

// Qualifies reports whether a score meets the export threshold.
func (c Config) Qualifies(score int) bool {
	return score >= c.Threshold
}

// Validate checks that a scoring Config is internally consistent.
func Validate(c Config) error {
	var errs []string

	for code, w := range c.Weights {
		if w < 0 {
			errs = append(errs, fmt.Sprintf("weight for %q must be >= 0", code))
		}
	}
	for i, b := range c.Bonuses {
		if len(b.Codes) == 0 {
			errs = append(errs, fmt.Sprintf("bonus rule %d has no codes", i))
		}
		if b.Bonus < 0 {
			errs = append(errs, fmt.Sprintf("bonus rule %d must be >= 0", i))
		}
	}
	if c.Threshold < 0 {
		errs = append(errs, "threshold must be >= 0")
	}
	if c.Tiers.Hot < c.Tiers.Warm || c.Tiers.Warm < c.Tiers.Cool {
		errs = append(errs, "tier breakpoints must be descending (hot >= warm >= cool)")
	}
	switch c.SocialOnlyPolicy {
	case "", SocialOnlyScore, SocialOnlySkip:
	default:
		errs = append(errs, fmt.Sprintf("social_only_policy must be %q or %q", SocialOnlyScore, SocialOnlySkip))
	}

	if len(errs) > 0 {
		return eris.Errorf("scoring: invalid config: %v", errs)
	}
	return nil
}
