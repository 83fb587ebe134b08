// Package model defines the core domain types shared across the pipeline.
package model

import (
	"time"
)

// Tier is the coarse triage bucket derived from a lead's score.
type Tier string

const (
	TierHot  Tier = "hot"
	TierWarm Tier = "warm"
	TierCool Tier = "cool"
	TierSkip Tier = "skip"
)

// TierBreakpoints holds the score cutoffs for each tier, evaluated
// high-to-low with first match winning.
type TierBreakpoints struct {
	Hot  int `yaml:"hot" mapstructure:"hot"`
	Warm int `yaml:"warm" mapstructure:"warm"`
	Cool int `yaml:"cool" mapstructure:"cool"`
}

// DefaultTierBreakpoints returns the standard hot/warm/cool cutoffs.
func DefaultTierBreakpoints() TierBreakpoints {
	return TierBreakpoints{Hot: 80, Warm: 60, Cool: 40}
}

// TierFor maps a score onto a tier using the given breakpoints.
func TierFor(score int, bp TierBreakpoints) Tier {
	switch {
	case score >= bp.Hot:
		return TierHot
	case score >= bp.Warm:
		return TierWarm
	case score >= bp.Cool:
		return TierCool
	default:
		return TierSkip
	}
}

// Lead is one tracked business, keyed by its stable place ID.
type Lead struct {
	PlaceID        string     `json:"place_id" db:"place_id"`
	CID            string     `json:"cid,omitempty" db:"cid"`
	Name           string     `json:"name" db:"name"`
	Website        string     `json:"website,omitempty" db:"website"`
	Address        string     `json:"address,omitempty" db:"address"`
	Phone          string     `json:"phone,omitempty" db:"phone"`
	City           string     `json:"city,omitempty" db:"city"`
	Category       string     `json:"category,omitempty" db:"category"`
	Score          int        `json:"score" db:"score"`
	Reasons        []string   `json:"reasons" db:"reasons"`
	Tier           Tier       `json:"tier" db:"tier"`
	FirstSeen      time.Time  `json:"first_seen" db:"first_seen"`
	LastSeen       time.Time  `json:"last_seen" db:"last_seen"`
	TimesSeen      int        `json:"times_seen" db:"times_seen"`
	ExportedCount  int        `json:"exported_count" db:"exported_count"`
	LastExportedAt *time.Time `json:"last_exported_at,omitempty" db:"last_exported_at"`
}

// HasReason reports whether the lead carries the given signal code.
func (l *Lead) HasReason(code string) bool {
	for _, r := range l.Reasons {
		if r == code {
			return true
		}
	}
	return false
}
