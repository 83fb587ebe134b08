package scoring

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// rulesFile is the on-disk override format: any weight, bonus rule,
// or threshold present in the file replaces the built-in default.
type rulesFile struct {
	Weights   map[string]int `yaml:"weights"`
	Bonuses   []BonusRule    `yaml:"bonuses"`
	Threshold *int           `yaml:"threshold"`
}

// ApplyRulesFile overlays a YAML rules file onto cfg. Weights merge
// per code; bonus rules, when present, replace the default set.
func ApplyRulesFile(cfg Config, path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, eris.Wrapf(err, "scoring: read rules file %s", path)
	}

	var rf rulesFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return cfg, eris.Wrapf(err, "scoring: parse rules file %s", path)
	}

	if len(rf.Weights) > 0 {
		merged := make(map[string]int, len(cfg.Weights)+len(rf.Weights))
		for code, w := range cfg.Weights {
			merged[code] = w
		}
		for code, w := range rf.Weights {
			merged[code] = w
		}
		cfg.Weights = merged
	}
	if len(rf.Bonuses) > 0 {
		cfg.Bonuses = rf.Bonuses
	}
	if rf.Threshold != nil {
		cfg.Threshold = *rf.Threshold
	}

	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
