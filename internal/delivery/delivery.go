// Package delivery hands qualified leads to downstream recipients and
// writes the CSV/XLSX report files they receive.
package delivery

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/sitewatch-cli/internal/model"
)

// Destination is one recipient of a weekly report. Tier is the
// minimum tier the recipient wants; empty means everything qualified.
type Destination struct {
	Email string     `yaml:"email"`
	Tier  model.Tier `yaml:"tier,omitempty"`
}

// Deliverer delivers one report to one destination. Implementations
// must be safe to call for multiple destinations in sequence; a
// failure for one destination never affects another.
type Deliverer interface {
	Deliver(ctx context.Context, dest Destination, leads []model.Lead) error
}

// SubscriberSource yields the destinations for a run.
type SubscriberSource interface {
	Subscribers(ctx context.Context) ([]Destination, error)
}

// FileSubscribers reads destinations from a YAML file.
type FileSubscribers struct {
	Path string
}

func (f *FileSubscribers) Subscribers(ctx context.Context) ([]Destination, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, eris.Wrapf(err, "delivery: read subscribers %s", f.Path)
	}
	var doc struct {
		Subscribers []Destination `yaml:"subscribers"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrapf(err, "delivery: parse subscribers %s", f.Path)
	}
	return doc.Subscribers, nil
}

// StaticSubscribers wraps a fixed destination list, for config-inline
// subscribers and tests.
type StaticSubscribers []Destination

func (s StaticSubscribers) Subscribers(ctx context.Context) ([]Destination, error) {
	return []Destination(s), nil
}

var tierRank = map[model.Tier]int{
	model.TierHot:  3,
	model.TierWarm: 2,
	model.TierCool: 1,
	model.TierSkip: 0,
}

// FilterForDestination keeps leads at or above the destination's
// minimum tier, preserving order.
func FilterForDestination(dest Destination, leads []model.Lead) []model.Lead {
	if dest.Tier == "" {
		return leads
	}
	minRank := tierRank[dest.Tier]
	out := make([]model.Lead, 0, len(leads))
	for _, l := range leads {
		if tierRank[l.Tier] >= minRank {
			out = append(out, l)
		}
	}
	return out
}

// DirDeliverer drops one report file per destination into a directory.
// It stands in for outbound mail: the ops mailer picks the directory
// up on its own schedule.
type DirDeliverer struct {
	Dir    string
	Format string // "csv" or "xlsx"
	// Now is overridable for tests. Nil means time.Now.
	Now func() time.Time
}

func (d *DirDeliverer) Deliver(ctx context.Context, dest Destination, leads []model.Lead) error {
	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "delivery: canceled")
	}
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return eris.Wrapf(err, "delivery: create dir %s", d.Dir)
	}

	now := time.Now
	if d.Now != nil {
		now = d.Now
	}
	format := d.Format
	if format == "" {
		format = "csv"
	}

	name := fmt.Sprintf("%s-%s.%s", now().UTC().Format("2006-01-02"), sanitize(dest.Email), format)
	path := filepath.Join(d.Dir, name)

	filtered := FilterForDestination(dest, leads)

	var err error
	switch format {
	case "csv":
		err = WriteCSV(path, filtered)
	case "xlsx":
		err = WriteXLSX(path, filtered)
	default:
		return eris.Errorf("delivery: unknown format %q", format)
	}
	if err != nil {
		return err
	}

	zap.L().Info("delivery: report written",
		zap.String("destination", dest.Email),
		zap.String("path", path),
		zap.Int("leads", len(filtered)))
	return nil
}

// sanitize makes an email safe to use as a filename fragment.
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}
