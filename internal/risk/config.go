package risk

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"contrisk/internal/risk/catalog"
)

// Configuration is the detector set plus every scoring parameter. It is
// loaded from YAML; the built-in catalog is used when none is supplied.
type Configuration struct {
	Weights          Weights                         `yaml:"weights"`
	Impacts          map[RiskLevel]int               `yaml:"impacts"`
	ClausePoints     map[RiskLevel]float64           `yaml:"clause_points"`
	ClauseSaturation float64                         `yaml:"clause_saturation"`
	Financial        Banding                         `yaml:"financial"`
	Duration         Banding                         `yaml:"duration"`
	Clauses          []ClauseSpec                    `yaml:"clauses"`
	Recommendations  map[string]map[RiskLevel]string `yaml:"recommendations"`
}

// Weights blend the four score components. They are normalised by their sum.
type Weights struct {
	Factors   float64 `yaml:"factors"`
	Financial float64 `yaml:"financial"`
	Duration  float64 `yaml:"duration"`
	Clauses   float64 `yaml:"clauses"`
}

func (w Weights) sum() float64 { return w.Factors + w.Financial + w.Duration + w.Clauses }

type BandMode string

const (
	BandAbsolute BandMode = "absolute"
	BandRelative BandMode = "relative"
)

// Banding maps a quantity onto a level. In relative mode the quantity is
// divided by Baseline before the bands are applied.
type Banding struct {
	Mode     BandMode `yaml:"mode"`
	Baseline float64  `yaml:"baseline"`
	Bands    []Band   `yaml:"bands"`
}

// Band covers quantities up to and including UpTo. A nil UpTo is open ended.
type Band struct {
	UpTo  *float64  `yaml:"up_to"`
	Level RiskLevel `yaml:"level"`
}

// ClauseSpec configures one pattern detector.
type ClauseSpec struct {
	Type           ClauseType       `yaml:"type"`
	Description    string           `yaml:"description"`
	BaseLevel      RiskLevel        `yaml:"base_level"`
	Priority       int              `yaml:"priority"`
	Patterns       []string         `yaml:"patterns"`
	Escalations    []EscalationSpec `yaml:"escalations"`
	Recommendation string           `yaml:"recommendation"`
}

// EscalationSpec raises a clause to Level when exactly one of its conditions holds.
type EscalationSpec struct {
	ID             string    `yaml:"id"`
	Level          RiskLevel `yaml:"level"`
	Regex          string    `yaml:"regex"`
	PercentAbove   *float64  `yaml:"percent_above"`
	MonthsAbove    *int      `yaml:"months_above"`
	Recommendation string    `yaml:"recommendation"`
}

// LoadConfiguration parses and validates a YAML configuration. Unknown keys are rejected.
func LoadConfiguration(data []byte) (*Configuration, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var cfg Configuration
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode risk configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadConfigurationFile reads a configuration from disk.
func LoadConfigurationFile(path string) (*Configuration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read risk configuration: %w", err)
	}
	return LoadConfiguration(data)
}

// DefaultConfiguration returns a fresh copy of the embedded catalog.
func DefaultConfiguration() (*Configuration, error) {
	return LoadConfiguration(catalog.Default)
}

// Validate checks every constraint the scorer relies on, in particular the
// orderings that keep the score monotonic in each sub-risk.
func (c *Configuration) Validate() error {
	var errs []error
	w := c.Weights
	if w.Factors < 0 || w.Financial < 0 || w.Duration < 0 || w.Clauses < 0 {
		errs = append(errs, errors.New("weights must be non-negative"))
	} else if w.sum() <= 0 {
		errs = append(errs, errors.New("weights must not all be zero"))
	}

	prevImpact := 0
	for _, lvl := range Levels {
		impact, ok := c.Impacts[lvl]
		switch {
		case !ok:
			errs = append(errs, fmt.Errorf("impacts: missing level %s", lvl))
		case impact < 1 || impact > 10:
			errs = append(errs, fmt.Errorf("impacts: %s must be within 1..10, got %d", lvl, impact))
		case impact < prevImpact:
			errs = append(errs, fmt.Errorf("impacts: %s is lower than the level below it", lvl))
		}
		prevImpact = impact
	}

	prevPoints := 0.0
	for _, lvl := range Levels {
		pts, ok := c.ClausePoints[lvl]
		switch {
		case !ok:
			errs = append(errs, fmt.Errorf("clause_points: missing level %s", lvl))
		case pts < 0:
			errs = append(errs, fmt.Errorf("clause_points: %s must be non-negative", lvl))
		case pts < prevPoints:
			errs = append(errs, fmt.Errorf("clause_points: %s is lower than the level below it", lvl))
		}
		prevPoints = pts
	}
	if !(c.ClauseSaturation > 0) {
		errs = append(errs, errors.New("clause_saturation must be positive"))
	}

	if err := c.Financial.validate(); err != nil {
		errs = append(errs, fmt.Errorf("financial: %w", err))
	}
	if err := c.Duration.validate(); err != nil {
		errs = append(errs, fmt.Errorf("duration: %w", err))
	}

	seen := make(map[ClauseType]bool, len(c.Clauses))
	for i, spec := range c.Clauses {
		if seen[spec.Type] {
			errs = append(errs, fmt.Errorf("clauses[%d]: duplicate type %q", i, spec.Type))
		}
		seen[spec.Type] = true
		if err := spec.validate(); err != nil {
			errs = append(errs, fmt.Errorf("clauses[%d]: %w", i, err))
		}
	}

	for factor, byLevel := range c.Recommendations {
		for lvl := range byLevel {
			if !lvl.Valid() {
				errs = append(errs, fmt.Errorf("recommendations.%s: unknown level %q", factor, lvl))
			}
		}
	}
	return errors.Join(errs...)
}

func (b Banding) validate() error {
	switch b.Mode {
	case "", BandAbsolute:
	case BandRelative:
		if !(b.Baseline > 0) || math.IsInf(b.Baseline, 0) {
			return errors.New("relative banding needs a positive baseline")
		}
	default:
		return fmt.Errorf("unknown mode %q", b.Mode)
	}
	if len(b.Bands) == 0 {
		return errors.New("at least one band is required")
	}
	for i, band := range b.Bands {
		if !band.Level.Valid() {
			return fmt.Errorf("bands[%d]: invalid level %q", i, band.Level)
		}
		last := i == len(b.Bands)-1
		if band.UpTo == nil && !last {
			return fmt.Errorf("bands[%d]: only the final band may be open ended", i)
		}
		if last && band.UpTo != nil {
			return fmt.Errorf("bands[%d]: the final band must be open ended", i)
		}
		if i == 0 {
			continue
		}
		prev := b.Bands[i-1]
		if band.UpTo != nil && *band.UpTo <= *prev.UpTo {
			return fmt.Errorf("bands[%d]: up_to must increase", i)
		}
		if band.Level.Rank() < prev.Level.Rank() {
			return fmt.Errorf("bands[%d]: level must not decrease", i)
		}
	}
	return nil
}

// levelFor bands a quantity. Bands are validated, so the final band always matches.
func (b Banding) levelFor(quantity float64) RiskLevel {
	if b.Mode == BandRelative {
		quantity = quantity / b.Baseline
	}
	for _, band := range b.Bands {
		if band.UpTo == nil || quantity <= *band.UpTo {
			return band.Level
		}
	}
	return b.Bands[len(b.Bands)-1].Level
}

func (s ClauseSpec) validate() error {
	if s.Type == "" {
		return errors.New("type is required")
	}
	if !s.BaseLevel.Valid() {
		return fmt.Errorf("%s: invalid base_level %q", s.Type, s.BaseLevel)
	}
	if len(s.Patterns) == 0 {
		return fmt.Errorf("%s: at least one pattern is required", s.Type)
	}
	for _, esc := range s.Escalations {
		conditions := 0
		if esc.Regex != "" {
			conditions++
		}
		if esc.PercentAbove != nil {
			conditions++
		}
		if esc.MonthsAbove != nil {
			conditions++
		}
		if conditions != 1 {
			return fmt.Errorf("%s: escalation %q needs exactly one condition", s.Type, esc.ID)
		}
		if !esc.Level.Valid() || esc.Level.Rank() <= s.BaseLevel.Rank() {
			return fmt.Errorf("%s: escalation %q must raise the level", s.Type, esc.ID)
		}
	}
	return nil
}

// ClauseTypes lists the configured vocabulary ordered by priority.
func (c *Configuration) ClauseTypes() []ClauseType {
	specs := append([]ClauseSpec(nil), c.Clauses...)
	sort.SliceStable(specs, func(i, j int) bool { return specs[i].Priority > specs[j].Priority })
	out := make([]ClauseType, len(specs))
	for i, s := range specs {
		out[i] = s.Type
	}
	return out
}

func (c *Configuration) recommendation(factorType string, level RiskLevel) string {
	return c.Recommendations[factorType][level]
}
