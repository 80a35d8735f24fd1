package risk

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Detector scans a document for one clause category. Implementations that
// call out to external services own their timeouts and retries.
type Detector interface {
	ClauseType() ClauseType
	Detect(doc *Document) ([]SensitiveClause, error)
}

type registryEntry struct {
	detector Detector
	priority int
}

// Registry holds the active detectors ordered by priority, highest first.
// When two detectors match the same sentence at the same level the higher
// priority wins.
type Registry struct {
	entries []registryEntry
}

func NewRegistry() *Registry { return &Registry{} }

// Register adds a detector. A second detector for the same type is rejected.
func (r *Registry) Register(d Detector, priority int) error {
	for _, e := range r.entries {
		if e.detector.ClauseType() == d.ClauseType() {
			return fmt.Errorf("detector for %q already registered", d.ClauseType())
		}
	}
	r.entries = append(r.entries, registryEntry{detector: d, priority: priority})
	r.sort()
	return nil
}

// Replace registers d, dropping any detector already serving its type.
func (r *Registry) Replace(d Detector, priority int) {
	kept := r.entries[:0]
	for _, e := range r.entries {
		if e.detector.ClauseType() != d.ClauseType() {
			kept = append(kept, e)
		}
	}
	r.entries = append(kept, registryEntry{detector: d, priority: priority})
	r.sort()
}

func (r *Registry) sort() {
	sort.SliceStable(r.entries, func(i, j int) bool {
		if r.entries[i].priority != r.entries[j].priority {
			return r.entries[i].priority > r.entries[j].priority
		}
		return r.entries[i].detector.ClauseType() < r.entries[j].detector.ClauseType()
	})
}

// Types returns the registered clause vocabulary in priority order.
func (r *Registry) Types() []ClauseType {
	out := make([]ClauseType, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.detector.ClauseType()
	}
	return out
}

func (r *Registry) Len() int { return len(r.entries) }

type escalationCheck func(folded string) bool

type escalation struct {
	id             string
	level          RiskLevel
	recommendation string
	matches        escalationCheck
}

// PatternDetector is the keyword/regex detector built from a ClauseSpec.
type PatternDetector struct {
	spec        ClauseSpec
	patterns    []*regexp.Regexp
	escalations []escalation
}

var (
	percentPattern  = regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s*(?:%|por cento)`)
	durationPattern = regexp.MustCompile(`(\d+)\s*(?:\([^)]*\)\s*)?(anos?|mes(?:es)?)\b`)
)

func NewPatternDetector(spec ClauseSpec) (*PatternDetector, error) {
	if err := spec.validate(); err != nil {
		return nil, err
	}
	d := &PatternDetector{spec: spec}
	for _, p := range spec.Patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to compile the pattern %s: %w", spec.Type, p, err)
		}
		d.patterns = append(d.patterns, re)
	}
	for _, esc := range spec.Escalations {
		e := escalation{id: esc.ID, level: esc.Level, recommendation: esc.Recommendation}
		switch {
		case esc.Regex != "":
			re, err := regexp.Compile(esc.Regex)
			if err != nil {
				return nil, fmt.Errorf("%s: escalation %s: %w", spec.Type, esc.ID, err)
			}
			e.matches = re.MatchString
		case esc.PercentAbove != nil:
			limit := *esc.PercentAbove
			e.matches = func(s string) bool { return maxPercent(s) > limit }
		case esc.MonthsAbove != nil:
			limit := *esc.MonthsAbove
			e.matches = func(s string) bool { return maxMonths(s) > limit }
		}
		d.escalations = append(d.escalations, e)
	}
	return d, nil
}

func (d *PatternDetector) ClauseType() ClauseType { return d.spec.Type }

// Detect emits at most one clause per matching sentence.
func (d *PatternDetector) Detect(doc *Document) ([]SensitiveClause, error) {
	if doc.Empty() {
		return nil, nil
	}
	var out []SensitiveClause
	for _, page := range doc.Pages {
		for _, para := range page.Paragraphs {
			for _, sentence := range para.Sentences {
				if !d.match(sentence.Folded) {
					continue
				}
				level, rec := d.assess(sentence.Folded)
				clause := SensitiveClause{
					Type:      d.spec.Type,
					Text:      sentence.Text,
					Location:  Location{Page: page.Number, Paragraph: para.Number},
					RiskLevel: level,
				}
				if level.Rank() > LevelLow.Rank() {
					clause.Recommendation = rec
				}
				out = append(out, clause)
			}
		}
	}
	return out, nil
}

func (d *PatternDetector) match(folded string) bool {
	for _, re := range d.patterns {
		if re.MatchString(folded) {
			return true
		}
	}
	return false
}

// assess applies escalations upward only; the most severe one supplies the recommendation.
func (d *PatternDetector) assess(folded string) (RiskLevel, string) {
	level, rec := d.spec.BaseLevel, d.spec.Recommendation
	for _, esc := range d.escalations {
		if esc.level.Rank() <= level.Rank() || !esc.matches(folded) {
			continue
		}
		level = esc.level
		if esc.recommendation != "" {
			rec = esc.recommendation
		}
	}
	return level, rec
}

func maxPercent(s string) float64 {
	best := -1.0
	for _, m := range percentPattern.FindAllStringSubmatch(s, -1) {
		v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "."), 64)
		if err == nil && v > best {
			best = v
		}
	}
	return best
}

func maxMonths(s string) int {
	best := -1
	for _, m := range durationPattern.FindAllStringSubmatch(s, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if strings.HasPrefix(m[2], "ano") {
			n *= 12
		}
		if n > best {
			best = n
		}
	}
	return best
}
