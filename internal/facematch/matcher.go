package facematch

import (
	"fmt"
	"iter"
	"math"
	"slices"

	"github.com/ritheshpulikeshimk-svg/face-recognition-attendence/internal/database"
)

// Outcome is the result class of a match attempt.
type Outcome string

const (
	OutcomeMatched   Outcome = "matched"
	OutcomeNoMatch   Outcome = "no_match"
	OutcomeAmbiguous Outcome = "ambiguous"
)

// Config holds the decision parameters of a Matcher.
type Config struct {
	Metric Metric
	// Threshold is the maximum accepted distance (inclusive).
	Threshold float64
	// MaxDistance maps distance to confidence: 1 - d/MaxDistance, clamped to [0,1].
	MaxDistance float64
	// Epsilon is the tolerance under which two students' best distances tie.
	Epsilon float64
	// Normalize L2-normalizes probe and references before comparison.
	Normalize bool
}

// Validate checks the configuration for usable values.
func (c Config) Validate() error {
	if c.Metric != MetricCosine && c.Metric != MetricEuclidean {
		return fmt.Errorf("unknown distance metric %q", c.Metric)
	}
	if c.Threshold < 0 || math.IsNaN(c.Threshold) {
		return fmt.Errorf("threshold must be non-negative, got %v", c.Threshold)
	}
	if c.MaxDistance <= 0 || math.IsNaN(c.MaxDistance) {
		return fmt.Errorf("max distance must be positive, got %v", c.MaxDistance)
	}
	if c.Epsilon < 0 || math.IsNaN(c.Epsilon) {
		return fmt.Errorf("epsilon must be non-negative, got %v", c.Epsilon)
	}
	return nil
}

// Decision is the outcome of matching a probe against the enrolled students.
type Decision struct {
	Outcome Outcome
	// StudentID is the matched student, or the closest student for NoMatch.
	StudentID string
	// Distance is the best per-student distance; +Inf when nothing was compared.
	Distance   float64
	Confidence float64
	// Tied lists the students sharing the best distance when Outcome is Ambiguous.
	Tied []string
	// Evaluated is the number of students compared.
	Evaluated int
}

// ErrDimensionMismatch is returned when the probe length differs from the enrolled references.
var ErrDimensionMismatch = database.ErrDimensionMismatch

// Matcher applies the nearest-student decision rule. It is safe for concurrent use.
type Matcher struct {
	cfg   Config
	index *Index
}

// NewMatcher validates cfg and creates a brute-force matcher.
func NewMatcher(cfg Config) (*Matcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Matcher{cfg: cfg}, nil
}

// WithIndex enables an approximate shortlist in front of the exact rule.
func (m *Matcher) WithIndex(ix *Index) *Matcher {
	m.index = ix
	return m
}

// Config returns the matcher configuration.
func (m *Matcher) Config() Config {
	return m.cfg
}

// Confidence maps a distance to [0,1]; closer is higher.
func (m *Matcher) Confidence(distance float64) float64 {
	if math.IsInf(distance, 1) || math.IsNaN(distance) {
		return 0
	}
	return max(0, min(1, 1-distance/m.cfg.MaxDistance))
}

// Match compares probe against a snapshot of eligible students.
func (m *Matcher) Match(probe []float32, snap *database.Snapshot) (Decision, error) {
	if err := database.CheckEmbedding(0, probe); err != nil {
		return Decision{}, err
	}
	if snap.Len() == 0 {
		return noCandidates(), nil
	}
	if len(probe) != snap.Dim {
		return Decision{}, database.DimensionError(snap.Dim, len(probe))
	}
	candidates := snap.All()
	if m.index != nil {
		candidates = m.index.Shortlist(probe, snap)
	}
	return m.MatchCandidates(probe, candidates)
}

func noCandidates() Decision {
	return Decision{Outcome: OutcomeNoMatch, Distance: math.Inf(1)}
}

type studentDistance struct {
	id       string
	distance float64
}

// MatchCandidates is the pure decision rule over an arbitrary candidate sequence.
// Each student is reduced to its closest reference, the closest student wins;
// students within Epsilon of the best make the result Ambiguous.
func (m *Matcher) MatchCandidates(probe []float32, candidates iter.Seq[database.Candidate]) (Decision, error) {
	if err := database.CheckEmbedding(0, probe); err != nil {
		return Decision{}, err
	}
	if m.cfg.Normalize {
		probe = Normalize(probe)
	}

	var per []studentDistance
	for c := range candidates {
		best := math.Inf(1)
		for _, ref := range c.References {
			if len(ref) != len(probe) {
				return Decision{}, database.DimensionError(len(ref), len(probe))
			}
			if m.cfg.Normalize {
				ref = Normalize(ref)
			}
			// A NaN distance never wins.
			if dist := m.cfg.Metric.Distance(probe, ref); !math.IsNaN(dist) {
				best = min(best, dist)
			}
		}
		if len(c.References) > 0 {
			per = append(per, studentDistance{id: c.StudentID, distance: best})
		}
	}
	if len(per) == 0 {
		return noCandidates(), nil
	}

	best := per[0].distance
	for _, p := range per[1:] {
		best = min(best, p.distance)
	}
	var tied []string
	for _, p := range per {
		if p.distance-best <= m.cfg.Epsilon {
			tied = append(tied, p.id)
		}
	}
	if len(tied) == 0 {
		return noCandidates(), nil
	}
	slices.Sort(tied)

	d := Decision{
		StudentID:  tied[0],
		Distance:   best,
		Confidence: m.Confidence(best),
		Evaluated:  len(per),
	}
	switch {
	case best > m.cfg.Threshold:
		d.Outcome = OutcomeNoMatch
	case len(tied) > 1:
		d.Outcome = OutcomeAmbiguous
		d.StudentID = ""
		d.Tied = tied
	default:
		d.Outcome = OutcomeMatched
	}
	return d, nil
}
