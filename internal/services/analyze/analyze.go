// Package analyze scores the materiality of filing section changes
package analyze

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/bobmcallan/filingwatch/internal/common"
	"github.com/bobmcallan/filingwatch/internal/interfaces"
	"github.com/bobmcallan/filingwatch/internal/models"
)

// Keyword banks by impact bucket. Matching is lowercase substring on the
// surviving content side.
var (
	highKeywords = []string{
		"material adverse", "significantly", "substantially", "materially",
		"acquisition", "merger", "bankruptcy", "restructuring", "litigation",
		"impairment", "discontinued", "segment", "divest", "spin-off",
		"going concern", "default", "covenant", "restatement",
	}
	mediumKeywords = []string{
		"change", "modify", "update", "revise", "amend", "new", "increased",
		"decreased", "investment", "contract", "agreement", "policy",
		"estimate", "outlook", "guidance", "facility", "debt",
	}
	lowKeywords = []string{
		"additional", "disclosure", "note", "footnote", "reference",
		"see also", "updated", "clarification", "formatting",
	}
)

var numericSignal = regexp.MustCompile(`\$[0-9,]+|[0-9]+%|[0-9]+\.[0-9]+`)

// Weights parameterizes the scoring rules. The defaults mirror the tuned
// production values; they are not derived.
type Weights struct {
	BaseAddition     float64
	BaseDeletion     float64
	BaseModification float64

	High   float64 // per distinct HIGH keyword
	Medium float64
	Low    float64

	LengthBonus      float64 // per threshold crossed
	LengthThreshold  int
	LengthThreshold2 int

	NumericBonus float64
}

// DefaultWeights returns the standard scoring weights.
func DefaultWeights() Weights {
	return Weights{
		BaseAddition:     0.6,
		BaseDeletion:     0.7,
		BaseModification: 0.5,
		High:             0.3,
		Medium:           0.2,
		Low:              0.1,
		LengthBonus:      0.1,
		LengthThreshold:  1000,
		LengthThreshold2: 5000,
		NumericBonus:     0.2,
	}
}

const maxMatchedKeywords = 10

// Service implements the AnalyzeService interface
type Service struct {
	weights Weights
	logger  *common.Logger
}

// Option configures the analyzer
type Option func(*Service)

// WithWeights overrides the scoring weights
func WithWeights(w Weights) Option {
	return func(s *Service) {
		s.weights = w
	}
}

// WithLogger sets the logger
func WithLogger(logger *common.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService creates a materiality analyzer
func NewService(opts ...Option) *Service {
	s := &Service{
		weights: DefaultWeights(),
		logger:  common.NewSilentLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ScoreChange computes a materiality score in [0,1] for one section change.
// Unchanged sections score zero regardless of content.
func (s *Service) ScoreChange(sectionType, changeType, oldText, newText string) models.MaterialityResult {
	if changeType == models.ChangeUnchanged {
		return models.MaterialityResult{
			Score:        0,
			Significance: models.SignificanceLow,
			Reasoning:    "section unchanged",
		}
	}

	var score float64
	var reasons []string

	switch changeType {
	case models.ChangeAddition:
		score = s.weights.BaseAddition
		reasons = append(reasons, "new section added")
	case models.ChangeDeletion:
		score = s.weights.BaseDeletion
		reasons = append(reasons, "section removed")
	default:
		score = s.weights.BaseModification
		reasons = append(reasons, "section modified")
	}

	// The surviving content side carries the signal: the new text for
	// additions and modifications, the old text for deletions.
	content := newText
	if content == "" {
		content = oldText
	}
	lower := strings.ToLower(content)

	matched := s.scanKeywords(lower, &score)
	if len(matched) > 0 {
		reasons = append(reasons, fmt.Sprintf("%d impact keyword(s): %s",
			len(matched), strings.Join(matched, ", ")))
	}

	if len(content) > s.weights.LengthThreshold {
		score += s.weights.LengthBonus
		reasons = append(reasons, "substantial length")
	}
	if len(content) > s.weights.LengthThreshold2 {
		score += s.weights.LengthBonus
		reasons = append(reasons, "very long change")
	}

	if numericSignal.MatchString(content) {
		score += s.weights.NumericBonus
		reasons = append(reasons, "contains financial figures")
	}

	score = math.Round(math.Min(score, 1.0)*100) / 100

	return models.MaterialityResult{
		Score:           score,
		Significance:    models.SignificanceFor(score),
		MatchedKeywords: matched,
		Reasoning:       strings.Join(reasons, "; "),
	}
}

// scanKeywords adds weights for distinct matched keywords, highest bucket
// first, stopping once the running total reaches 1.0.
func (s *Service) scanKeywords(lower string, score *float64) []string {
	var matched []string

	scan := func(bank []string, weight float64) bool {
		for _, kw := range bank {
			if *score >= 1.0 {
				return true
			}
			if strings.Contains(lower, kw) {
				*score += weight
				if len(matched) < maxMatchedKeywords {
					matched = append(matched, kw)
				}
			}
		}
		return *score >= 1.0
	}

	if scan(highKeywords, s.weights.High) {
		return matched
	}
	if scan(mediumKeywords, s.weights.Medium) {
		return matched
	}
	scan(lowKeywords, s.weights.Low)
	return matched
}

// Ensure Service implements AnalyzeService
var _ interfaces.AnalyzeService = (*Service)(nil)
