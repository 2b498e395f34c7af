// Package extract segments filing text into canonical sections by form type
package extract

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/bobmcallan/filingwatch/internal/common"
	"github.com/bobmcallan/filingwatch/internal/interfaces"
	"github.com/bobmcallan/filingwatch/internal/models"
)

// sectionPattern binds one canonical tag to its header regex. Matching is
// first-wins in declaration order, so more specific patterns come first
// where prefixes overlap (10-Q ITEM 1, 8-K ITEM 9.01).
type sectionPattern struct {
	Tag     string
	Name    string
	Pattern *regexp.Regexp
}

func pat(tag, name, expr string) sectionPattern {
	return sectionPattern{Tag: tag, Name: name, Pattern: regexp.MustCompile(`(?i)` + expr)}
}

// formPatterns is the per-form header table. Data, not code: adding a form
// means adding rows here.
var formPatterns = map[string][]sectionPattern{
	models.Form10K: {
		pat(models.SectionBusiness, "Business", `ITEM\s+1[.\s]+BUSINESS`),
		pat(models.SectionRiskFactors, "Risk Factors", `ITEM\s+1A[.\s]+RISK\s+FACTORS`),
		pat(models.SectionProperties, "Properties", `ITEM\s+2[.\s]+PROPERTIES`),
		pat(models.SectionLegalProceedings, "Legal Proceedings", `ITEM\s+3[.\s]+LEGAL\s+PROCEEDINGS`),
		pat(models.SectionSelectedFinancial, "Selected Financial Data", `ITEM\s+6[.\s]+SELECTED\s+FINANCIAL`),
		pat(models.SectionMDA, "Management's Discussion and Analysis", `ITEM\s+7[.\s]+MANAGEMENT'?S\s+DISCUSSION`),
		pat(models.SectionFinancials, "Financial Statements", `ITEM\s+8[.\s]+FINANCIAL\s+STATEMENTS`),
		pat(models.SectionControls, "Controls and Procedures", `ITEM\s+9A[.\s]+CONTROLS\s+AND\s+PROCEDURES`),
	},
	models.Form10Q: {
		pat(models.SectionFinancials, "Financial Statements", `ITEM\s+1[.\s]+FINANCIAL\s+STATEMENTS`),
		pat(models.SectionLegalProceedings, "Legal Proceedings", `ITEM\s+1[.\s]+LEGAL\s+PROCEEDINGS`),
		pat(models.SectionMDA, "Management's Discussion and Analysis", `ITEM\s+2[.\s]+MANAGEMENT'?S\s+DISCUSSION`),
		pat(models.SectionControls, "Controls and Procedures", `ITEM\s+4[.\s]+CONTROLS\s+AND\s+PROCEDURES`),
	},
	models.Form8K: {
		pat(models.SectionFinancials, "Financial Statements and Exhibits", `ITEM\s+9\.01[.\s]+FINANCIAL\s+STATEMENTS`),
		pat(models.SectionExhibits, "Exhibits", `ITEM\s+9\.01[.\s]+EXHIBITS`),
		pat(models.SectionTriggeringEvents, "Triggering Events", `ITEM\s+[1-9][.\s]`),
	},
}

// Service implements the ExtractService interface
type Service struct {
	logger   *common.Logger
	patterns map[string][]sectionPattern
}

// NewService creates a section extractor
func NewService(logger *common.Logger) *Service {
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	return &Service{
		logger:   logger,
		patterns: formPatterns,
	}
}

// ExtractSections splits the text into ordered sections for the form type.
// Known forms drop text before the first header; unknown forms keep it as
// a preamble and promote uppercase heading lines heuristically.
func (s *Service) ExtractSections(formType, text string) []models.Section {
	patterns, known := s.patterns[strings.ToUpper(formType)]
	lines := strings.Split(text, "\n")

	var sections []models.Section
	var open *models.Section

	closeOpen := func(end int) {
		if open == nil {
			return
		}
		if open.LineStart < 0 && end < 0 {
			open = nil // header on the very first line, no preamble content
			return
		}
		open.LineEnd = end
		open.Content = strings.TrimRight(strings.Join(lines[open.LineStart+1:end+1], "\n"), "\n")
		sections = append(sections, *open)
		open = nil
	}

	if !known {
		// Unknown forms start with an implicit preamble.
		open = &models.Section{
			Type:      models.SectionPreamble,
			Name:      "Preamble",
			Order:     0,
			LineStart: -1,
		}
	}

	for i, line := range lines {
		var tag, name string
		if known {
			tag, name = matchHeader(patterns, line)
		} else if isHeuristicHeader(lines, i) {
			tag, name = models.SectionPreamble, strings.TrimSpace(line)
			tag = headerTag(name)
		}
		if tag == "" {
			continue
		}

		closeOpen(i - 1)
		open = &models.Section{
			Type:      tag,
			Name:      name,
			Order:     len(sections),
			LineStart: i,
		}
	}
	closeOpen(len(lines) - 1)

	// Fix preamble bounds: it owns everything before the first header.
	for i := range sections {
		if sections[i].LineStart < 0 {
			sections[i].LineStart = 0
			sections[i].Content = strings.TrimRight(strings.Join(lines[0:sections[i].LineEnd+1], "\n"), "\n")
		}
		sections[i].Order = i
	}

	s.logger.Debug().
		Str("form_type", formType).
		Int("sections", len(sections)).
		Msg("Extracted sections")

	return sections
}

// matchHeader returns the first pattern matching the line, in declaration order.
func matchHeader(patterns []sectionPattern, line string) (string, string) {
	for _, p := range patterns {
		if p.Pattern.MatchString(line) {
			return p.Tag, p.Name
		}
	}
	return "", ""
}

// headerTag derives a stable tag from a heuristic header's text.
func headerTag(name string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(name) {
		switch {
		case r >= 'A' && r <= 'Z' || r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			b.WriteByte('_')
		}
	}
	return strings.Trim(b.String(), "_")
}

// isHeuristicHeader promotes a line to section header for unknown forms:
// non-empty, short, mostly uppercase, and followed within three non-empty
// lines by ordinary prose.
func isHeuristicHeader(lines []string, i int) bool {
	line := strings.TrimSpace(lines[i])
	if line == "" || len(line) > 200 {
		return false
	}
	if upperRatio(line) < 0.7 {
		return false
	}

	seen := 0
	for j := i + 1; j < len(lines) && seen < 3; j++ {
		next := strings.TrimSpace(lines[j])
		if next == "" {
			continue
		}
		seen++
		if upperRatio(next) < 0.5 && len(next) > 10 {
			return true
		}
	}
	return false
}

// upperRatio is the share of uppercase letters among letters in the line.
func upperRatio(line string) float64 {
	letters, upper := 0, 0
	for _, r := range line {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}
	if letters == 0 {
		return 0
	}
	return float64(upper) / float64(letters)
}

// Ensure Service implements ExtractService
var _ interfaces.ExtractService = (*Service)(nil)
