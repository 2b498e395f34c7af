// Package diffengine compares two filings section by section
package diffengine

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/bobmcallan/filingwatch/internal/interfaces"
	"github.com/bobmcallan/filingwatch/internal/models"
)

const (
	contextChars    = 200
	maxKeyChanges   = 5
	keyChangeFloor  = 0.6
	summaryKeywords = 3
)

// Service implements the DiffService interface. Pure: the only dependency
// is the analyzer, itself a pure function of its inputs.
type Service struct {
	analyzer interfaces.AnalyzeService
}

// NewService creates a diff engine backed by the given analyzer
func NewService(analyzer interfaces.AnalyzeService) *Service {
	return &Service{analyzer: analyzer}
}

// CompareFilings aligns current sections against previous and produces a
// scored comparison. Deterministic: identical inputs yield identical
// output, including ordering.
func (s *Service) CompareFilings(current, previous *models.Filing, currentSections, previousSections []models.Section) *models.Comparison {
	comparison := &models.Comparison{}

	prevIndex := indexSections(previousSections)
	currIndex := indexSections(currentSections)

	// Current sections first, in document order.
	for i, sec := range currentSections {
		key := sectionKey(currentSections, i)
		prev, existed := prevIndex[key]

		var sc models.SectionComparison
		switch {
		case !existed:
			sc = s.compareOne(sec.Type, sec.Name, models.ChangeAddition, "", sec.Content)
			comparison.AddedSections++
		case prev.Content == sec.Content:
			sc = s.compareOne(sec.Type, sec.Name, models.ChangeUnchanged, prev.Content, sec.Content)
		default:
			sc = s.compareOne(sec.Type, sec.Name, models.ChangeModification, prev.Content, sec.Content)
			sc.Changes = wordChanges(prev.Content, sec.Content)
			comparison.ChangedSections++
		}
		sc.LineNumber = sec.LineStart
		comparison.Sections = append(comparison.Sections, sc)
	}

	// Then deletions, in the previous filing's document order.
	for i, sec := range previousSections {
		key := sectionKey(previousSections, i)
		if _, still := currIndex[key]; still {
			continue
		}
		sc := s.compareOne(sec.Type, sec.Name, models.ChangeDeletion, sec.Content, "")
		sc.LineNumber = sec.LineStart
		comparison.Sections = append(comparison.Sections, sc)
		comparison.RemovedSections++
		comparison.ChangedSections++
	}

	s.aggregate(comparison)
	return comparison
}

// compareOne scores a single section-level change and builds its summary.
func (s *Service) compareOne(sectionType, name, changeType, oldContent, newContent string) models.SectionComparison {
	result := s.analyzer.ScoreChange(sectionType, changeType, oldContent, newContent)

	sc := models.SectionComparison{
		Section:         sectionType,
		SectionName:     name,
		ChangeType:      changeType,
		Score:           result.Score,
		Significance:    result.Significance,
		Reasoning:       result.Reasoning,
		MatchedKeywords: result.MatchedKeywords,
		OldContent:      oldContent,
		NewContent:      newContent,
	}
	sc.Summary = sectionSummary(sc)
	return sc
}

// sectionSummary is a one-line human description of the section change.
func sectionSummary(sc models.SectionComparison) string {
	var b strings.Builder

	switch sc.ChangeType {
	case models.ChangeAddition:
		fmt.Fprintf(&b, "%s: new section", sc.SectionName)
	case models.ChangeDeletion:
		fmt.Fprintf(&b, "%s: section removed", sc.SectionName)
	case models.ChangeModification:
		fmt.Fprintf(&b, "%s: modified", sc.SectionName)
		if n := len(sc.Changes); n > 0 {
			fmt.Fprintf(&b, " (%d change(s))", n)
		}
	default:
		fmt.Fprintf(&b, "%s: unchanged", sc.SectionName)
		return b.String()
	}

	fmt.Fprintf(&b, " [%s]", sc.Significance)

	if len(sc.MatchedKeywords) > 0 {
		kws := sc.MatchedKeywords
		if len(kws) > summaryKeywords {
			kws = kws[:summaryKeywords]
		}
		fmt.Fprintf(&b, " keywords: %s", strings.Join(kws, ", "))
	}

	return b.String()
}

// aggregate fills the comparison-level counters and rollups.
func (s *Service) aggregate(c *models.Comparison) {
	c.TotalSections = len(c.Sections)
	if c.TotalSections == 0 {
		c.ImpactAssessment = models.ImpactLow
		return
	}

	var sum float64
	type scored struct {
		summary string
		score   float64
	}
	var candidates []scored

	for _, sc := range c.Sections {
		sum += sc.Score
		if sc.Score >= 0.7 {
			c.MaterialChanges++
		}
		if sc.Score >= keyChangeFloor && sc.ChangeType != models.ChangeUnchanged {
			candidates = append(candidates, scored{summary: sc.Summary, score: sc.Score})
		}
	}

	c.OverallMaterialityScore = math.Round(sum/float64(c.TotalSections)*100) / 100
	c.ImpactAssessment = models.ImpactFor(c.OverallMaterialityScore)

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	if len(candidates) > maxKeyChanges {
		candidates = candidates[:maxKeyChanges]
	}
	for _, cand := range candidates {
		c.KeyChanges = append(c.KeyChanges, cand.summary)
	}
}

// sectionKey aligns sections across filings. Canonical tags align by type;
// repeated tags (8-K item sequences) and heuristic tags align by occurrence
// and normalized name.
func sectionKey(sections []models.Section, i int) string {
	sec := sections[i]
	occurrence := 0
	for j := 0; j < i; j++ {
		if sections[j].Type == sec.Type {
			occurrence++
		}
	}
	if occurrence == 0 && sec.Type != models.SectionPreamble {
		return sec.Type
	}
	return fmt.Sprintf("%s#%d:%s", sec.Type, occurrence, normalizeName(sec.Name))
}

func normalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

func indexSections(sections []models.Section) map[string]models.Section {
	idx := make(map[string]models.Section, len(sections))
	for i := range sections {
		idx[sectionKey(sections, i)] = sections[i]
	}
	return idx
}

// wordChanges computes word-level hunks for a modified section. Adjacent
// insert/delete pairs merge into one modification hunk; each hunk carries
// up to 200 chars of surrounding context.
func wordChanges(oldContent, newContent string) []models.Change {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(oldContent, newContent, false)
	diffs = dmp.DiffCleanupSemantic(diffs)

	var changes []models.Change
	position := 0 // rune offset into the new content

	for i := 0; i < len(diffs); i++ {
		d := diffs[i]
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			position += len([]rune(d.Text))

		case diffmatchpatch.DiffDelete:
			change := models.Change{
				ChangeType: models.ChangeDeletion,
				OldText:    d.Text,
				Context:    hunkContext(diffs, i),
				Position:   position,
			}
			// A delete followed by an insert is one modification.
			if i+1 < len(diffs) && diffs[i+1].Type == diffmatchpatch.DiffInsert {
				change.ChangeType = models.ChangeModification
				change.NewText = diffs[i+1].Text
				position += len([]rune(diffs[i+1].Text))
				i++
			}
			changes = append(changes, change)

		case diffmatchpatch.DiffInsert:
			changes = append(changes, models.Change{
				ChangeType: models.ChangeAddition,
				NewText:    d.Text,
				Context:    hunkContext(diffs, i),
				Position:   position,
			})
			position += len([]rune(d.Text))
		}
	}

	return changes
}

// hunkContext joins the equal text around a hunk, trimmed to the context
// budget on each side.
func hunkContext(diffs []diffmatchpatch.Diff, i int) string {
	half := contextChars / 2

	var before, after string
	for j := i - 1; j >= 0; j-- {
		if diffs[j].Type == diffmatchpatch.DiffEqual {
			before = diffs[j].Text
			break
		}
	}
	for j := i + 1; j < len(diffs); j++ {
		if diffs[j].Type == diffmatchpatch.DiffEqual {
			after = diffs[j].Text
			break
		}
	}

	if r := []rune(before); len(r) > half {
		before = string(r[len(r)-half:])
	}
	if r := []rune(after); len(r) > half {
		after = string(r[:half])
	}

	return strings.TrimSpace(before + "…" + after)
}

// Ensure Service implements DiffService
var _ interfaces.DiffService = (*Service)(nil)
