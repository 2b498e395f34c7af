package models

// Change type constants for section-level and hunk-level diffs.
const (
	ChangeAddition     = "ADDITION"
	ChangeDeletion     = "DELETION"
	ChangeModification = "MODIFICATION"
	ChangeUnchanged    = "UNCHANGED"
)

// Significance buckets for human display.
const (
	SignificanceHigh   = "HIGH"
	SignificanceMedium = "MEDIUM"
	SignificanceLow    = "LOW"
)

// Impact assessment labels for a whole comparison.
const (
	ImpactLow    = "Low"
	ImpactMedium = "Medium"
	ImpactHigh   = "High"
)

// Diff is one scored per-section change between a filing and its previous
// comparable filing. Exists only when a prior filing existed.
type Diff struct {
	ID               string  `json:"id"`
	FilingID         string  `json:"filing_id"`
	PreviousFilingID string  `json:"previous_filing_id"`
	Section          string  `json:"section"` // canonical tag
	ChangeType       string  `json:"change_type"`
	Summary          string  `json:"summary"`
	Impact           string  `json:"impact"`
	MaterialityScore float64 `json:"materiality_score"` // [0,1], two decimals
	BeforeText       string  `json:"before_text,omitempty"`
	AfterText        string  `json:"after_text,omitempty"`
	LineNumber       int     `json:"line_number,omitempty"`
}

// Change is one word-level hunk inside a modified section.
type Change struct {
	ChangeType string `json:"change_type"`
	OldText    string `json:"old_text,omitempty"`
	NewText    string `json:"new_text,omitempty"`
	Context    string `json:"context"` // ≤200 chars surrounding the hunk
	Position   int    `json:"position"`
}

// SectionComparison is the diff engine's verdict on one section.
type SectionComparison struct {
	Section         string   `json:"section"`
	SectionName     string   `json:"section_name"`
	ChangeType      string   `json:"change_type"`
	Score           float64  `json:"score"`
	Significance    string   `json:"significance"`
	Summary         string   `json:"summary"`
	Reasoning       string   `json:"reasoning"`
	MatchedKeywords []string `json:"matched_keywords,omitempty"`
	Changes         []Change `json:"changes,omitempty"`
	OldContent      string   `json:"old_content,omitempty"`
	NewContent      string   `json:"new_content,omitempty"`
	LineNumber      int      `json:"line_number,omitempty"`
}

// Comparison aggregates a full filing-to-filing diff.
type Comparison struct {
	TotalSections           int                 `json:"total_sections"`
	ChangedSections         int                 `json:"changed_sections"`
	AddedSections           int                 `json:"added_sections"`
	RemovedSections         int                 `json:"removed_sections"`
	MaterialChanges         int                 `json:"material_changes"`
	OverallMaterialityScore float64             `json:"overall_materiality_score"`
	ImpactAssessment        string              `json:"impact_assessment"`
	KeyChanges              []string            `json:"key_changes,omitempty"`
	Sections                []SectionComparison `json:"sections"`
}

// SignificanceFor buckets a materiality score for display.
func SignificanceFor(score float64) string {
	switch {
	case score >= 0.7:
		return SignificanceHigh
	case score >= 0.4:
		return SignificanceMedium
	default:
		return SignificanceLow
	}
}

// ImpactFor labels an overall comparison score.
func ImpactFor(score float64) string {
	switch {
	case score >= 0.7:
		return ImpactHigh
	case score >= 0.4:
		return ImpactMedium
	default:
		return ImpactLow
	}
}
