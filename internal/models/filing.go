package models

import (
	"regexp"
	"strings"
	"time"
)

// Form type constants.
const (
	Form10K = "10-K"
	Form10Q = "10-Q"
	Form8K  = "8-K"
)

// Filing is one EDGAR submission for a company. Unique on (cik, accession_no).
// Immutable once processed, except for counters recomputed on forced reprocess.
type Filing struct {
	ID                string    `json:"id"`
	CompanyID         string    `json:"company_id"`
	CIK               string    `json:"cik"`
	AccessionNo       string    `json:"accession_no"` // dashed canonical form
	FormType          string    `json:"form_type"`
	FiledDate         time.Time `json:"filed_date"`
	ReportDate        time.Time `json:"report_date,omitempty"`
	URL               string    `json:"url"`
	RawContent        string    `json:"raw_content"`
	Summary           string    `json:"summary,omitempty"`
	KeyHighlights     []string  `json:"key_highlights,omitempty"`
	MaterialChanges   int       `json:"material_changes"`
	RiskFactorChanges int       `json:"risk_factor_changes"`
	BusinessChanges   int       `json:"business_changes"`
	IsProcessed       bool      `json:"is_processed"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// FilingMeta is the lightweight listing record returned by the EDGAR
// submissions endpoint, before any document body has been fetched.
type FilingMeta struct {
	CIK             string    `json:"cik"`
	AccessionNo     string    `json:"accession_no"`
	FormType        string    `json:"form_type"`
	FiledDate       time.Time `json:"filed_date"`
	ReportDate      time.Time `json:"report_date,omitempty"`
	PrimaryDocument string    `json:"primary_document,omitempty"`
	Description     string    `json:"description,omitempty"`
	URL             string    `json:"url"`
	Size            int       `json:"size,omitempty"`
}

// Section is a named slice of a filing's text, derived by the section
// extractor. Re-derived on reprocess; owned exclusively by its filing.
type Section struct {
	FilingID  string `json:"filing_id"`
	Type      string `json:"type"` // canonical tag, e.g. RISK_FACTORS
	Name      string `json:"name"`
	Order     int    `json:"order"`
	LineStart int    `json:"line_start"`
	LineEnd   int    `json:"line_end"`
	Content   string `json:"content"`
}

// Canonical section tags.
const (
	SectionBusiness          = "BUSINESS"
	SectionRiskFactors       = "RISK_FACTORS"
	SectionProperties        = "PROPERTIES"
	SectionLegalProceedings  = "LEGAL_PROCEEDINGS"
	SectionSelectedFinancial = "SELECTED_FINANCIAL"
	SectionMDA               = "MD_A"
	SectionFinancials        = "FINANCIAL_STATEMENTS"
	SectionControls          = "CONTROLS"
	SectionTriggeringEvents  = "TRIGGERING_EVENTS"
	SectionExhibits          = "EXHIBITS"
	SectionPreamble          = "PREAMBLE"
)

var cikDigits = regexp.MustCompile(`[^0-9]`)

// NormalizeCIK strips non-digits and zero-pads to 10 digits.
// Returns "" when nothing numeric remains.
func NormalizeCIK(cik string) string {
	digits := cikDigits.ReplaceAllString(cik, "")
	if digits == "" || len(digits) > 10 {
		return ""
	}
	return strings.Repeat("0", 10-len(digits)) + digits
}

// StripCIK returns the leading-zero-stripped CIK used in archive paths.
func StripCIK(cik string) string {
	stripped := strings.TrimLeft(NormalizeCIK(cik), "0")
	if stripped == "" {
		return "0"
	}
	return stripped
}

// NormalizeAccession returns the dashed canonical accession form
// NNNNNNNNNN-NN-NNNNNN. Returns "" for malformed input.
func NormalizeAccession(acc string) string {
	digits := cikDigits.ReplaceAllString(acc, "")
	if len(digits) != 18 {
		return ""
	}
	return digits[:10] + "-" + digits[10:12] + "-" + digits[12:]
}

// StripAccession removes dashes for archive paths.
func StripAccession(acc string) string {
	return strings.ReplaceAll(acc, "-", "")
}
