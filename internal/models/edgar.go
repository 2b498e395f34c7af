package models

// CompanyInfo is the company header from the EDGAR submissions endpoint.
type CompanyInfo struct {
	CIK            string   `json:"cik"`
	Name           string   `json:"name"`
	SIC            string   `json:"sic"`
	SICDescription string   `json:"sic_description"`
	Tickers        []string `json:"tickers,omitempty"`
	Exchanges      []string `json:"exchanges,omitempty"`
}

// PrimaryTicker returns the first listed ticker, or "".
func (c *CompanyInfo) PrimaryTicker() string {
	if len(c.Tickers) > 0 {
		return c.Tickers[0]
	}
	return ""
}

// FilingDocument is one row of a filing's index page.
type FilingDocument struct {
	Sequence    string `json:"sequence"`
	Description string `json:"description"`
	DocType     string `json:"doc_type"`
	Filename    string `json:"filename"`
	URL         string `json:"url"`
}

// FilingContent is a fetched filing body plus its index listing.
type FilingContent struct {
	Documents   []FilingDocument `json:"documents"`
	PrimaryURL  string           `json:"primary_url"`
	PrimaryText string           `json:"primary_text"`
}
