package models

// MaterialityResult is the analyzer's verdict on one section change.
type MaterialityResult struct {
	Score           float64  `json:"score"` // [0,1], two decimals
	Significance    string   `json:"significance"`
	MatchedKeywords []string `json:"matched_keywords,omitempty"` // capped at 10
	Reasoning       string   `json:"reasoning"`
}
