package models

// SearchResult represents a single search hit with its document and cosine score.
type SearchResult struct {
	Document *Document `json:"document"`
	Score    float64   `json:"score"`
	Rank     int       `json:"rank"`
	Slot     int       `json:"-"`
}

// SearchResponse is the response for a search request.
type SearchResponse struct {
	Results   []*SearchResult `json:"results"`
	Total     int             `json:"total"`
	QueryTime int64           `json:"query_time_ms"`
	Query     string          `json:"query"`
	BuildID   string          `json:"build_id,omitempty"`
	// Stale counts hits whose document no longer exists in the metadata store.
	Stale int `json:"stale,omitempty"`
}
