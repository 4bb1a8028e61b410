// Package search provides full-text search over decision items and feedback
// records, backed by Meilisearch with a PostgreSQL FTS fallback.
package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultItem     ResultType = "item"
	ResultFeedback ResultType = "feedback"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type           ResultType `json:"type"`
	ID             string     `json:"id"`
	Title          string     `json:"title"`
	Snippet        string     `json:"snippet"`
	VersionID      string     `json:"versionId"`
	PhaseContextID string     `json:"phaseContextId"`
}

// Query describes a search request.
type Query struct {
	Text            string
	FilterType      ResultType // empty = all types
	FilterContextID string
	Limit           int
	Offset          int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// ItemRecord is the data we index for a decision item.
type ItemRecord struct {
	ID                string `json:"id"`
	Label             string `json:"label"`
	PreparerRationale string `json:"preparerRationale"`
	ApproverNotes     string `json:"approverNotes"`
	VersionID         string `json:"versionId"`
	PhaseContextID    string `json:"phaseContextId"`
	Status            string `json:"status"`
}

// FeedbackSearchRecord is the data we index for a feedback record.
type FeedbackSearchRecord struct {
	ID             string `json:"id"`
	Remarks        string `json:"remarks"`
	ChangeType     string `json:"changeType"`
	VersionID      string `json:"versionId"`
	PhaseContextID string `json:"phaseContextId"`
}
