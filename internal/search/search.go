package search

import (
	"context"
	"strings"

	"formsync/api/internal/store"
)

// Result is a single search hit returned to the caller.
type Result struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Snippet     string `json:"snippet"`
	OwnerID     string `json:"ownerId"`
	IsPublished bool   `json:"isPublished"`
}

// Query describes a search request. An empty OwnerID searches every form.
type Query struct {
	Text    string
	OwnerID string
	Limit   int
	Offset  int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push forms into a search index.
type Indexer interface {
	IndexForms(records []FormRecord) error
	DeleteForm(id string) error
	Healthy() bool
}

// FormRecord is the data we index for a form. Question and option text is
// flattened so a match anywhere in the tree finds the form.
type FormRecord struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	OwnerID     string   `json:"ownerId"`
	IsPublished bool     `json:"isPublished"`
	Questions   []string `json:"questions"`
	Options     []string `json:"options"`
}

// RecordFromDetail flattens a stored form into its index record.
func RecordFromDetail(detail store.FormDetail) FormRecord {
	record := FormRecord{
		ID:          detail.ID,
		Title:       detail.Title,
		Description: detail.Description,
		OwnerID:     detail.OwnerID,
		IsPublished: detail.IsPublished,
		Questions:   make([]string, 0, len(detail.Questions)),
		Options:     []string{},
	}
	for _, q := range detail.Questions {
		record.Questions = append(record.Questions, q.Text)
		for _, o := range q.Options {
			record.Options = append(record.Options, o.Label)
		}
	}
	return record
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > 100 {
		return 100
	}
	return limit
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
