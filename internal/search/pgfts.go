package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true: without Postgres nothing else works either.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search ranks forms by their own text and the best matching question, one
// row per form.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf(`
		WITH query AS (SELECT plainto_tsquery('english', $1) AS q),
		matches AS (
			SELECT f.id, f.title, f.owner_id, f.is_published, f.description AS body,
				ts_rank(f.fts, query.q) AS rank
			FROM forms f, query
			WHERE f.fts @@ query.q AND ($2 = '' OR f.owner_id = $2)
			UNION ALL
			SELECT f.id, f.title, f.owner_id, f.is_published, qs.text AS body,
				ts_rank(qs.fts, query.q) AS rank
			FROM questions qs
			JOIN forms f ON f.id = qs.form_id
			CROSS JOIN query
			WHERE qs.fts @@ query.q AND ($2 = '' OR f.owner_id = $2)
		),
		best AS (
			SELECT DISTINCT ON (m.id) m.id, m.title, m.owner_id, m.is_published,
				ts_headline('english', m.body, query.q, 'MaxFragments=1,MaxWords=30') AS snippet,
				m.rank
			FROM matches m, query
			ORDER BY m.id, m.rank DESC
		)
		SELECT id, title, snippet, owner_id, is_published, COUNT(*) OVER () AS total
		FROM best
		ORDER BY rank DESC, id
		LIMIT %d OFFSET %d`, limitOrDefault(q.Limit), offset)

	rows, err := p.db.QueryContext(ctx, query, q.Text, q.OwnerID)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	total := 0
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Title, &r.Snippet, &r.OwnerID, &r.IsPublished, &total); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns every form as an index record for a full reindex.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]FormRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT f.id, f.title, f.description, f.owner_id, f.is_published,
			COALESCE((SELECT string_agg(q.text, E'\n' ORDER BY q.ordinal) FROM questions q WHERE q.form_id = f.id), ''),
			COALESCE((SELECT string_agg(o.label, E'\n' ORDER BY q.ordinal, o.ordinal)
				FROM options o JOIN questions q ON q.id = o.question_id WHERE q.form_id = f.id), '')
		FROM forms f
		ORDER BY f.id
	`)
	if err != nil {
		return nil, fmt.Errorf("load forms: %w", err)
	}
	defer rows.Close()

	records := make([]FormRecord, 0)
	for rows.Next() {
		var record FormRecord
		var questions, options string
		if err := rows.Scan(&record.ID, &record.Title, &record.Description, &record.OwnerID, &record.IsPublished, &questions, &options); err != nil {
			return nil, fmt.Errorf("scan form record: %w", err)
		}
		record.Questions = splitLines(questions)
		record.Options = splitLines(options)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate form records: %w", err)
	}
	return records, nil
}

func splitLines(value string) []string {
	if value == "" {
		return []string{}
	}
	return strings.Split(value, "\n")
}
