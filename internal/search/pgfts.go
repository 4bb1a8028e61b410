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

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across decision_items and
// feedback_records using plainto_tsquery and ts_rank, with ts_headline for
// snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultItem {
		itemWhere := "i.fts @@ " + tsQuery
		if q.FilterContextID != "" {
			itemWhere += fmt.Sprintf(" AND v.phase_context_id = $%d", argN)
			args = append(args, q.FilterContextID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'item'::text AS type, i.id, i.label AS title,
				ts_headline('english',
					coalesce(i.preparer_rationale, '') || ' ' || coalesce(i.approver_notes, ''),
					%s, 'MaxFragments=1,MaxWords=30') AS snippet,
				i.version_id, v.phase_context_id,
				ts_rank(i.fts, %s) AS rank
			FROM decision_items i
			JOIN review_versions v ON v.id = i.version_id
			WHERE %s`, tsQuery, tsQuery, itemWhere))
	}

	if q.FilterType == "" || q.FilterType == ResultFeedback {
		feedbackWhere := "f.fts @@ " + tsQuery
		if q.FilterContextID != "" {
			feedbackWhere += fmt.Sprintf(" AND v.phase_context_id = $%d", argN)
			args = append(args, q.FilterContextID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'feedback'::text AS type, f.id::text, f.requested_change_type AS title,
				ts_headline('english', coalesce(f.remarks, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				f.version_id, v.phase_context_id,
				ts_rank(f.fts, %s) AS rank
			FROM feedback_records f
			JOIN review_versions v ON v.id = f.version_id
			WHERE %s`, tsQuery, tsQuery, feedbackWhere))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, version_id, phase_context_id
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.VersionID, &r.PhaseContextID); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]ItemRecord, []FeedbackSearchRecord, error) {
	itemRows, err := p.db.QueryContext(ctx, `
		SELECT i.id, i.label, i.preparer_rationale, i.approver_notes, i.version_id, v.phase_context_id, v.status
		FROM decision_items i
		JOIN review_versions v ON v.id = i.version_id
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load items: %w", err)
	}
	defer itemRows.Close()

	items := make([]ItemRecord, 0)
	for itemRows.Next() {
		var record ItemRecord
		if err := itemRows.Scan(&record.ID, &record.Label, &record.PreparerRationale,
			&record.ApproverNotes, &record.VersionID, &record.PhaseContextID, &record.Status); err != nil {
			return nil, nil, fmt.Errorf("scan item record: %w", err)
		}
		items = append(items, record)
	}
	if err := itemRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate item records: %w", err)
	}

	feedbackRows, err := p.db.QueryContext(ctx, `
		SELECT f.id::text, f.remarks, f.requested_change_type, f.version_id, v.phase_context_id
		FROM feedback_records f
		JOIN review_versions v ON v.id = f.version_id
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load feedback: %w", err)
	}
	defer feedbackRows.Close()

	feedback := make([]FeedbackSearchRecord, 0)
	for feedbackRows.Next() {
		var record FeedbackSearchRecord
		if err := feedbackRows.Scan(&record.ID, &record.Remarks, &record.ChangeType,
			&record.VersionID, &record.PhaseContextID); err != nil {
			return nil, nil, fmt.Errorf("scan feedback record: %w", err)
		}
		feedback = append(feedback, record)
	}
	if err := feedbackRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate feedback records: %w", err)
	}

	return items, feedback, nil
}
