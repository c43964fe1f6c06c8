package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS searches projects with PostgreSQL full-text search as a fallback
// when Meilisearch is unavailable.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true — if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search matches projects with plainto_tsquery over name and description,
// scoped to the caller's organization (and department, when supplied).
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" || q.OrganizationID == "" {
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

	where := `pr.organization_id = $2
		AND to_tsvector('english', pr.name || ' ' || pr.description) @@ plainto_tsquery('english', $1)`
	args := []any{q.Text, q.OrganizationID}
	if q.DepartmentID != "" {
		where += ` AND pr.department_id = $3`
		args = append(args, q.DepartmentID)
	}

	query := fmt.Sprintf(`
		SELECT pr.id, pr.name,
			ts_headline('english', coalesce(pr.description, ''), plainto_tsquery('english', $1), 'MaxFragments=1,MaxWords=30') AS snippet,
			pr.status, coalesce(pr.department_id, ''),
			COUNT(*) OVER () AS total
		FROM projects pr
		WHERE %s
		ORDER BY ts_rank(to_tsvector('english', pr.name || ' ' || pr.description), plainto_tsquery('english', $1)) DESC
		LIMIT %d OFFSET %d
	`, where, limit, offset)

	rows, err := p.db.Query(query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts search: %w", err)
	}
	defer rows.Close()

	var results []Result
	total := 0
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Name, &r.Snippet, &r.Status, &r.DepartmentID, &total); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("pgfts iterate: %w", err)
	}
	return results, total, nil
}

// LoadProjectRecords reads every project row into index records for a full
// Meilisearch reindex.
func (p *PgFTS) LoadProjectRecords(ctx context.Context) ([]ProjectRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, organization_id, coalesce(department_id, ''), name, coalesce(description, ''), status
		FROM projects
	`)
	if err != nil {
		return nil, fmt.Errorf("load project records: %w", err)
	}
	defer rows.Close()

	var records []ProjectRecord
	for rows.Next() {
		var r ProjectRecord
		if err := rows.Scan(&r.ID, &r.OrganizationID, &r.DepartmentID, &r.Name, &r.Description, &r.Status); err != nil {
			return nil, fmt.Errorf("scan project record: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate project records: %w", err)
	}
	return records, nil
}
