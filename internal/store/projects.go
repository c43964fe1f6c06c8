package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"folio/api/internal/scope"
)

const projectColumns = `id, organization_id, department_id, name, description, budget, resource_days, tags, start_date, end_date, status, score, created_by, created_at, updated_at`

func scanProject(row interface{ Scan(...any) error }) (Project, error) {
	var p Project
	var tags []byte
	err := row.Scan(&p.ID, &p.OrganizationID, &p.DepartmentID, &p.Name, &p.Description, &p.Budget, &p.ResourceDays, &tags,
		&p.StartDate, &p.EndDate, &p.Status, &p.Score, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Project{}, err
	}
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &p.Tags); err != nil {
			return Project{}, fmt.Errorf("decode project tags: %w", err)
		}
	}
	return p, nil
}

func encodeTags(tags []string) ([]byte, error) {
	if tags == nil {
		tags = []string{}
	}
	encoded, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("encode project tags: %w", err)
	}
	return encoded, nil
}

func (s *PostgresStore) ListProjects(ctx context.Context, p scope.Principal, extra scope.Filter) ([]Project, error) {
	f := scope.Apply(p, scope.EntityProject, scope.OpFind, extra)
	where, args := f.SQL(1)
	query := `SELECT ` + projectColumns + ` FROM projects`
	if where != "" {
		query += " WHERE " + where
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	items := make([]Project, 0)
	for rows.Next() {
		item, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) CountProjects(ctx context.Context, p scope.Principal) (int, error) {
	f := scope.Apply(p, scope.EntityProject, scope.OpCount, nil)
	where, args := f.SQL(1)
	query := `SELECT COUNT(*) FROM projects`
	if where != "" {
		query += " WHERE " + where
	}

	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count projects: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) GetProject(ctx context.Context, p scope.Principal, projectID string) (Project, error) {
	f := scope.Apply(p, scope.EntityProject, scope.OpFind, scope.Filter{"id": projectID})
	where, args := f.SQL(1)
	return scanProject(s.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE `+where, args...))
}

func (s *PostgresStore) InsertProject(ctx context.Context, p scope.Principal, project Project) error {
	tags, err := encodeTags(project.Tags)
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projects (id, organization_id, department_id, name, description, budget, resource_days, tags, start_date, end_date, status, created_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`, project.ID, project.OrganizationID, project.DepartmentID, project.Name, project.Description, project.Budget,
			project.ResourceDays, tags, project.StartDate, project.EndDate, project.Status, project.CreatedBy); err != nil {
			return fmt.Errorf("insert project: %w", err)
		}
		return insertAudit(ctx, tx, p, AuditCreate, scope.EntityProject, project.ID)
	})
}

func (s *PostgresStore) UpdateProject(ctx context.Context, p scope.Principal, project Project) error {
	tags, err := encodeTags(project.Tags)
	if err != nil {
		return err
	}
	f := scope.Apply(p, scope.EntityProject, scope.OpUpdate, scope.Filter{"id": project.ID})
	where, args := f.SQL(8)

	return s.withTx(ctx, func(tx *sql.Tx) error {
		fixed := []any{project.Name, project.Description, project.Budget, project.ResourceDays, tags, project.StartDate, project.EndDate}
		result, err := tx.ExecContext(ctx, `
			UPDATE projects
			SET name=$1, description=$2, budget=$3, resource_days=$4, tags=$5, start_date=$6, end_date=$7,
			    status=$`+fmt.Sprint(8+len(args))+`, department_id=$`+fmt.Sprint(9+len(args))+`, updated_at=NOW()
			WHERE `+where, append(append(fixed, args...), project.Status, project.DepartmentID)...)
		if err != nil {
			return fmt.Errorf("update project: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("update project rows: %w", err)
		}
		if affected == 0 {
			return sql.ErrNoRows
		}
		return insertAudit(ctx, tx, p, AuditUpdate, scope.EntityProject, project.ID)
	})
}

func (s *PostgresStore) DeleteProject(ctx context.Context, p scope.Principal, projectID string) error {
	f := scope.Apply(p, scope.EntityProject, scope.OpDelete, scope.Filter{"id": projectID})
	where, args := f.SQL(1)

	return s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE `+where, args...)
		if err != nil {
			return fmt.Errorf("delete project: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("delete project rows: %w", err)
		}
		if affected == 0 {
			return sql.ErrNoRows
		}
		return insertAudit(ctx, tx, p, AuditDelete, scope.EntityProject, projectID)
	})
}

// SetProjectScore is the narrow cached-score write-back. It bypasses the
// general update path on purpose and writes no audit entry: the score is a
// derived value, not a user mutation.
func (s *PostgresStore) SetProjectScore(ctx context.Context, p scope.Principal, projectID string, score float64) error {
	f := scope.Apply(p, scope.EntityProject, scope.OpUpdate, scope.Filter{"id": projectID})
	where, args := f.SQL(2)

	result, err := s.db.ExecContext(ctx, `UPDATE projects SET score=$1, updated_at=NOW() WHERE `+where, append([]any{score}, args...)...)
	if err != nil {
		return fmt.Errorf("set project score: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set project score rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
