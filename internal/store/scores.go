package store

import (
	"context"
	"database/sql"
	"fmt"

	"folio/api/internal/scope"
)

// UpsertSelfScore writes a project owner's self-assessment for one
// criterion. The (project, criterion, version) triple is unique at the
// storage layer, so concurrent upserts collapse into one atomic conditional
// write instead of a racy existence check. Returns the persisted row id,
// which is the existing row's id when the write resolved to an update, and
// whether a new row was created.
func (s *PostgresStore) UpsertSelfScore(ctx context.Context, p scope.Principal, score ProjectCriteriaScore) (string, bool, error) {
	var id string
	var created bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		// xmax = 0 distinguishes a fresh insert from a conflict update.
		err := tx.QueryRowContext(ctx, `
			INSERT INTO project_criteria_scores (id, project_id, criterion_id, version_id, score, comment, scored_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (project_id, criterion_id, version_id)
			DO UPDATE SET score=EXCLUDED.score, comment=EXCLUDED.comment, scored_by=EXCLUDED.scored_by, updated_at=NOW()
			RETURNING id, (xmax = 0)
		`, score.ID, score.ProjectID, score.CriterionID, score.VersionID, score.Score, score.Comment, score.ScoredBy).Scan(&id, &created)
		if err != nil {
			return fmt.Errorf("upsert self score: %w", err)
		}
		action := AuditUpdate
		if created {
			action = AuditCreate
		}
		return insertAudit(ctx, tx, p, action, scope.EntitySelfScore, score.ProjectID+":"+score.CriterionID)
	})
	if err != nil {
		return "", false, err
	}
	return id, created, nil
}

// ListSelfScores returns a project's self-assessment rows for one version.
// The score table carries no organization column; callers resolve the
// project through a scoped lookup first.
func (s *PostgresStore) ListSelfScores(ctx context.Context, p scope.Principal, projectID, versionID string) ([]ProjectCriteriaScore, error) {
	f := scope.Apply(p, scope.EntitySelfScore, scope.OpFind, scope.Filter{"project_id": projectID, "version_id": versionID})
	where, args := f.SQL(1)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, criterion_id, version_id, score, comment, scored_by, created_at, updated_at
		FROM project_criteria_scores
		WHERE `+where+`
		ORDER BY created_at
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("list self scores: %w", err)
	}
	defer rows.Close()

	items := make([]ProjectCriteriaScore, 0)
	for rows.Next() {
		var item ProjectCriteriaScore
		if err := rows.Scan(&item.ID, &item.ProjectID, &item.CriterionID, &item.VersionID, &item.Score, &item.Comment, &item.ScoredBy, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan self score: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate self scores: %w", err)
	}
	return items, nil
}

// UpsertCommitteeScore writes one reviewer's rating, keyed by the unique
// (project, criterion, session, reviewer) quadruple. Returns the persisted
// row id and whether a new row was created.
func (s *PostgresStore) UpsertCommitteeScore(ctx context.Context, p scope.Principal, score CommitteeScore) (string, bool, error) {
	var id string
	var created bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			INSERT INTO committee_scores (id, project_id, criterion_id, session_id, user_id, score, comment)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (project_id, criterion_id, session_id, user_id)
			DO UPDATE SET score=EXCLUDED.score, comment=EXCLUDED.comment, updated_at=NOW()
			RETURNING id, (xmax = 0)
		`, score.ID, score.ProjectID, score.CriterionID, score.SessionID, score.UserID, score.Score, score.Comment).Scan(&id, &created)
		if err != nil {
			return fmt.Errorf("upsert committee score: %w", err)
		}
		action := AuditUpdate
		if created {
			action = AuditCreate
		}
		return insertAudit(ctx, tx, p, action, scope.EntityCommitteeScore, score.ProjectID+":"+score.CriterionID)
	})
	if err != nil {
		return "", false, err
	}
	return id, created, nil
}

func (s *PostgresStore) ListCommitteeScores(ctx context.Context, p scope.Principal, sessionID string) ([]CommitteeScore, error) {
	f := scope.Apply(p, scope.EntityCommitteeScore, scope.OpFind, scope.Filter{"session_id": sessionID})
	where, args := f.SQL(1)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, criterion_id, session_id, user_id, score, comment, created_at, updated_at
		FROM committee_scores
		WHERE `+where+`
		ORDER BY created_at
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("list committee scores: %w", err)
	}
	defer rows.Close()

	items := make([]CommitteeScore, 0)
	for rows.Next() {
		var item CommitteeScore
		if err := rows.Scan(&item.ID, &item.ProjectID, &item.CriterionID, &item.SessionID, &item.UserID, &item.Score, &item.Comment, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan committee score: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate committee scores: %w", err)
	}
	return items, nil
}

// CommitteeScoredCounts returns, per reviewer, how many scores they have
// entered for the session.
func (s *PostgresStore) CommitteeScoredCounts(ctx context.Context, sessionID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, COUNT(*)
		FROM committee_scores
		WHERE session_id=$1
		GROUP BY user_id
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("committee scored counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var userID string
		var count int
		if err := rows.Scan(&userID, &count); err != nil {
			return nil, fmt.Errorf("scan scored count: %w", err)
		}
		counts[userID] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scored counts: %w", err)
	}
	return counts, nil
}

const sessionColumns = `id, organization_id, version_id, name, status, starts_at, ends_at, created_at`

func scanSession(row interface{ Scan(...any) error }) (ReviewSession, error) {
	var rs ReviewSession
	err := row.Scan(&rs.ID, &rs.OrganizationID, &rs.VersionID, &rs.Name, &rs.Status, &rs.StartsAt, &rs.EndsAt, &rs.CreatedAt)
	return rs, err
}

func (s *PostgresStore) InsertReviewSession(ctx context.Context, p scope.Principal, session ReviewSession) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO review_sessions (id, organization_id, version_id, name, status, starts_at, ends_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, session.ID, session.OrganizationID, session.VersionID, session.Name, session.Status, session.StartsAt, session.EndsAt); err != nil {
			return fmt.Errorf("insert review session: %w", err)
		}
		return insertAudit(ctx, tx, p, AuditCreate, scope.EntityReviewSession, session.ID)
	})
}

func (s *PostgresStore) ListReviewSessions(ctx context.Context, p scope.Principal) ([]ReviewSession, error) {
	f := scope.Apply(p, scope.EntityReviewSession, scope.OpFind, nil)
	where, args := f.SQL(1)
	query := `SELECT ` + sessionColumns + ` FROM review_sessions`
	if where != "" {
		query += " WHERE " + where
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list review sessions: %w", err)
	}
	defer rows.Close()

	items := make([]ReviewSession, 0)
	for rows.Next() {
		item, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan review session: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate review sessions: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetReviewSession(ctx context.Context, p scope.Principal, sessionID string) (ReviewSession, error) {
	f := scope.Apply(p, scope.EntityReviewSession, scope.OpFind, scope.Filter{"id": sessionID})
	where, args := f.SQL(1)
	return scanSession(s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM review_sessions WHERE `+where, args...))
}
