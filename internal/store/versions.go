package store

import (
	"context"
	"database/sql"
	"fmt"

	"folio/api/internal/scope"
)

const versionColumns = `id, organization_id, name, description, is_active, created_at, updated_at`

func scanVersion(row interface{ Scan(...any) error }) (CriteriaVersion, error) {
	var v CriteriaVersion
	err := row.Scan(&v.ID, &v.OrganizationID, &v.Name, &v.Description, &v.IsActive, &v.CreatedAt, &v.UpdatedAt)
	return v, err
}

func (s *PostgresStore) ListVersions(ctx context.Context, p scope.Principal) ([]CriteriaVersion, error) {
	f := scope.Apply(p, scope.EntityCriteriaVersion, scope.OpFind, nil)
	where, args := f.SQL(1)
	query := `SELECT ` + versionColumns + ` FROM criteria_versions`
	if where != "" {
		query += " WHERE " + where
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	items := make([]CriteriaVersion, 0)
	for rows.Next() {
		item, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate versions: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetVersion(ctx context.Context, p scope.Principal, versionID string) (CriteriaVersion, error) {
	f := scope.Apply(p, scope.EntityCriteriaVersion, scope.OpFind, scope.Filter{"id": versionID})
	where, args := f.SQL(1)
	return scanVersion(s.db.QueryRowContext(ctx, `SELECT `+versionColumns+` FROM criteria_versions WHERE `+where, args...))
}

// ActiveVersion returns the organization's single active version, or
// sql.ErrNoRows when none has been activated yet.
func (s *PostgresStore) ActiveVersion(ctx context.Context, p scope.Principal) (CriteriaVersion, error) {
	f := scope.Apply(p, scope.EntityCriteriaVersion, scope.OpFind, scope.Filter{"is_active": true})
	where, args := f.SQL(1)
	return scanVersion(s.db.QueryRowContext(ctx, `SELECT `+versionColumns+` FROM criteria_versions WHERE `+where, args...))
}

// InsertVersion creates a version; when activate is set (or the version is
// the organization's first), all siblings are deactivated in the same
// transaction.
func (s *PostgresStore) InsertVersion(ctx context.Context, p scope.Principal, v CriteriaVersion, activate bool) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var siblings int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM criteria_versions WHERE organization_id=$1`, p.OrganizationID).Scan(&siblings); err != nil {
			return fmt.Errorf("count versions: %w", err)
		}
		active := activate || siblings == 0
		if active {
			if _, err := tx.ExecContext(ctx, `UPDATE criteria_versions SET is_active=FALSE, updated_at=NOW() WHERE organization_id=$1 AND is_active`, p.OrganizationID); err != nil {
				return fmt.Errorf("deactivate versions: %w", err)
			}
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO criteria_versions (id, organization_id, name, description, is_active)
			VALUES ($1, $2, $3, $4, $5)
		`, v.ID, p.OrganizationID, v.Name, v.Description, active); err != nil {
			return fmt.Errorf("insert version: %w", err)
		}
		return insertAudit(ctx, tx, p, AuditCreate, scope.EntityCriteriaVersion, v.ID)
	})
}

// ActivateVersion makes versionID the organization's active version,
// deactivating all siblings in the same transaction. Returns sql.ErrNoRows
// if the version does not exist in the caller's scope.
func (s *PostgresStore) ActivateVersion(ctx context.Context, p scope.Principal, versionID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE criteria_versions SET is_active=FALSE, updated_at=NOW() WHERE organization_id=$1 AND is_active`, p.OrganizationID); err != nil {
			return fmt.Errorf("deactivate versions: %w", err)
		}

		f := scope.Apply(p, scope.EntityCriteriaVersion, scope.OpUpdate, scope.Filter{"id": versionID})
		where, args := f.SQL(1)
		result, err := tx.ExecContext(ctx, `UPDATE criteria_versions SET is_active=TRUE, updated_at=NOW() WHERE `+where, args...)
		if err != nil {
			return fmt.Errorf("activate version: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("activate version rows: %w", err)
		}
		if affected == 0 {
			return sql.ErrNoRows
		}
		return insertAudit(ctx, tx, p, AuditUpdate, scope.EntityCriteriaVersion, versionID)
	})
}

// DeleteVersion removes a version together with its criteria, comparisons
// and scores. Deleting the organization's only version is rejected with
// ErrOnlyVersion; deleting the active one promotes the oldest remaining
// sibling in the same transaction. The promoted version id is returned when
// a promotion happened.
func (s *PostgresStore) DeleteVersion(ctx context.Context, p scope.Principal, versionID string) (string, error) {
	var promoted string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		target, err := scanVersion(tx.QueryRowContext(ctx, `
			SELECT `+versionColumns+` FROM criteria_versions
			WHERE id=$1 AND organization_id=$2
			FOR UPDATE
		`, versionID, p.OrganizationID))
		if err != nil {
			return err
		}

		var siblings int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM criteria_versions WHERE organization_id=$1`, p.OrganizationID).Scan(&siblings); err != nil {
			return fmt.Errorf("count versions: %w", err)
		}
		if siblings <= 1 {
			return ErrOnlyVersion
		}

		f := scope.Apply(p, scope.EntityCriteriaVersion, scope.OpDelete, scope.Filter{"id": versionID})
		where, args := f.SQL(1)
		if _, err := tx.ExecContext(ctx, `DELETE FROM criteria_versions WHERE `+where, args...); err != nil {
			return fmt.Errorf("delete version: %w", err)
		}

		if target.IsActive {
			err := tx.QueryRowContext(ctx, `
				UPDATE criteria_versions SET is_active=TRUE, updated_at=NOW()
				WHERE id = (
					SELECT id FROM criteria_versions
					WHERE organization_id=$1
					ORDER BY created_at
					LIMIT 1
				)
				RETURNING id
			`, p.OrganizationID).Scan(&promoted)
			if err != nil {
				return fmt.Errorf("promote version: %w", err)
			}
		}
		return insertAudit(ctx, tx, p, AuditDelete, scope.EntityCriteriaVersion, versionID)
	})
	if err != nil {
		return "", err
	}
	return promoted, nil
}

const criterionColumns = `id, version_id, key, label, scale_min, scale_max, is_inverse, weight, rubric, created_at, updated_at`

func scanCriterion(row interface{ Scan(...any) error }) (Criterion, error) {
	var c Criterion
	err := row.Scan(&c.ID, &c.VersionID, &c.Key, &c.Label, &c.ScaleMin, &c.ScaleMax, &c.IsInverse, &c.Weight, &c.Rubric, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

// ListCriteria returns a version's criteria in creation order. Criteria
// carry no organization column; callers must have resolved the version
// through a scoped lookup first.
func (s *PostgresStore) ListCriteria(ctx context.Context, p scope.Principal, versionID string) ([]Criterion, error) {
	f := scope.Apply(p, scope.EntityCriterion, scope.OpFind, scope.Filter{"version_id": versionID})
	where, args := f.SQL(1)

	rows, err := s.db.QueryContext(ctx, `SELECT `+criterionColumns+` FROM criteria WHERE `+where+` ORDER BY created_at`, args...)
	if err != nil {
		return nil, fmt.Errorf("list criteria: %w", err)
	}
	defer rows.Close()

	items := make([]Criterion, 0)
	for rows.Next() {
		item, err := scanCriterion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan criterion: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate criteria: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetCriterion(ctx context.Context, criterionID string) (Criterion, error) {
	return scanCriterion(s.db.QueryRowContext(ctx, `SELECT `+criterionColumns+` FROM criteria WHERE id=$1`, criterionID))
}

// GetCriterionByKey resolves a criterion by its human key within a version;
// sql.ErrNoRows when the key does not exist there.
func (s *PostgresStore) GetCriterionByKey(ctx context.Context, versionID, key string) (Criterion, error) {
	return scanCriterion(s.db.QueryRowContext(ctx, `SELECT `+criterionColumns+` FROM criteria WHERE version_id=$1 AND key=$2`, versionID, key))
}

func (s *PostgresStore) InsertCriterion(ctx context.Context, p scope.Principal, c Criterion) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO criteria (id, version_id, key, label, scale_min, scale_max, is_inverse, weight, rubric)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, c.ID, c.VersionID, c.Key, c.Label, c.ScaleMin, c.ScaleMax, c.IsInverse, c.Weight, c.Rubric); err != nil {
			return fmt.Errorf("insert criterion: %w", err)
		}
		return insertAudit(ctx, tx, p, AuditCreate, scope.EntityCriterion, c.ID)
	})
}

func (s *PostgresStore) UpdateCriterion(ctx context.Context, p scope.Principal, c Criterion) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE criteria
			SET key=$2, label=$3, scale_min=$4, scale_max=$5, is_inverse=$6, rubric=$7, updated_at=NOW()
			WHERE id=$1
		`, c.ID, c.Key, c.Label, c.ScaleMin, c.ScaleMax, c.IsInverse, c.Rubric)
		if err != nil {
			return fmt.Errorf("update criterion: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("update criterion rows: %w", err)
		}
		if affected == 0 {
			return sql.ErrNoRows
		}
		return insertAudit(ctx, tx, p, AuditUpdate, scope.EntityCriterion, c.ID)
	})
}

func (s *PostgresStore) DeleteCriterion(ctx context.Context, p scope.Principal, criterionID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `DELETE FROM criteria WHERE id=$1`, criterionID)
		if err != nil {
			return fmt.Errorf("delete criterion: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("delete criterion rows: %w", err)
		}
		if affected == 0 {
			return sql.ErrNoRows
		}
		return insertAudit(ctx, tx, p, AuditDelete, scope.EntityCriterion, criterionID)
	})
}

func (s *PostgresStore) ListComparisons(ctx context.Context, versionID string) ([]PairwiseComparison, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, version_id, criterion_a, criterion_b, value, compared_by, created_at
		FROM pairwise_comparisons
		WHERE version_id=$1
		ORDER BY created_at
	`, versionID)
	if err != nil {
		return nil, fmt.Errorf("list comparisons: %w", err)
	}
	defer rows.Close()

	items := make([]PairwiseComparison, 0)
	for rows.Next() {
		var item PairwiseComparison
		if err := rows.Scan(&item.ID, &item.VersionID, &item.CriterionA, &item.CriterionB, &item.Value, &item.ComparedBy, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comparison: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comparisons: %w", err)
	}
	return items, nil
}

// ReplaceComparisons swaps a version's comparison set and writes the freshly
// computed weights onto its criteria, all in one transaction.
func (s *PostgresStore) ReplaceComparisons(ctx context.Context, p scope.Principal, versionID string, comparisons []PairwiseComparison, weights map[string]float64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM pairwise_comparisons WHERE version_id=$1`, versionID); err != nil {
			return fmt.Errorf("clear comparisons: %w", err)
		}
		for _, c := range comparisons {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO pairwise_comparisons (id, version_id, criterion_a, criterion_b, value, compared_by)
				VALUES ($1, $2, $3, $4, $5, $6)
			`, c.ID, versionID, c.CriterionA, c.CriterionB, c.Value, c.ComparedBy); err != nil {
				return fmt.Errorf("insert comparison: %w", err)
			}
		}
		for criterionID, weight := range weights {
			if _, err := tx.ExecContext(ctx, `UPDATE criteria SET weight=$2, updated_at=NOW() WHERE id=$1`, criterionID, weight); err != nil {
				return fmt.Errorf("update criterion weight: %w", err)
			}
		}
		return insertAudit(ctx, tx, p, AuditUpdate, scope.EntityCriteriaVersion, versionID)
	})
}
