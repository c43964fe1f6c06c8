package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"folio/api/internal/scope"
	"folio/api/internal/util"
)

// ErrOnlyVersion is returned when a delete would remove an organization's
// last remaining criteria version.
var ErrOnlyVersion = errors.New("criteria version is the organization's only version")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// withTx runs fn inside a transaction, rolling back on any error.
func (s *PostgresStore) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// insertAudit writes one audit record inside the mutation's transaction so
// the entity write and its audit entry commit or roll back together.
func insertAudit(ctx context.Context, tx *sql.Tx, p scope.Principal, action string, entity scope.Entity, entityID string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO audit_log (id, organization_id, user_id, action, entity_type, entity_id)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, util.NewID("audit"), p.OrganizationID, p.UserID, action, string(entity), entityID)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAuditLog(ctx context.Context, p scope.Principal, limit int) ([]AuditLogEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	f := scope.Apply(p, scope.EntityAuditLog, scope.OpFind, nil)
	where, args := f.SQL(1)
	query := `SELECT id, organization_id, user_id, action, entity_type, entity_id, created_at FROM audit_log`
	if where != "" {
		query += " WHERE " + where
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT %d", limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit log: %w", err)
	}
	defer rows.Close()

	items := make([]AuditLogEntry, 0)
	for rows.Next() {
		var item AuditLogEntry
		if err := rows.Scan(&item.ID, &item.OrganizationID, &item.UserID, &item.Action, &item.EntityType, &item.EntityID, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit log: %w", err)
	}
	return items, nil
}

// Bootstrap inserts run unscoped: they execute before any organization
// context exists and must never be reachable from user-facing calls.

func (s *PostgresStore) CountOrganizations(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM organizations`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count organizations: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) InsertOrganization(ctx context.Context, org Organization) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO organizations (id, name)
		VALUES ($1, $2)
		ON CONFLICT (id) DO NOTHING
	`, org.ID, org.Name)
	if err != nil {
		return fmt.Errorf("insert organization: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertDepartment(ctx context.Context, dept Department) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO departments (id, organization_id, name)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING
	`, dept.ID, dept.OrganizationID, dept.Name)
	if err != nil {
		return fmt.Errorf("insert department: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, organization_id, department_id, display_name, email, role)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`, user.ID, user.OrganizationID, user.DepartmentID, user.DisplayName, user.Email, user.Role)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListUsers(ctx context.Context, p scope.Principal) ([]User, error) {
	f := scope.Apply(p, scope.EntityUser, scope.OpFind, nil)
	where, args := f.SQL(1)
	query := `SELECT id, organization_id, department_id, display_name, email, role, created_at FROM users`
	if where != "" {
		query += " WHERE " + where
	}
	query += ` ORDER BY display_name`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	items := make([]User, 0)
	for rows.Next() {
		var item User
		if err := rows.Scan(&item.ID, &item.OrganizationID, &item.DepartmentID, &item.DisplayName, &item.Email, &item.Role, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, p scope.Principal, userID string) (User, error) {
	f := scope.Apply(p, scope.EntityUser, scope.OpFind, scope.Filter{"id": userID})
	where, args := f.SQL(1)

	var item User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, organization_id, department_id, display_name, email, role, created_at
		FROM users WHERE `+where, args...).
		Scan(&item.ID, &item.OrganizationID, &item.DepartmentID, &item.DisplayName, &item.Email, &item.Role, &item.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return item, nil
}
