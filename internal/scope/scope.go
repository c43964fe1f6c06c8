// Package scope rewrites storage filters so a caller only ever sees rows
// belonging to their organization (and, for project managers, their
// department). Entity and operation kinds are closed enumerations; whether an
// entity carries an organization column is answered by a lookup table, never
// by inspecting the row at runtime.
package scope

import (
	"fmt"
	"sort"
	"strings"

	"folio/api/internal/rbac"
)

// Entity identifies a storage entity kind. Values double as table names.
type Entity string

const (
	EntityOrganization    Entity = "organizations"
	EntityDepartment      Entity = "departments"
	EntityUser            Entity = "users"
	EntityCriteriaVersion Entity = "criteria_versions"
	EntityCriterion       Entity = "criteria"
	EntityComparison      Entity = "pairwise_comparisons"
	EntityProject         Entity = "projects"
	EntitySelfScore       Entity = "project_criteria_scores"
	EntityCommitteeScore  Entity = "committee_scores"
	EntityReviewSession   Entity = "review_sessions"
	EntityAuditLog        Entity = "audit_log"
)

// Op identifies a storage operation kind.
type Op string

const (
	OpFind   Op = "find"
	OpCount  Op = "count"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
	OpCreate Op = "create"
)

// orgScoped lists the entities that carry an organization_id column.
// Criteria, comparisons and the score join tables hang off a version or
// project instead; their organization is resolved through that parent.
var orgScoped = map[Entity]bool{
	EntityDepartment:      true,
	EntityUser:            true,
	EntityCriteriaVersion: true,
	EntityProject:         true,
	EntityReviewSession:   true,
	EntityAuditLog:        true,
}

// deptScoped lists the entities that carry a department_id column.
var deptScoped = map[Entity]bool{
	EntityUser:    true,
	EntityProject: true,
}

// Principal is the trusted caller identity attached to every request.
type Principal struct {
	OrganizationID string
	UserID         string
	Role           rbac.Role
	DepartmentID   string
}

// Scoped reports whether the principal carries organization context. An
// unscoped principal degrades Apply to a pass-through; only internal
// bootstrap lookups may rely on that.
func (p Principal) Scoped() bool {
	return p.OrganizationID != ""
}

// Filter is a conjunction of column = value predicates.
type Filter map[string]any

// SQL renders the filter as a WHERE fragment with placeholders starting at
// start. Columns are emitted in sorted order so generated SQL is stable.
func (f Filter) SQL(start int) (string, []any) {
	if len(f) == 0 {
		return "", nil
	}
	columns := make([]string, 0, len(f))
	for column := range f {
		columns = append(columns, column)
	}
	sort.Strings(columns)

	clauses := make([]string, 0, len(columns))
	args := make([]any, 0, len(columns))
	for i, column := range columns {
		clauses = append(clauses, fmt.Sprintf("%s=$%d", column, start+i))
		args = append(args, f[column])
	}
	return strings.Join(clauses, " AND "), args
}

func (f Filter) clone() Filter {
	out := make(Filter, len(f)+2)
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Bypassed reports whether Apply would leave the operation untouched because
// the op kind is not filterable. Callers should log such operations.
func Bypassed(op Op) bool {
	switch op {
	case OpFind, OpCount, OpUpdate, OpDelete, OpCreate:
		return false
	default:
		return true
	}
}

// Apply injects tenant predicates into f for the given entity and operation
// and returns the rewritten filter. The input filter is never mutated.
//
// Creates pass through untouched: a create carries its own organization
// reference and is validated by the repository layer. Unrecognized operations
// also pass through — a deliberate safety default favoring availability.
func Apply(p Principal, entity Entity, op Op, f Filter) Filter {
	if !p.Scoped() {
		return f
	}
	if op == OpCreate || Bypassed(op) {
		return f
	}

	out := f.clone()
	if orgScoped[entity] {
		out["organization_id"] = p.OrganizationID
	}
	if narrowsByDepartment(p, entity, op) {
		out["department_id"] = p.DepartmentID
	}
	return out
}

// Department narrowing applies only to project-manager lookups. Plain finds
// narrow for every department-scoped entity; projects additionally narrow on
// counts.
func narrowsByDepartment(p Principal, entity Entity, op Op) bool {
	if p.Role != rbac.RoleProjectManager || p.DepartmentID == "" {
		return false
	}
	if !deptScoped[entity] {
		return false
	}
	if op == OpFind {
		return true
	}
	return entity == EntityProject && op == OpCount
}
