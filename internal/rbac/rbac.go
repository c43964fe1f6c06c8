// Package rbac maps portfolio roles onto the actions they may perform.
package rbac

type Role string
type Action string

const (
	RoleAdmin          Role = "admin"
	RolePMO            Role = "pmo"
	RoleManagement     Role = "management"
	RoleCommittee      Role = "committee"
	RoleProjectManager Role = "projectManager"
)

const (
	ActionRead           Action = "read"
	ActionProjectWrite   Action = "projectWrite"
	ActionCriteriaWrite  Action = "criteriaWrite"
	ActionSelfScore      Action = "selfScore"
	ActionCommitteeScore Action = "committeeScore"
	ActionManageSessions Action = "manageSessions"
	ActionAuditRead      Action = "auditRead"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RolePMO:
		return action != ActionCommitteeScore
	case RoleManagement:
		return action == ActionRead
	case RoleCommittee:
		return action == ActionRead || action == ActionCommitteeScore
	case RoleProjectManager:
		return action == ActionRead || action == ActionProjectWrite || action == ActionSelfScore
	default:
		return false
	}
}

// Valid reports whether role is one of the five known roles.
func Valid(role string) bool {
	switch Role(role) {
	case RoleAdmin, RolePMO, RoleManagement, RoleCommittee, RoleProjectManager:
		return true
	default:
		return false
	}
}
