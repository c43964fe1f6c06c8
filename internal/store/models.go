package store

import "time"

type Organization struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

type Department struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organizationId"`
	Name           string    `json:"name"`
	CreatedAt      time.Time `json:"createdAt"`
}

type User struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organizationId"`
	DepartmentID   *string   `json:"departmentId"`
	DisplayName    string    `json:"displayName"`
	Email          string    `json:"email"`
	Role           string    `json:"role"`
	CreatedAt      time.Time `json:"createdAt"`
}

type CriteriaVersion struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organizationId"`
	Name           string    `json:"name"`
	Description    string    `json:"description"`
	IsActive       bool      `json:"isActive"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

type Criterion struct {
	ID        string    `json:"id"`
	VersionID string    `json:"versionId"`
	Key       string    `json:"key"`
	Label     string    `json:"label"`
	ScaleMin  float64   `json:"scaleMin"`
	ScaleMax  float64   `json:"scaleMax"`
	IsInverse bool      `json:"isInverse"`
	Weight    *float64  `json:"weight"`
	Rubric    string    `json:"rubric"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// PairwiseComparison records how important criterion A is relative to
// criterion B within one version; the value is drawn from {1/3, 1, 3}.
type PairwiseComparison struct {
	ID         string    `json:"id"`
	VersionID  string    `json:"versionId"`
	CriterionA string    `json:"criterionA"`
	CriterionB string    `json:"criterionB"`
	Value      float64   `json:"value"`
	ComparedBy string    `json:"comparedBy"`
	CreatedAt  time.Time `json:"createdAt"`
}

type Project struct {
	ID             string     `json:"id"`
	OrganizationID string     `json:"organizationId"`
	DepartmentID   *string    `json:"departmentId"`
	Name           string     `json:"name"`
	Description    string     `json:"description"`
	Budget         float64    `json:"budget"`
	ResourceDays   float64    `json:"resourceDays"`
	Tags           []string   `json:"tags"`
	StartDate      *time.Time `json:"startDate"`
	EndDate        *time.Time `json:"endDate"`
	Status         string     `json:"status"`
	// Score is the cached overall score; derived, recomputed on score
	// changes, never authoritative on its own.
	Score     *float64  `json:"score"`
	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ProjectCriteriaScore is the project owner's self-assessment of one
// criterion.
type ProjectCriteriaScore struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"projectId"`
	CriterionID string    `json:"criterionId"`
	VersionID   string    `json:"versionId"`
	Score       float64   `json:"score"`
	Comment     string    `json:"comment"`
	ScoredBy    string    `json:"scoredBy"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// CommitteeScore is an independent reviewer's rating of the same
// project/criterion pair within a review session.
type CommitteeScore struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"projectId"`
	CriterionID string    `json:"criterionId"`
	SessionID   string    `json:"sessionId"`
	UserID      string    `json:"userId"`
	Score       float64   `json:"score"`
	Comment     string    `json:"comment"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type ReviewSession struct {
	ID             string     `json:"id"`
	OrganizationID string     `json:"organizationId"`
	VersionID      string     `json:"versionId"`
	Name           string     `json:"name"`
	Status         string     `json:"status"`
	StartsAt       *time.Time `json:"startsAt"`
	EndsAt         *time.Time `json:"endsAt"`
	CreatedAt      time.Time  `json:"createdAt"`
}

const (
	AuditCreate = "CREATE"
	AuditUpdate = "UPDATE"
	AuditDelete = "DELETE"
)

// AuditLogEntry is written in the same transaction as the mutation it
// records; rows are insert-only.
type AuditLogEntry struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organizationId"`
	UserID         string    `json:"userId"`
	Action         string    `json:"action"`
	EntityType     string    `json:"entityType"`
	EntityID       string    `json:"entityId"`
	CreatedAt      time.Time `json:"createdAt"`
}

// ReviewerProgress summarizes how far one committee member has gotten
// through a session's project×criterion grid.
type ReviewerProgress struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Scored      int    `json:"scored"`
	Expected    int    `json:"expected"`
}
