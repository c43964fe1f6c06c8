package app

import (
	"context"
	"fmt"

	"folio/api/internal/rbac"
	"folio/api/internal/scope"
	"folio/api/internal/store"
)

// Bootstrap seeds a demo organization on an empty database so a fresh
// deployment is usable immediately. It is a no-op once any organization
// exists.
func (s *Service) Bootstrap(ctx context.Context) error {
	count, err := s.store.CountOrganizations(ctx)
	if err != nil {
		return fmt.Errorf("count organizations: %w", err)
	}
	if count > 0 {
		return nil
	}
	s.log.Info().Msg("empty database, seeding demo organization")

	org := store.Organization{ID: "org_demo", Name: "Demo Portfolio Office"}
	if err := s.store.InsertOrganization(ctx, org); err != nil {
		return fmt.Errorf("seed organization: %w", err)
	}

	engineering := "dept_demo_eng"
	marketing := "dept_demo_mkt"
	departments := []store.Department{
		{ID: engineering, OrganizationID: org.ID, Name: "Engineering"},
		{ID: marketing, OrganizationID: org.ID, Name: "Marketing"},
	}
	for _, dept := range departments {
		if err := s.store.InsertDepartment(ctx, dept); err != nil {
			return fmt.Errorf("seed department %s: %w", dept.Name, err)
		}
	}

	users := []store.User{
		{ID: "user_demo_admin", OrganizationID: org.ID, Email: "admin@demo.folio", DisplayName: "Ada Admin", Role: string(rbac.RoleAdmin)},
		{ID: "user_demo_pmo", OrganizationID: org.ID, Email: "pmo@demo.folio", DisplayName: "Piotr PMO", Role: string(rbac.RolePMO)},
		{ID: "user_demo_mgmt", OrganizationID: org.ID, Email: "management@demo.folio", DisplayName: "Maria Management", Role: string(rbac.RoleManagement)},
		{ID: "user_demo_committee", OrganizationID: org.ID, Email: "committee@demo.folio", DisplayName: "Casper Committee", Role: string(rbac.RoleCommittee)},
		{ID: "user_demo_pm", OrganizationID: org.ID, Email: "pm@demo.folio", DisplayName: "Petra Manager", Role: string(rbac.RoleProjectManager), DepartmentID: &engineering},
	}
	for _, user := range users {
		if err := s.store.InsertUser(ctx, user); err != nil {
			return fmt.Errorf("seed user %s: %w", user.Email, err)
		}
	}

	admin := scope.Principal{
		OrganizationID: org.ID,
		UserID:         "user_demo_admin",
		Role:           rbac.RoleAdmin,
	}

	version, err := s.CreateVersion(ctx, admin, CreateVersionInput{
		Name:        "Default Criteria",
		Description: "Seeded evaluation criteria. Adjust scales, rubrics and weights to fit your portfolio.",
		Activate:    true,
	})
	if err != nil {
		return fmt.Errorf("seed criteria version: %w", err)
	}

	seedCriteria := []CriterionInput{
		{Key: "revenue_impact", Label: "Revenue Impact", ScaleMin: 0, ScaleMax: 10, Rubric: "0 = no revenue effect, 10 = transformative revenue growth"},
		{Key: "strategic_fit", Label: "Strategic Fit", ScaleMin: 0, ScaleMax: 10, Rubric: "0 = unrelated to strategy, 10 = core strategic pillar"},
		{Key: "cost", Label: "Cost", ScaleMin: 0, ScaleMax: 10, IsInverse: true, Rubric: "0 = negligible cost, 10 = major investment"},
		{Key: "risk", Label: "Execution Risk", ScaleMin: 0, ScaleMax: 10, IsInverse: true, Rubric: "0 = routine delivery, 10 = highly uncertain"},
	}
	criteriaByKey := make(map[string]string, len(seedCriteria))
	for _, input := range seedCriteria {
		criterion, err := s.CreateCriterion(ctx, admin, version.ID, input)
		if err != nil {
			return fmt.Errorf("seed criterion %s: %w", input.Key, err)
		}
		criteriaByKey[input.Key] = criterion.ID
	}

	comparisons := []ComparisonInput{
		{CriterionA: criteriaByKey["revenue_impact"], CriterionB: criteriaByKey["cost"], Value: 3},
		{CriterionA: criteriaByKey["revenue_impact"], CriterionB: criteriaByKey["risk"], Value: 3},
		{CriterionA: criteriaByKey["strategic_fit"], CriterionB: criteriaByKey["cost"], Value: 3},
		{CriterionA: criteriaByKey["revenue_impact"], CriterionB: criteriaByKey["strategic_fit"], Value: 1},
	}
	if _, err := s.SaveComparisons(ctx, admin, version.ID, comparisons); err != nil {
		return fmt.Errorf("seed comparisons: %w", err)
	}

	s.log.Info().Str("organization_id", org.ID).Msg("demo organization seeded")
	return nil
}
