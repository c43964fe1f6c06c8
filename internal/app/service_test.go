package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"testing"

	"github.com/rs/zerolog"

	"folio/api/internal/config"
	"folio/api/internal/rbac"
	"folio/api/internal/scope"
	"folio/api/internal/store"
)

type fakeStore struct {
	listVersionsFn       func(context.Context, scope.Principal) ([]store.CriteriaVersion, error)
	getVersionFn         func(context.Context, scope.Principal, string) (store.CriteriaVersion, error)
	activeVersionFn      func(context.Context, scope.Principal) (store.CriteriaVersion, error)
	deleteVersionFn      func(context.Context, scope.Principal, string) (string, error)
	listCriteriaFn       func(context.Context, scope.Principal, string) ([]store.Criterion, error)
	getCriterionFn       func(context.Context, string) (store.Criterion, error)
	replaceComparisonsFn func(context.Context, scope.Principal, string, []store.PairwiseComparison, map[string]float64) error
	listProjectsFn       func(context.Context, scope.Principal, scope.Filter) ([]store.Project, error)
	countProjectsFn      func(context.Context, scope.Principal) (int, error)
	getProjectFn         func(context.Context, scope.Principal, string) (store.Project, error)
	setProjectScoreFn    func(context.Context, scope.Principal, string, float64) error
	upsertSelfScoreFn    func(context.Context, scope.Principal, store.ProjectCriteriaScore) (string, bool, error)
	listSelfScoresFn     func(context.Context, scope.Principal, string, string) ([]store.ProjectCriteriaScore, error)
	upsertCommitteeFn    func(context.Context, scope.Principal, store.CommitteeScore) (string, bool, error)
	scoredCountsFn       func(context.Context, string) (map[string]int, error)
	getReviewSessionFn   func(context.Context, scope.Principal, string) (store.ReviewSession, error)
	listUsersFn          func(context.Context, scope.Principal) ([]store.User, error)
	listAuditLogFn       func(context.Context, scope.Principal, int) ([]store.AuditLogEntry, error)
}

func (f *fakeStore) Ping(context.Context) error                      { return nil }
func (f *fakeStore) CountOrganizations(context.Context) (int, error) { return 1, nil }
func (f *fakeStore) InsertOrganization(context.Context, store.Organization) error {
	return nil
}
func (f *fakeStore) InsertDepartment(context.Context, store.Department) error { return nil }
func (f *fakeStore) InsertUser(context.Context, store.User) error             { return nil }
func (f *fakeStore) ListUsers(ctx context.Context, p scope.Principal) ([]store.User, error) {
	if f.listUsersFn != nil {
		return f.listUsersFn(ctx, p)
	}
	return nil, nil
}
func (f *fakeStore) GetUser(context.Context, scope.Principal, string) (store.User, error) {
	return store.User{}, sql.ErrNoRows
}

func (f *fakeStore) ListVersions(ctx context.Context, p scope.Principal) ([]store.CriteriaVersion, error) {
	if f.listVersionsFn != nil {
		return f.listVersionsFn(ctx, p)
	}
	return nil, nil
}
func (f *fakeStore) GetVersion(ctx context.Context, p scope.Principal, versionID string) (store.CriteriaVersion, error) {
	if f.getVersionFn != nil {
		return f.getVersionFn(ctx, p, versionID)
	}
	return store.CriteriaVersion{ID: versionID, OrganizationID: p.OrganizationID, Name: "Test Version", IsActive: true}, nil
}
func (f *fakeStore) ActiveVersion(ctx context.Context, p scope.Principal) (store.CriteriaVersion, error) {
	if f.activeVersionFn != nil {
		return f.activeVersionFn(ctx, p)
	}
	return store.CriteriaVersion{}, sql.ErrNoRows
}
func (f *fakeStore) InsertVersion(context.Context, scope.Principal, store.CriteriaVersion, bool) error {
	return nil
}
func (f *fakeStore) ActivateVersion(context.Context, scope.Principal, string) error { return nil }
func (f *fakeStore) DeleteVersion(ctx context.Context, p scope.Principal, versionID string) (string, error) {
	if f.deleteVersionFn != nil {
		return f.deleteVersionFn(ctx, p, versionID)
	}
	return "", nil
}

func (f *fakeStore) ListCriteria(ctx context.Context, p scope.Principal, versionID string) ([]store.Criterion, error) {
	if f.listCriteriaFn != nil {
		return f.listCriteriaFn(ctx, p, versionID)
	}
	return nil, nil
}
func (f *fakeStore) GetCriterion(ctx context.Context, criterionID string) (store.Criterion, error) {
	if f.getCriterionFn != nil {
		return f.getCriterionFn(ctx, criterionID)
	}
	return store.Criterion{}, sql.ErrNoRows
}
func (f *fakeStore) GetCriterionByKey(context.Context, string, string) (store.Criterion, error) {
	return store.Criterion{}, sql.ErrNoRows
}
func (f *fakeStore) InsertCriterion(context.Context, scope.Principal, store.Criterion) error {
	return nil
}
func (f *fakeStore) UpdateCriterion(context.Context, scope.Principal, store.Criterion) error {
	return nil
}
func (f *fakeStore) DeleteCriterion(context.Context, scope.Principal, string) error { return nil }
func (f *fakeStore) ListComparisons(context.Context, string) ([]store.PairwiseComparison, error) {
	return nil, nil
}
func (f *fakeStore) ReplaceComparisons(ctx context.Context, p scope.Principal, versionID string, comparisons []store.PairwiseComparison, weights map[string]float64) error {
	if f.replaceComparisonsFn != nil {
		return f.replaceComparisonsFn(ctx, p, versionID, comparisons, weights)
	}
	return nil
}

func (f *fakeStore) ListProjects(ctx context.Context, p scope.Principal, extra scope.Filter) ([]store.Project, error) {
	if f.listProjectsFn != nil {
		return f.listProjectsFn(ctx, p, extra)
	}
	return nil, nil
}
func (f *fakeStore) CountProjects(ctx context.Context, p scope.Principal) (int, error) {
	if f.countProjectsFn != nil {
		return f.countProjectsFn(ctx, p)
	}
	return 0, nil
}
func (f *fakeStore) GetProject(ctx context.Context, p scope.Principal, projectID string) (store.Project, error) {
	if f.getProjectFn != nil {
		return f.getProjectFn(ctx, p, projectID)
	}
	return store.Project{ID: projectID, OrganizationID: p.OrganizationID, Name: "Test Project", Status: "PROPOSED"}, nil
}
func (f *fakeStore) InsertProject(context.Context, scope.Principal, store.Project) error { return nil }
func (f *fakeStore) UpdateProject(context.Context, scope.Principal, store.Project) error { return nil }
func (f *fakeStore) DeleteProject(context.Context, scope.Principal, string) error        { return nil }
func (f *fakeStore) SetProjectScore(ctx context.Context, p scope.Principal, projectID string, score float64) error {
	if f.setProjectScoreFn != nil {
		return f.setProjectScoreFn(ctx, p, projectID, score)
	}
	return nil
}

func (f *fakeStore) UpsertSelfScore(ctx context.Context, p scope.Principal, score store.ProjectCriteriaScore) (string, bool, error) {
	if f.upsertSelfScoreFn != nil {
		return f.upsertSelfScoreFn(ctx, p, score)
	}
	return score.ID, true, nil
}
func (f *fakeStore) ListSelfScores(ctx context.Context, p scope.Principal, projectID, versionID string) ([]store.ProjectCriteriaScore, error) {
	if f.listSelfScoresFn != nil {
		return f.listSelfScoresFn(ctx, p, projectID, versionID)
	}
	return nil, nil
}
func (f *fakeStore) UpsertCommitteeScore(ctx context.Context, p scope.Principal, score store.CommitteeScore) (string, bool, error) {
	if f.upsertCommitteeFn != nil {
		return f.upsertCommitteeFn(ctx, p, score)
	}
	return score.ID, true, nil
}
func (f *fakeStore) ListCommitteeScores(context.Context, scope.Principal, string) ([]store.CommitteeScore, error) {
	return nil, nil
}
func (f *fakeStore) CommitteeScoredCounts(ctx context.Context, sessionID string) (map[string]int, error) {
	if f.scoredCountsFn != nil {
		return f.scoredCountsFn(ctx, sessionID)
	}
	return map[string]int{}, nil
}
func (f *fakeStore) InsertReviewSession(context.Context, scope.Principal, store.ReviewSession) error {
	return nil
}
func (f *fakeStore) ListReviewSessions(context.Context, scope.Principal) ([]store.ReviewSession, error) {
	return nil, nil
}
func (f *fakeStore) GetReviewSession(ctx context.Context, p scope.Principal, sessionID string) (store.ReviewSession, error) {
	if f.getReviewSessionFn != nil {
		return f.getReviewSessionFn(ctx, p, sessionID)
	}
	return store.ReviewSession{ID: sessionID, OrganizationID: p.OrganizationID, VersionID: "cv-1", Name: "Q3 Review", Status: "OPEN"}, nil
}

func (f *fakeStore) ListAuditLog(ctx context.Context, p scope.Principal, limit int) ([]store.AuditLogEntry, error) {
	if f.listAuditLogFn != nil {
		return f.listAuditLogFn(ctx, p, limit)
	}
	return nil, nil
}

func newTestService(fs *fakeStore) *Service {
	return &Service{
		cfg:   config.Config{},
		store: fs,
		log:   zerolog.Nop(),
	}
}

func pmoPrincipal() scope.Principal {
	return scope.Principal{OrganizationID: "org-1", UserID: "user-pmo", Role: rbac.RolePMO}
}

func committeePrincipal() scope.Principal {
	return scope.Principal{OrganizationID: "org-1", UserID: "user-com", Role: rbac.RoleCommittee}
}

func expectDomainStatus(t *testing.T, err error, status int) *DomainError {
	t.Helper()
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Status != status {
		t.Fatalf("expected status %d, got %d (%s)", status, domainErr.Status, domainErr.Code)
	}
	return domainErr
}

func TestUnscopedPrincipalRejected(t *testing.T) {
	svc := newTestService(&fakeStore{})
	_, err := svc.ListProjects(context.Background(), scope.Principal{UserID: "user-1", Role: rbac.RoleAdmin})
	domainErr := expectDomainStatus(t, err, http.StatusUnauthorized)
	if domainErr.Code != "SCOPE_REQUIRED" {
		t.Fatalf("expected SCOPE_REQUIRED, got %s", domainErr.Code)
	}
}

func TestDeleteOnlyVersionRejected(t *testing.T) {
	fs := &fakeStore{
		deleteVersionFn: func(context.Context, scope.Principal, string) (string, error) {
			return "", store.ErrOnlyVersion
		},
	}
	svc := newTestService(fs)
	_, err := svc.DeleteVersion(context.Background(), pmoPrincipal(), "cv-1")
	expectDomainStatus(t, err, http.StatusUnprocessableEntity)
}

func TestDeleteActiveVersionReportsPromotion(t *testing.T) {
	fs := &fakeStore{
		deleteVersionFn: func(context.Context, scope.Principal, string) (string, error) {
			return "cv-2", nil
		},
	}
	svc := newTestService(fs)
	result, err := svc.DeleteVersion(context.Background(), pmoPrincipal(), "cv-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.DeletedID != "cv-1" || result.PromotedID != "cv-2" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func twoCriteria() []store.Criterion {
	return []store.Criterion{
		{ID: "crit-a", VersionID: "cv-1", Key: "revenue", Label: "Revenue", ScaleMin: 0, ScaleMax: 10},
		{ID: "crit-b", VersionID: "cv-1", Key: "cost", Label: "Cost", ScaleMin: 0, ScaleMax: 10, IsInverse: true},
	}
}

func TestSaveComparisonsDerivesWeights(t *testing.T) {
	var gotWeights map[string]float64
	fs := &fakeStore{
		listCriteriaFn: func(context.Context, scope.Principal, string) ([]store.Criterion, error) {
			return twoCriteria(), nil
		},
		replaceComparisonsFn: func(_ context.Context, _ scope.Principal, _ string, _ []store.PairwiseComparison, weights map[string]float64) error {
			gotWeights = weights
			return nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.SaveComparisons(context.Background(), pmoPrincipal(), "cv-1", []ComparisonInput{
		{CriterionA: "crit-a", CriterionB: "crit-b", Value: 3},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotWeights == nil {
		t.Fatal("expected weights to be persisted")
	}
	if diff := gotWeights["crit-a"] - 0.75; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("expected crit-a weight 0.75, got %f", gotWeights["crit-a"])
	}
	if diff := gotWeights["crit-b"] - 0.25; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("expected crit-b weight 0.25, got %f", gotWeights["crit-b"])
	}
}

func TestSaveComparisonsRepeatedPairKeepsLastJudgment(t *testing.T) {
	var gotRows []store.PairwiseComparison
	var gotWeights map[string]float64
	fs := &fakeStore{
		listCriteriaFn: func(context.Context, scope.Principal, string) ([]store.Criterion, error) {
			return twoCriteria(), nil
		},
		replaceComparisonsFn: func(_ context.Context, _ scope.Principal, _ string, rows []store.PairwiseComparison, weights map[string]float64) error {
			gotRows = rows
			gotWeights = weights
			return nil
		},
	}
	svc := newTestService(fs)

	// The second judgment for the same ordered pair supersedes the first;
	// only one row per pair may reach the store.
	_, err := svc.SaveComparisons(context.Background(), pmoPrincipal(), "cv-1", []ComparisonInput{
		{CriterionA: "crit-a", CriterionB: "crit-b", Value: 1.0 / 3},
		{CriterionA: "crit-a", CriterionB: "crit-b", Value: 3},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(gotRows) != 1 {
		t.Fatalf("expected 1 persisted comparison, got %d", len(gotRows))
	}
	if gotRows[0].CriterionA != "crit-a" || gotRows[0].CriterionB != "crit-b" || gotRows[0].Value != 3 {
		t.Fatalf("unexpected persisted comparison: %+v", gotRows[0])
	}
	if diff := gotWeights["crit-a"] - 0.75; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("expected crit-a weight 0.75, got %f", gotWeights["crit-a"])
	}
}

func TestSaveComparisonsRequiresTwoCriteria(t *testing.T) {
	fs := &fakeStore{
		listCriteriaFn: func(context.Context, scope.Principal, string) ([]store.Criterion, error) {
			return twoCriteria()[:1], nil
		},
	}
	svc := newTestService(fs)
	_, err := svc.SaveComparisons(context.Background(), pmoPrincipal(), "cv-1", nil)
	expectDomainStatus(t, err, http.StatusUnprocessableEntity)
}

func TestSaveComparisonsRejectsValueOutsideDomain(t *testing.T) {
	fs := &fakeStore{
		listCriteriaFn: func(context.Context, scope.Principal, string) ([]store.Criterion, error) {
			return twoCriteria(), nil
		},
	}
	svc := newTestService(fs)
	_, err := svc.SaveComparisons(context.Background(), pmoPrincipal(), "cv-1", []ComparisonInput{
		{CriterionA: "crit-a", CriterionB: "crit-b", Value: 5},
	})
	expectDomainStatus(t, err, http.StatusUnprocessableEntity)
}

func TestSaveComparisonsRejectsUnknownCriterion(t *testing.T) {
	fs := &fakeStore{
		listCriteriaFn: func(context.Context, scope.Principal, string) ([]store.Criterion, error) {
			return twoCriteria(), nil
		},
	}
	svc := newTestService(fs)
	_, err := svc.SaveComparisons(context.Background(), pmoPrincipal(), "cv-1", []ComparisonInput{
		{CriterionA: "crit-a", CriterionB: "crit-other-version", Value: 3},
	})
	expectDomainStatus(t, err, http.StatusUnprocessableEntity)
}

func TestUpsertSelfScoreRejectsOutOfScale(t *testing.T) {
	criteria := twoCriteria()
	fs := &fakeStore{
		getCriterionFn: func(_ context.Context, criterionID string) (store.Criterion, error) {
			return criteria[0], nil
		},
	}
	svc := newTestService(fs)

	principal := scope.Principal{OrganizationID: "org-1", UserID: "user-pm", Role: rbac.RoleProjectManager, DepartmentID: "dept-1"}
	_, _, err := svc.UpsertSelfScore(context.Background(), principal, "proj-1", SelfScoreInput{
		CriterionID: "crit-a",
		VersionID:   "cv-1",
		Score:       12,
	})
	expectDomainStatus(t, err, http.StatusUnprocessableEntity)
}

func TestUpsertSelfScoreForbiddenForCommittee(t *testing.T) {
	svc := newTestService(&fakeStore{})
	_, _, err := svc.UpsertSelfScore(context.Background(), committeePrincipal(), "proj-1", SelfScoreInput{
		CriterionID: "crit-a",
		VersionID:   "cv-1",
		Score:       5,
	})
	expectDomainStatus(t, err, http.StatusForbidden)
}

func TestUpsertCommitteeScoreForbiddenForPMO(t *testing.T) {
	svc := newTestService(&fakeStore{})
	_, _, err := svc.UpsertCommitteeScore(context.Background(), pmoPrincipal(), "sess-1", CommitteeScoreInput{
		ProjectID:   "proj-1",
		CriterionID: "crit-a",
		Score:       5,
	})
	expectDomainStatus(t, err, http.StatusForbidden)
}

func TestUpsertCommitteeScoreRecordsCaller(t *testing.T) {
	criteria := twoCriteria()
	var recorded store.CommitteeScore
	fs := &fakeStore{
		getCriterionFn: func(_ context.Context, criterionID string) (store.Criterion, error) {
			return criteria[0], nil
		},
		upsertCommitteeFn: func(_ context.Context, _ scope.Principal, score store.CommitteeScore) (string, bool, error) {
			recorded = score
			return score.ID, true, nil
		},
	}
	svc := newTestService(fs)

	_, created, err := svc.UpsertCommitteeScore(context.Background(), committeePrincipal(), "sess-1", CommitteeScoreInput{
		ProjectID:   "proj-1",
		CriterionID: "crit-a",
		Score:       7,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created {
		t.Fatal("expected created=true")
	}
	if recorded.UserID != "user-com" {
		t.Fatalf("expected reviewer user-com, got %q", recorded.UserID)
	}
	if recorded.SessionID != "sess-1" {
		t.Fatalf("expected session sess-1, got %q", recorded.SessionID)
	}
}

func TestUpsertSelfScoreUpdateReportsExistingRowID(t *testing.T) {
	criteria := twoCriteria()
	fs := &fakeStore{
		getCriterionFn: func(_ context.Context, criterionID string) (store.Criterion, error) {
			return criteria[0], nil
		},
		upsertSelfScoreFn: func(_ context.Context, _ scope.Principal, _ store.ProjectCriteriaScore) (string, bool, error) {
			// The conditional write resolved to an update of an existing row.
			return "pcs-existing", false, nil
		},
	}
	svc := newTestService(fs)

	principal := scope.Principal{OrganizationID: "org-1", UserID: "user-pm", Role: rbac.RoleProjectManager, DepartmentID: "dept-1"}
	score, created, err := svc.UpsertSelfScore(context.Background(), principal, "proj-1", SelfScoreInput{
		CriterionID: "crit-a",
		VersionID:   "cv-1",
		Score:       5,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created {
		t.Fatal("expected created=false")
	}
	if score.ID != "pcs-existing" {
		t.Fatalf("expected the existing row id, got %q", score.ID)
	}
}

func TestUpsertCommitteeScoreUpdateReportsExistingRowID(t *testing.T) {
	criteria := twoCriteria()
	fs := &fakeStore{
		getCriterionFn: func(_ context.Context, criterionID string) (store.Criterion, error) {
			return criteria[0], nil
		},
		upsertCommitteeFn: func(_ context.Context, _ scope.Principal, _ store.CommitteeScore) (string, bool, error) {
			return "cms-existing", false, nil
		},
	}
	svc := newTestService(fs)

	score, created, err := svc.UpsertCommitteeScore(context.Background(), committeePrincipal(), "sess-1", CommitteeScoreInput{
		ProjectID:   "proj-1",
		CriterionID: "crit-a",
		Score:       5,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created {
		t.Fatal("expected created=false")
	}
	if score.ID != "cms-existing" {
		t.Fatalf("expected the existing row id, got %q", score.ID)
	}
}

func TestComputeProjectScoreWeightedAggregate(t *testing.T) {
	weightA, weightB := 0.75, 0.25
	criteria := twoCriteria()
	criteria[0].Weight = &weightA
	criteria[1].Weight = &weightB
	criteria[1].IsInverse = false

	fs := &fakeStore{
		listCriteriaFn: func(context.Context, scope.Principal, string) ([]store.Criterion, error) {
			return criteria, nil
		},
		listSelfScoresFn: func(context.Context, scope.Principal, string, string) ([]store.ProjectCriteriaScore, error) {
			return []store.ProjectCriteriaScore{
				{ProjectID: "proj-1", CriterionID: "crit-a", VersionID: "cv-1", Score: 8},
				{ProjectID: "proj-1", CriterionID: "crit-b", VersionID: "cv-1", Score: 4},
			}, nil
		},
	}
	svc := newTestService(fs)

	// 0.8*0.75 + 0.4*0.25 = 0.7 on the unit interval, 3.5 on the 0-5 output scale.
	overall, err := svc.ComputeProjectScore(context.Background(), pmoPrincipal(), "proj-1", "cv-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if overall != 3.5 {
		t.Fatalf("expected 3.5, got %f", overall)
	}
}

func TestComputeProjectScoreHonorsConfiguredScale(t *testing.T) {
	weightA, weightB := 0.75, 0.25
	criteria := twoCriteria()
	criteria[0].Weight = &weightA
	criteria[1].Weight = &weightB
	criteria[1].IsInverse = false

	fs := &fakeStore{
		listCriteriaFn: func(context.Context, scope.Principal, string) ([]store.Criterion, error) {
			return criteria, nil
		},
		listSelfScoresFn: func(context.Context, scope.Principal, string, string) ([]store.ProjectCriteriaScore, error) {
			return []store.ProjectCriteriaScore{
				{ProjectID: "proj-1", CriterionID: "crit-a", VersionID: "cv-1", Score: 8},
				{ProjectID: "proj-1", CriterionID: "crit-b", VersionID: "cv-1", Score: 4},
			}, nil
		},
	}
	svc := newTestService(fs)
	svc.cfg = config.Config{ScoreScaleMin: 0, ScoreScaleMax: 100, ScorePrecision: 1}

	// 0.7 on the unit interval maps to 70 on the configured 0-100 scale.
	overall, err := svc.ComputeProjectScore(context.Background(), pmoPrincipal(), "proj-1", "cv-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if overall != 70.0 {
		t.Fatalf("expected 70, got %f", overall)
	}
}

func TestComputeProjectScoreWriteBackFailureStillReturnsScore(t *testing.T) {
	weightA := 1.0
	criteria := twoCriteria()[:1]
	criteria[0].Weight = &weightA

	fs := &fakeStore{
		listCriteriaFn: func(context.Context, scope.Principal, string) ([]store.Criterion, error) {
			return criteria, nil
		},
		listSelfScoresFn: func(context.Context, scope.Principal, string, string) ([]store.ProjectCriteriaScore, error) {
			return []store.ProjectCriteriaScore{
				{ProjectID: "proj-1", CriterionID: "crit-a", VersionID: "cv-1", Score: 5},
			}, nil
		},
		setProjectScoreFn: func(context.Context, scope.Principal, string, float64) error {
			return errors.New("connection reset")
		},
	}
	svc := newTestService(fs)

	overall, err := svc.ComputeProjectScore(context.Background(), pmoPrincipal(), "proj-1", "cv-1")
	if err != nil {
		t.Fatalf("write-back failure must not surface: %v", err)
	}
	if overall != 2.5 {
		t.Fatalf("expected 2.5, got %f", overall)
	}
}

func TestComputeProjectScoreDefaultsMissingWeightsToOne(t *testing.T) {
	// No comparisons captured yet: both criteria participate equally.
	criteria := twoCriteria()
	criteria[1].IsInverse = false

	fs := &fakeStore{
		listCriteriaFn: func(context.Context, scope.Principal, string) ([]store.Criterion, error) {
			return criteria, nil
		},
		listSelfScoresFn: func(context.Context, scope.Principal, string, string) ([]store.ProjectCriteriaScore, error) {
			return []store.ProjectCriteriaScore{
				{ProjectID: "proj-1", CriterionID: "crit-a", VersionID: "cv-1", Score: 10},
				{ProjectID: "proj-1", CriterionID: "crit-b", VersionID: "cv-1", Score: 0},
			}, nil
		},
	}
	svc := newTestService(fs)

	overall, err := svc.ComputeProjectScore(context.Background(), pmoPrincipal(), "proj-1", "cv-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if overall != 2.5 {
		t.Fatalf("expected 2.5, got %f", overall)
	}
}

func TestCommitteeProgressCountsCells(t *testing.T) {
	fs := &fakeStore{
		listCriteriaFn: func(context.Context, scope.Principal, string) ([]store.Criterion, error) {
			return twoCriteria(), nil
		},
		countProjectsFn: func(context.Context, scope.Principal) (int, error) {
			return 3, nil
		},
		scoredCountsFn: func(context.Context, string) (map[string]int, error) {
			return map[string]int{"user-com": 4}, nil
		},
		listUsersFn: func(context.Context, scope.Principal) ([]store.User, error) {
			return []store.User{
				{ID: "user-com", DisplayName: "Casper Committee", Role: string(rbac.RoleCommittee)},
				{ID: "user-pmo", DisplayName: "Piotr PMO", Role: string(rbac.RolePMO)},
			}, nil
		},
	}
	svc := newTestService(fs)

	progress, err := svc.CommitteeProgress(context.Background(), pmoPrincipal(), "sess-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(progress) != 1 {
		t.Fatalf("expected one committee reviewer, got %d", len(progress))
	}
	if progress[0].UserID != "user-com" || progress[0].Scored != 4 || progress[0].Expected != 6 {
		t.Fatalf("unexpected progress: %+v", progress[0])
	}
}

func TestListAuditLogRequiresAuditAction(t *testing.T) {
	svc := newTestService(&fakeStore{})
	_, err := svc.ListAuditLog(context.Background(), committeePrincipal(), 50)
	expectDomainStatus(t, err, http.StatusForbidden)
}

type fakeListCache struct {
	projects   []store.Project
	hit        bool
	setCalls   int
	invalidate int
}

func (f *fakeListCache) Get(context.Context, string, string) ([]store.Project, bool, error) {
	return f.projects, f.hit, nil
}
func (f *fakeListCache) Set(_ context.Context, _, _ string, projects []store.Project) error {
	f.setCalls++
	return nil
}
func (f *fakeListCache) Invalidate(context.Context, string) error {
	f.invalidate++
	return nil
}

func TestListProjectsServedFromCache(t *testing.T) {
	fs := &fakeStore{
		listProjectsFn: func(context.Context, scope.Principal, scope.Filter) ([]store.Project, error) {
			t.Fatal("store must not be queried on a cache hit")
			return nil, nil
		},
	}
	svc := newTestService(fs)
	svc.cache = &fakeListCache{
		hit:      true,
		projects: []store.Project{{ID: "proj-1", OrganizationID: "org-1", Name: "Cached"}},
	}

	projects, err := svc.ListProjects(context.Background(), pmoPrincipal())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(projects) != 1 || projects[0].Name != "Cached" {
		t.Fatalf("unexpected projects: %+v", projects)
	}
}

func TestListProjectsPopulatesCacheOnMiss(t *testing.T) {
	fs := &fakeStore{
		listProjectsFn: func(context.Context, scope.Principal, scope.Filter) ([]store.Project, error) {
			return []store.Project{{ID: "proj-1", OrganizationID: "org-1", Name: "Fresh"}}, nil
		},
	}
	fc := &fakeListCache{}
	svc := newTestService(fs)
	svc.cache = fc

	projects, err := svc.ListProjects(context.Background(), pmoPrincipal())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(projects) != 1 || projects[0].Name != "Fresh" {
		t.Fatalf("unexpected projects: %+v", projects)
	}
	if fc.setCalls != 1 {
		t.Fatalf("expected one cache write, got %d", fc.setCalls)
	}
}

func TestDeleteProjectInvalidatesCache(t *testing.T) {
	fc := &fakeListCache{}
	svc := newTestService(&fakeStore{})
	svc.cache = fc

	if err := svc.DeleteProject(context.Background(), pmoPrincipal(), "proj-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fc.invalidate != 1 {
		t.Fatalf("expected one invalidation, got %d", fc.invalidate)
	}
}

func TestSearchProjectsWithoutBackendReturnsEmptyResults(t *testing.T) {
	svc := newTestService(&fakeStore{})

	resp, err := svc.SearchProjects(context.Background(), pmoPrincipal(), "roadmap", 10, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Results == nil {
		t.Fatal("expected an empty result slice, got nil")
	}
	if len(resp.Results) != 0 || resp.Total != 0 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Query != "roadmap" {
		t.Fatalf("expected query echo, got %q", resp.Query)
	}
}
