package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"folio/api/internal/ahp"
	"folio/api/internal/cache"
	"folio/api/internal/config"
	"folio/api/internal/rbac"
	"folio/api/internal/scope"
	"folio/api/internal/scoring"
	"folio/api/internal/search"
	"folio/api/internal/store"
	"folio/api/internal/util"
)

type CreateVersionInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Activate    bool   `json:"activate"`
}

type CriterionInput struct {
	Key       string  `json:"key"`
	Label     string  `json:"label"`
	ScaleMin  float64 `json:"scaleMin"`
	ScaleMax  float64 `json:"scaleMax"`
	IsInverse bool    `json:"isInverse"`
	Rubric    string  `json:"rubric"`
}

type ComparisonInput struct {
	CriterionA string  `json:"criterionA"`
	CriterionB string  `json:"criterionB"`
	Value      float64 `json:"value"`
}

type ProjectInput struct {
	Name         string     `json:"name"`
	Description  string     `json:"description"`
	DepartmentID string     `json:"departmentId"`
	Budget       float64    `json:"budget"`
	ResourceDays float64    `json:"resourceDays"`
	Tags         []string   `json:"tags"`
	StartDate    *time.Time `json:"startDate"`
	EndDate      *time.Time `json:"endDate"`
	Status       string     `json:"status"`
}

type SelfScoreInput struct {
	CriterionID  string  `json:"criterionId"`
	CriterionKey string  `json:"criterionKey"`
	VersionID    string  `json:"versionId"`
	Score        float64 `json:"score"`
	Comment      string  `json:"comment"`
}

type CommitteeScoreInput struct {
	ProjectID    string  `json:"projectId"`
	CriterionID  string  `json:"criterionId"`
	CriterionKey string  `json:"criterionKey"`
	Score        float64 `json:"score"`
	Comment      string  `json:"comment"`
}

type ReviewSessionInput struct {
	Name      string     `json:"name"`
	VersionID string     `json:"versionId"`
	StartsAt  *time.Time `json:"startsAt"`
	EndsAt    *time.Time `json:"endsAt"`
}

// DeleteVersionResult reports a version delete, including the sibling
// promoted to active when the active version was removed.
type DeleteVersionResult struct {
	DeletedID  string `json:"deletedId"`
	PromotedID string `json:"promotedId,omitempty"`
}

type dataStore interface {
	Ping(ctx context.Context) error

	CountOrganizations(ctx context.Context) (int, error)
	InsertOrganization(ctx context.Context, org store.Organization) error
	InsertDepartment(ctx context.Context, dept store.Department) error
	InsertUser(ctx context.Context, user store.User) error
	ListUsers(ctx context.Context, p scope.Principal) ([]store.User, error)
	GetUser(ctx context.Context, p scope.Principal, userID string) (store.User, error)

	ListVersions(ctx context.Context, p scope.Principal) ([]store.CriteriaVersion, error)
	GetVersion(ctx context.Context, p scope.Principal, versionID string) (store.CriteriaVersion, error)
	ActiveVersion(ctx context.Context, p scope.Principal) (store.CriteriaVersion, error)
	InsertVersion(ctx context.Context, p scope.Principal, v store.CriteriaVersion, activate bool) error
	ActivateVersion(ctx context.Context, p scope.Principal, versionID string) error
	DeleteVersion(ctx context.Context, p scope.Principal, versionID string) (string, error)

	ListCriteria(ctx context.Context, p scope.Principal, versionID string) ([]store.Criterion, error)
	GetCriterion(ctx context.Context, criterionID string) (store.Criterion, error)
	GetCriterionByKey(ctx context.Context, versionID, key string) (store.Criterion, error)
	InsertCriterion(ctx context.Context, p scope.Principal, c store.Criterion) error
	UpdateCriterion(ctx context.Context, p scope.Principal, c store.Criterion) error
	DeleteCriterion(ctx context.Context, p scope.Principal, criterionID string) error
	ListComparisons(ctx context.Context, versionID string) ([]store.PairwiseComparison, error)
	ReplaceComparisons(ctx context.Context, p scope.Principal, versionID string, comparisons []store.PairwiseComparison, weights map[string]float64) error

	ListProjects(ctx context.Context, p scope.Principal, extra scope.Filter) ([]store.Project, error)
	CountProjects(ctx context.Context, p scope.Principal) (int, error)
	GetProject(ctx context.Context, p scope.Principal, projectID string) (store.Project, error)
	InsertProject(ctx context.Context, p scope.Principal, project store.Project) error
	UpdateProject(ctx context.Context, p scope.Principal, project store.Project) error
	DeleteProject(ctx context.Context, p scope.Principal, projectID string) error
	SetProjectScore(ctx context.Context, p scope.Principal, projectID string, score float64) error

	UpsertSelfScore(ctx context.Context, p scope.Principal, score store.ProjectCriteriaScore) (string, bool, error)
	ListSelfScores(ctx context.Context, p scope.Principal, projectID, versionID string) ([]store.ProjectCriteriaScore, error)
	UpsertCommitteeScore(ctx context.Context, p scope.Principal, score store.CommitteeScore) (string, bool, error)
	ListCommitteeScores(ctx context.Context, p scope.Principal, sessionID string) ([]store.CommitteeScore, error)
	CommitteeScoredCounts(ctx context.Context, sessionID string) (map[string]int, error)
	InsertReviewSession(ctx context.Context, p scope.Principal, session store.ReviewSession) error
	ListReviewSessions(ctx context.Context, p scope.Principal) ([]store.ReviewSession, error)
	GetReviewSession(ctx context.Context, p scope.Principal, sessionID string) (store.ReviewSession, error)

	ListAuditLog(ctx context.Context, p scope.Principal, limit int) ([]store.AuditLogEntry, error)
}

type listCache interface {
	Get(ctx context.Context, organizationID, departmentID string) ([]store.Project, bool, error)
	Set(ctx context.Context, organizationID, departmentID string, projects []store.Project) error
	Invalidate(ctx context.Context, organizationID string) error
}

type searchIndex interface {
	Search(q search.Query) search.Response
	IndexProject(record search.ProjectRecord)
	DeleteProject(id string)
}

type Service struct {
	cfg    config.Config
	store  dataStore
	cache  listCache
	search searchIndex
	log    zerolog.Logger
}

func New(cfg config.Config, dataStore *store.PostgresStore, searchService *search.Service, log zerolog.Logger) *Service {
	service := &Service{
		cfg:   cfg,
		store: dataStore,
		log:   log.With().Str("component", "service").Logger(),
	}
	if searchService != nil {
		service.search = searchService
	}
	return service
}

// NewWithListCache wires the optional Redis project listing cache.
func NewWithListCache(cfg config.Config, dataStore *store.PostgresStore, projectCache *cache.ProjectListCache, searchService *search.Service, log zerolog.Logger) *Service {
	service := New(cfg, dataStore, searchService, log)
	service.cache = projectCache
	return service
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// requireScope rejects operations attempted without organization context.
// Only internal bootstrap lookups may run unscoped.
func requireScope(p scope.Principal) error {
	if !p.Scoped() || p.UserID == "" {
		return scopeError("organization context required")
	}
	return nil
}

func requireAction(p scope.Principal, action rbac.Action) error {
	if err := requireScope(p); err != nil {
		return err
	}
	if !rbac.Can(p.Role, action) {
		return forbiddenError()
	}
	return nil
}

// storeErr translates storage failures into the domain taxonomy.
func storeErr(err error, entity, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return notFoundError(entity, id)
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	return persistenceError(err)
}

// ---- criteria versions ----

func (s *Service) ListVersions(ctx context.Context, p scope.Principal) ([]store.CriteriaVersion, error) {
	if err := requireAction(p, rbac.ActionRead); err != nil {
		return nil, err
	}
	versions, err := s.store.ListVersions(ctx, p)
	if err != nil {
		return nil, persistenceError(err)
	}
	return versions, nil
}

func (s *Service) GetVersion(ctx context.Context, p scope.Principal, versionID string) (store.CriteriaVersion, error) {
	if err := requireAction(p, rbac.ActionRead); err != nil {
		return store.CriteriaVersion{}, err
	}
	version, err := s.store.GetVersion(ctx, p, versionID)
	if err != nil {
		return store.CriteriaVersion{}, storeErr(err, "criteriaVersion", versionID)
	}
	return version, nil
}

func (s *Service) ActiveVersion(ctx context.Context, p scope.Principal) (store.CriteriaVersion, error) {
	if err := requireAction(p, rbac.ActionRead); err != nil {
		return store.CriteriaVersion{}, err
	}
	version, err := s.store.ActiveVersion(ctx, p)
	if err != nil {
		return store.CriteriaVersion{}, storeErr(err, "criteriaVersion", "active")
	}
	return version, nil
}

func (s *Service) CreateVersion(ctx context.Context, p scope.Principal, input CreateVersionInput) (store.CriteriaVersion, error) {
	if err := requireAction(p, rbac.ActionCriteriaWrite); err != nil {
		return store.CriteriaVersion{}, err
	}
	if strings.TrimSpace(input.Name) == "" {
		return store.CriteriaVersion{}, validationError("version name is required", nil)
	}

	version := store.CriteriaVersion{
		ID:             util.NewID("cv"),
		OrganizationID: p.OrganizationID,
		Name:           strings.TrimSpace(input.Name),
		Description:    input.Description,
	}
	if err := s.store.InsertVersion(ctx, p, version, input.Activate); err != nil {
		return store.CriteriaVersion{}, persistenceError(err)
	}
	return s.GetVersion(ctx, p, version.ID)
}

func (s *Service) ActivateVersion(ctx context.Context, p scope.Principal, versionID string) error {
	if err := requireAction(p, rbac.ActionCriteriaWrite); err != nil {
		return err
	}
	if strings.TrimSpace(versionID) == "" {
		return validationError("version id is required", nil)
	}
	if err := s.store.ActivateVersion(ctx, p, versionID); err != nil {
		return storeErr(err, "criteriaVersion", versionID)
	}
	return nil
}

func (s *Service) DeleteVersion(ctx context.Context, p scope.Principal, versionID string) (DeleteVersionResult, error) {
	if err := requireAction(p, rbac.ActionCriteriaWrite); err != nil {
		return DeleteVersionResult{}, err
	}
	promoted, err := s.store.DeleteVersion(ctx, p, versionID)
	if err != nil {
		if errors.Is(err, store.ErrOnlyVersion) {
			return DeleteVersionResult{}, validationError("cannot delete the organization's only criteria version", nil)
		}
		return DeleteVersionResult{}, storeErr(err, "criteriaVersion", versionID)
	}
	return DeleteVersionResult{DeletedID: versionID, PromotedID: promoted}, nil
}

// ---- criteria ----

func (s *Service) ListCriteria(ctx context.Context, p scope.Principal, versionID string) ([]store.Criterion, error) {
	if _, err := s.GetVersion(ctx, p, versionID); err != nil {
		return nil, err
	}
	criteria, err := s.store.ListCriteria(ctx, p, versionID)
	if err != nil {
		return nil, persistenceError(err)
	}
	return criteria, nil
}

func (s *Service) CreateCriterion(ctx context.Context, p scope.Principal, versionID string, input CriterionInput) (store.Criterion, error) {
	if err := requireAction(p, rbac.ActionCriteriaWrite); err != nil {
		return store.Criterion{}, err
	}
	if _, err := s.GetVersion(ctx, p, versionID); err != nil {
		return store.Criterion{}, err
	}
	if err := validateCriterionInput(input); err != nil {
		return store.Criterion{}, err
	}

	criterion := store.Criterion{
		ID:        util.NewID("crit"),
		VersionID: versionID,
		Key:       strings.TrimSpace(input.Key),
		Label:     strings.TrimSpace(input.Label),
		ScaleMin:  input.ScaleMin,
		ScaleMax:  input.ScaleMax,
		IsInverse: input.IsInverse,
		Rubric:    input.Rubric,
	}
	if err := s.store.InsertCriterion(ctx, p, criterion); err != nil {
		return store.Criterion{}, persistenceError(err)
	}
	return s.getScopedCriterion(ctx, p, criterion.ID)
}

func validateCriterionInput(input CriterionInput) error {
	if strings.TrimSpace(input.Key) == "" || strings.TrimSpace(input.Label) == "" {
		return validationError("criterion key and label are required", nil)
	}
	if input.ScaleMax <= input.ScaleMin {
		return validationError("criterion scale max must exceed scale min", map[string]float64{"scaleMin": input.ScaleMin, "scaleMax": input.ScaleMax})
	}
	return nil
}

// getScopedCriterion resolves a criterion by id and verifies its owning
// version belongs to the caller's organization. Criteria carry no
// organization column, so scope is enforced through the version lookup.
func (s *Service) getScopedCriterion(ctx context.Context, p scope.Principal, criterionID string) (store.Criterion, error) {
	criterion, err := s.store.GetCriterion(ctx, criterionID)
	if err != nil {
		return store.Criterion{}, storeErr(err, "criterion", criterionID)
	}
	if _, err := s.store.GetVersion(ctx, p, criterion.VersionID); err != nil {
		return store.Criterion{}, notFoundError("criterion", criterionID)
	}
	return criterion, nil
}

func (s *Service) GetCriterion(ctx context.Context, p scope.Principal, criterionID string) (store.Criterion, error) {
	if err := requireAction(p, rbac.ActionRead); err != nil {
		return store.Criterion{}, err
	}
	return s.getScopedCriterion(ctx, p, criterionID)
}

// GetCriterionByKey resolves a criterion by human key within a version and
// fails loudly when the key does not exist there.
func (s *Service) GetCriterionByKey(ctx context.Context, p scope.Principal, versionID, key string) (store.Criterion, error) {
	if _, err := s.GetVersion(ctx, p, versionID); err != nil {
		return store.Criterion{}, err
	}
	criterion, err := s.store.GetCriterionByKey(ctx, versionID, key)
	if err != nil {
		return store.Criterion{}, storeErr(err, "criterion", key)
	}
	return criterion, nil
}

func (s *Service) UpdateCriterion(ctx context.Context, p scope.Principal, criterionID string, input CriterionInput) (store.Criterion, error) {
	if err := requireAction(p, rbac.ActionCriteriaWrite); err != nil {
		return store.Criterion{}, err
	}
	criterion, err := s.getScopedCriterion(ctx, p, criterionID)
	if err != nil {
		return store.Criterion{}, err
	}
	if err := validateCriterionInput(input); err != nil {
		return store.Criterion{}, err
	}

	criterion.Key = strings.TrimSpace(input.Key)
	criterion.Label = strings.TrimSpace(input.Label)
	criterion.ScaleMin = input.ScaleMin
	criterion.ScaleMax = input.ScaleMax
	criterion.IsInverse = input.IsInverse
	criterion.Rubric = input.Rubric
	if err := s.store.UpdateCriterion(ctx, p, criterion); err != nil {
		return store.Criterion{}, storeErr(err, "criterion", criterionID)
	}
	return criterion, nil
}

func (s *Service) DeleteCriterion(ctx context.Context, p scope.Principal, criterionID string) error {
	if err := requireAction(p, rbac.ActionCriteriaWrite); err != nil {
		return err
	}
	if _, err := s.getScopedCriterion(ctx, p, criterionID); err != nil {
		return err
	}
	if err := s.store.DeleteCriterion(ctx, p, criterionID); err != nil {
		return storeErr(err, "criterion", criterionID)
	}
	return nil
}

// comparisonValues is the accepted judgment domain: B more important,
// equal, A more important.
var comparisonValues = []float64{1.0 / 3, 1, 3}

func validComparisonValue(value float64) bool {
	for _, allowed := range comparisonValues {
		if math.Abs(value-allowed) < 1e-9 {
			return true
		}
	}
	return false
}

// SaveComparisons replaces a version's pairwise comparisons, derives fresh
// AHP weights and persists them onto the criteria, all in one transaction.
func (s *Service) SaveComparisons(ctx context.Context, p scope.Principal, versionID string, inputs []ComparisonInput) ([]store.Criterion, error) {
	if err := requireAction(p, rbac.ActionCriteriaWrite); err != nil {
		return nil, err
	}
	if _, err := s.GetVersion(ctx, p, versionID); err != nil {
		return nil, err
	}
	criteria, err := s.store.ListCriteria(ctx, p, versionID)
	if err != nil {
		return nil, persistenceError(err)
	}
	if len(criteria) < 2 {
		return nil, validationError("at least two criteria are required to compute weights", nil)
	}

	indexByID := make(map[string]int, len(criteria))
	for i, criterion := range criteria {
		indexByID[criterion.ID] = i
	}

	// Repeated judgments for the same ordered pair are legal input; the
	// last one wins, and only that one is persisted so the insert never
	// collides with the pair uniqueness constraint.
	type orderedPair struct{ a, b string }
	pairOrder := make([]orderedPair, 0, len(inputs))
	latest := make(map[orderedPair]ComparisonInput, len(inputs))
	for _, input := range inputs {
		a, okA := indexByID[input.CriterionA]
		b, okB := indexByID[input.CriterionB]
		if !okA || !okB {
			return nil, validationError("comparison references a criterion outside this version", map[string]string{"criterionA": input.CriterionA, "criterionB": input.CriterionB})
		}
		if a == b {
			return nil, validationError("comparison must reference two distinct criteria", nil)
		}
		if !validComparisonValue(input.Value) {
			return nil, validationError("comparison value must be 1/3, 1 or 3", map[string]float64{"value": input.Value})
		}
		pair := orderedPair{a: input.CriterionA, b: input.CriterionB}
		if _, seen := latest[pair]; !seen {
			pairOrder = append(pairOrder, pair)
		}
		latest[pair] = input
	}

	comparisons := make([]ahp.Comparison, 0, len(pairOrder))
	rows := make([]store.PairwiseComparison, 0, len(pairOrder))
	for _, pair := range pairOrder {
		input := latest[pair]
		comparisons = append(comparisons, ahp.Comparison{A: indexByID[input.CriterionA], B: indexByID[input.CriterionB], Value: input.Value})
		rows = append(rows, store.PairwiseComparison{
			ID:         util.NewID("cmp"),
			VersionID:  versionID,
			CriterionA: input.CriterionA,
			CriterionB: input.CriterionB,
			Value:      input.Value,
			ComparedBy: p.UserID,
		})
	}

	weights, err := ahp.ComputeWeights(len(criteria), comparisons)
	if err != nil {
		return nil, validationError(err.Error(), nil)
	}
	weightByID := make(map[string]float64, len(criteria))
	for i, criterion := range criteria {
		weightByID[criterion.ID] = weights[i]
	}

	if err := s.store.ReplaceComparisons(ctx, p, versionID, rows, weightByID); err != nil {
		return nil, persistenceError(err)
	}
	return s.store.ListCriteria(ctx, p, versionID)
}

func (s *Service) ListComparisons(ctx context.Context, p scope.Principal, versionID string) ([]store.PairwiseComparison, error) {
	if _, err := s.GetVersion(ctx, p, versionID); err != nil {
		return nil, err
	}
	comparisons, err := s.store.ListComparisons(ctx, versionID)
	if err != nil {
		return nil, persistenceError(err)
	}
	return comparisons, nil
}

// ---- projects ----

// listCacheDepartment returns the cache key's department component: only
// project-manager listings are department narrowed.
func listCacheDepartment(p scope.Principal) string {
	if p.Role == rbac.RoleProjectManager {
		return p.DepartmentID
	}
	return ""
}

func (s *Service) ListProjects(ctx context.Context, p scope.Principal) ([]store.Project, error) {
	if err := requireAction(p, rbac.ActionRead); err != nil {
		return nil, err
	}

	dept := listCacheDepartment(p)
	if s.cache != nil {
		cached, ok, err := s.cache.Get(ctx, p.OrganizationID, dept)
		if err != nil {
			s.log.Warn().Err(err).Str("organization_id", p.OrganizationID).Msg("project list cache read failed")
		} else if ok {
			return cached, nil
		}
	}

	projects, err := s.store.ListProjects(ctx, p, nil)
	if err != nil {
		return nil, persistenceError(err)
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, p.OrganizationID, dept, projects); err != nil {
			s.log.Warn().Err(err).Str("organization_id", p.OrganizationID).Msg("project list cache write failed")
		}
	}
	return projects, nil
}

// SearchProjects routes a text query through the search facade; results are
// organization filtered by the index itself.
func (s *Service) SearchProjects(ctx context.Context, p scope.Principal, text string, limit, offset int) (search.Response, error) {
	if err := requireAction(p, rbac.ActionRead); err != nil {
		return search.Response{}, err
	}
	if s.search == nil {
		// No backend configured still answers with an empty result set,
		// never a null results field.
		return search.Response{Results: []search.Result{}, Query: text}, nil
	}
	return s.search.Search(search.Query{
		Text:           text,
		OrganizationID: p.OrganizationID,
		DepartmentID:   listCacheDepartment(p),
		Limit:          limit,
		Offset:         offset,
	}), nil
}

func (s *Service) CountProjects(ctx context.Context, p scope.Principal) (int, error) {
	if err := requireAction(p, rbac.ActionRead); err != nil {
		return 0, err
	}
	count, err := s.store.CountProjects(ctx, p)
	if err != nil {
		return 0, persistenceError(err)
	}
	return count, nil
}

func (s *Service) GetProject(ctx context.Context, p scope.Principal, projectID string) (store.Project, error) {
	if err := requireAction(p, rbac.ActionRead); err != nil {
		return store.Project{}, err
	}
	project, err := s.store.GetProject(ctx, p, projectID)
	if err != nil {
		return store.Project{}, storeErr(err, "project", projectID)
	}
	return project, nil
}

func (s *Service) CreateProject(ctx context.Context, p scope.Principal, input ProjectInput) (store.Project, error) {
	if err := requireAction(p, rbac.ActionProjectWrite); err != nil {
		return store.Project{}, err
	}
	if strings.TrimSpace(input.Name) == "" {
		return store.Project{}, validationError("project name is required", nil)
	}

	// Project managers always create inside their own department.
	departmentID := strings.TrimSpace(input.DepartmentID)
	if p.Role == rbac.RoleProjectManager && p.DepartmentID != "" {
		departmentID = p.DepartmentID
	}

	project := store.Project{
		ID:             util.NewID("proj"),
		OrganizationID: p.OrganizationID,
		Name:           strings.TrimSpace(input.Name),
		Description:    input.Description,
		Budget:         input.Budget,
		ResourceDays:   input.ResourceDays,
		Tags:           input.Tags,
		StartDate:      input.StartDate,
		EndDate:        input.EndDate,
		Status:         defaultStatus(input.Status),
		CreatedBy:      p.UserID,
	}
	if departmentID != "" {
		project.DepartmentID = &departmentID
	}

	if err := s.store.InsertProject(ctx, p, project); err != nil {
		return store.Project{}, persistenceError(err)
	}
	s.afterProjectMutation(ctx, p, project)
	return s.GetProject(ctx, p, project.ID)
}

func defaultStatus(status string) string {
	if strings.TrimSpace(status) == "" {
		return "PROPOSED"
	}
	return status
}

func (s *Service) UpdateProject(ctx context.Context, p scope.Principal, projectID string, input ProjectInput) (store.Project, error) {
	if err := requireAction(p, rbac.ActionProjectWrite); err != nil {
		return store.Project{}, err
	}
	project, err := s.store.GetProject(ctx, p, projectID)
	if err != nil {
		return store.Project{}, storeErr(err, "project", projectID)
	}
	if strings.TrimSpace(input.Name) == "" {
		return store.Project{}, validationError("project name is required", nil)
	}

	project.Name = strings.TrimSpace(input.Name)
	project.Description = input.Description
	project.Budget = input.Budget
	project.ResourceDays = input.ResourceDays
	project.Tags = input.Tags
	project.StartDate = input.StartDate
	project.EndDate = input.EndDate
	project.Status = defaultStatus(input.Status)
	if departmentID := strings.TrimSpace(input.DepartmentID); departmentID != "" {
		project.DepartmentID = &departmentID
	}

	if err := s.store.UpdateProject(ctx, p, project); err != nil {
		return store.Project{}, storeErr(err, "project", projectID)
	}
	s.afterProjectMutation(ctx, p, project)
	return project, nil
}

func (s *Service) DeleteProject(ctx context.Context, p scope.Principal, projectID string) error {
	if err := requireAction(p, rbac.ActionProjectWrite); err != nil {
		return err
	}
	if err := s.store.DeleteProject(ctx, p, projectID); err != nil {
		return storeErr(err, "project", projectID)
	}
	s.invalidateListCache(ctx, p.OrganizationID)
	if s.search != nil {
		s.search.DeleteProject(projectID)
	}
	return nil
}

func (s *Service) afterProjectMutation(ctx context.Context, p scope.Principal, project store.Project) {
	s.invalidateListCache(ctx, p.OrganizationID)
	if s.search != nil {
		departmentID := ""
		if project.DepartmentID != nil {
			departmentID = *project.DepartmentID
		}
		s.search.IndexProject(search.ProjectRecord{
			ID:             project.ID,
			OrganizationID: project.OrganizationID,
			DepartmentID:   departmentID,
			Name:           project.Name,
			Description:    project.Description,
			Status:         project.Status,
			Tags:           project.Tags,
		})
	}
}

func (s *Service) invalidateListCache(ctx context.Context, organizationID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, organizationID); err != nil {
		s.log.Warn().Err(err).Str("organization_id", organizationID).Msg("project list cache invalidation failed")
	}
}

// ---- scoring ----

// resolveVersion returns the explicitly requested version or falls back to
// the organization's active one.
func (s *Service) resolveVersion(ctx context.Context, p scope.Principal, versionID string) (store.CriteriaVersion, error) {
	if strings.TrimSpace(versionID) != "" {
		version, err := s.store.GetVersion(ctx, p, versionID)
		if err != nil {
			return store.CriteriaVersion{}, storeErr(err, "criteriaVersion", versionID)
		}
		return version, nil
	}
	version, err := s.store.ActiveVersion(ctx, p)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.CriteriaVersion{}, validationError("organization has no active criteria version", nil)
		}
		return store.CriteriaVersion{}, persistenceError(err)
	}
	return version, nil
}

func (s *Service) resolveCriterion(ctx context.Context, p scope.Principal, versionID, criterionID, criterionKey string) (store.Criterion, error) {
	if strings.TrimSpace(criterionID) != "" {
		criterion, err := s.getScopedCriterion(ctx, p, criterionID)
		if err != nil {
			return store.Criterion{}, err
		}
		if criterion.VersionID != versionID {
			return store.Criterion{}, validationError("criterion does not belong to the scoring version", map[string]string{"criterionId": criterionID, "versionId": versionID})
		}
		return criterion, nil
	}
	if strings.TrimSpace(criterionKey) == "" {
		return store.Criterion{}, validationError("criterion id or key is required", nil)
	}
	criterion, err := s.store.GetCriterionByKey(ctx, versionID, criterionKey)
	if err != nil {
		return store.Criterion{}, storeErr(err, "criterion", criterionKey)
	}
	return criterion, nil
}

func validateScoreWithinScale(criterion store.Criterion, raw float64) error {
	if raw < criterion.ScaleMin || raw > criterion.ScaleMax {
		return validationError(
			fmt.Sprintf("score must be between %g and %g", criterion.ScaleMin, criterion.ScaleMax),
			map[string]any{"criterionId": criterion.ID, "score": raw},
		)
	}
	return nil
}

// UpsertSelfScore records a project owner's self-assessment for one
// criterion of the active (or explicitly chosen) version.
func (s *Service) UpsertSelfScore(ctx context.Context, p scope.Principal, projectID string, input SelfScoreInput) (store.ProjectCriteriaScore, bool, error) {
	if err := requireAction(p, rbac.ActionSelfScore); err != nil {
		return store.ProjectCriteriaScore{}, false, err
	}
	project, err := s.store.GetProject(ctx, p, projectID)
	if err != nil {
		return store.ProjectCriteriaScore{}, false, storeErr(err, "project", projectID)
	}
	version, err := s.resolveVersion(ctx, p, input.VersionID)
	if err != nil {
		return store.ProjectCriteriaScore{}, false, err
	}
	criterion, err := s.resolveCriterion(ctx, p, version.ID, input.CriterionID, input.CriterionKey)
	if err != nil {
		return store.ProjectCriteriaScore{}, false, err
	}
	if err := validateScoreWithinScale(criterion, input.Score); err != nil {
		return store.ProjectCriteriaScore{}, false, err
	}

	score := store.ProjectCriteriaScore{
		ID:          util.NewID("pcs"),
		ProjectID:   project.ID,
		CriterionID: criterion.ID,
		VersionID:   version.ID,
		Score:       input.Score,
		Comment:     input.Comment,
		ScoredBy:    p.UserID,
	}
	persistedID, created, err := s.store.UpsertSelfScore(ctx, p, score)
	if err != nil {
		return store.ProjectCriteriaScore{}, false, persistenceError(err)
	}
	// On an update the pre-generated id lost the conflict; report the row
	// that actually holds the score.
	score.ID = persistedID
	s.invalidateListCache(ctx, p.OrganizationID)
	return score, created, nil
}

func (s *Service) ListSelfScores(ctx context.Context, p scope.Principal, projectID, versionID string) ([]store.ProjectCriteriaScore, error) {
	if err := requireAction(p, rbac.ActionRead); err != nil {
		return nil, err
	}
	project, err := s.store.GetProject(ctx, p, projectID)
	if err != nil {
		return nil, storeErr(err, "project", projectID)
	}
	version, err := s.resolveVersion(ctx, p, versionID)
	if err != nil {
		return nil, err
	}
	scores, err := s.store.ListSelfScores(ctx, p, project.ID, version.ID)
	if err != nil {
		return nil, persistenceError(err)
	}
	return scores, nil
}

// ComputeProjectScore aggregates a project's self-assessment into one
// overall score and caches it onto the project. The cache write-back is
// best-effort: its failure is logged, never propagated, and the computed
// value is still returned.
func (s *Service) ComputeProjectScore(ctx context.Context, p scope.Principal, projectID, versionID string) (float64, error) {
	if err := requireAction(p, rbac.ActionRead); err != nil {
		return 0, err
	}
	project, err := s.store.GetProject(ctx, p, projectID)
	if err != nil {
		return 0, storeErr(err, "project", projectID)
	}
	version, err := s.resolveVersion(ctx, p, versionID)
	if err != nil {
		return 0, err
	}
	criteria, err := s.store.ListCriteria(ctx, p, version.ID)
	if err != nil {
		return 0, persistenceError(err)
	}
	scores, err := s.store.ListSelfScores(ctx, p, project.ID, version.ID)
	if err != nil {
		return 0, persistenceError(err)
	}

	overall := scoring.Aggregate(buildEntries(criteria, scores), s.scoringOptions())

	if err := s.store.SetProjectScore(ctx, p, project.ID, overall); err != nil {
		s.log.Warn().Err(err).
			Str("project_id", project.ID).
			Str("version_id", version.ID).
			Float64("score", overall).
			Msg("cached score write-back failed")
	} else {
		s.invalidateListCache(ctx, p.OrganizationID)
	}
	return overall, nil
}

// scoringOptions maps the configured output scale onto aggregator
// options. An unconfigured scale yields the zero options, which the
// aggregator resolves to its defaults.
func (s *Service) scoringOptions() scoring.Options {
	return scoring.Options{
		ScaleMin:  s.cfg.ScoreScaleMin,
		ScaleMax:  s.cfg.ScoreScaleMax,
		Precision: s.cfg.ScorePrecision,
	}
}

// buildEntries joins score rows with their criteria. Criteria without a
// computed weight participate at weight 1: "no weights yet" must not read
// as "zero importance".
func buildEntries(criteria []store.Criterion, scores []store.ProjectCriteriaScore) []scoring.Entry {
	byID := make(map[string]store.Criterion, len(criteria))
	for _, criterion := range criteria {
		byID[criterion.ID] = criterion
	}

	entries := make([]scoring.Entry, 0, len(scores))
	for _, score := range scores {
		criterion, ok := byID[score.CriterionID]
		if !ok {
			continue
		}
		weight := 1.0
		if criterion.Weight != nil && *criterion.Weight > 0 {
			weight = *criterion.Weight
		}
		entries = append(entries, scoring.Entry{
			CriterionID: criterion.ID,
			Raw:         score.Score,
			Weight:      weight,
			Inverse:     criterion.IsInverse,
			ScaleMin:    criterion.ScaleMin,
			ScaleMax:    criterion.ScaleMax,
		})
	}
	return entries
}

// ---- committee review ----

func (s *Service) CreateReviewSession(ctx context.Context, p scope.Principal, input ReviewSessionInput) (store.ReviewSession, error) {
	if err := requireAction(p, rbac.ActionManageSessions); err != nil {
		return store.ReviewSession{}, err
	}
	if strings.TrimSpace(input.Name) == "" {
		return store.ReviewSession{}, validationError("session name is required", nil)
	}
	version, err := s.resolveVersion(ctx, p, input.VersionID)
	if err != nil {
		return store.ReviewSession{}, err
	}

	session := store.ReviewSession{
		ID:             util.NewID("sess"),
		OrganizationID: p.OrganizationID,
		VersionID:      version.ID,
		Name:           strings.TrimSpace(input.Name),
		Status:         "OPEN",
		StartsAt:       input.StartsAt,
		EndsAt:         input.EndsAt,
	}
	if err := s.store.InsertReviewSession(ctx, p, session); err != nil {
		return store.ReviewSession{}, persistenceError(err)
	}
	return session, nil
}

func (s *Service) ListReviewSessions(ctx context.Context, p scope.Principal) ([]store.ReviewSession, error) {
	if err := requireAction(p, rbac.ActionRead); err != nil {
		return nil, err
	}
	sessions, err := s.store.ListReviewSessions(ctx, p)
	if err != nil {
		return nil, persistenceError(err)
	}
	return sessions, nil
}

// UpsertCommitteeScore records one reviewer's independent rating; the
// reviewer is always the calling principal.
func (s *Service) UpsertCommitteeScore(ctx context.Context, p scope.Principal, sessionID string, input CommitteeScoreInput) (store.CommitteeScore, bool, error) {
	if err := requireAction(p, rbac.ActionCommitteeScore); err != nil {
		return store.CommitteeScore{}, false, err
	}
	session, err := s.store.GetReviewSession(ctx, p, sessionID)
	if err != nil {
		return store.CommitteeScore{}, false, storeErr(err, "reviewSession", sessionID)
	}
	project, err := s.store.GetProject(ctx, p, input.ProjectID)
	if err != nil {
		return store.CommitteeScore{}, false, storeErr(err, "project", input.ProjectID)
	}
	criterion, err := s.resolveCriterion(ctx, p, session.VersionID, input.CriterionID, input.CriterionKey)
	if err != nil {
		return store.CommitteeScore{}, false, err
	}
	if err := validateScoreWithinScale(criterion, input.Score); err != nil {
		return store.CommitteeScore{}, false, err
	}

	score := store.CommitteeScore{
		ID:          util.NewID("cms"),
		ProjectID:   project.ID,
		CriterionID: criterion.ID,
		SessionID:   session.ID,
		UserID:      p.UserID,
		Score:       input.Score,
		Comment:     input.Comment,
	}
	persistedID, created, err := s.store.UpsertCommitteeScore(ctx, p, score)
	if err != nil {
		return store.CommitteeScore{}, false, persistenceError(err)
	}
	score.ID = persistedID
	return score, created, nil
}

func (s *Service) ListCommitteeScores(ctx context.Context, p scope.Principal, sessionID string) ([]store.CommitteeScore, error) {
	if err := requireAction(p, rbac.ActionRead); err != nil {
		return nil, err
	}
	if _, err := s.store.GetReviewSession(ctx, p, sessionID); err != nil {
		return nil, storeErr(err, "reviewSession", sessionID)
	}
	scores, err := s.store.ListCommitteeScores(ctx, p, sessionID)
	if err != nil {
		return nil, persistenceError(err)
	}
	return scores, nil
}

// CommitteeProgress reports, per committee member, how many of the
// session's project×criterion cells they have scored.
func (s *Service) CommitteeProgress(ctx context.Context, p scope.Principal, sessionID string) ([]store.ReviewerProgress, error) {
	if err := requireAction(p, rbac.ActionRead); err != nil {
		return nil, err
	}
	session, err := s.store.GetReviewSession(ctx, p, sessionID)
	if err != nil {
		return nil, storeErr(err, "reviewSession", sessionID)
	}
	criteria, err := s.store.ListCriteria(ctx, p, session.VersionID)
	if err != nil {
		return nil, persistenceError(err)
	}
	projectCount, err := s.store.CountProjects(ctx, p)
	if err != nil {
		return nil, persistenceError(err)
	}
	counts, err := s.store.CommitteeScoredCounts(ctx, session.ID)
	if err != nil {
		return nil, persistenceError(err)
	}
	users, err := s.store.ListUsers(ctx, p)
	if err != nil {
		return nil, persistenceError(err)
	}

	expected := projectCount * len(criteria)
	progress := make([]store.ReviewerProgress, 0)
	for _, user := range users {
		if rbac.Role(user.Role) != rbac.RoleCommittee {
			continue
		}
		progress = append(progress, store.ReviewerProgress{
			UserID:      user.ID,
			DisplayName: user.DisplayName,
			Scored:      counts[user.ID],
			Expected:    expected,
		})
	}
	return progress, nil
}

// ---- audit ----

func (s *Service) ListAuditLog(ctx context.Context, p scope.Principal, limit int) ([]store.AuditLogEntry, error) {
	if err := requireAction(p, rbac.ActionAuditRead); err != nil {
		return nil, err
	}
	entries, err := s.store.ListAuditLog(ctx, p, limit)
	if err != nil {
		return nil, persistenceError(err)
	}
	return entries, nil
}
