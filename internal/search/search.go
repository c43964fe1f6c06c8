package search

// Result is a single project search hit returned to the caller.
type Result struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Snippet      string `json:"snippet"`
	Status       string `json:"status"`
	DepartmentID string `json:"departmentId,omitempty"`
}

// Query describes a project search request. OrganizationID is mandatory;
// DepartmentID narrows the result set for department-scoped callers.
type Query struct {
	Text           string
	OrganizationID string
	DepartmentID   string
	Limit          int
	Offset         int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text project search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// ProjectRecord is the data we index for a project.
type ProjectRecord struct {
	ID             string   `json:"id"`
	OrganizationID string   `json:"organizationId"`
	DepartmentID   string   `json:"departmentId"`
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	Status         string   `json:"status"`
	Tags           []string `json:"tags"`
}
