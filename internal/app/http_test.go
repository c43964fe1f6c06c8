package app

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"folio/api/internal/scope"
	"folio/api/internal/store"
)

func newTestHTTPServer(fs *fakeStore) *HTTPServer {
	return NewHTTPServer(newTestService(fs), "*", zerolog.Nop())
}

func setIdentity(req *http.Request, orgID, userID, role, departmentID string) {
	req.Header.Set(headerOrgID, orgID)
	req.Header.Set(headerUserID, userID)
	req.Header.Set(headerRole, role)
	if departmentID != "" {
		req.Header.Set(headerDepartmentID, departmentID)
	}
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestHTTPServer(&fakeStore{})
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestMissingIdentityHeadersRejected(t *testing.T) {
	server := newTestHTTPServer(&fakeStore{})
	req := httptest.NewRequest(http.MethodGet, "/api/projects", nil)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d body=%s", rr.Code, rr.Body.String())
	}
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if payload["code"] != "SCOPE_REQUIRED" {
		t.Fatalf("expected code SCOPE_REQUIRED, got %v", payload["code"])
	}
}

func TestUnknownRoleRejected(t *testing.T) {
	server := newTestHTTPServer(&fakeStore{})
	req := httptest.NewRequest(http.MethodGet, "/api/projects", nil)
	setIdentity(req, "org-1", "user-1", "superuser", "")
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestWriteEndpointsForbiddenForManagement(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		body   string
	}{
		{name: "create project", method: http.MethodPost, path: "/api/projects", body: `{"name":"CRM Revamp"}`},
		{name: "delete project", method: http.MethodDelete, path: "/api/projects/proj-1", body: ``},
		{name: "create version", method: http.MethodPost, path: "/api/criteria-versions", body: `{"name":"FY27"}`},
		{name: "activate version", method: http.MethodPost, path: "/api/criteria-versions/cv-1/activate", body: `{}`},
		{name: "save comparisons", method: http.MethodPut, path: "/api/criteria-versions/cv-1/comparisons", body: `{"comparisons":[]}`},
		{name: "create session", method: http.MethodPost, path: "/api/review-sessions", body: `{"name":"Q3"}`},
	}

	server := newTestHTTPServer(&fakeStore{})
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, bytes.NewBufferString(tc.body))
			setIdentity(req, "org-1", "user-mgmt", "management", "")
			req.Header.Set("Content-Type", "application/json")
			rr := httptest.NewRecorder()

			server.Handler().ServeHTTP(rr, req)

			if rr.Code != http.StatusForbidden {
				t.Fatalf("expected 403, got %d body=%s", rr.Code, rr.Body.String())
			}
			var payload map[string]any
			if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
				t.Fatalf("parse response: %v", err)
			}
			if payload["code"] != "FORBIDDEN" {
				t.Fatalf("expected code FORBIDDEN, got %v", payload["code"])
			}
		})
	}
}

func TestListProjectsScopedToHeaderOrganization(t *testing.T) {
	var gotPrincipal scope.Principal
	fs := &fakeStore{
		listProjectsFn: func(_ context.Context, p scope.Principal, _ scope.Filter) ([]store.Project, error) {
			gotPrincipal = p
			return []store.Project{{ID: "proj-1", OrganizationID: p.OrganizationID, Name: "CRM Revamp"}}, nil
		},
	}
	server := newTestHTTPServer(fs)

	req := httptest.NewRequest(http.MethodGet, "/api/projects", nil)
	setIdentity(req, "org-1", "user-pm", "projectManager", "dept-eng")
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if gotPrincipal.OrganizationID != "org-1" {
		t.Fatalf("expected org-1, got %q", gotPrincipal.OrganizationID)
	}
	if gotPrincipal.DepartmentID != "dept-eng" {
		t.Fatalf("expected dept-eng, got %q", gotPrincipal.DepartmentID)
	}
}

func TestProjectNotFoundMapsTo404(t *testing.T) {
	fs := &fakeStore{
		getProjectFn: func(context.Context, scope.Principal, string) (store.Project, error) {
			return store.Project{}, sql.ErrNoRows
		},
	}
	server := newTestHTTPServer(fs)

	req := httptest.NewRequest(http.MethodGet, "/api/projects/proj-missing", nil)
	setIdentity(req, "org-1", "user-pmo", "pmo", "")
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d body=%s", rr.Code, rr.Body.String())
	}
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if payload["code"] != "NOT_FOUND" {
		t.Fatalf("expected code NOT_FOUND, got %v", payload["code"])
	}
}

func TestCreateProjectReturns201(t *testing.T) {
	server := newTestHTTPServer(&fakeStore{})

	req := httptest.NewRequest(http.MethodPost, "/api/projects", bytes.NewBufferString(`{"name":"Data Platform","budget":120000}`))
	setIdentity(req, "org-1", "user-pmo", "pmo", "")
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestSelfScoreBeyondScaleReturns422(t *testing.T) {
	fs := &fakeStore{
		getCriterionFn: func(context.Context, string) (store.Criterion, error) {
			return store.Criterion{ID: "crit-a", VersionID: "cv-1", Key: "revenue", ScaleMin: 0, ScaleMax: 10}, nil
		},
	}
	server := newTestHTTPServer(fs)

	req := httptest.NewRequest(http.MethodPost, "/api/projects/proj-1/scores", bytes.NewBufferString(`{"criterionId":"crit-a","versionId":"cv-1","score":15}`))
	setIdentity(req, "org-1", "user-pm", "projectManager", "dept-eng")
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d body=%s", rr.Code, rr.Body.String())
	}
}
