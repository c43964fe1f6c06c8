package scope

import (
	"reflect"
	"testing"

	"folio/api/internal/rbac"
)

func TestApplyInjectsOrganization(t *testing.T) {
	p := Principal{OrganizationID: "org-1", UserID: "user-1", Role: rbac.RoleAdmin}

	got := Apply(p, EntityProject, OpFind, nil)
	if got["organization_id"] != "org-1" {
		t.Fatalf("expected organization_id injected, got %v", got)
	}
}

func TestApplyPreservesCallerPredicates(t *testing.T) {
	p := Principal{OrganizationID: "org-1", Role: rbac.RolePMO}
	in := Filter{"status": "ACTIVE"}

	got := Apply(p, EntityProject, OpFind, in)
	if got["status"] != "ACTIVE" || got["organization_id"] != "org-1" {
		t.Fatalf("unexpected filter: %v", got)
	}
	if _, ok := in["organization_id"]; ok {
		t.Fatal("input filter was mutated")
	}
}

func TestApplyDepartmentNarrowing(t *testing.T) {
	cases := []struct {
		name   string
		role   rbac.Role
		dept   string
		entity Entity
		op     Op
		want   bool
	}{
		{name: "pm find projects", role: rbac.RoleProjectManager, dept: "dept-9", entity: EntityProject, op: OpFind, want: true},
		{name: "pm count projects", role: rbac.RoleProjectManager, dept: "dept-9", entity: EntityProject, op: OpCount, want: true},
		{name: "pm find users", role: rbac.RoleProjectManager, dept: "dept-9", entity: EntityUser, op: OpFind, want: true},
		{name: "pm count users", role: rbac.RoleProjectManager, dept: "dept-9", entity: EntityUser, op: OpCount, want: false},
		{name: "pm update projects", role: rbac.RoleProjectManager, dept: "dept-9", entity: EntityProject, op: OpUpdate, want: false},
		{name: "pm delete projects", role: rbac.RoleProjectManager, dept: "dept-9", entity: EntityProject, op: OpDelete, want: false},
		{name: "pm without department", role: rbac.RoleProjectManager, dept: "", entity: EntityProject, op: OpFind, want: false},
		{name: "admin with department", role: rbac.RoleAdmin, dept: "dept-9", entity: EntityProject, op: OpFind, want: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := Principal{OrganizationID: "org-1", Role: tc.role, DepartmentID: tc.dept}
			got := Apply(p, tc.entity, tc.op, nil)
			_, narrowed := got["department_id"]
			if narrowed != tc.want {
				t.Fatalf("department narrowing = %v, want %v (filter %v)", narrowed, tc.want, got)
			}
		})
	}
}

func TestApplySkipsEntitiesWithoutOrganizationColumn(t *testing.T) {
	p := Principal{OrganizationID: "org-1", Role: rbac.RoleAdmin}

	for _, entity := range []Entity{EntitySelfScore, EntityCommitteeScore, EntityComparison, EntityCriterion} {
		got := Apply(p, entity, OpFind, Filter{"project_id": "proj-1"})
		if _, ok := got["organization_id"]; ok {
			t.Fatalf("%s: organization_id injected on entity without that column", entity)
		}
	}
}

func TestApplyCreatePassesThrough(t *testing.T) {
	p := Principal{OrganizationID: "org-1", Role: rbac.RoleAdmin}
	in := Filter{"name": "Alpha"}

	got := Apply(p, EntityProject, OpCreate, in)
	if !reflect.DeepEqual(got, in) {
		t.Fatalf("create was rewritten: %v", got)
	}
}

func TestApplyUnscopedDegradesToPassThrough(t *testing.T) {
	p := Principal{UserID: "user-1", Role: rbac.RoleAdmin}
	in := Filter{"id": "proj-1"}

	got := Apply(p, EntityProject, OpFind, in)
	if !reflect.DeepEqual(got, in) {
		t.Fatalf("unscoped principal rewrote filter: %v", got)
	}
}

func TestApplyUnrecognizedOpPassesThrough(t *testing.T) {
	p := Principal{OrganizationID: "org-1", Role: rbac.RoleAdmin}
	in := Filter{"id": "proj-1"}

	got := Apply(p, EntityProject, Op("aggregateRaw"), in)
	if !reflect.DeepEqual(got, in) {
		t.Fatalf("unrecognized op rewrote filter: %v", got)
	}
	if !Bypassed(Op("aggregateRaw")) {
		t.Fatal("expected aggregateRaw to be reported as bypassed")
	}
	if Bypassed(OpCount) {
		t.Fatal("count must not be reported as bypassed")
	}
}

func TestFilterSQL(t *testing.T) {
	f := Filter{"organization_id": "org-1", "department_id": "dept-9", "status": "ACTIVE"}

	clause, args := f.SQL(2)
	if clause != "department_id=$2 AND organization_id=$3 AND status=$4" {
		t.Fatalf("unexpected clause %q", clause)
	}
	want := []any{"dept-9", "org-1", "ACTIVE"}
	if !reflect.DeepEqual(args, want) {
		t.Fatalf("unexpected args %v", args)
	}

	empty, emptyArgs := Filter{}.SQL(1)
	if empty != "" || emptyArgs != nil {
		t.Fatalf("empty filter rendered %q %v", empty, emptyArgs)
	}
}
