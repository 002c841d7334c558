package domain

import "testing"

func TestRole_Hierarchy(t *testing.T) {
	if !RoleOwner.Satisfies(RoleEditor) || !RoleEditor.Satisfies(RoleViewer) {
		t.Error("higher role should satisfy lower")
	}
	if RoleViewer.Satisfies(RoleEditor) || RoleEditor.Satisfies(RoleOwner) {
		t.Error("lower role satisfied higher")
	}
	if _, ok := ParseRole("ADMIN"); ok {
		t.Error("ADMIN is not a workspace role")
	}
}

func TestWorkspace_ValidateOwnerXOR(t *testing.T) {
	if err := (&Workspace{Name: "w", OwnerUserID: "u", OwnerOrgID: "o"}).Validate(); err == nil {
		t.Error("both owners accepted")
	}
	if err := (&Workspace{Name: "w"}).Validate(); err == nil {
		t.Error("no owner accepted")
	}
	if err := (&Workspace{Name: "w", OwnerOrgID: "o"}).Validate(); err != nil {
		t.Errorf("org-owned: %v", err)
	}
}
