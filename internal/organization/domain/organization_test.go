package domain

import "testing"

func TestRole_Satisfies(t *testing.T) {
	roles := []Role{RoleViewer, RoleMember, RoleAdmin, RoleOwner}
	for i, have := range roles {
		for j, min := range roles {
			if got, want := have.Satisfies(min), i >= j; got != want {
				t.Errorf("%s.Satisfies(%s) = %v, want %v", have, min, got, want)
			}
		}
	}
	if Role("GUEST").Satisfies(RoleViewer) {
		t.Error("unknown role satisfied VIEWER")
	}
	if RoleOwner.Satisfies(Role("SUPERUSER")) {
		t.Error("unknown min role was satisfied")
	}
}

func TestParseRole(t *testing.T) {
	if r, ok := ParseRole(" admin "); !ok || r != RoleAdmin {
		t.Errorf("ParseRole = %q, %v", r, ok)
	}
	if _, ok := ParseRole("EDITOR"); ok {
		t.Error("EDITOR is not an organization role")
	}
}

func TestMember_Override(t *testing.T) {
	m := &Member{Permissions: map[string]bool{"delete": false}}
	if allowed, set := m.Override("delete"); !set || allowed {
		t.Errorf("delete override = %v, %v", allowed, set)
	}
	if _, set := m.Override("read"); set {
		t.Error("read should have no override")
	}
	var nilMember *Member
	if _, set := nilMember.Override("read"); set {
		t.Error("nil member has no overrides")
	}
}
