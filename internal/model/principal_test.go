package model

import "testing"

// HasRoleが保持するロールに対してのみtrueを返すことを検証
func TestPrincipal_HasRole(t *testing.T) {
	p := &Principal{
		Subject: "user-1",
		Roles:   []string{"reader", "admin"},
	}

	if !p.HasRole("admin") {
		t.Error("expected HasRole(admin) to be true")
	}
	if !p.HasRole("reader") {
		t.Error("expected HasRole(reader) to be true")
	}
	if p.HasRole("editor") {
		t.Error("expected HasRole(editor) to be false")
	}
}

// ロールを持たないPrincipalに対してHasRoleがfalseを返すことを検証
func TestPrincipal_HasRole_NoRoles(t *testing.T) {
	p := &Principal{Subject: "user-2"}

	if p.HasRole("admin") {
		t.Error("expected HasRole to be false for principal without roles")
	}
}
