package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestOPAEvaluator_HealthCheck(t *testing.T) {
	ctx := context.Background()
	e, err := NewOPAEvaluator(ctx, "")
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}
	if err := e.HealthCheck(ctx); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
}

func TestOPAEvaluator_DefaultMatrix(t *testing.T) {
	ctx := context.Background()
	e, err := NewOPAEvaluator(ctx, "")
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}
	tests := []struct {
		role, capability string
		want             bool
	}{
		{"OWNER", "admin", true},
		{"OWNER", "share", true},
		{"EDITOR", "write", true},
		{"EDITOR", "export", true},
		{"EDITOR", "delete", false},
		{"EDITOR", "share", false},
		{"VIEWER", "read", true},
		{"VIEWER", "write", false},
		{"GUEST", "read", false},
		{"", "read", false},
		{"OWNER", "", false},
	}
	for _, tt := range tests {
		got, err := e.Allows(ctx, tt.role, tt.capability)
		if err != nil {
			t.Fatalf("Allows(%q, %q): %v", tt.role, tt.capability, err)
		}
		if got != tt.want {
			t.Errorf("Allows(%q, %q) = %v, want %v", tt.role, tt.capability, got, tt.want)
		}
	}
}

func TestOPAEvaluator_CustomPolicyFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "caps.rego")
	policy := `package unifiedai.capabilities

default allow := false

allow if {
	input.role == "VIEWER"
	input.capability == "export"
}
`
	if err := os.WriteFile(path, []byte(policy), 0o600); err != nil {
		t.Fatal(err)
	}
	e, err := NewOPAEvaluatorFromFile(ctx, path)
	if err != nil {
		t.Fatalf("NewOPAEvaluatorFromFile: %v", err)
	}
	if ok, _ := e.Allows(ctx, "VIEWER", "export"); !ok {
		t.Error("custom policy should allow VIEWER export")
	}
	if ok, _ := e.Allows(ctx, "OWNER", "read"); ok {
		t.Error("custom policy should deny OWNER read")
	}
	if err := e.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck should fail when OWNER read is denied")
	}
}

func TestOPAEvaluator_InvalidPolicy(t *testing.T) {
	if _, err := NewOPAEvaluator(context.Background(), "package broken\n\nallow if {"); err == nil {
		t.Fatal("expected compile error")
	}
	if _, err := NewOPAEvaluatorFromFile(context.Background(), filepath.Join(t.TempDir(), "missing.rego")); err == nil {
		t.Fatal("expected read error")
	}
}
