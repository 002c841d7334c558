package security

import (
	"errors"
	"testing"
	"time"

	"unified-ai/backend/internal/platform/apperr"
	"unified-ai/backend/internal/platform/clock"
)

func TestTokenProvider_IssueAndValidateAccess(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	p, err := NewTestTokenProvider(clk)
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	issued, err := p.IssueAccess("s1", "u1", "d1")
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	if issued.Token == "" || issued.JTI == "" {
		t.Fatal("access token or jti empty")
	}
	if !issued.ExpiresAt.Equal(clk.Now().Add(15 * time.Minute)) {
		t.Errorf("expiresAt = %v", issued.ExpiresAt)
	}
	claims, err := p.ValidateAccess(issued.Token)
	if err != nil {
		t.Fatalf("ValidateAccess: %v", err)
	}
	if claims.SessionID != "s1" || claims.Subject != "u1" || claims.DeviceID != "d1" {
		t.Errorf("claims = %+v", claims)
	}
}

func TestTokenProvider_AccessExpiredIsDistinct(t *testing.T) {
	clk := clock.NewFake(time.Now())
	p, err := NewTestTokenProvider(clk)
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	issued, err := p.IssueAccess("s1", "u1", "")
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	clk.Advance(16 * time.Minute)
	if _, err := p.ValidateAccess(issued.Token); !errors.Is(err, apperr.ErrTokenExpired) {
		t.Fatalf("want ErrTokenExpired, got %v", err)
	}
	if _, err := p.ValidateAccess("garbage"); !errors.Is(err, apperr.ErrInvalidToken) {
		t.Fatalf("want ErrInvalidToken, got %v", err)
	}
}

func TestTokenProvider_RefreshNotAcceptedAsAccess(t *testing.T) {
	p, err := NewTestTokenProvider(nil)
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	refresh, err := p.IssueRefresh("s1", "u1")
	if err != nil {
		t.Fatalf("IssueRefresh: %v", err)
	}
	if _, err := p.ValidateAccess(refresh.Token); !errors.Is(err, apperr.ErrInvalidToken) {
		t.Fatalf("refresh used as access: want ErrInvalidToken, got %v", err)
	}
	claims, err := p.ValidateRefresh(refresh.Token)
	if err != nil {
		t.Fatalf("ValidateRefresh: %v", err)
	}
	if claims.ID != refresh.JTI || claims.SessionID != "s1" {
		t.Errorf("claims = %+v", claims)
	}
}

func TestTokenProvider_ForeignKeyRejected(t *testing.T) {
	a, _ := NewTestTokenProvider(nil)
	b, _ := NewTestTokenProvider(nil)
	issued, err := a.IssueAccess("s1", "u1", "")
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	if _, err := b.ValidateAccess(issued.Token); !errors.Is(err, apperr.ErrInvalidToken) {
		t.Fatalf("want ErrInvalidToken, got %v", err)
	}
}

func TestTokenHashEqual(t *testing.T) {
	h := HashToken("refresh-abc")
	if len(h) != 64 {
		t.Fatalf("hash length = %d", len(h))
	}
	if !TokenHashEqual("refresh-abc", h) {
		t.Error("matching token rejected")
	}
	if TokenHashEqual("refresh-abd", h) {
		t.Error("different token accepted")
	}
}
