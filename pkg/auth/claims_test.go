package auth

import (
	"context"
	"testing"
)

func TestGetClaims_Success(t *testing.T) {
	claims := &Claims{Email: "ops@example.com"}
	claims.Subject = "user-123"

	ctx := WithClaims(context.Background(), claims, "raw")

	got, ok := GetClaims(ctx)
	if !ok {
		t.Fatal("expected claims to be found")
	}
	if got.Subject != "user-123" {
		t.Errorf("expected subject 'user-123', got %q", got.Subject)
	}
	token, ok := GetToken(ctx)
	if !ok || token != "raw" {
		t.Errorf("expected token 'raw', got %q", token)
	}
}

func TestGetClaims_NotFound(t *testing.T) {
	_, ok := GetClaims(context.Background())
	if ok {
		t.Error("expected claims to not be found")
	}
}

func TestGetClaims_WrongType(t *testing.T) {
	// Context has wrong type for claims key
	ctx := context.WithValue(context.Background(), ClaimsKey, "not-a-claims-struct")

	_, ok := GetClaims(ctx)
	if ok {
		t.Error("expected claims to not be found for wrong type")
	}
}

func TestClaims_HasRole(t *testing.T) {
	claims := &Claims{Roles: []string{"viewer", "Admin"}}

	if !claims.HasRole("admin") {
		t.Error("expected role match to ignore case")
	}
	if claims.HasRole("owner") {
		t.Error("expected no match for missing role")
	}
	if (&Claims{}).HasRole("admin") {
		t.Error("expected no match without roles")
	}
}

func TestActorFromContext(t *testing.T) {
	if got := ActorFromContext(context.Background()); got != "" {
		t.Errorf("expected empty actor, got %q", got)
	}

	claims := &Claims{}
	claims.Subject = "svc-sync"
	if got := ActorFromContext(WithClaims(context.Background(), claims, "")); got != "svc-sync" {
		t.Errorf("expected subject as actor, got %q", got)
	}

	claims.Email = "ops@example.com"
	if got := ActorFromContext(WithClaims(context.Background(), claims, "")); got != "ops@example.com" {
		t.Errorf("expected email as actor, got %q", got)
	}
}
