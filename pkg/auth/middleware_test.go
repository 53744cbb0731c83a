package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

// mockAuthService is a mock implementation of AuthService for testing.
type mockAuthService struct {
	claims      *Claims
	token       string
	validateErr error
	roleErr     error
}

func (m *mockAuthService) ValidateRequest(r *http.Request) (*Claims, string, error) {
	if m.validateErr != nil {
		return nil, "", m.validateErr
	}
	return m.claims, m.token, nil
}

func (m *mockAuthService) RequireRole(claims *Claims, role string) error {
	return m.roleErr
}

// stubValidator returns fixed claims or an error.
type stubValidator struct {
	claims *Claims
	err    error
	got    string
}

func (s *stubValidator) ValidateToken(token string) (*Claims, error) {
	s.got = token
	return s.claims, s.err
}

func (s *stubValidator) Close() {}

func decodeErrorBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return body
}

func TestMiddleware_RequireAdmin_Success(t *testing.T) {
	claims := &Claims{Roles: []string{"admin"}}
	middleware := NewMiddleware(&mockAuthService{claims: claims, token: "test-token"}, "admin", zap.NewNop())

	var ctxClaims *Claims
	var ctxToken string
	handler := middleware.RequireAdmin(func(w http.ResponseWriter, r *http.Request) {
		ctxClaims, _ = GetClaims(r.Context())
		ctxToken, _ = GetToken(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodPost, "/api/catalog/sync/all", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
	if ctxClaims != claims {
		t.Error("expected claims to be set in context")
	}
	if ctxToken != "test-token" {
		t.Errorf("expected token 'test-token' in context, got %q", ctxToken)
	}
}

func TestMiddleware_RequireAdmin_Unauthorized(t *testing.T) {
	middleware := NewMiddleware(&mockAuthService{validateErr: ErrMissingAuthorization}, "admin", zap.NewNop())

	called := false
	handler := middleware.RequireAdmin(func(w http.ResponseWriter, r *http.Request) { called = true })

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/api/catalog/datasets", nil))

	if called {
		t.Error("expected handler not to be called")
	}
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", rec.Code)
	}
	if body := decodeErrorBody(t, rec); body["error"] != "unauthorized" {
		t.Errorf("expected error 'unauthorized', got %q", body["error"])
	}
}

func TestMiddleware_RequireAdmin_Forbidden(t *testing.T) {
	middleware := NewMiddleware(&mockAuthService{claims: &Claims{}, roleErr: ErrMissingRole}, "admin", zap.NewNop())

	called := false
	handler := middleware.RequireAdmin(func(w http.ResponseWriter, r *http.Request) { called = true })

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/api/catalog/datasets", nil))

	if called {
		t.Error("expected handler not to be called")
	}
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected status 403, got %d", rec.Code)
	}
	if body := decodeErrorBody(t, rec); body["error"] != "forbidden" {
		t.Errorf("expected error 'forbidden', got %q", body["error"])
	}
}

func TestAuthService_ValidateRequest(t *testing.T) {
	tests := []struct {
		name      string
		header    string
		validator *stubValidator
		wantErr   error
		wantToken string
	}{
		{"missing header", "", &stubValidator{}, ErrMissingAuthorization, ""},
		{"wrong scheme", "Basic abc", &stubValidator{}, ErrInvalidAuthFormat, ""},
		{"empty token", "Bearer  ", &stubValidator{}, ErrInvalidAuthFormat, ""},
		{"invalid token", "Bearer bad", &stubValidator{err: errors.New("bad signature")}, nil, ""},
		{"valid token", "Bearer good", &stubValidator{claims: &Claims{}}, nil, "good"},
		{"lowercase scheme", "bearer good", &stubValidator{claims: &Claims{}}, nil, "good"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewAuthService(tt.validator, zap.NewNop())
			req := httptest.NewRequest(http.MethodGet, "/api/catalog/datasets", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			claims, token, err := svc.ValidateRequest(req)

			switch {
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("expected %v, got %v", tt.wantErr, err)
				}
			case tt.validator.err != nil:
				if err == nil {
					t.Error("expected validator error to propagate")
				}
			default:
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if claims == nil || token != tt.wantToken {
					t.Errorf("expected token %q, got %q", tt.wantToken, token)
				}
				if tt.validator.got != tt.wantToken {
					t.Errorf("validator saw %q", tt.validator.got)
				}
			}
		})
	}
}

func TestAuthService_RequireRole(t *testing.T) {
	svc := NewAuthService(&stubValidator{}, zap.NewNop())

	if err := svc.RequireRole(&Claims{Roles: []string{"admin"}}, "admin"); err != nil {
		t.Errorf("expected admin to pass, got %v", err)
	}
	if err := svc.RequireRole(&Claims{Roles: []string{"viewer"}}, "admin"); !errors.Is(err, ErrMissingRole) {
		t.Errorf("expected ErrMissingRole, got %v", err)
	}
	if err := svc.RequireRole(&Claims{}, ""); err != nil {
		t.Errorf("expected empty role to pass, got %v", err)
	}
}
