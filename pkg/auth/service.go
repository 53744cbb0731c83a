package auth

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Common authentication errors.
var (
	ErrMissingAuthorization = errors.New("missing authorization")
	ErrInvalidAuthFormat    = errors.New("invalid authorization header format")
	ErrMissingRole          = errors.New("required role missing from token")
)

// AuthService validates admin API requests.
type AuthService interface {
	// ValidateRequest extracts the bearer token from the Authorization header
	// and validates it. Returns the claims and the raw token.
	ValidateRequest(r *http.Request) (*Claims, string, error)

	// RequireRole checks that the claims carry role. An empty role always passes.
	RequireRole(claims *Claims, role string) error
}

type authService struct {
	validator TokenValidator
	logger    *zap.Logger
}

var _ AuthService = (*authService)(nil)

// NewAuthService creates a new AuthService backed by validator.
func NewAuthService(validator TokenValidator, logger *zap.Logger) AuthService {
	return &authService{
		validator: validator,
		logger:    logger.Named("auth"),
	}
}

func (s *authService) ValidateRequest(r *http.Request) (*Claims, string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		s.logger.Debug("No JWT found in request",
			zap.String("path", r.URL.Path),
			zap.String("method", r.Method))
		return nil, "", ErrMissingAuthorization
	}

	scheme, tokenString, ok := strings.Cut(authHeader, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(tokenString) == "" {
		s.logger.Debug("Invalid Authorization header format",
			zap.String("path", r.URL.Path))
		return nil, "", ErrInvalidAuthFormat
	}
	tokenString = strings.TrimSpace(tokenString)

	claims, err := s.validator.ValidateToken(tokenString)
	if err != nil {
		s.logger.Debug("JWT validation failed",
			zap.Error(err),
			zap.String("path", r.URL.Path))
		return nil, "", err
	}

	return claims, tokenString, nil
}

func (s *authService) RequireRole(claims *Claims, role string) error {
	if role == "" || claims.HasRole(role) {
		return nil
	}
	return ErrMissingRole
}
