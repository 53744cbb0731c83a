package superset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// Strategy orders the two authentication methods.
type Strategy string

const (
	// StrategyTokenFirst tries username/password tokens before the static API key.
	StrategyTokenFirst Strategy = "TOKEN_FIRST"
	// StrategyKeyFirst tries the static API key before tokens.
	StrategyKeyFirst Strategy = "KEY_FIRST"
)

// ParseStrategy maps a configured strategy name to a Strategy.
// Unknown or empty names fall back to StrategyTokenFirst.
func ParseStrategy(name string) Strategy {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "KEY_FIRST", "API_KEY_FIRST":
		return StrategyKeyFirst
	default:
		return StrategyTokenFirst
	}
}

type authMode int

const (
	authModeToken authMode = iota
	authModeKey
)

func (m authMode) String() string {
	if m == authModeKey {
		return "api_key"
	}
	return "token"
}

const (
	loginPath   = "/api/v1/security/login"
	refreshPath = "/api/v1/security/refresh"
	csrfPath    = "/api/v1/security/csrf_token/"

	defaultProvider = "db"

	// tokenExpiryLeeway treats a JWT as expired slightly early so the request
	// does not race the remote clock.
	tokenExpiryLeeway = 10 * time.Second
)

var (
	errNoCredentials = errors.New("username and password are not configured")
	errNoAPIKey      = errors.New("api key is not configured")
	errNoRefresh     = errors.New("no refresh token available")
)

// session holds the token state shared by every request of one Client.
// All transitions (login, refresh, csrf fetch) happen under mu.
type session struct {
	mu sync.Mutex

	accessToken  string
	refreshToken string
	csrfToken    string
	cookie       string
}

func (s *session) clearLocked() {
	s.accessToken = ""
	s.refreshToken = ""
	s.csrfToken = ""
	s.cookie = ""
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Provider string `json:"provider"`
	Refresh  bool   `json:"refresh"`
}

// authModes returns the strategies to try, in order. Strategies whose
// credentials are absent are left out; an empty result means requests go
// out unauthenticated.
func (c *Client) authModes() []authMode {
	if !c.cfg.AuthEnabled {
		return nil
	}
	hasToken := c.cfg.Username != "" && c.cfg.Password != ""
	hasKey := c.cfg.APIKey != ""

	order := []authMode{authModeToken, authModeKey}
	if c.cfg.Strategy == StrategyKeyFirst {
		order = []authMode{authModeKey, authModeToken}
	}

	modes := make([]authMode, 0, 2)
	for _, m := range order {
		if (m == authModeToken && hasToken) || (m == authModeKey && hasKey) {
			modes = append(modes, m)
		}
	}
	return modes
}

// authHeaders builds the headers for one attempt. For token auth it also
// returns the access token used, so a later refresh can tell whether another
// request already replaced it.
func (c *Client) authHeaders(ctx context.Context, mode authMode, method string) (http.Header, string, error) {
	headers := http.Header{}

	if mode == authModeKey {
		if c.cfg.APIKey == "" {
			return nil, "", errNoAPIKey
		}
		headers.Set("Authorization", "Bearer "+c.cfg.APIKey)
		return headers, "", nil
	}

	if c.cfg.Username == "" || c.cfg.Password == "" {
		return nil, "", errNoCredentials
	}

	s := c.session
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.accessToken != "" && tokenExpired(s.accessToken, c.now()) {
		c.logger.Debug("Access token expired, refreshing before request")
		if err := c.refreshLocked(ctx); err != nil {
			c.logger.Debug("Proactive refresh failed, logging in again", zap.Error(err))
		}
	}

	if s.accessToken == "" {
		if err := c.loginLocked(ctx); err != nil {
			return nil, "", err
		}
	}

	headers.Set("Authorization", "Bearer "+s.accessToken)

	if method != http.MethodGet {
		if s.csrfToken == "" {
			if err := c.fetchCSRFLocked(ctx); err != nil {
				return nil, "", err
			}
		}
		headers.Set("X-CSRFToken", s.csrfToken)
		if s.cookie != "" {
			headers.Set("Cookie", s.cookie)
		}
	}

	return headers, s.accessToken, nil
}

// refreshSession replaces the access token after an auth failure. If the
// token that failed is no longer current, another request has already
// refreshed it and nothing is done.
func (c *Client) refreshSession(ctx context.Context, failedToken string) error {
	s := c.session
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.accessToken != "" && s.accessToken != failedToken {
		return nil
	}
	return c.refreshLocked(ctx)
}

func (c *Client) loginLocked(ctx context.Context) error {
	s := c.session
	s.clearLocked()

	provider := c.cfg.Provider
	if provider == "" {
		provider = defaultProvider
	}

	body, _, err := c.do(ctx, http.MethodPost, loginPath, loginRequest{
		Username: c.cfg.Username,
		Password: c.cfg.Password,
		Provider: provider,
		Refresh:  true,
	}, nil)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	var resp struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("failed to parse login response: %w", err)
	}
	if resp.AccessToken == "" || resp.RefreshToken == "" {
		return errors.New("login response is missing access or refresh token")
	}

	s.accessToken = resp.AccessToken
	s.refreshToken = resp.RefreshToken
	c.logger.Debug("Logged in to catalog", zap.String("username", c.cfg.Username))
	return nil
}

func (c *Client) refreshLocked(ctx context.Context) error {
	s := c.session
	if s.refreshToken == "" {
		s.clearLocked()
		return errNoRefresh
	}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+s.refreshToken)

	body, _, err := c.do(ctx, http.MethodPost, refreshPath, nil, headers)
	if err != nil {
		s.clearLocked()
		return fmt.Errorf("token refresh failed: %w", err)
	}

	var resp struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || resp.AccessToken == "" {
		s.clearLocked()
		return errors.New("refresh response is missing access token")
	}

	s.accessToken = resp.AccessToken
	s.csrfToken = ""
	s.cookie = ""
	c.logger.Debug("Refreshed catalog access token")
	return nil
}

func (c *Client) fetchCSRFLocked(ctx context.Context) error {
	s := c.session

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+s.accessToken)

	body, respHeader, err := c.do(ctx, http.MethodGet, csrfPath, nil, headers)
	if err != nil {
		return fmt.Errorf("failed to fetch csrf token: %w", err)
	}

	var resp struct {
		Result string `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("failed to parse csrf response: %w", err)
	}
	if resp.Result == "" {
		return errors.New("csrf response carries no token")
	}

	s.csrfToken = resp.Result
	s.cookie = joinCookies(respHeader)
	return nil
}

// joinCookies renders every Set-Cookie header as "name=value; name=value".
func joinCookies(header http.Header) string {
	resp := http.Response{Header: header}
	var parts []string
	for _, ck := range resp.Cookies() {
		parts = append(parts, ck.Name+"="+ck.Value)
	}
	return strings.Join(parts, "; ")
}

// tokenExpired reports whether token is a JWT whose exp has passed.
// Opaque tokens and tokens without exp are never considered expired.
func tokenExpired(token string, now time.Time) bool {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return !now.Add(tokenExpiryLeeway).Before(claims.ExpiresAt.Time)
}
