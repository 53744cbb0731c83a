package superset

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// maxErrorBodyLength bounds how much of a remote response body is kept in errors.
const maxErrorBodyLength = 200

// duplicatePhrase is the fragment the catalog puts in a 422 body when a
// resource with the same identity already exists.
const duplicatePhrase = "already exists"

// HTTPError is a non-2xx response from the remote catalog.
type HTTPError struct {
	StatusCode int
	Method     string
	Path       string
	Body       string // Abbreviated response body

	fullBody string
}

func newHTTPError(status int, method, path string, body []byte) *HTTPError {
	return &HTTPError{
		StatusCode: status,
		Method:     method,
		Path:       path,
		Body:       abbreviate(string(body), maxErrorBodyLength),
		fullBody:   string(body),
	}
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("catalog %s %s returned status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// IsAuthFailure reports whether the response rejected our credentials.
func (e *HTTPError) IsAuthFailure() bool {
	return isAuthFailureStatus(e.StatusCode)
}

// IsDuplicateResource reports whether err is the catalog's "resource already
// exists" rejection: HTTP 422 with a body mentioning that the resource already exists.
// The catalog exposes no structured code for this case, so the body text is the signal.
func IsDuplicateResource(err error) bool {
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		return false
	}
	return httpErr.StatusCode == http.StatusUnprocessableEntity &&
		strings.Contains(strings.ToLower(httpErr.fullBody+httpErr.Body), duplicatePhrase)
}

// IsNotFound reports whether err is a 404 from the catalog.
func IsNotFound(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound
}

func isAuthFailureStatus(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}

// abbreviate cuts s to maxLen runes so multi-byte text stays valid UTF-8.
func abbreviate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}
