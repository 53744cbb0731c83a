package datasource

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const jdbcPrefix = "jdbc:"

// JDBCURL is the parsed form of a hierarchical JDBC url such as
// jdbc:postgresql://host:5432/db?sslmode=require.
type JDBCURL struct {
	Scheme   string
	Host     string
	Port     int    // 0 when the url carries no port
	Database string // First path segment, may be empty
	RawQuery string // Query as written, parameter order preserved
}

// ParseJDBC parses a hierarchical JDBC url. The jdbc: prefix and a host are required.
func ParseJDBC(raw string) (*JDBCURL, error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, jdbcPrefix) {
		return nil, fmt.Errorf("not a jdbc url: missing %q prefix", jdbcPrefix)
	}

	u, err := url.Parse(strings.TrimPrefix(raw, jdbcPrefix))
	if err != nil {
		return nil, fmt.Errorf("invalid jdbc url: %w", err)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("jdbc url has no host")
	}

	parsed := &JDBCURL{
		Scheme:   u.Scheme,
		Host:     u.Hostname(),
		Database: strings.TrimPrefix(u.Path, "/"),
		RawQuery: u.RawQuery,
	}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid jdbc port %q: %w", p, err)
		}
		parsed.Port = port
	}
	return parsed, nil
}

// FilterQuery drops the named parameters (case-insensitive) from a raw query
// string and returns the rest unchanged and in order. Blank or keyless parts are dropped.
func FilterQuery(rawQuery string, drop ...string) string {
	if strings.TrimSpace(rawQuery) == "" {
		return ""
	}

	var kept []string
	for _, part := range strings.Split(rawQuery, "&") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		key, _, _ := strings.Cut(part, "=")
		if strings.TrimSpace(key) == "" {
			continue
		}
		if containsFold(drop, key) {
			continue
		}
		kept = append(kept, part)
	}
	return strings.Join(kept, "&")
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
