// Package superset provides a client for the remote BI catalog REST API.
package superset

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/catalog-sync/pkg/logging"
	"github.com/ekaya-inc/catalog-sync/pkg/models"
)

// DefaultTimeout is the maximum time to wait for catalog responses.
const DefaultTimeout = 30 * time.Second

// DefaultPageSize is the page size used when listing resources.
const DefaultPageSize = 500

const (
	databasesPath = "/api/v1/database/"
	datasetsPath  = "/api/v1/dataset/"
)

// Config configures a Client.
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	AuthEnabled bool
	Strategy    Strategy
	APIKey      string
	Username    string
	Password    string
	Provider    string
	PageSize    int
}

// Client provides access to the remote catalog API. A Client is safe for
// concurrent use; its auth session is shared by all requests.
type Client struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client
	session    *session
	logger     *zap.Logger
	now        func() time.Time
}

// NewClient creates a new catalog client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyTokenFirst
	}

	return &Client{
		cfg:     cfg,
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		session: &session{},
		logger:  logger.Named("superset"),
		now:     time.Now,
	}
}

// BaseURL returns the configured base URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Configured reports whether a base URL is set.
func (c *Client) Configured() bool {
	return c.baseURL != ""
}

// ListDatabases returns every database connection in the catalog.
func (c *Client) ListDatabases(ctx context.Context) ([]*models.RemoteDatabase, error) {
	items, err := c.listAll(ctx, databasesPath)
	if err != nil {
		return nil, fmt.Errorf("failed to list databases: %w", err)
	}
	dbs := make([]*models.RemoteDatabase, 0, len(items))
	for _, item := range items {
		dbs = append(dbs, parseRemoteDatabase(item))
	}
	return dbs, nil
}

// FetchDatabase returns a single database connection.
func (c *Client) FetchDatabase(ctx context.Context, id int64) (*models.RemoteDatabase, error) {
	body, err := c.request(ctx, http.MethodGet, fmt.Sprintf("%s%d", databasesPath, id), nil)
	if err != nil {
		return nil, err
	}
	obj, err := decodeResultObject(body)
	if err != nil {
		return nil, err
	}
	db := parseRemoteDatabase(obj)
	if db.RemoteID == 0 {
		db.RemoteID = id
	}
	return db, nil
}

// CreateDatabase registers a database connection and returns its remote id.
func (c *Client) CreateDatabase(ctx context.Context, payload DatabasePayload) (int64, error) {
	body, err := c.request(ctx, http.MethodPost, databasesPath, payload)
	if err != nil {
		return 0, err
	}
	return decodeCreatedID(body)
}

// UpdateDatabase replaces the name and connection URI of a database connection.
func (c *Client) UpdateDatabase(ctx context.Context, id int64, payload DatabasePayload) error {
	_, err := c.request(ctx, http.MethodPut, fmt.Sprintf("%s%d", databasesPath, id), payload)
	return err
}

// ListDatasets returns every dataset in the catalog. List responses usually
// omit columns and metrics; use FetchDataset for the full state.
func (c *Client) ListDatasets(ctx context.Context) ([]*models.RemoteDataset, error) {
	items, err := c.listAll(ctx, datasetsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to list datasets: %w", err)
	}
	datasets := make([]*models.RemoteDataset, 0, len(items))
	for _, item := range items {
		datasets = append(datasets, parseRemoteDataset(item))
	}
	return datasets, nil
}

// FetchDataset returns a dataset with its columns and metrics.
func (c *Client) FetchDataset(ctx context.Context, id int64) (*models.RemoteDataset, error) {
	body, err := c.request(ctx, http.MethodGet, fmt.Sprintf("%s%d", datasetsPath, id), nil)
	if err != nil {
		return nil, err
	}
	obj, err := decodeResultObject(body)
	if err != nil {
		return nil, err
	}
	ds := parseRemoteDataset(obj)
	if ds.RemoteID == 0 {
		ds.RemoteID = id
	}
	return ds, nil
}

// CreateDataset creates a dataset and returns its remote id. Columns and
// metrics are not part of the create call; apply them with UpdateDataset.
func (c *Client) CreateDataset(ctx context.Context, ds *models.RemoteDataset) (int64, error) {
	body, err := c.request(ctx, http.MethodPost, datasetsPath, newDatasetCreatePayload(ds))
	if err != nil {
		return 0, err
	}
	return decodeCreatedID(body)
}

// UpdateDataset replaces a dataset's definition, columns and metrics.
func (c *Client) UpdateDataset(ctx context.Context, id int64, ds *models.RemoteDataset) error {
	_, err := c.request(ctx, http.MethodPut, fmt.Sprintf("%s%d", datasetsPath, id), newDatasetUpdatePayload(ds))
	return err
}

// DeleteDataset removes a dataset.
func (c *Client) DeleteDataset(ctx context.Context, id int64) error {
	_, err := c.request(ctx, http.MethodDelete, fmt.Sprintf("%s%d", datasetsPath, id), nil)
	return err
}

// DeleteColumn removes a single column from a dataset.
func (c *Client) DeleteColumn(ctx context.Context, datasetID, columnID int64) error {
	_, err := c.request(ctx, http.MethodDelete, fmt.Sprintf("%s%d/column/%d", datasetsPath, datasetID, columnID), nil)
	return err
}

// DeleteMetric removes a single metric from a dataset.
func (c *Client) DeleteMetric(ctx context.Context, datasetID, metricID int64) error {
	_, err := c.request(ctx, http.MethodDelete, fmt.Sprintf("%s%d/metric/%d", datasetsPath, datasetID, metricID), nil)
	return err
}

// maxListPages bounds a single listing.
const maxListPages = 1000

// errPagingIgnored is returned when a page repeats the previous one, which
// happens when the server does not honor the page parameter.
var errPagingIgnored = errors.New("catalog returned the same page twice; paging is not honored")

// listAll pages through a list endpoint. Servers may cap page_size below the
// requested size, so a short page does not end the listing. It stops when the
// envelope's count is reached, or on an empty page when no count is reported.
func (c *Client) listAll(ctx context.Context, basePath string) ([]object, error) {
	var all []object
	prevFirst := ""
	for page := 0; page < maxListPages; page++ {
		path := fmt.Sprintf("%s?q=(page:%d,page_size:%d)", basePath, page, c.cfg.PageSize)
		body, err := c.request(ctx, http.MethodGet, path, nil)
		if err != nil {
			return nil, err
		}
		result, err := decodeListPage(body)
		if err != nil {
			return nil, err
		}
		if len(result.items) == 0 {
			return all, nil
		}

		first := result.items[0].str("id")
		if page > 0 && first != "" && first == prevFirst {
			return nil, errPagingIgnored
		}
		prevFirst = first

		all = append(all, result.items...)
		if result.hasTotal && int64(len(all)) >= result.total {
			return all, nil
		}
	}
	return nil, fmt.Errorf("listing %s exceeded %d pages", basePath, maxListPages)
}

// request sends an API call, choosing credentials by the configured strategy.
//
// Each strategy is tried in order. A strategy whose headers cannot be built
// (missing credentials, failed login) is skipped. A 401/403 on token auth
// triggers exactly one refresh and one resend before moving to the next
// strategy. Non-auth failures are returned immediately. When no strategy
// could be built the request is sent without credentials.
func (c *Client) request(ctx context.Context, method, path string, payload any) ([]byte, error) {
	modes := c.authModes()

	var lastErr error
	attempted := false

	for _, mode := range modes {
		headers, usedToken, err := c.authHeaders(ctx, mode, method)
		if err != nil {
			c.logger.Debug("Auth strategy unavailable",
				zap.String("strategy", mode.String()),
				zap.Error(err))
			continue
		}
		attempted = true

		body, _, err := c.do(ctx, method, path, payload, headers)
		if err == nil {
			return body, nil
		}
		if !isAuthError(err) {
			return nil, err
		}
		lastErr = err

		if mode != authModeToken {
			continue
		}

		if err := c.refreshSession(ctx, usedToken); err != nil {
			c.logger.Debug("Token refresh after auth failure failed", zap.Error(err))
			continue
		}
		headers, _, err = c.authHeaders(ctx, authModeToken, method)
		if err != nil {
			continue
		}
		body, _, err = c.do(ctx, method, path, payload, headers)
		if err == nil {
			return body, nil
		}
		if !isAuthError(err) {
			return nil, err
		}
		lastErr = err
	}

	if !attempted {
		body, _, err := c.do(ctx, method, path, payload, nil)
		return body, err
	}
	return nil, lastErr
}

// do executes one HTTP call without any auth logic.
func (c *Client) do(ctx context.Context, method, path string, payload any, headers http.Header) ([]byte, http.Header, error) {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range headers {
		req.Header[k] = v
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to call catalog: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		httpErr := newHTTPError(resp.StatusCode, method, path, body)
		c.logger.Debug("Catalog returned error",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("body", logging.SanitizeText(httpErr.Body)))
		return nil, nil, httpErr
	}

	return body, resp.Header, nil
}

func isAuthError(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.IsAuthFailure()
}
