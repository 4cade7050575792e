// Package salesforce implements casestore.Store against the Salesforce REST API.
package salesforce

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/wolfman30/claims-fulfillment/internal/casestore"
)

const (
	defaultLoginURL   = "https://login.salesforce.com"
	defaultAPIVersion = "v58.0"
	defaultUserAgent  = "claims-fulfillment/0.1"
)

// Config controls how the Salesforce client behaves.
type Config struct {
	LoginURL      string
	APIVersion    string
	ClientID      string
	ClientSecret  string
	Username      string
	Password      string
	SecurityToken string
	TokenTTL      time.Duration
	Timeout       time.Duration
	MaxRetries    int
	Backoff       time.Duration
	HTTPClient    *http.Client
	Logger        *slog.Logger
	UserAgent     string
}

// Client is a casestore.Store backed by Salesforce.
type Client struct {
	cfg        Config
	loginURL   string
	apiVersion string
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
	tokenTTL   time.Duration
	logger     *slog.Logger
	userAgent  string
	now        func() time.Time

	mu          sync.Mutex
	accessToken string
	instanceURL string
	issuedAt    time.Time
}

var _ casestore.Store = (*Client)(nil)

// New creates a configured Client with sane defaults.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Username) == "" || cfg.Password == "" {
		return nil, errors.New("salesforce: username and password are required")
	}
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, errors.New("salesforce: client id is required")
	}
	loginURL := strings.TrimRight(strings.TrimSpace(cfg.LoginURL), "/")
	if loginURL == "" {
		loginURL = defaultLoginURL
	}
	apiVersion := strings.TrimSpace(cfg.APIVersion)
	if apiVersion == "" {
		apiVersion = defaultAPIVersion
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = 250 * time.Millisecond
	}
	tokenTTL := cfg.TokenTTL
	if tokenTTL <= 0 {
		tokenTTL = 30 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &Client{
		cfg:        cfg,
		loginURL:   loginURL,
		apiVersion: apiVersion,
		httpClient: httpClient,
		maxRetries: maxRetries,
		backoff:    backoff,
		tokenTTL:   tokenTTL,
		logger:     logger,
		userAgent:  userAgent,
		now:        time.Now,
	}, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	InstanceURL string `json:"instance_url"`
}

// Authenticate logs in with the OAuth username-password flow. A token younger
// than the configured TTL is reused.
func (c *Client) Authenticate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.accessToken != "" && c.now().Sub(c.issuedAt) < c.tokenTTL {
		return nil
	}
	return c.login(ctx)
}

func (c *Client) login(ctx context.Context) error {
	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)
	form.Set("username", c.cfg.Username)
	form.Set("password", c.cfg.Password+c.cfg.SecurityToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.loginURL+"/services/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("salesforce: build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("salesforce: login: %w: %v", casestore.ErrAuthentication, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("salesforce: read login response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("salesforce: login status %d: %w", resp.StatusCode, casestore.ErrAuthentication)
	}
	var tok tokenResponse
	if err := json.Unmarshal(data, &tok); err != nil {
		return fmt.Errorf("salesforce: decode login response: %w", err)
	}
	if tok.AccessToken == "" || tok.InstanceURL == "" {
		return fmt.Errorf("salesforce: login response missing token: %w", casestore.ErrAuthentication)
	}
	c.accessToken = tok.AccessToken
	c.instanceURL = strings.TrimRight(tok.InstanceURL, "/")
	c.issuedAt = c.now()
	c.logger.Debug("salesforce login succeeded", "instance_url", c.instanceURL)
	return nil
}

// Retrieve fetches one record.
func (c *Client) Retrieve(ctx context.Context, entity, id string) (casestore.Record, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("salesforce: record id required")
	}
	data, err := c.invoke(ctx, http.MethodGet, c.sobjectPath(entity, id), nil, nil)
	if err != nil {
		return nil, err
	}
	var rec map[string]any
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("salesforce: decode %s: %w", entity, err)
	}
	return toRecord(rec), nil
}

type createResponse struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
}

// Create inserts a record and returns its id.
func (c *Client) Create(ctx context.Context, entity string, fields casestore.Record) (string, error) {
	body, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("salesforce: marshal %s: %w", entity, err)
	}
	data, err := c.invoke(ctx, http.MethodPost, c.sobjectPath(entity, ""), nil, body)
	if err != nil {
		return "", err
	}
	var out createResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("salesforce: decode create %s: %w", entity, err)
	}
	if !out.Success || out.ID == "" {
		return "", fmt.Errorf("salesforce: create %s was not successful", entity)
	}
	return out.ID, nil
}

// Update patches the given fields of a record.
func (c *Client) Update(ctx context.Context, entity, id string, fields casestore.Record) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("salesforce: record id required")
	}
	body, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("salesforce: marshal %s: %w", entity, err)
	}
	_, err = c.invoke(ctx, http.MethodPatch, c.sobjectPath(entity, id), nil, body)
	return err
}

type queryResponse struct {
	Records        []map[string]any `json:"records"`
	Done           bool             `json:"done"`
	NextRecordsURL string           `json:"nextRecordsUrl"`
}

// Query runs a SOQL query built from q and follows pagination.
func (c *Client) Query(ctx context.Context, q casestore.Query) ([]casestore.Record, error) {
	soql, err := BuildSOQL(q)
	if err != nil {
		return nil, err
	}
	params := url.Values{}
	params.Set("q", soql)
	path := fmt.Sprintf("/services/data/%s/query", c.apiVersion)

	var out []casestore.Record
	for {
		data, err := c.invoke(ctx, http.MethodGet, path, params, nil)
		if err != nil {
			return nil, err
		}
		var page queryResponse
		if err := json.Unmarshal(data, &page); err != nil {
			return nil, fmt.Errorf("salesforce: decode query response: %w", err)
		}
		for _, rec := range page.Records {
			out = append(out, toRecord(rec))
		}
		if page.Done || page.NextRecordsURL == "" {
			return out, nil
		}
		path, params = page.NextRecordsURL, nil
	}
}

func (c *Client) sobjectPath(entity, id string) string {
	path := fmt.Sprintf("/services/data/%s/sobjects/%s", c.apiVersion, url.PathEscape(entity))
	if id != "" {
		path += "/" + url.PathEscape(id)
	}
	return path
}

func (c *Client) session(ctx context.Context, refresh bool) (string, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if refresh || c.accessToken == "" {
		if err := c.login(ctx); err != nil {
			return "", "", err
		}
	}
	return c.accessToken, c.instanceURL, nil
}

func (c *Client) invoke(ctx context.Context, method, path string, query url.Values, body []byte) ([]byte, error) {
	reauthed := false
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		token, instance, err := c.session(ctx, false)
		if err != nil {
			return nil, err
		}
		fullURL := instance + "/" + strings.TrimLeft(path, "/")
		if len(query) > 0 {
			fullURL += "?" + query.Encode()
		}
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
		if err != nil {
			return nil, fmt.Errorf("salesforce: build request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("User-Agent", c.userAgent)
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		var wrote bool
		req = req.WithContext(httptrace.WithClientTrace(req.Context(), &httptrace.ClientTrace{
			WroteRequest: func(httptrace.WroteRequestInfo) { wrote = true },
		}))
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// A create that reached the server may have been committed.
			if attempt == c.maxRetries || (wrote && !idempotent(method)) {
				return nil, fmt.Errorf("salesforce: http error: %w", err)
			}
			lastErr = err
			c.logRetry(path, attempt, 0, err)
			if sleepErr := c.sleep(ctx, attempt); sleepErr != nil {
				return nil, sleepErr
			}
			continue
		}
		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, fmt.Errorf("salesforce: read response: %w", readErr)
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return data, nil
		}
		apiErr := decodeAPIError(resp.StatusCode, data)
		if resp.StatusCode == http.StatusUnauthorized && !reauthed {
			reauthed = true
			if _, _, err := c.session(ctx, true); err != nil {
				return nil, err
			}
			attempt--
			continue
		}
		if attempt < c.maxRetries && shouldRetry(method, resp.StatusCode) {
			lastErr = apiErr
			c.logRetry(path, attempt, resp.StatusCode, apiErr)
			if sleepErr := c.sleep(ctx, attempt); sleepErr != nil {
				return nil, sleepErr
			}
			continue
		}
		return nil, apiErr
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, errors.New("salesforce: request failed without response")
}

func (c *Client) sleep(ctx context.Context, attempt int) error {
	delay := c.backoff * time.Duration(1<<attempt)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) logRetry(path string, attempt, status int, err error) {
	c.logger.Warn("salesforce retry",
		"path", path,
		"attempt", attempt+1,
		"status", status,
		"error", err,
	)
}

// shouldRetry reports whether a failed response may be sent again. A 5xx on a
// POST can follow a committed insert, so only throttled creates are retried.
func shouldRetry(method string, status int) bool {
	if status == http.StatusTooManyRequests {
		return true
	}
	return status >= 500 && idempotent(method)
}

func idempotent(method string) bool {
	return method != http.MethodPost
}

// APIError is an error payload returned by the REST API.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("salesforce: status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("salesforce: status %d: %s: %s", e.Status, e.Code, e.Message)
}

// Is maps NOT_FOUND responses onto casestore.ErrNotFound.
func (e *APIError) Is(target error) bool {
	return target == casestore.ErrNotFound && e.Status == http.StatusNotFound
}

func decodeAPIError(status int, data []byte) error {
	var payload []struct {
		ErrorCode string `json:"errorCode"`
		Message   string `json:"message"`
	}
	apiErr := &APIError{Status: status, Message: strings.TrimSpace(string(data))}
	if err := json.Unmarshal(data, &payload); err == nil && len(payload) > 0 {
		apiErr.Code = payload[0].ErrorCode
		apiErr.Message = payload[0].Message
	}
	return apiErr
}

// toRecord drops the "attributes" metadata and flattens relationship
// sub-query results into []casestore.Record.
func toRecord(raw map[string]any) casestore.Record {
	rec := make(casestore.Record, len(raw))
	for k, v := range raw {
		if k == "attributes" {
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			if items, ok := nested["records"].([]any); ok {
				children := make([]casestore.Record, 0, len(items))
				for _, item := range items {
					if m, ok := item.(map[string]any); ok {
						children = append(children, toRecord(m))
					}
				}
				rec[k] = children
				continue
			}
		}
		rec[k] = v
	}
	return rec
}
