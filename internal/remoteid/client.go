// Package remoteid is the HTTP/JSON client for the hosted identity service.
// The resolver and the settings layer consume it through narrow interfaces so
// they never see HTTP details.
package remoteid

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"aduanet.org/internal/company"
	"aduanet.org/internal/identity"
)

var (
	// ErrUnauthorized reports a rejected credential or token.
	ErrUnauthorized = errors.New("remoteid: unauthorized")
	// ErrConflict reports a sign-up against an existing account.
	ErrConflict = errors.New("remoteid: already exists")
)

const defaultTimeout = 10 * time.Second

// Client talks to the identity service. It holds the current token pair and
// attaches the access token as a bearer credential; without a token, session
// lookups report "no session" rather than failing.
type Client struct {
	baseURL string
	http    *http.Client

	mu      sync.Mutex
	access  string
	refresh string
}

var (
	_ identity.RemoteSource = (*Client)(nil)
	_ company.RowSource     = (*Client)(nil)
)

type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client, mainly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type sessionResponse struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	User         userPayload `json:"user"`
}

type userPayload struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	Role          string `json:"role"`
	CompanyID     string `json:"company_id"`
	EmailVerified bool   `json:"email_verified"`
}

// SignUp registers an account and stores the issued token pair.
func (c *Client) SignUp(ctx context.Context, email, password, companyName string) (*identity.Session, error) {
	body := map[string]string{"email": email, "password": password}
	if companyName != "" {
		body["company_name"] = companyName
	}
	var resp sessionResponse
	if err := c.do(ctx, http.MethodPost, "/auth/v1/signup", nil, body, &resp); err != nil {
		return nil, err
	}
	c.setTokens(resp.AccessToken, resp.RefreshToken)
	return &identity.Session{UserID: resp.User.ID, Email: resp.User.Email}, nil
}

// SignInWithPassword exchanges credentials for a token pair.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*identity.Session, error) {
	body := map[string]string{"grant_type": "password", "email": email, "password": password}
	var resp sessionResponse
	if err := c.do(ctx, http.MethodPost, "/auth/v1/token", nil, body, &resp); err != nil {
		return nil, err
	}
	c.setTokens(resp.AccessToken, resp.RefreshToken)
	return &identity.Session{UserID: resp.User.ID, Email: resp.User.Email}, nil
}

// SignOut revokes the current refresh token. Local tokens are dropped even if
// the remote call fails, so a broken network cannot pin a stale session.
func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	refresh := c.refresh
	c.access, c.refresh = "", ""
	c.mu.Unlock()
	if refresh == "" {
		return nil
	}
	return c.do(ctx, http.MethodPost, "/auth/v1/logout", nil, map[string]string{"refresh_token": refresh}, nil)
}

// GetSession returns the current session, or (nil, nil) when there is none.
// A rejected token counts as no session; transport failures are errors.
func (c *Client) GetSession(ctx context.Context) (*identity.Session, error) {
	if c.accessToken() == "" {
		return nil, nil
	}
	var user userPayload
	err := c.do(ctx, http.MethodGet, "/auth/v1/user", nil, nil, &user)
	if errors.Is(err, ErrUnauthorized) {
		c.setTokens("", "")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &identity.Session{UserID: user.ID, Email: user.Email}, nil
}

// ProfileByID fetches a single profile row.
func (c *Client) ProfileByID(ctx context.Context, userID string) (*identity.Profile, error) {
	rows, err := c.Select(ctx, "profiles", map[string]string{"id": userID})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("remoteid: profile %s not found", userID)
	}
	row := rows[0]
	return &identity.Profile{
		ID:            stringField(row, "id"),
		Email:         stringField(row, "email"),
		Role:          stringField(row, "role"),
		CompanyID:     stringField(row, "company_id"),
		EmailVerified: boolField(row, "email_verified"),
	}, nil
}

// CompanyRow fetches a raw company row, dual columns and all.
func (c *Client) CompanyRow(ctx context.Context, companyID string) (map[string]any, error) {
	rows, err := c.Select(ctx, "companies", map[string]string{"id": companyID})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("remoteid: company %s not found", companyID)
	}
	return rows[0], nil
}

// Select queries rows from a table with equality filters.
func (c *Client) Select(ctx context.Context, table string, filter map[string]string) ([]map[string]any, error) {
	var rows []map[string]any
	if err := c.do(ctx, http.MethodGet, "/rest/v1/"+table, filter, nil, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// Insert creates a row and returns the stored representation.
func (c *Client) Insert(ctx context.Context, table string, row map[string]any) ([]map[string]any, error) {
	var rows []map[string]any
	if err := c.do(ctx, http.MethodPost, "/rest/v1/"+table, nil, row, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// Update patches rows matched by the filter and returns them.
func (c *Client) Update(ctx context.Context, table string, filter map[string]string, patch map[string]any) ([]map[string]any, error) {
	var rows []map[string]any
	if err := c.do(ctx, http.MethodPatch, "/rest/v1/"+table, filter, patch, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// AccessToken exposes the current bearer token for callers that forward it.
func (c *Client) AccessToken() string { return c.accessToken() }

func (c *Client) setTokens(access, refresh string) {
	c.mu.Lock()
	c.access, c.refresh = access, refresh
	c.mu.Unlock()
}

func (c *Client) accessToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.access
}

func (c *Client) do(ctx context.Context, method, path string, query map[string]string, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		q := url.Values{}
		for k, v := range query {
			q.Set(k, v)
		}
		u += "?" + q.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("remoteid: encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("remoteid: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.accessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("remoteid: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return c.errorFromResponse(resp, method, path)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("remoteid: decode %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) errorFromResponse(resp *http.Response, method, path string) error {
	var payload struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&payload)
	msg := payload.Error
	if msg == "" {
		msg = resp.Status
	}
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", ErrUnauthorized, msg)
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", ErrConflict, msg)
	}
	return fmt.Errorf("remoteid: %s %s: %s", method, path, msg)
}

func stringField(row map[string]any, key string) string {
	s, _ := row[key].(string)
	return s
}

func boolField(row map[string]any, key string) bool {
	b, _ := row[key].(bool)
	return b
}
