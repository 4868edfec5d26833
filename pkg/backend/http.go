package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"importbot/pkg/logx"
)

const (
	connectTimeout = 30 * time.Second
	readTimeout    = 120 * time.Second
)

// HTTPClient implements Client against the backend's JSON API. Outbound
// calls run through a circuit breaker so a dead backend fails fast for the
// rest of the run instead of burning the full timeout per user.
type HTTPClient struct {
	baseURL    string
	baseAltURL string
	http       *http.Client
	breaker    *gobreaker.CircuitBreaker

	token string
}

// NewHTTPClient creates a backend client. baseAltURL may be empty; when set
// it is tried for login when the primary URL refuses the connection.
func NewHTTPClient(baseURL, baseAltURL string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		baseAltURL: strings.TrimRight(baseAltURL, "/"),
		http: &http.Client{
			Timeout: readTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: connectTimeout}).DialContext,
			},
		},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "backend",
			Timeout: 60 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

// Login authenticates as the tenant service account and stores the session
// token for subsequent calls.
func (c *HTTPClient) Login(ctx context.Context, email, password string) error {
	body := map[string]string{"email": email, "password": password}

	var resp struct {
		Token string `json:"token"`
	}
	err := c.doAt(ctx, c.baseURL, http.MethodPost, "/api/session", body, &resp)
	if err != nil && c.baseAltURL != "" && isConnectError(err) {
		logx.Warn("backend primary unreachable, trying alternate",
			zap.String("alt", c.baseAltURL), zap.Error(err))
		c.baseURL, c.baseAltURL = c.baseAltURL, c.baseURL
		err = c.doAt(ctx, c.baseURL, http.MethodPost, "/api/session", body, &resp)
	}
	if err != nil {
		return fmt.Errorf("backend login: %w", err)
	}
	if resp.Token == "" {
		return fmt.Errorf("backend login: empty session token")
	}
	c.token = resp.Token
	return nil
}

func (c *HTTPClient) ListRoles(ctx context.Context) ([]Role, error) {
	var out []Role
	if err := c.do(ctx, http.MethodGet, "/api/roles", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) ListTeams(ctx context.Context) ([]Team, error) {
	var out []Team
	if err := c.do(ctx, http.MethodGet, "/api/teams", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) ListUsers(ctx context.Context) ([]User, error) {
	var out []User
	if err := c.do(ctx, http.MethodGet, "/api/users", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) FindUser(ctx context.Context, email string) (*User, error) {
	users, err := c.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	for i := range users {
		if strings.EqualFold(users[i].Email, email) {
			return &users[i], nil
		}
	}
	return nil, nil
}

func (c *HTTPClient) FindTeam(ctx context.Context, name string) (*Team, error) {
	teams, err := c.ListTeams(ctx)
	if err != nil {
		return nil, err
	}
	for i := range teams {
		if teams[i].Name == name {
			return &teams[i], nil
		}
	}
	return nil, nil
}

func (c *HTTPClient) CreateTeam(ctx context.Context, req TeamCreate) (*Team, error) {
	var out Team
	if err := c.do(ctx, http.MethodPost, "/api/teams", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) CreateUser(ctx context.Context, req UserCreate) (*User, error) {
	var out User
	if err := c.do(ctx, http.MethodPost, "/api/users", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	if c.token == "" {
		return ErrNotLoggedIn
	}
	return c.doAt(ctx, c.baseURL, method, path, body, out)
}

func (c *HTTPClient) doAt(ctx context.Context, base, method, path string, body, out any) error {
	_, err := c.breaker.Execute(func() (any, error) {
		return nil, c.roundTrip(ctx, base, method, path, body, out)
	})
	return err
}

func (c *HTTPClient) roundTrip(ctx context.Context, base, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, base+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("backend %s %s: HTTP %d: %s", method, path, resp.StatusCode,
			strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func isConnectError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return strings.Contains(err.Error(), "connection refused")
}
