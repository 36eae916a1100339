package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

// APIError is a non-2xx answer from the remote API.
type APIError struct {
	Status int
	Code   int
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("remote api: status %d", e.Status)
	}
	return fmt.Sprintf("remote api: status %d: %s", e.Status, e.Detail)
}

// Unauthorized reports whether the server rejected the credentials.
func (e *APIError) Unauthorized() bool {
	return e.Status == fasthttp.StatusUnauthorized || e.Status == fasthttp.StatusForbidden
}

// IsUnauthorized reports whether err is a 401 or 403 APIError.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Unauthorized()
}

// envelope is the {code, message, data} wrapper every API response uses.
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// SessionInfo is the answer of GET session/.
type SessionInfo struct {
	Authenticated bool            `json:"authenticated"`
	Player        json.RawMessage `json:"player"`
}

// LoginResult is the answer of POST session/login/.
type LoginResult struct {
	Token  string          `json:"token"`
	Player json.RawMessage `json:"player"`
}

// LeaderboardPlayer is one row of the player ranking.
type LeaderboardPlayer struct {
	ID           uint   `json:"id"`
	Username     string `json:"username"`
	DisplayName  string `json:"display_name"`
	Score        int    `json:"score"`
	AttackPoints int    `json:"attack_points"`
	DefendPoints int    `json:"defend_points"`
	Checkins     int    `json:"checkins"`
	HomeDistrict string `json:"home_district"`
}

// LeaderboardDistrict is one row of the district ranking.
type LeaderboardDistrict struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Score        int    `json:"score"`
	Defended     int    `json:"defended"`
	Attacked     int    `json:"attacked"`
	Status       string `json:"status"`
	RecentChange int    `json:"recent_change"`
}

// Leaderboard is the answer of GET leaderboard/.
type Leaderboard struct {
	Players   []LeaderboardPlayer   `json:"players"`
	Districts []LeaderboardDistrict `json:"districts"`
}

// Client talks to the remote API over fasthttp.
type Client struct {
	base    string
	client  *fasthttp.Client
	timeout time.Duration
}

// NewClient returns a client for baseURL, e.g. "http://localhost:8080/api/".
func NewClient(baseURL string) *Client {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &Client{
		base:    baseURL,
		timeout: 10 * time.Second,
		client: &fasthttp.Client{
			MaxConnsPerHost:     16,
			ReadTimeout:         10 * time.Second,
			WriteTimeout:        10 * time.Second,
			MaxIdleConnDuration: time.Minute,
		},
	}
}

// Session asks whether token is still valid. An empty token queries anonymously.
func (c *Client) Session(ctx context.Context, token string) (SessionInfo, error) {
	var out SessionInfo
	err := c.do(ctx, fasthttp.MethodGet, "session/", token, nil, &out)
	return out, err
}

// Login authenticates and returns a bearer token with the player document.
func (c *Client) Login(ctx context.Context, username, password string) (LoginResult, error) {
	var out LoginResult
	body := map[string]string{"username": username, "password": password}
	err := c.do(ctx, fasthttp.MethodPost, "session/login/", "", body, &out)
	return out, err
}

// Logout revokes token.
func (c *Client) Logout(ctx context.Context, token string) error {
	return c.do(ctx, fasthttp.MethodPost, "session/logout/", token, nil, nil)
}

// PatchPlayer sends a partial update and returns the authoritative player document.
func (c *Client) PatchPlayer(ctx context.Context, token string, id uint, payload interface{}) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.do(ctx, fasthttp.MethodPatch, fmt.Sprintf("players/%d/", id), token, payload, &out)
	return out, err
}

// Leaderboard fetches the player and district rankings.
func (c *Client) Leaderboard(ctx context.Context) (Leaderboard, error) {
	var out Leaderboard
	err := c.do(ctx, fasthttp.MethodGet, "leaderboard/", "", nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path, token string, body, out interface{}) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.base + path)
	req.Header.SetMethod(method)
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		req.Header.SetContentType("application/json")
		req.SetBody(b)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.timeout)
	}
	if err := c.client.DoDeadline(req, resp, deadline); err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}

	status := resp.StatusCode()
	var env envelope
	if len(resp.Body()) > 0 {
		if err := json.Unmarshal(resp.Body(), &env); err != nil && status < 300 {
			return fmt.Errorf("%s %s: decode response: %w", method, path, err)
		}
	}
	if status < 200 || status >= 300 {
		return &APIError{Status: status, Code: env.Code, Detail: env.Message}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if raw, ok := out.(*json.RawMessage); ok {
		*raw = append((*raw)[:0], env.Data...)
		return nil
	}
	return json.Unmarshal(env.Data, out)
}
