package boardlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"boardline/internal/domain"
)

// Client is the Boardline HTTP API client.
type Client struct {
	BaseURL     string
	TokenSource oauth2.TokenSource
	// IDToken is forwarded on profile sync so the backend can read identity claims.
	IDToken    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults. An empty token leaves requests
// unauthenticated.
func New(baseURL, token string) *Client {
	c := &Client{
		BaseURL: baseURL,
		IDToken: token,
		Timeout: 10 * time.Second,
	}
	if token != "" {
		c.TokenSource = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
	}
	return c
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if msg := e.Message(); msg != "" {
		return fmt.Sprintf("api error: status=%d: %s", e.StatusCode, msg)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Message extracts the server's message from the error envelope, if any.
func (e *APIError) Message() string {
	var env struct {
		Message string `json:"message"`
		Error   struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal([]byte(e.Body), &env); err != nil {
		return ""
	}
	if env.Error.Message != "" {
		return env.Error.Message
	}
	return env.Message
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// IsNotImplemented reports whether the backend lacks the endpoint. Older
// backends answer 404 on the impersonation routes.
func IsNotImplemented(err error) bool {
	code := StatusCode(err)
	return code == http.StatusNotFound || code == http.StatusNotImplemented
}

// Users

func (c *Client) ListUsers(ctx context.Context) ([]domain.User, error) {
	var resp []wireUser
	if err := c.do(ctx, http.MethodGet, "api/users", nil, &resp); err != nil {
		return nil, err
	}
	return mapSlice(resp, wireUser.toDomain), nil
}

func (c *Client) GetUser(ctx context.Context, id int64) (domain.User, error) {
	var resp wireUser
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("api/users/%d", id), nil, &resp)
	return resp.toDomain(), err
}

func (c *Client) UpdateUser(ctx context.Context, id int64, in domain.UserUpdate) (domain.User, error) {
	var resp wireUser
	err := c.do(ctx, http.MethodPut, fmt.Sprintf("api/users/%d", id), in, &resp)
	return resp.toDomain(), err
}

// UserForImpersonation fetches the impersonation target.
func (c *Client) UserForImpersonation(ctx context.Context, id int64) (domain.User, error) {
	return c.GetUser(ctx, id)
}

// SyncProfile upserts the authenticated identity and returns the canonical user.
func (c *Client) SyncProfile(ctx context.Context) (domain.User, error) {
	var resp wireUser
	headers := map[string]string{}
	if c.IDToken != "" {
		headers["X-ID-Token"] = c.IDToken
	}
	if err := c.doWithHeaders(ctx, http.MethodPost, "api/auth/profile", nil, &resp, headers); err != nil {
		return domain.User{}, err
	}
	return resp.toDomain(), nil
}

// Projects

func (c *Client) ListProjects(ctx context.Context) ([]domain.Project, error) {
	var resp []wireProject
	if err := c.do(ctx, http.MethodGet, "api/projects", nil, &resp); err != nil {
		return nil, err
	}
	return mapSlice(resp, wireProject.toDomain), nil
}

func (c *Client) GetProject(ctx context.Context, id int64) (domain.Project, error) {
	var resp wireProject
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("api/projects/%d", id), nil, &resp)
	return resp.toDomain(), err
}

func (c *Client) CreateProject(ctx context.Context, in domain.ProjectInput) (domain.Project, error) {
	var resp wireProject
	err := c.do(ctx, http.MethodPost, "api/projects", in, &resp)
	return resp.toDomain(), err
}

func (c *Client) UpdateProject(ctx context.Context, id int64, in domain.ProjectInput) (domain.Project, error) {
	var resp wireProject
	err := c.do(ctx, http.MethodPut, fmt.Sprintf("api/projects/%d", id), in, &resp)
	return resp.toDomain(), err
}

func (c *Client) DeleteProject(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("api/projects/%d", id), nil, nil)
}

// Tasks

func (c *Client) TasksByProject(ctx context.Context, projectID int64) ([]domain.Task, error) {
	var resp []wireTask
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("api/projects/%d/tasks", projectID), nil, &resp); err != nil {
		return nil, err
	}
	return mapSlice(resp, wireTask.toDomain), nil
}

func (c *Client) GetTask(ctx context.Context, id int64) (domain.Task, error) {
	var resp wireTask
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("api/tasks/%d", id), nil, &resp)
	return resp.toDomain(), err
}

func (c *Client) CreateTask(ctx context.Context, in domain.TaskInput) (domain.Task, error) {
	var resp wireTask
	err := c.do(ctx, http.MethodPost, "api/tasks", in, &resp)
	return resp.toDomain(), err
}

func (c *Client) UpdateTask(ctx context.Context, id int64, in domain.TaskInput) (domain.Task, error) {
	var resp wireTask
	err := c.do(ctx, http.MethodPut, fmt.Sprintf("api/tasks/%d", id), in, &resp)
	return resp.toDomain(), err
}

func (c *Client) UpdateTaskStatus(ctx context.Context, id int64, status domain.Status) (domain.Task, error) {
	var resp wireTask
	body := map[string]any{"status": status}
	err := c.do(ctx, http.MethodPatch, fmt.Sprintf("api/tasks/%d/status", id), body, &resp)
	return resp.toDomain(), err
}

func (c *Client) DeleteTask(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("api/tasks/%d", id), nil, nil)
}

// Members

func (c *Client) ProjectMembers(ctx context.Context, projectID int64) ([]domain.User, error) {
	var resp []wireUser
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("api/projects/%d/members", projectID), nil, &resp); err != nil {
		return nil, err
	}
	return mapSlice(resp, wireUser.toDomain), nil
}

func (c *Client) AddProjectMember(ctx context.Context, projectID, userID int64) (domain.Membership, error) {
	var resp wireMembership
	body := map[string]any{"userId": userID}
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("api/projects/%d/members", projectID), body, &resp); err != nil {
		return domain.Membership{}, err
	}
	m := resp.toDomain()
	if m.ProjectID == 0 {
		m.ProjectID = projectID
	}
	if m.UserID == 0 {
		m.UserID = userID
	}
	return m, nil
}

func (c *Client) RemoveProjectMember(ctx context.Context, projectID, userID int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("api/projects/%d/members/%d", projectID, userID), nil, nil)
}

// Impersonation

func (c *Client) StartImpersonationSession(ctx context.Context, userID int64) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("api/impersonation/start/%d", userID), nil, nil)
}

func (c *Client) StopImpersonationSession(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "api/impersonation/stop", nil, nil)
}

// Event is one audit log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entityKind"`
	EntityID   string `json:"entityId"`
	ActorID    *int64 `json:"actorId,omitempty"`
	OnBehalfOf *int64 `json:"onBehalfOf,omitempty"`
	Payload    string `json:"payload"`
}

// Events lists recent audit events, newest first. Admin only.
func (c *Client) Events(ctx context.Context, evtType string, limit int) ([]Event, error) {
	q := url.Values{}
	if evtType != "" {
		q.Set("type", evtType)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	endpoint := "api/events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp []Event
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// DevLogin asks a development backend to mint a token for the given identity.
func (c *Client) DevLogin(ctx context.Context, req DevLoginRequest) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "api/auth/dev/login", req, &resp); err != nil {
		return "", err
	}
	return resp.Token, nil
}

// DevLoginRequest carries the claims a development token is minted with.
type DevLoginRequest struct {
	Subject string   `json:"sub"`
	Email   string   `json:"email"`
	Name    string   `json:"name,omitempty"`
	Picture string   `json:"picture,omitempty"`
	Roles   []string `json:"roles,omitempty"`
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	return c.doWithHeaders(ctx, method, endpoint, body, out, nil)
}

func (c *Client) doWithHeaders(ctx context.Context, method, endpoint string, body any, out any, headers map[string]string) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
		if c.TokenSource != nil {
			c.HTTPClient.Transport = &oauth2.Transport{Source: c.TokenSource, Base: http.DefaultTransport}
		}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
