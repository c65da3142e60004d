// Package serviceclient calls sibling services for best-effort enrichment.
package serviceclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	pkgerrors "github.com/medtrack/medtrack-backend/pkg/errors"
)

const (
	defaultTimeout             = 5 * time.Second
	responseBodyReadLimit int64 = 1024
)

var errBaseURLRequired = errors.New("profile service base url is required")

// TokenSource supplies bearer tokens for service-to-service calls.
type TokenSource interface {
	Token() (string, error)
}

// Student is the subset of the profile service's student representation used for enrichment.
type Student struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	CIN       string    `json:"cin"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
}

// FullName joins the first and last names, skipping blanks.
func (s Student) FullName() string {
	return strings.TrimSpace(strings.TrimSpace(s.FirstName) + " " + strings.TrimSpace(s.LastName))
}

type Encadrant struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
}

// ProfileClient reads student and encadrant profiles from the profile service.
type ProfileClient struct {
	httpClient *http.Client
	baseURL    string
	tokens     TokenSource
}

// Option configures optional client behavior.
type Option func(*ProfileClient)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *ProfileClient) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithTimeout bounds every request made by the default HTTP client.
func WithTimeout(timeout time.Duration) Option {
	return func(c *ProfileClient) {
		if timeout > 0 {
			c.httpClient = &http.Client{Timeout: timeout}
		}
	}
}

// WithTokenSource authenticates requests with a service bearer token.
func WithTokenSource(tokens TokenSource) Option {
	return func(c *ProfileClient) {
		c.tokens = tokens
	}
}

func NewProfileClient(baseURL string, opts ...Option) (*ProfileClient, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, errBaseURLRequired
	}
	client := &ProfileClient{
		baseURL:    trimmed,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// Student fetches GET /profile/api/students/{id}/.
func (c *ProfileClient) Student(ctx context.Context, studentID uuid.UUID) Result[Student] {
	return getJSON[Student](ctx, c, "profile/api/students/"+url.PathEscape(studentID.String())+"/")
}

// StudentByUser fetches GET /profile/api/students/by_user/{user_id}/.
func (c *ProfileClient) StudentByUser(ctx context.Context, userID uuid.UUID) Result[Student] {
	return getJSON[Student](ctx, c, "profile/api/students/by_user/"+url.PathEscape(userID.String())+"/")
}

// Encadrant fetches GET /profile/api/encadrants/{id}/.
func (c *ProfileClient) Encadrant(ctx context.Context, encadrantID uuid.UUID) Result[Encadrant] {
	return getJSON[Encadrant](ctx, c, "profile/api/encadrants/"+url.PathEscape(encadrantID.String())+"/")
}

func getJSON[T any](ctx context.Context, c *ProfileClient, path string) Result[T] {
	if c == nil {
		return Unavailable[T](pkgerrors.New(pkgerrors.CodeDependency, "profile client not configured"))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+path, nil)
	if err != nil {
		return Unavailable[T](pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build profile request"))
	}
	httpReq.Header.Set("Accept", "application/json")
	if c.tokens != nil {
		token, err := c.tokens.Token()
		if err != nil {
			return Unavailable[T](pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mint service token"))
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Unavailable[T](pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute profile request"))
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return NotFound[T]()
	case resp.StatusCode != http.StatusOK:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return Unavailable[T](pkgerrors.Wrap(pkgerrors.CodeDependency,
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "profile request failed"))
	}

	var value T
	if err := json.NewDecoder(resp.Body).Decode(&value); err != nil {
		return Unavailable[T](pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode profile response"))
	}
	return Found(value)
}
