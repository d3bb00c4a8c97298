package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/stakefund/internal/domain"
)

// Client is the REST client for the project registry service.
//
// Endpoints:
//
//	GET /milestones/{id} -> apiMilestone
//	GET /projects/{id}   -> apiProject
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a registry client. baseURL is the API root, e.g.
// "https://registry.example.org/v1". apiKey is sent as a bearer token when
// non-empty.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type apiMilestone struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"project_id"`
	Description string    `json:"description"`
	DueAt       time.Time `json:"due_at"`
	Resolved    bool      `json:"resolved"`
	Achieved    bool      `json:"achieved"`
}

type apiProject struct {
	ID    string `json:"id"`
	Owner string `json:"owner"`
}

// GetMilestone implements domain.Registry.
func (c *Client) GetMilestone(ctx context.Context, id string) (domain.Milestone, error) {
	body, err := c.doGet(ctx, "/milestones/"+url.PathEscape(id))
	if err != nil {
		return domain.Milestone{}, fmt.Errorf("registry: get milestone %s: %w", id, err)
	}
	var m apiMilestone
	if err := json.Unmarshal(body, &m); err != nil {
		return domain.Milestone{}, fmt.Errorf("registry: decode milestone %s: %w", id, err)
	}
	if m.ID == "" {
		m.ID = id
	}
	return domain.Milestone{
		ID:          m.ID,
		ProjectID:   m.ProjectID,
		Description: m.Description,
		DueAt:       m.DueAt.UTC(),
		Resolved:    m.Resolved,
		Achieved:    m.Resolved && m.Achieved,
	}, nil
}

// GetProjectOwner implements domain.Registry.
func (c *Client) GetProjectOwner(ctx context.Context, projectID string) (common.Address, error) {
	body, err := c.doGet(ctx, "/projects/"+url.PathEscape(projectID))
	if err != nil {
		return common.Address{}, fmt.Errorf("registry: get project %s: %w", projectID, err)
	}
	var p apiProject
	if err := json.Unmarshal(body, &p); err != nil {
		return common.Address{}, fmt.Errorf("registry: decode project %s: %w", projectID, err)
	}
	if !common.IsHexAddress(p.Owner) {
		return common.Address{}, fmt.Errorf("registry: project %s has invalid owner %q", projectID, p.Owner)
	}
	return common.HexToAddress(p.Owner), nil
}

func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

// checkHTTPStatus maps registry status codes to domain errors. Credential
// failures are not mapped to domain.ErrUnauthorized since they are ours, not
// the caller's.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}

var _ domain.Registry = (*Client)(nil)
