package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alfredjeanlab/permitlink/internal/activity"
	"github.com/alfredjeanlab/permitlink/internal/model"
	"github.com/alfredjeanlab/permitlink/internal/server"
)

// HTTPClient implements Client using the status API.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a new HTTP client targeting the given base URL
// (e.g. "http://localhost:8080"). When token is non-empty, an Authorization
// header is set on every request.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Close is a no-op for the HTTP client.
func (c *HTTPClient) Close() error { return nil }

func (c *HTTPClient) Health(ctx context.Context) (string, error) {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.doJSON(ctx, "/v1/health", &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

func (c *HTTPClient) Stats(ctx context.Context) (*server.StatsResponse, error) {
	var resp server.StatsResponse
	if err := c.doJSON(ctx, "/v1/stats", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) Streams(ctx context.Context) ([]activity.Entry, error) {
	var resp struct {
		Streams []activity.Entry `json:"streams"`
	}
	if err := c.doJSON(ctx, "/v1/streams", &resp); err != nil {
		return nil, err
	}
	return resp.Streams, nil
}

func (c *HTTPClient) ListAssets(ctx context.Context) ([]model.Asset, error) {
	var resp struct {
		Assets []model.Asset `json:"assets"`
	}
	if err := c.doJSON(ctx, "/v1/assets", &resp); err != nil {
		return nil, err
	}
	return resp.Assets, nil
}

func (c *HTTPClient) GetAsset(ctx context.Context, id int64) (*model.Asset, error) {
	var a model.Asset
	if err := c.doJSON(ctx, "/v1/assets/"+strconv.FormatInt(id, 10), &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *HTTPClient) ListPermits(ctx context.Context) ([]model.WorkPermit, error) {
	return c.permits(ctx, "/v1/permits")
}

func (c *HTTPClient) ListPermitsForAsset(ctx context.Context, assetID int64) ([]model.WorkPermit, error) {
	q := url.Values{"asset_id": {strconv.FormatInt(assetID, 10)}}
	return c.permits(ctx, "/v1/permits?"+q.Encode())
}

func (c *HTTPClient) GetPermits(ctx context.Context, id int64) ([]model.WorkPermit, error) {
	return c.permits(ctx, "/v1/permits/"+strconv.FormatInt(id, 10))
}

func (c *HTTPClient) permits(ctx context.Context, path string) ([]model.WorkPermit, error) {
	var resp struct {
		Permits []model.WorkPermit `json:"permits"`
	}
	if err := c.doJSON(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp.Permits, nil
}

func (c *HTTPClient) Attribution(ctx context.Context, assetID int64, at time.Time) (*server.AttributionResponse, error) {
	q := url.Values{"asset_id": {strconv.FormatInt(assetID, 10)}}
	if !at.IsZero() {
		q.Set("at", at.UTC().Format(time.RFC3339))
	}
	var resp server.AttributionResponse
	if err := c.doJSON(ctx, "/v1/attribution?"+q.Encode(), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// --- internal helpers ---

// APIError represents an error response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	apiErr, ok := err.(*APIError)
	return ok && apiErr.StatusCode == http.StatusNotFound
}

// doJSON performs a GET request and decodes the JSON response into result.
func (c *HTTPClient) doJSON(ctx context.Context, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}
