package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/rdk-i/Rflix-User-Center-sub000/internal/errors"
)

// HTTPClient talks JSON over HTTP to the account provider's user API.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// HTTPClientConfig configures the raw provider transport.
type HTTPClientConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration // per-call budget
}

// NewHTTPClient creates a provider client against the given base URL.
func NewHTTPClient(cfg HTTPClientConfig) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 || timeout > 10*time.Second {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		client:  &http.Client{Timeout: timeout},
	}
}

type createAccountRequest struct {
	Username string `json:"username"`
	Secret   string `json:"secret"`
}

type createAccountResponse struct {
	ID string `json:"id"`
}

type healthResponse struct {
	Healthy   bool  `json:"healthy"`
	LatencyMs int64 `json:"latencyMs"`
}

// CreateAccount provisions a new account and returns its provider id.
func (c *HTTPClient) CreateAccount(ctx context.Context, username, secret string) (string, error) {
	body, err := json.Marshal(createAccountRequest{Username: username, Secret: secret})
	if err != nil {
		return "", fmt.Errorf("failed to encode create request: %w", err)
	}

	var resp createAccountResponse
	if err := c.do(ctx, "create_account", http.MethodPost, "/api/accounts", body, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// EnableAccount enables an existing account.
func (c *HTTPClient) EnableAccount(ctx context.Context, id string) error {
	path := "/api/accounts/" + url.PathEscape(id) + "/enable"
	return c.do(ctx, "enable_account", http.MethodPost, path, nil, nil)
}

// DisableAccount disables an existing account. Disabling an already
// disabled account succeeds.
func (c *HTTPClient) DisableAccount(ctx context.Context, id string) error {
	path := "/api/accounts/" + url.PathEscape(id) + "/disable"
	return c.do(ctx, "disable_account", http.MethodPost, path, nil, nil)
}

// HealthCheck probes provider health with a short budget.
func (c *HTTPClient) HealthCheck(ctx context.Context) (Health, error) {
	started := time.Now()
	var resp healthResponse
	if err := c.do(ctx, "health_check", http.MethodGet, "/api/health", nil, &resp); err != nil {
		return Health{}, err
	}
	latency := time.Duration(resp.LatencyMs) * time.Millisecond
	if latency == 0 {
		latency = time.Since(started)
	}
	return Health{Healthy: resp.Healthy, Latency: latency}, nil
}

func (c *HTTPClient) do(ctx context.Context, op, method, path string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return apperrors.WrapProviderError(apperrors.ErrorTypeProviderBadRequest, op, "", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return classifyTransportError(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		// Drain a little of the body for error context
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return classifyStatus(op, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return apperrors.WrapProviderError(apperrors.ErrorTypeProviderUnavailable, op, "",
				fmt.Errorf("failed to decode provider response: %w", err))
		}
	}
	return nil
}

func classifyTransportError(op string, err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apperrors.WrapProviderError(apperrors.ErrorTypeProviderTimeout, op, "",
			fmt.Errorf("provider call timed out: %w", err))
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.WrapProviderError(apperrors.ErrorTypeProviderTimeout, op, "",
			fmt.Errorf("provider call timed out: %w", err))
	}
	return apperrors.WrapProviderError(apperrors.ErrorTypeProviderUnavailable, op, "",
		fmt.Errorf("provider unreachable: %w", err))
}

func classifyStatus(op string, status int, body string) error {
	err := fmt.Errorf("provider returned %d: %s", status, body)
	switch {
	case status == 401 || status == 403:
		return apperrors.NewGovernanceError(apperrors.ErrorTypeProviderAuth, op, "", err).WithStatusCode(status)
	case status == 408 || status == 429:
		return apperrors.NewGovernanceError(apperrors.ErrorTypeProviderTimeout, op, "", err).WithStatusCode(status)
	case status >= 500:
		return apperrors.NewGovernanceError(apperrors.ErrorTypeProviderUnavailable, op, "", err).WithStatusCode(status)
	default:
		return apperrors.NewGovernanceError(apperrors.ErrorTypeProviderBadRequest, op, "", err).WithStatusCode(status)
	}
}
