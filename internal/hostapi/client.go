// Package hostapi implements hosting.Client against a REST/JSON static
// hosting API.
package hostapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/terraform-plugin-log/tflog"
)

const (
	defaultTimeoutSeconds = 60
	defaultUserAgent      = "terraform-provider-sitepublish"
	apiPrefix             = "/api/v1"
)

// ClientConfig holds configuration for constructing a new Client.
type ClientConfig struct {
	BaseURL        string
	Token          string
	TimeoutSeconds int
	UserAgent      string
	// HTTPClient overrides the default client; TimeoutSeconds is then
	// ignored.
	HTTPClient *http.Client
}

// Client is an HTTP client for the hosting API. Every call makes exactly
// one request; retries are the caller's business.
type Client struct {
	httpClient *http.Client
	token      string
	userAgent  string
	baseURL    string
}

// NewClient creates a new API client from the given configuration.
func NewClient(cfg ClientConfig) (*Client, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		return nil, fmt.Errorf("hostapi: base URL is required")
	}
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		return nil, fmt.Errorf("hostapi: base URL %q must be http or https", cfg.BaseURL)
	}

	hc := cfg.HTTPClient
	if hc == nil {
		timeoutSec := cfg.TimeoutSeconds
		if timeoutSec <= 0 {
			timeoutSec = defaultTimeoutSeconds
		}
		hc = &http.Client{Timeout: time.Duration(timeoutSec) * time.Second}
	}

	ua := cfg.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}

	return &Client{
		httpClient: hc,
		token:      cfg.Token,
		userAgent:  ua,
		baseURL:    base,
	}, nil
}

// BaseURL returns the API root the client talks to.
func (c *Client) BaseURL() string { return c.baseURL }

// do sends a JSON request and decodes a JSON response into result. body
// and result may be nil.
func (c *Client) do(ctx context.Context, method, path string, body, result interface{}) error {
	var reader io.Reader
	contentType := ""
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("hostapi: marshal request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
		contentType = "application/json"
	}

	respBody, err := c.send(ctx, method, path, reader, contentType)
	if err != nil {
		return err
	}
	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("hostapi: decode %s %s response: %w", method, path, err)
		}
	}
	return nil
}

// send performs one request and returns the response body of a 2xx
// answer. Other statuses become *hosting.StatusError.
func (c *Client) send(ctx context.Context, method, path string, body io.Reader, contentType string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+apiPrefix+path, body)
	if err != nil {
		return nil, fmt.Errorf("hostapi: create request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	tflog.Trace(ctx, "hosting API request", map[string]interface{}{
		"method": method,
		"path":   path,
	})

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("hostapi: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("hostapi: read %s %s response: %w", method, path, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return respBody, nil
	}
	return nil, parseStatusError(resp.StatusCode, respBody)
}
