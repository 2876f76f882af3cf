package registrar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultUserAgent is sent with every registration request.
const DefaultUserAgent = "fcm-registrar/1.0"

// ClientOption configures Client.
type ClientOption func(*Client)

// WithClientHTTPClient sets a custom HTTP client.
func WithClientHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithClientLogger sets a custom logger.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithAPIKey sends "Authorization: Bearer <key>" with each request.
func WithAPIKey(key string) ClientOption {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithUserAgent overrides DefaultUserAgent.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// Client sends device tokens to the registration endpoint.
type Client struct {
	endpoint   string
	apiKey     string
	userAgent  string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a Client for endpoint. The endpoint is validated on each
// request so a bad configuration surfaces as a rejected submission.
func NewClient(endpoint string, opts ...ClientOption) *Client {
	c := &Client{
		endpoint:   strings.TrimSpace(endpoint),
		userAgent:  DefaultUserAgent,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns the configured registration URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

type registerBody struct {
	Token string `json:"token"`
}

// Register POSTs {"token": token} to the endpoint. A 2xx response is an
// acknowledgment; anything else is an *APIError.
func (c *Client) Register(ctx context.Context, token, instanceID string) error {
	endpoint, err := ValidateEndpoint(c.endpoint)
	if err != nil {
		return err
	}

	bodyBytes, err := json.Marshal(registerBody{Token: token})
	if err != nil {
		return fmt.Errorf("encoding registration body: %w", err)
	}

	headers := http.Header{
		"Content-Type": {"application/json"},
		"User-Agent":   {c.userAgent},
		"X-Request-Id": {uuid.NewString()},
	}
	if instanceID != "" {
		headers.Set("X-Instance-Id", instanceID)
	}
	if c.apiKey != "" {
		headers.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.doRequest(ctx, http.MethodPost, endpoint, headers, bodyBytes)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return checkResponse(resp)
}

// ValidateEndpoint checks that endpoint is an absolute http(s) URL.
func ValidateEndpoint(endpoint string) (string, error) {
	if endpoint == "" {
		return "", &EndpointError{Endpoint: endpoint, Reason: "not configured"}
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", &EndpointError{Endpoint: endpoint, Reason: err.Error()}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", &EndpointError{Endpoint: endpoint, Reason: "scheme must be http or https"}
	}
	if u.Host == "" {
		return "", &EndpointError{Endpoint: endpoint, Reason: "missing host"}
	}
	return u.String(), nil
}

func (c *Client) doRequest(ctx context.Context, method, url string, headers http.Header, body []byte) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, &EndpointError{Endpoint: url, Reason: err.Error()}
	}
	for k, v := range headers {
		req.Header[k] = v
	}

	c.logRequest(method, url, headers, body)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("<<< Error", "error", err)
		return nil, fmt.Errorf("%s %s: %w", method, url, err)
	}

	// Read body for logging, then replace it so callers can still read it.
	respBody, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	c.logResponse(resp)
	c.logger.Debug("  Response body", "length", len(respBody), "data", truncate(string(respBody), 2000))
	resp.Body = io.NopCloser(bytes.NewReader(respBody))

	return resp, nil
}

func (c *Client) logRequest(method, url string, headers http.Header, body []byte) {
	if !c.logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	c.logger.Debug(">>> "+method, "url", url)
	for k, v := range headers {
		val := strings.Join(v, ", ")
		if k == "Authorization" {
			val = "Bearer ***"
		}
		if len(val) > 120 {
			c.logger.Debug("  Request header", "key", k, "value", val[:60]+"..."+val[len(val)-20:])
		} else {
			c.logger.Debug("  Request header", "key", k, "value", val)
		}
	}
	if body != nil {
		c.logger.Debug("  Request body", "length", len(body))
	}
}

func (c *Client) logResponse(resp *http.Response) {
	c.logger.Debug("<<< Response", "status", resp.StatusCode, "url", resp.Request.URL.String())
	for k, v := range resp.Header {
		c.logger.Debug("  Response header", "key", k, "value", strings.Join(v, ", "))
	}
}

func checkResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(resp.Body)
	return &APIError{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       truncate(string(body), 512),
		URL:        resp.Request.URL.String(),
		Method:     resp.Request.Method,
	}
}

// truncate returns the first maxLen characters of s, or s itself if shorter.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// TokenPrefix shortens a token for log output.
func TokenPrefix(token string) string {
	return truncate(token, 20)
}
