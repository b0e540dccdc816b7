// Package shopify implements a minimal Admin GraphQL API client covering the
// queries and mutations this service needs: collection product listings,
// historical order pages, and collection reorder mutations.
package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultAPIVersion  = "2024-07"
	defaultHTTPTimeout = 20 * time.Second

	// MaxPageSize is the Admin API ceiling for connection page sizes.
	MaxPageSize = 250
)

var (
	// ErrUnauthorized indicates the access token was rejected.
	ErrUnauthorized = errors.New("shopify: unauthorized")
	// ErrThrottled indicates the API rate limit was exceeded.
	ErrThrottled = errors.New("shopify: throttled")
)

// Config carries the connection settings for one shop.
type Config struct {
	// StoreDomain is the myshopify host, e.g. "example.myshopify.com".
	StoreDomain string
	AdminToken  string
	APIVersion  string
	HTTPTimeout time.Duration
}

// Client talks to the Shopify Admin GraphQL endpoint for a single shop.
type Client struct {
	httpClient *http.Client
	endpoint   string
	token      string
	shop       string
}

// Option customises client construction.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client, primarily for tests.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithEndpoint overrides the GraphQL endpoint URL, primarily for tests.
func WithEndpoint(endpoint string) Option {
	return func(c *Client) {
		if strings.TrimSpace(endpoint) != "" {
			c.endpoint = strings.TrimSpace(endpoint)
		}
	}
}

// NewClient validates the configuration and constructs a client.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	domain := strings.TrimSpace(cfg.StoreDomain)
	if domain == "" {
		return nil, errors.New("shopify: store domain is required")
	}
	token := strings.TrimSpace(cfg.AdminToken)
	if token == "" {
		return nil, errors.New("shopify: admin token is required")
	}
	version := strings.TrimSpace(cfg.APIVersion)
	if version == "" {
		version = defaultAPIVersion
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}

	client := &Client{
		httpClient: &http.Client{Timeout: timeout},
		endpoint:   fmt.Sprintf("https://%s/admin/api/%s/graphql.json", domain, version),
		token:      token,
		shop:       domain,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// Shop returns the myshopify domain this client is bound to.
func (c *Client) Shop() string {
	if c == nil {
		return ""
	}
	return c.shop
}

// UserError is a structured mutation failure reported by the Admin API.
type UserError struct {
	Field   []string `json:"field,omitempty"`
	Message string   `json:"message"`
}

// UserErrorsError aggregates the userErrors of a failed mutation.
type UserErrorsError struct {
	Operation string
	Errors    []UserError
}

func (e *UserErrorsError) Error() string {
	if e == nil || len(e.Errors) == 0 {
		return "shopify: user errors"
	}
	messages := make([]string, 0, len(e.Errors))
	for _, userErr := range e.Errors {
		message := userErr.Message
		if len(userErr.Field) > 0 {
			message = strings.Join(userErr.Field, ".") + ": " + message
		}
		messages = append(messages, message)
	}
	return fmt.Sprintf("shopify: %s rejected: %s", e.Operation, strings.Join(messages, "; "))
}

func userErrorsToError(operation string, userErrors []UserError) error {
	if len(userErrors) == 0 {
		return nil
	}
	return &UserErrorsError{Operation: operation, Errors: userErrors}
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphqlError struct {
	Message string `json:"message"`
}

type graphqlEnvelope struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphqlError  `json:"errors,omitempty"`
}

// graphql posts one query and decodes the data payload into out.
func (c *Client) graphql(ctx context.Context, query string, variables map[string]any, out any) error {
	if c == nil || c.httpClient == nil {
		return errors.New("shopify: client not initialised")
	}

	body, err := json.Marshal(graphqlRequest{Query: query, Variables: variables})
	if err != nil {
		return fmt.Errorf("shopify: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("shopify: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Shopify-Access-Token", c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("shopify: request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		// fall through to envelope decoding
	case http.StatusUnauthorized, http.StatusForbidden:
		io.Copy(io.Discard, resp.Body)
		return ErrUnauthorized
	case http.StatusTooManyRequests:
		io.Copy(io.Discard, resp.Body)
		return ErrThrottled
	default:
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("shopify: unexpected status %d", resp.StatusCode)
	}

	var envelope graphqlEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("shopify: decode response: %w", err)
	}
	if len(envelope.Errors) > 0 {
		messages := make([]string, 0, len(envelope.Errors))
		for _, gqlErr := range envelope.Errors {
			messages = append(messages, gqlErr.Message)
		}
		combined := strings.Join(messages, "; ")
		if strings.Contains(strings.ToLower(combined), "throttled") {
			return fmt.Errorf("%w: %s", ErrThrottled, combined)
		}
		return fmt.Errorf("shopify: graphql errors: %s", combined)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("shopify: decode data: %w", err)
	}
	return nil
}

func clampPageSize(pageSize int) int {
	if pageSize <= 0 || pageSize > MaxPageSize {
		return MaxPageSize
	}
	return pageSize
}
