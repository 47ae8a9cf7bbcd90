// Package client provides a GraphQL client for the knowledge portal server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
)

// ErrNotFound is returned when the server answers a lookup with null.
var ErrNotFound = errors.New("not found")

// StatusError is returned when the server answers with a non-200 status.
type StatusError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server error: %s - %s", e.Status, e.Body)
}

// Client is a GraphQL client for the portal server.
type Client struct {
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger used for request tracing.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a new GraphQL client.
// If endpoint is empty, uses KNOWHOW_SERVER_URL env var or defaults to localhost:8484.
// Timeout can be configured via KNOWHOW_CLIENT_TIMEOUT env var (default 30s); status
// polls carry their own shorter deadlines.
func New(endpoint string, opts ...Option) *Client {
	if endpoint == "" {
		endpoint = os.Getenv("KNOWHOW_SERVER_URL")
	}
	if endpoint == "" {
		endpoint = "http://localhost:8484/query"
	}

	timeout := 30 * time.Second
	if t := os.Getenv("KNOWHOW_CLIENT_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			timeout = d
		}
	}

	c := &Client{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns the GraphQL endpoint URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// graphQLRequest is the request payload for GraphQL operations.
type graphQLRequest struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
}

// graphQLResponse is the response payload from GraphQL operations.
type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors,omitempty"`
}

// graphQLError represents a GraphQL error.
type graphQLError struct {
	Message string `json:"message"`
	Path    []any  `json:"path,omitempty"`
}

// operation is the parsed header of a GraphQL document.
type operation struct {
	name string
	kind ast.Operation
}

var operationCache sync.Map // query string -> operation

// parseOperation parses the document once and returns its single operation.
func parseOperation(query string) (operation, error) {
	if op, ok := operationCache.Load(query); ok {
		return op.(operation), nil
	}

	doc, err := parser.ParseQuery(&ast.Source{Input: query})
	if err != nil {
		return operation{}, fmt.Errorf("parse query: %w", err)
	}
	if len(doc.Operations) != 1 {
		return operation{}, fmt.Errorf("parse query: expected one operation, got %d", len(doc.Operations))
	}

	op := operation{name: doc.Operations[0].Name, kind: doc.Operations[0].Operation}
	operationCache.Store(query, op)
	return op, nil
}

// Execute sends a GraphQL query/mutation and returns the result.
func (c *Client) Execute(ctx context.Context, query string, variables map[string]any, result any) error {
	op, err := parseOperation(query)
	if err != nil {
		return err
	}
	if op.kind == ast.Subscription {
		return fmt.Errorf("operation %s is a subscription, use Subscribe", op.name)
	}

	reqBody, err := json.Marshal(graphQLRequest{
		Query:         query,
		OperationName: op.name,
		Variables:     variables,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, op, result)
}

// do sends the request and decodes the GraphQL envelope into result.
func (c *Client) do(req *http.Request, op operation, result any) error {
	requestID := uuid.New().String()
	req.Header.Set("X-Request-ID", requestID)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	c.logger.Debug("graphql request",
		"operation", op.name, "request_id", requestID,
		"status", resp.StatusCode, "duration_ms", time.Since(start).Milliseconds())

	if resp.StatusCode != http.StatusOK {
		return &StatusError{StatusCode: resp.StatusCode, Status: resp.Status, Body: string(body)}
	}

	var gqlResp graphQLResponse
	if err := json.Unmarshal(body, &gqlResp); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}

	if len(gqlResp.Errors) > 0 {
		return fmt.Errorf("graphql error: %s", gqlResp.Errors[0].Message)
	}

	if result != nil && len(gqlResp.Data) > 0 {
		if err := json.Unmarshal(gqlResp.Data, result); err != nil {
			return fmt.Errorf("unmarshal data: %w", err)
		}
	}

	return nil
}

// fetchField executes a lookup and returns the raw JSON of one top-level
// field. A null field yields ErrNotFound.
func (c *Client) fetchField(ctx context.Context, query, field string, variables map[string]any) (json.RawMessage, error) {
	var data map[string]json.RawMessage
	if err := c.Execute(ctx, query, variables, &data); err != nil {
		return nil, err
	}
	raw, ok := data[field]
	if !ok || len(raw) == 0 || string(raw) == "null" {
		return nil, fmt.Errorf("%w: %s %v", ErrNotFound, field, variables["id"])
	}
	return raw, nil
}
