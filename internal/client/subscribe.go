package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/vektah/gqlparser/v2/ast"
)

// graphql-transport-ws protocol message types
const (
	gqlConnectionInit      = "connection_init"
	gqlConnectionAck       = "connection_ack"
	gqlSubscribe           = "subscribe"
	gqlNext                = "next"
	gqlError               = "error"
	gqlComplete            = "complete"
	gqlConnectionKeepAlive = "ka"
)

// wsMessage represents a graphql-transport-ws protocol message.
type wsMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// wsSubscribePayload is the payload for subscribe messages.
type wsSubscribePayload struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
}

// wsEndpoint converts the HTTP endpoint to its WebSocket equivalent.
func (c *Client) wsEndpoint() (string, error) {
	ws := c.endpoint
	ws = strings.Replace(ws, "http://", "ws://", 1)
	ws = strings.Replace(ws, "https://", "wss://", 1)

	u, err := url.Parse(ws)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	return u.String(), nil
}

// Subscribe runs a GraphQL subscription over graphql-transport-ws and calls
// onData with the data object of every "next" message. It returns when the
// server completes the subscription, onData returns an error, or ctx is done.
// onData may return ErrStop to end the subscription without error.
func (c *Client) Subscribe(ctx context.Context, query string, variables map[string]any, onData func(json.RawMessage) error) error {
	op, err := parseOperation(query)
	if err != nil {
		return err
	}
	if op.kind != ast.Subscription {
		return fmt.Errorf("operation %s is a %s, use Execute", op.name, op.kind)
	}

	endpoint, err := c.wsEndpoint()
	if err != nil {
		return err
	}

	// Connect with graphql-transport-ws subprotocol
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		Subprotocols:     []string{"graphql-transport-ws"},
	}

	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket connect: %w", err)
	}

	// Track connection state for proper cleanup
	var mu sync.Mutex
	closed := false
	closeConn := func() {
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			closed = true
			conn.Close()
		}
	}
	defer closeConn()

	if err := conn.WriteJSON(wsMessage{Type: gqlConnectionInit}); err != nil {
		return fmt.Errorf("send connection_init: %w", err)
	}

	var ackMsg wsMessage
	if err := conn.ReadJSON(&ackMsg); err != nil {
		return fmt.Errorf("read connection_ack: %w", err)
	}
	if ackMsg.Type != gqlConnectionAck {
		return fmt.Errorf("expected connection_ack, got %s", ackMsg.Type)
	}

	subscriptionID := uuid.New().String()
	payload, err := json.Marshal(wsSubscribePayload{
		Query:         query,
		OperationName: op.name,
		Variables:     variables,
	})
	if err != nil {
		return fmt.Errorf("marshal subscribe payload: %w", err)
	}
	if err := conn.WriteJSON(wsMessage{ID: subscriptionID, Type: gqlSubscribe, Payload: payload}); err != nil {
		return fmt.Errorf("send subscribe: %w", err)
	}

	// Handle context cancellation in a separate goroutine
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			closeConn()
		case <-done:
		}
	}()

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			// Check if this was due to context cancellation
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read message: %w", err)
		}

		switch msg.Type {
		case gqlNext:
			var next graphQLResponse
			if err := json.Unmarshal(msg.Payload, &next); err != nil {
				return fmt.Errorf("unmarshal next payload: %w", err)
			}
			if len(next.Errors) > 0 {
				return fmt.Errorf("subscription error: %s", next.Errors[0].Message)
			}
			if err := onData(next.Data); err != nil {
				if errors.Is(err, ErrStop) {
					// Let the server release the operation.
					_ = conn.WriteJSON(wsMessage{ID: subscriptionID, Type: gqlComplete})
					return nil
				}
				return err
			}

		case gqlError:
			var errs []graphQLError
			if err := json.Unmarshal(msg.Payload, &errs); err != nil {
				return fmt.Errorf("subscription error: %s", string(msg.Payload))
			}
			if len(errs) > 0 {
				return fmt.Errorf("subscription error: %s", errs[0].Message)
			}
			return fmt.Errorf("subscription error: unknown")

		case gqlComplete:
			return nil

		case gqlConnectionKeepAlive:
			continue

		default:
			// Ignore unknown message types
			continue
		}
	}
}

// ErrStop ends a subscription from inside onData without reporting an error.
var ErrStop = errors.New("subscription stopped")
