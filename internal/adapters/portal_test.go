package adapters

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/knowhow-portal/internal/client"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// operation is a GraphQL request as seen by the fake portal.
type operation struct {
	Name      string
	Variables map[string]any
	Files     map[string]string
}

// resolver returns the data object for one operation, or an error message.
type resolver func(op operation) (any, string)

// fakePortal serves GraphQL operations by name, including multipart uploads
// and graphql-transport-ws subscriptions.
type fakePortal struct {
	t         *testing.T
	mu        sync.Mutex
	resolvers map[string]resolver
	calls     map[string][]operation
	tokens    []string
	srv       *httptest.Server
}

func newFakePortal(t *testing.T) *fakePortal {
	p := &fakePortal{t: t, resolvers: map[string]resolver{}, calls: map[string][]operation{}}
	p.srv = httptest.NewServer(http.HandlerFunc(p.serve))
	t.Cleanup(p.srv.Close)
	return p
}

func (p *fakePortal) client() *client.Client {
	return client.New(p.srv.URL, client.WithLogger(testLogger()))
}

func (p *fakePortal) handle(name string, r resolver) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resolvers[name] = r
}

// sequence answers successive calls with the given data objects; the last
// one repeats.
func (p *fakePortal) sequence(name, field string, objects ...map[string]any) {
	var n int
	var mu sync.Mutex
	p.handle(name, func(operation) (any, string) {
		mu.Lock()
		defer mu.Unlock()
		obj := objects[min(n, len(objects)-1)]
		n++
		return map[string]any{field: obj}, ""
	})
}

func (p *fakePortal) callsTo(name string) []operation {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]operation(nil), p.calls[name]...)
}

func (p *fakePortal) serve(w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		p.serveStream(w, r)
		return
	}

	op := operation{Files: map[string]string{}}
	var req struct {
		Query         string         `json:"query"`
		OperationName string         `json:"operationName"`
		Variables     map[string]any `json:"variables"`
	}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		require.NoError(p.t, r.ParseMultipartForm(1<<20))
		require.NoError(p.t, json.Unmarshal([]byte(r.FormValue("operations")), &req))
		for _, headers := range r.MultipartForm.File {
			for _, h := range headers {
				f, err := h.Open()
				require.NoError(p.t, err)
				content, _ := io.ReadAll(f)
				f.Close()
				op.Files[h.Filename] = string(content)
			}
		}
	} else {
		require.NoError(p.t, json.NewDecoder(r.Body).Decode(&req))
	}
	op.Name = req.OperationName
	op.Variables = req.Variables

	p.mu.Lock()
	p.calls[op.Name] = append(p.calls[op.Name], op)
	resolve, ok := p.resolvers[op.Name]
	p.mu.Unlock()

	resp := map[string]any{}
	if !ok {
		resp["errors"] = []map[string]any{{"message": "no resolver for " + op.Name}}
	} else {
		data, errMsg := resolve(op)
		resp["data"] = data
		if errMsg != "" {
			resp["errors"] = []map[string]any{{"message": errMsg}}
		}
	}
	w.Header().Set("Content-Type", "application/json")
	require.NoError(p.t, json.NewEncoder(w).Encode(resp))
}

type wsFrame struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (p *fakePortal) serveStream(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{Subprotocols: []string{"graphql-transport-ws"}}
	conn, err := upgrader.Upgrade(w, r, nil)
	require.NoError(p.t, err)
	defer conn.Close()

	var msg wsFrame
	if conn.ReadJSON(&msg) != nil || msg.Type != "connection_init" {
		return
	}
	_ = conn.WriteJSON(wsFrame{Type: "connection_ack"})
	if conn.ReadJSON(&msg) != nil || msg.Type != "subscribe" {
		return
	}

	p.mu.Lock()
	tokens := p.tokens
	p.calls["GeneratedContent"] = append(p.calls["GeneratedContent"], operation{Name: "GeneratedContent"})
	p.mu.Unlock()

	for _, tok := range tokens {
		payload, _ := json.Marshal(map[string]any{"data": map[string]any{"generatedContent": map[string]any{"token": tok}}})
		_ = conn.WriteJSON(wsFrame{ID: msg.ID, Type: "next", Payload: payload})
	}
	payload, _ := json.Marshal(map[string]any{"data": map[string]any{"generatedContent": map[string]any{"done": true}}})
	_ = conn.WriteJSON(wsFrame{ID: msg.ID, Type: "next", Payload: payload})
	_ = conn.ReadJSON(&msg)
}
