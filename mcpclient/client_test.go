package mcpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoInput is the argument shape for the test server's one tool.
type echoInput struct {
	Text string `json:"text"`
}

// newEchoServer builds a real MCP server exposing a single "echo" tool, the
// same AddTool/NewServer shape the wider MCP corpus uses on the server side
// of this protocol.
func newEchoServer() *sdkmcp.Server {
	server := sdkmcp.NewServer(&sdkmcp.Implementation{Name: "echo-test-server", Version: "0.0.1"}, nil)
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "echo",
		Description: "echoes the given text back",
	}, func(_ context.Context, _ *sdkmcp.CallToolRequest, input echoInput) (*sdkmcp.CallToolResult, any, error) {
		return &sdkmcp.CallToolResult{
			Content: []sdkmcp.Content{&sdkmcp.TextContent{Text: input.Text}},
		}, nil, nil
	})
	return server
}

// newTestMCPServer starts a real Streamable HTTP MCP server on a local
// httptest.Server, wrapping the handler with wrap (or passing through
// unmodified if wrap is nil), and returns the server together with its /mcp
// endpoint URL.
func newTestMCPServer(t *testing.T, wrap func(http.Handler) http.Handler) (*httptest.Server, string) {
	t.Helper()
	server := newEchoServer()
	getServer := func(_ *http.Request) *sdkmcp.Server { return server }

	var handler http.Handler = sdkmcp.NewStreamableHTTPHandler(getServer, nil)
	if wrap != nil {
		handler = wrap(handler)
	}

	mux := http.NewServeMux()
	mux.Handle("/mcp", handler)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts, ts.URL + "/mcp"
}

func newTestClient(serverURL string, mutate func(*Config)) *Client {
	cfg := Config{Transport: TransportHTTP, ServerURL: serverURL}
	if mutate != nil {
		mutate(&cfg)
	}
	return New(cfg)
}

func TestClientConnectListToolsAndCallToolOverHTTP(t *testing.T) {
	_, url := newTestMCPServer(t, nil)
	c := newTestClient(url, nil)
	t.Cleanup(func() { _ = c.Close() })

	ctx := context.Background()
	require.NoError(t, c.Connect(ctx))

	tools, err := c.ListTools(ctx)
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "echo", tools[0].Name)
	assert.Equal(t, tools, c.KnownTools())

	result, err := c.CallTool(ctx, "echo", map[string]any{"text": "hello"})
	require.NoError(t, err)
	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(*sdkmcp.TextContent)
	require.True(t, ok)
	assert.Equal(t, "hello", text.Text)
}

// TestClientSessionRefreshesTransparentlyBeforeTimeout drives needsRefreshLocked
// and ensureFreshLocked directly by moving the overridable now() clock past
// SessionTimeout-SessionRefreshMargin between two calls, and asserts the
// second call still succeeds with a freshly initialised session.
func TestClientSessionRefreshesTransparentlyBeforeTimeout(t *testing.T) {
	_, url := newTestMCPServer(t, nil)
	c := newTestClient(url, func(cfg *Config) {
		cfg.SessionTimeout = time.Minute
		cfg.SessionRefreshMargin = 10 * time.Second
	})
	t.Cleanup(func() { _ = c.Close() })

	clock := time.Now()
	restore := now
	now = func() time.Time { return clock }
	defer func() { now = restore }()

	ctx := context.Background()
	_, err := c.ListTools(ctx)
	require.NoError(t, err)

	c.mu.Lock()
	firstInit := c.initialised
	firstSession := c.session
	c.mu.Unlock()
	require.False(t, firstInit.IsZero())
	require.NotNil(t, firstSession)

	// Not yet past the refresh margin: the session must be reused as-is.
	clock = clock.Add(30 * time.Second)
	_, err = c.ListTools(ctx)
	require.NoError(t, err)
	c.mu.Lock()
	assert.True(t, c.initialised.Equal(firstInit))
	c.mu.Unlock()

	// Past SessionTimeout-SessionRefreshMargin (50s) since the last call
	// refreshed lastUsed: must reconnect.
	clock = clock.Add(60 * time.Second)
	tools, err := c.ListTools(ctx)
	require.NoError(t, err)
	assert.Len(t, tools, 1)

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.True(t, c.initialised.After(firstInit), "session should have been refreshed")
	assert.NotSame(t, firstSession, c.session)
}

// flakyHandler fails the very first "tools/list" request it observes with an
// HTTP 401, simulating a server that has dropped the client's session, and
// passes every other request straight through.
type flakyHandler struct {
	inner      http.Handler
	tripped    atomic.Bool
	hasTripped atomic.Bool
}

func newFlakyHandler(inner http.Handler) *flakyHandler {
	h := &flakyHandler{inner: inner}
	h.tripped.Store(true)
	return h
}

func (h *flakyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost && h.tripped.Load() {
		body, err := io.ReadAll(r.Body)
		if err == nil {
			r.Body = io.NopCloser(bytes.NewReader(body))
			var probe struct {
				Method string `json:"method"`
			}
			if json.Unmarshal(body, &probe) == nil && probe.Method == "tools/list" {
				h.tripped.Store(false)
				h.hasTripped.Store(true)
				http.Error(w, "session expired", http.StatusUnauthorized)
				return
			}
		}
	}
	h.inner.ServeHTTP(w, r)
}

func TestClientRetriesOnceAfterLostSession(t *testing.T) {
	var flaky *flakyHandler
	_, url := newTestMCPServer(t, func(inner http.Handler) http.Handler {
		flaky = newFlakyHandler(inner)
		return flaky
	})
	c := newTestClient(url, nil)
	t.Cleanup(func() { _ = c.Close() })

	ctx := context.Background()
	require.NoError(t, c.Connect(ctx))

	tools, err := c.ListTools(ctx)
	require.NoError(t, err)
	assert.Len(t, tools, 1)
	assert.True(t, flaky.hasTripped.Load(), "the flaky 401 should have fired exactly once")
	assert.False(t, flaky.tripped.Load(), "the trap should be spent after the retry")
}

func TestLooksLikeLostSessionMatchesKnownMarkers(t *testing.T) {
	assert.False(t, looksLikeLostSession(nil))

	cases := map[string]bool{
		"unexpected status code: 401":   true,
		"server returned 403 forbidden": true,
		"bad request (400)":             true,
		"mcp session not found":         true,
		"connection refused":            false,
		"context deadline exceeded":     false,
	}
	for msg, want := range cases {
		assert.Equal(t, want, looksLikeLostSession(&testError{msg: msg}), "message %q", msg)
	}
}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }

func TestHeaderRoundTripperInjectsHeaders(t *testing.T) {
	var seen http.Header
	base := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		seen = r.Header
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(bytes.NewReader(nil)), Header: http.Header{}}, nil
	})
	rt := &headerRoundTripper{headers: map[string]string{"X-Engine-Client-Id": "abc123"}, base: base}

	req, err := http.NewRequest(http.MethodGet, "http://example.invalid/", nil)
	require.NoError(t, err)
	_, err = rt.RoundTrip(req)
	require.NoError(t, err)
	assert.Equal(t, "abc123", seen.Get("X-Engine-Client-Id"))
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestBuildTransportValidatesConfig(t *testing.T) {
	stdioMissingCmd := New(Config{Transport: TransportStdio})
	_, err := stdioMissingCmd.buildTransport()
	assert.Error(t, err)

	httpMissingURL := New(Config{Transport: TransportHTTP})
	_, err = httpMissingURL.buildTransport()
	assert.Error(t, err)

	unknown := New(Config{Transport: Transport(99)})
	_, err = unknown.buildTransport()
	assert.Error(t, err)

	httpOK := New(Config{Transport: TransportHTTP, ServerURL: "http://example.invalid/mcp"})
	transport, err := httpOK.buildTransport()
	require.NoError(t, err)
	streamable, ok := transport.(*sdkmcp.StreamableClientTransport)
	require.True(t, ok)
	assert.Equal(t, "http://example.invalid/mcp", streamable.Endpoint)

	stdioOK := New(Config{Transport: TransportStdio, Command: "true"})
	transport, err = stdioOK.buildTransport()
	require.NoError(t, err)
	_, ok = transport.(*sdkmcp.CommandTransport)
	assert.True(t, ok)
}
