// Package mcpclient is an embedded
// Model Context Protocol client any plugin whose manifest declares
// mcp.enabled = true can use to federate to an external MCP server, over
// either a stdio child process or HTTP, with session refresh and a
// background tool-change poller.
package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	rrerrors "github.com/roadrunner-server/errors"

	"github.com/gassist/plugin-engine/internal/jsonrpc"
)

// Transport selects how the sub-client reaches the external MCP server.
type Transport int

const (
	TransportStdio Transport = iota
	TransportHTTP
)

// Config configures one MCP Sub-Client, mirroring the manifest's mcp
// block.
type Config struct {
	Transport Transport

	// Stdio transport.
	Command string
	Args    []string
	Env     map[string]string

	// HTTP transport.
	ServerURL string
	Headers   map[string]string

	// Session policy.
	SessionTimeout        time.Duration
	SessionRefreshMargin  time.Duration
	DiscoveryTimeout      time.Duration
	PollInterval          time.Duration

	ClientName    string
	ClientVersion string
}

func (c *Config) withDefaults() *Config {
	cfg := *c
	if cfg.SessionTimeout == 0 {
		cfg.SessionTimeout = 30 * time.Minute
	}
	if cfg.DiscoveryTimeout == 0 {
		cfg.DiscoveryTimeout = 10 * time.Second
	}
	if cfg.ClientName == "" {
		cfg.ClientName = "gassist-plugin"
	}
	if cfg.ClientVersion == "" {
		cfg.ClientVersion = "1.0.0"
	}
	return &cfg
}

// Tool mirrors an MCP tool advertised by the server, trimmed to what the
// manifest rewrite (internal/manifest) needs.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// ChangeFunc is invoked by the poller (see poll.go) whenever the server's
// tool set changes.
type ChangeFunc func(added, removed, all []Tool)

// Client is one MCP Sub-Client instance, scoped to a single external
// server. It is safe for concurrent use: all RPCs are serialised on a
// single mutex shared by the poller and foreground calls.
type Client struct {
	cfg *Config

	// id uniquely identifies this sub-client instance across reconnects,
	// so a server fronting several plugin instances can correlate their
	// HTTP sessions.
	id string

	mu          sync.Mutex
	sdkClient   *sdkmcp.Client
	session     *sdkmcp.ClientSession
	initialised time.Time
	lastUsed    time.Time
	knownTools  []Tool

	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

// New constructs a Client. It does not connect until the first call or an
// explicit Connect.
func New(cfg Config) *Client {
	return &Client{cfg: cfg.withDefaults(), id: uuid.New().String()}
}

// Connect performs the initialize handshake, capturing session identity
// and server info. If the server is unreachable within
// cfg.DiscoveryTimeout, previously cached tools (if any) are retained
// and a Timeout error (-2) is returned.
func (c *Client) Connect(ctx context.Context) error {
	const op = rrerrors.Op("mcpclient_connect")

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx, op)
}

func (c *Client) connectLocked(ctx context.Context, op rrerrors.Op) error {
	dctx, cancel := context.WithTimeout(ctx, c.cfg.DiscoveryTimeout)
	defer cancel()

	client := sdkmcp.NewClient(&sdkmcp.Implementation{
		Name:    c.cfg.ClientName,
		Version: c.cfg.ClientVersion,
	}, nil)

	transport, err := c.buildTransport()
	if err != nil {
		return rrerrors.E(op, err)
	}

	session, err := client.Connect(dctx, transport, nil)
	if err != nil {
		if len(c.knownTools) > 0 {
			// Offline at startup/refresh: retain the cached (manifest-derived)
			// tool set rather than failing the plugin outright.
			return rrerrors.E(op, jsonrpc.NewRPCError(jsonrpc.CodeTimeout, "mcp server unreachable: "+err.Error()))
		}
		return rrerrors.E(op, jsonrpc.NewRPCError(jsonrpc.CodeTimeout, "mcp server unreachable: "+err.Error()))
	}

	c.sdkClient = client
	c.session = session
	c.initialised = now()
	c.lastUsed = c.initialised
	return nil
}

func (c *Client) buildTransport() (sdkmcp.Transport, error) {
	switch c.cfg.Transport {
	case TransportStdio:
		if c.cfg.Command == "" {
			return nil, fmt.Errorf("mcpclient: stdio transport requires a command")
		}
		cmd := exec.Command(c.cfg.Command, c.cfg.Args...)
		if len(c.cfg.Env) > 0 {
			cmd.Env = envSlice(c.cfg.Env)
		}
		return &sdkmcp.CommandTransport{Command: cmd}, nil

	case TransportHTTP:
		if c.cfg.ServerURL == "" {
			return nil, fmt.Errorf("mcpclient: http transport requires a server_url")
		}
		headers := make(map[string]string, len(c.cfg.Headers)+1)
		for k, v := range c.cfg.Headers {
			headers[k] = v
		}
		headers["X-Engine-Client-Id"] = c.id

		httpClient := &http.Client{
			Transport: &headerRoundTripper{
				headers: headers,
				base:    http.DefaultTransport,
			},
		}
		return &sdkmcp.StreamableClientTransport{
			Endpoint:   c.cfg.ServerURL,
			HTTPClient: httpClient,
		}, nil

	default:
		return nil, fmt.Errorf("mcpclient: unknown transport %v", c.cfg.Transport)
	}
}

// Close ends the session and stops any running poller.
func (c *Client) Close() error {
	c.StopPolling()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	err := c.session.Close()
	c.session = nil
	return err
}

// needsRefreshLocked reports whether the session has aged past
// SessionTimeout - SessionRefreshMargin.
func (c *Client) needsRefreshLocked() bool {
	if c.session == nil {
		return true
	}
	margin := c.cfg.SessionRefreshMargin
	return now().Sub(c.lastUsed) >= c.cfg.SessionTimeout-margin
}

// ensureFreshLocked refreshes the session transparently if it is stale.
func (c *Client) ensureFreshLocked(ctx context.Context, op rrerrors.Op) error {
	if !c.needsRefreshLocked() {
		return nil
	}
	if c.session != nil {
		_ = c.session.Close()
		c.session = nil
	}
	return c.connectLocked(ctx, op)
}

// ListTools returns the server's current tool catalogue, performing a
// transparent session refresh first if required.
func (c *Client) ListTools(ctx context.Context) ([]Tool, error) {
	const op = rrerrors.Op("mcpclient_list_tools")

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureFreshLocked(ctx, op); err != nil {
		return nil, err
	}

	result, err := c.session.ListTools(ctx, nil)
	if err != nil {
		retried, rerr := c.retryOnceLocked(ctx, op, err, func() (any, error) {
			return c.session.ListTools(ctx, nil)
		})
		if rerr != nil {
			return nil, rerr
		}
		result = retried.(*sdkmcp.ListToolsResult)
	}
	c.lastUsed = now()

	tools := make([]Tool, 0, len(result.Tools))
	for _, t := range result.Tools {
		tools = append(tools, Tool{Name: t.Name, Description: t.Description, InputSchema: schemaToMap(t.InputSchema)})
	}
	c.knownTools = tools
	return tools, nil
}

// CallTool invokes a tool by name with the given arguments.
func (c *Client) CallTool(ctx context.Context, name string, arguments map[string]any) (*sdkmcp.CallToolResult, error) {
	const op = rrerrors.Op("mcpclient_call_tool")

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureFreshLocked(ctx, op); err != nil {
		return nil, err
	}

	result, err := c.session.CallTool(ctx, &sdkmcp.CallToolParams{Name: name, Arguments: arguments})
	if err != nil {
		retried, rerr := c.retryOnceLocked(ctx, op, err, func() (any, error) {
			return c.session.CallTool(ctx, &sdkmcp.CallToolParams{Name: name, Arguments: arguments})
		})
		if rerr != nil {
			return nil, rerr
		}
		result = retried.(*sdkmcp.CallToolResult)
	}
	c.lastUsed = now()
	return result, nil
}

// ListResources, ReadResource, ListPrompts, and GetPrompt are thin
// pass-throughs to the underlying session for the optional MCP methods;
// no additional engine semantics are required to support them beyond the
// same refresh/retry policy as ListTools/CallTool.

func (c *Client) ListResources(ctx context.Context) (*sdkmcp.ListResourcesResult, error) {
	const op = rrerrors.Op("mcpclient_list_resources")
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureFreshLocked(ctx, op); err != nil {
		return nil, err
	}
	result, err := c.session.ListResources(ctx, nil)
	if err != nil {
		retried, rerr := c.retryOnceLocked(ctx, op, err, func() (any, error) { return c.session.ListResources(ctx, nil) })
		if rerr != nil {
			return nil, rerr
		}
		result = retried.(*sdkmcp.ListResourcesResult)
	}
	c.lastUsed = now()
	return result, nil
}

func (c *Client) ReadResource(ctx context.Context, uri string) (*sdkmcp.ReadResourceResult, error) {
	const op = rrerrors.Op("mcpclient_read_resource")
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureFreshLocked(ctx, op); err != nil {
		return nil, err
	}
	result, err := c.session.ReadResource(ctx, &sdkmcp.ReadResourceParams{URI: uri})
	if err != nil {
		retried, rerr := c.retryOnceLocked(ctx, op, err, func() (any, error) {
			return c.session.ReadResource(ctx, &sdkmcp.ReadResourceParams{URI: uri})
		})
		if rerr != nil {
			return nil, rerr
		}
		result = retried.(*sdkmcp.ReadResourceResult)
	}
	c.lastUsed = now()
	return result, nil
}

func (c *Client) ListPrompts(ctx context.Context) (*sdkmcp.ListPromptsResult, error) {
	const op = rrerrors.Op("mcpclient_list_prompts")
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureFreshLocked(ctx, op); err != nil {
		return nil, err
	}
	result, err := c.session.ListPrompts(ctx, nil)
	if err != nil {
		retried, rerr := c.retryOnceLocked(ctx, op, err, func() (any, error) { return c.session.ListPrompts(ctx, nil) })
		if rerr != nil {
			return nil, rerr
		}
		result = retried.(*sdkmcp.ListPromptsResult)
	}
	c.lastUsed = now()
	return result, nil
}

func (c *Client) GetPrompt(ctx context.Context, name string, arguments map[string]string) (*sdkmcp.GetPromptResult, error) {
	const op = rrerrors.Op("mcpclient_get_prompt")
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureFreshLocked(ctx, op); err != nil {
		return nil, err
	}
	params := &sdkmcp.GetPromptParams{Name: name, Arguments: arguments}
	result, err := c.session.GetPrompt(ctx, params)
	if err != nil {
		retried, rerr := c.retryOnceLocked(ctx, op, err, func() (any, error) { return c.session.GetPrompt(ctx, params) })
		if rerr != nil {
			return nil, rerr
		}
		result = retried.(*sdkmcp.GetPromptResult)
	}
	c.lastUsed = now()
	return result, nil
}

// retryOnceLocked implements a "stale session -> reinitialise -> retry
// exactly once" policy: on a failure that looks like a
// lost session, it reconnects once and re-issues call. A second failure
// is surfaced to the caller.
func (c *Client) retryOnceLocked(ctx context.Context, op rrerrors.Op, firstErr error, call func() (any, error)) (any, error) {
	if !looksLikeLostSession(firstErr) {
		return nil, rrerrors.E(op, firstErr)
	}
	if c.session != nil {
		_ = c.session.Close()
		c.session = nil
	}
	if err := c.connectLocked(ctx, op); err != nil {
		return nil, rrerrors.E(op, err)
	}
	result, err := call()
	if err != nil {
		return nil, rrerrors.E(op, err)
	}
	return result, nil
}

// looksLikeLostSession reports whether err plausibly indicates the MCP
// session is gone: the error text mentions HTTP 400, 401 or 403, or the
// word "session". The underlying SDK does not export a typed status-code
// error, so this is a best-effort, case-insensitive string match.
func looksLikeLostSession(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"400", "401", "403", "session"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// KnownTools returns the most recently observed tool set without making a
// network call.
func (c *Client) KnownTools() []Tool {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Tool, len(c.knownTools))
	copy(out, c.knownTools)
	return out
}

type headerRoundTripper struct {
	headers map[string]string
	base    http.RoundTripper
}

func (h *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	for k, v := range h.headers {
		req.Header.Set(k, v)
	}
	return h.base.RoundTrip(req)
}

func envSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

// schemaToMap converts the SDK's schema representation (a typed
// *jsonschema.Schema) into the plain map[string]any the manifest model
// (package manifest) stores function parameter schemas as.
func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return nil
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}

// now is overridable in tests.
var now = time.Now
