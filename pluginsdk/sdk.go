// Package pluginsdk is the Go realisation of the plugin half of the
// protocol: a command registry, a
// single-threaded cooperative run loop, a streaming emitter scoped to the
// in-flight request, a passthrough ("keep_session") flag, a log emitter,
// and automatic ping replies.
//
// A plugin author writes handlers and registers them; the SDK owns
// framing, dispatch, and the request/notification bookkeeping the
// protocol requires.
package pluginsdk

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/gassist/plugin-engine/internal/frame"
	"github.com/gassist/plugin-engine/internal/jsonrpc"
)

// Handler implements one registered command. It receives a per-request
// Context (streaming, keep_session, logging, and the execute/input
// envelope) and the call's arguments, and returns either a final result or
// an error. Returning an error is equivalent to the protocol's PluginError
// (code -1); the SDK reports it as the terminating "error" notification.
type Handler func(ctx *Context, args map[string]any) (any, error)

// Option configures a Plugin at construction time.
type Option func(*Plugin)

// WithDescription sets the plugin-level description returned from "initialize".
func WithDescription(desc string) Option {
	return func(p *Plugin) { p.description = desc }
}

// WithLogWriter redirects the plugin's stderr-style diagnostic writer
// (distinct from the protocol's "log" notification, which always goes
// over the frame stream to the engine).
func WithLogWriter(w io.Writer) Option {
	return func(p *Plugin) { p.diagWriter = w }
}

// Plugin is the run-time state of one plugin process: its command
// registry and the transport it speaks to the engine over.
type Plugin struct {
	name        string
	version     string
	description string

	mu       sync.RWMutex
	commands map[string]Handler
	onInput  Handler

	diagWriter io.Writer

	enc *frame.Encoder
	dec *frame.Decoder

	// current in-flight request, if any. The run loop is single-threaded,
	// so this needs no additional locking beyond what protects concurrent
	// reads from a handler's goroutine (Context methods take a snapshot).
	reqMu       sync.Mutex
	inFlight  *requestState
}

type requestState struct {
	id          int64
	keepSession bool
}

// New constructs a Plugin that will speak the protocol over rw (typically
// os.Stdin for reads and os.Stdout for writes).
func New(name, version string, rw io.ReadWriter, opts ...Option) *Plugin {
	p := &Plugin{
		name:     name,
		version:  version,
		commands: make(map[string]Handler),
		enc:      frame.NewEncoder(rw),
		dec:      frame.NewDecoder(rw),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Register adds a command to the registry. Registering the same name
// twice overwrites the previous handler, mirroring a plain map assignment
// rather than panicking, since manifest-driven re-registration (e.g. after
// an MCP tool-set change) is an expected, not exceptional, occurrence.
func (p *Plugin) Register(name string, h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.commands[name] = h
}

// RegisterOnInput installs the handler invoked for the "input" method
// while this plugin owns the passthrough session. If
// no handler is registered, Run echoes the input content back as the
// result.
func (p *Plugin) RegisterOnInput(h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onInput = h
}

func (p *Plugin) handler(name string) (Handler, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	h, ok := p.commands[name]
	return h, ok
}

func (p *Plugin) commandDescriptors() []jsonrpc.CommandDescriptor {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]jsonrpc.CommandDescriptor, 0, len(p.commands))
	for name := range p.commands {
		out = append(out, jsonrpc.CommandDescriptor{Name: name})
	}
	return out
}

func (p *Plugin) logf(format string, args ...any) {
	if p.diagWriter == nil {
		return
	}
	fmt.Fprintf(p.diagWriter, format+"\n", args...)
}

func (p *Plugin) send(m *jsonrpc.Message) error {
	raw, err := jsonrpc.Encode(m)
	if err != nil {
		return jsonrpc.Wrap("pluginsdk_send", err)
	}
	return p.enc.Encode(raw)
}

// Run executes the single-threaded cooperative run loop:
// read one frame, dispatch by method, and only then read the next. It
// returns nil when the engine sends "shutdown" or closes the stream
// cleanly (io.EOF); any other transport error is returned to the caller.
func (p *Plugin) Run() error {
	for {
		payload, err := p.dec.Decode()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return jsonrpc.Wrap("pluginsdk_run_decode", err)
		}

		msg, err := jsonrpc.Decode(payload)
		if err != nil {
			p.logf("pluginsdk: dropping malformed frame: %v", err)
			continue
		}

		switch msg.Classify() {
		case jsonrpc.KindRequest:
			done, err := p.dispatch(msg)
			if err != nil {
				return err
			}
			if done {
				return nil
			}

		case jsonrpc.KindNotification:
			if msg.Method == jsonrpc.MethodShutdown {
				return nil
			}
			p.logf("pluginsdk: dropping unexpected notification (method=%q)", msg.Method)

		default:
			p.logf("pluginsdk: dropping malformed envelope")
		}
	}
}

// dispatch handles one decoded request.
func (p *Plugin) dispatch(msg *jsonrpc.Message) (done bool, err error) {
	id := *msg.ID

	switch msg.Method {
	case jsonrpc.MethodInitialize:
		return false, p.handleInitialize(id)

	case jsonrpc.MethodPing:
		return false, p.handlePing(id, msg.Params)

	case jsonrpc.MethodExecute:
		return false, p.handleExecute(id, msg.Params)

	case jsonrpc.MethodInput:
		return false, p.handleInput(id, msg.Params)

	case jsonrpc.MethodShutdown:
		return true, nil

	default:
		resp := jsonrpc.NewErrorResponse(id, jsonrpc.NewRPCError(jsonrpc.CodeMethodNotFound, "unknown method: "+msg.Method))
		return false, p.send(resp)
	}
}

func (p *Plugin) handleInitialize(id int64) error {
	result := jsonrpc.InitializeResult{
		Name:            p.name,
		Version:         p.version,
		Description:     p.description,
		ProtocolVersion: "2.0",
		Commands:        p.commandDescriptors(),
	}
	resp, err := jsonrpc.NewResult(id, result)
	if err != nil {
		return err
	}
	return p.send(resp)
}

func (p *Plugin) handlePing(id int64, raw json.RawMessage) error {
	var params jsonrpc.PingParams
	if err := jsonrpc.UnmarshalParams(raw, &params); err != nil {
		return p.send(jsonrpc.NewErrorResponse(id, jsonrpc.NewRPCError(jsonrpc.CodeInvalidParams, err.Error())))
	}
	resp, err := jsonrpc.NewResult(id, jsonrpc.PingResult{Timestamp: params.Timestamp})
	if err != nil {
		return err
	}
	return p.send(resp)
}

func (p *Plugin) handleExecute(id int64, raw json.RawMessage) error {
	var params jsonrpc.ExecuteParams
	if err := jsonrpc.UnmarshalParams(raw, &params); err != nil {
		return p.send(jsonrpc.NewErrorResponse(id, jsonrpc.NewRPCError(jsonrpc.CodeInvalidParams, err.Error())))
	}

	h, ok := p.handler(params.Function)
	if !ok {
		return p.sendError(id, jsonrpc.CodeMethodNotFound, "unknown function: "+params.Function)
	}

	ctx := p.beginRequest(id)
	ctx.history = params.Context
	ctx.systemInfo = params.SystemInfo
	defer p.endRequest()

	result, err := h(ctx, params.Arguments)
	if err != nil {
		return p.sendError(id, jsonrpc.CodePluginError, err.Error())
	}
	return p.sendComplete(id, result, ctx.keepSession())
}

func (p *Plugin) handleInput(id int64, raw json.RawMessage) error {
	var params jsonrpc.InputParams
	if err := jsonrpc.UnmarshalParams(raw, &params); err != nil {
		return p.send(jsonrpc.NewErrorResponse(id, jsonrpc.NewRPCError(jsonrpc.CodeInvalidParams, err.Error())))
	}

	// "input" is the only request class that gets both a synchronous
	// response AND a terminating notification; the ack is sent first.
	ackResp, err := jsonrpc.NewResult(id, jsonrpc.InputAck{Acknowledged: true})
	if err != nil {
		return err
	}
	if err := p.send(ackResp); err != nil {
		return err
	}

	p.mu.RLock()
	h := p.onInput
	p.mu.RUnlock()

	ctx := p.beginRequest(id)
	defer p.endRequest()

	var result any
	if h != nil {
		result, err = h(ctx, map[string]any{"content": params.Content, "timestamp": params.Timestamp})
	} else {
		result = "You said: " + params.Content
	}
	if err != nil {
		return p.sendError(id, jsonrpc.CodePluginError, err.Error())
	}
	return p.sendComplete(id, result, ctx.keepSession())
}

func (p *Plugin) beginRequest(id int64) *Context {
	p.reqMu.Lock()
	p.inFlight = &requestState{id: id}
	p.reqMu.Unlock()
	return &Context{plugin: p, requestID: id}
}

func (p *Plugin) endRequest() {
	p.reqMu.Lock()
	p.inFlight = nil
	p.reqMu.Unlock()
}

func (p *Plugin) currentRequestID() (int64, bool) {
	p.reqMu.Lock()
	defer p.reqMu.Unlock()
	if p.inFlight == nil {
		return 0, false
	}
	return p.inFlight.id, true
}

func (p *Plugin) setKeepSession(id int64, keep bool) {
	p.reqMu.Lock()
	defer p.reqMu.Unlock()
	if p.inFlight != nil && p.inFlight.id == id {
		p.inFlight.keepSession = keep
	}
}

func (p *Plugin) sendComplete(id int64, data any, keepSession bool) error {
	note, err := jsonrpc.NewNotification(jsonrpc.MethodComplete, jsonrpc.CompleteParams{
		RequestID:   id,
		Success:     true,
		Data:        data,
		KeepSession: keepSession,
	})
	if err != nil {
		return err
	}
	return p.send(note)
}

func (p *Plugin) sendError(id int64, code jsonrpc.Code, message string) error {
	note, err := jsonrpc.NewNotification(jsonrpc.MethodError, jsonrpc.ErrorParams{
		RequestID: id,
		Code:      code,
		Message:   message,
	})
	if err != nil {
		return err
	}
	return p.send(note)
}
