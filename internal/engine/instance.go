package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	rrerrors "github.com/roadrunner-server/errors"

	"github.com/gassist/plugin-engine/internal/jsonrpc"
	"github.com/gassist/plugin-engine/internal/manifest"
	"github.com/gassist/plugin-engine/internal/supervisor"
	"github.com/gassist/plugin-engine/internal/watchdog"
)

// State is a Plugin Instance's lifecycle state.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// StreamFunc receives one "stream" chunk for an in-flight request.
type StreamFunc func(requestID int64, chunk string)

// TerminalFunc receives the first complete/error notification for an
// in-flight request. success is false for an "error" notification, in
// which case errInfo is populated.
type TerminalFunc func(requestID int64, success bool, keepSession bool, data any, errInfo *jsonrpc.ErrorParams)

// pendingCall is a request awaiting its direct Response (initialize,
// ping, input's synchronous ack, or an up-front error Response).
type pendingCall struct {
	ch chan *jsonrpc.Message
}

// inFlightRequest tracks an execute/input call from dispatch to terminal
// notification, enforcing "first complete/error wins, subsequent stream or
// terminal frames for the same id are dropped".
type inFlightRequest struct {
	mu       sync.Mutex
	terminal bool
	onStream StreamFunc
	onTerm   TerminalFunc
}

// Instance is one running (or starting, or terminated) Plugin Instance:
// its manifest, its OS process, its watchdog, and the bookkeeping that
// correlates responses and terminal notifications back to callers.
type Instance struct {
	Manifest   *manifest.Manifest
	Persistent bool

	log *zap.Logger

	mu    sync.Mutex
	state State
	proc  *supervisor.Process

	nextID atomic.Int64

	pendMu  sync.Mutex
	pending map[int64]*pendingCall

	reqMu    sync.Mutex
	requests map[int64]*inFlightRequest

	Watchdog *watchdog.Watchdog

	readerDone chan struct{}
}

// NewInstance constructs an Instance in the Stopped state.
func NewInstance(m *manifest.Manifest, persistent bool, log *zap.Logger) *Instance {
	return &Instance{
		Manifest:   m,
		Persistent: persistent,
		log:        log,
		pending:    make(map[int64]*pendingCall),
		requests:   make(map[int64]*inFlightRequest),
		readerDone: make(chan struct{}),
	}
}

// Name returns the plugin's manifest name.
func (inst *Instance) Name() string { return inst.Manifest.Name }

// State reports the instance's current lifecycle state.
func (inst *Instance) State() State {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.state
}

func (inst *Instance) setState(s State) {
	inst.mu.Lock()
	inst.state = s
	inst.mu.Unlock()
}

// Start spawns the underlying process and begins the reader loop. It does
// not send "initialize"; the caller (Engine) does that and awaits the
// response with its own timeout.
func (inst *Instance) Start(ctx context.Context, logDir string, extraEnv map[string]string) error {
	const op = rrerrors.Op("engine_instance_start")
	inst.setState(StateStarting)

	proc, err := supervisor.Spawn(ctx, inst.Manifest, logDir, extraEnv)
	if err != nil {
		inst.setState(StateTerminated)
		return rrerrors.E(op, err)
	}

	inst.mu.Lock()
	inst.proc = proc
	inst.readerDone = make(chan struct{})
	inst.mu.Unlock()

	go inst.readLoop()

	inst.setState(StateRunning)
	return nil
}

func (inst *Instance) process() *supervisor.Process {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.proc
}

// readLoop is the engine-side half of the stream: it drains
// plugin->engine frames and correlates them to pending calls or in-flight
// requests. Start launches one readLoop per spawned process; it returns
// when that process's stream ends.
func (inst *Instance) readLoop() {
	defer close(inst.readerDone)

	proc := inst.process()
	if proc == nil {
		return
	}

	for {
		payload, err := proc.Decoder.Decode()
		if err != nil {
			inst.terminateAllInFlight(jsonrpc.CodeTimeout, "plugin process stream ended")
			inst.setState(StateTerminated)
			return
		}

		msg, err := jsonrpc.Decode(payload)
		if err != nil {
			if inst.log != nil {
				inst.log.Warn("dropping malformed frame from plugin", zap.String("plugin", inst.Name()), zap.Error(err))
			}
			continue
		}

		switch msg.Classify() {
		case jsonrpc.KindResponse:
			inst.deliverResponse(msg)
		case jsonrpc.KindNotification:
			inst.handleNotification(msg)
		default:
			if inst.log != nil {
				inst.log.Warn("dropping malformed envelope from plugin", zap.String("plugin", inst.Name()))
			}
		}
	}
}

func (inst *Instance) deliverResponse(msg *jsonrpc.Message) {
	id := *msg.ID
	inst.pendMu.Lock()
	call, ok := inst.pending[id]
	if ok {
		delete(inst.pending, id)
	}
	inst.pendMu.Unlock()
	if !ok {
		return
	}
	call.ch <- msg
}

func (inst *Instance) handleNotification(msg *jsonrpc.Message) {
	switch msg.Method {
	case jsonrpc.MethodStream:
		var params jsonrpc.StreamParams
		if err := jsonrpc.UnmarshalParams(msg.Params, &params); err != nil {
			return
		}
		inst.reqMu.Lock()
		req := inst.requests[params.RequestID]
		inst.reqMu.Unlock()
		if req == nil {
			if inst.log != nil {
				inst.log.Debug("dropping stream chunk for unknown request", zap.Int64("request_id", params.RequestID))
			}
			return
		}
		req.mu.Lock()
		terminal := req.terminal
		cb := req.onStream
		req.mu.Unlock()
		if terminal || cb == nil {
			if inst.log != nil {
				inst.log.Debug("dropping stream chunk after terminal", zap.Int64("request_id", params.RequestID))
			}
			return
		}
		cb(params.RequestID, params.Data)

	case jsonrpc.MethodComplete:
		var params jsonrpc.CompleteParams
		if err := jsonrpc.UnmarshalParams(msg.Params, &params); err != nil {
			return
		}
		inst.finishRequest(params.RequestID, true, params.KeepSession, params.Data, nil)

	case jsonrpc.MethodError:
		var params jsonrpc.ErrorParams
		if err := jsonrpc.UnmarshalParams(msg.Params, &params); err != nil {
			return
		}
		inst.finishRequest(params.RequestID, false, false, nil, &params)

	case jsonrpc.MethodLog:
		var params jsonrpc.LogParams
		if err := jsonrpc.UnmarshalParams(msg.Params, &params); err != nil || inst.log == nil {
			return
		}
		inst.log.Info("plugin log", zap.String("plugin", inst.Name()), zap.String("level", params.Level), zap.String("message", params.Message))
	}
}

func (inst *Instance) finishRequest(id int64, success, keepSession bool, data any, errInfo *jsonrpc.ErrorParams) {
	inst.reqMu.Lock()
	req := inst.requests[id]
	if req != nil {
		delete(inst.requests, id)
	}
	inst.reqMu.Unlock()
	if req == nil {
		return
	}
	req.mu.Lock()
	alreadyTerminal := req.terminal
	req.terminal = true
	cb := req.onTerm
	req.mu.Unlock()
	if alreadyTerminal || cb == nil {
		return
	}
	cb(id, success, keepSession, data, errInfo)
}

// terminateAllInFlight is invoked when the process stream ends (crash, or
// watchdog kill): every pending call and in-flight request is surfaced as
// a -2 timeout error.
func (inst *Instance) terminateAllInFlight(code jsonrpc.Code, message string) {
	inst.pendMu.Lock()
	pending := inst.pending
	inst.pending = make(map[int64]*pendingCall)
	inst.pendMu.Unlock()
	for id, call := range pending {
		call.ch <- jsonrpc.NewErrorResponse(id, jsonrpc.NewRPCError(code, message))
	}

	inst.reqMu.Lock()
	requests := inst.requests
	inst.requests = make(map[int64]*inFlightRequest)
	inst.reqMu.Unlock()
	for id, req := range requests {
		req.mu.Lock()
		alreadyTerminal := req.terminal
		req.terminal = true
		cb := req.onTerm
		req.mu.Unlock()
		if !alreadyTerminal && cb != nil {
			cb(id, false, false, nil, &jsonrpc.ErrorParams{RequestID: id, Code: code, Message: message})
		}
	}
}

// NextID allocates the next request id for this instance.
func (inst *Instance) NextID() int64 { return inst.nextID.Add(1) }

// Call sends a request (initialize or ping) and waits for its direct
// Response, honouring ctx's deadline. "input" goes through SendInput.
func (inst *Instance) Call(ctx context.Context, id int64, msg *jsonrpc.Message) (*jsonrpc.Message, error) {
	const op = rrerrors.Op("engine_instance_call")

	proc := inst.process()
	if proc == nil {
		return nil, rrerrors.E(op, rrerrors.Str("instance has no running process"))
	}

	call := &pendingCall{ch: make(chan *jsonrpc.Message, 1)}
	inst.pendMu.Lock()
	inst.pending[id] = call
	inst.pendMu.Unlock()

	raw, err := jsonrpc.Encode(msg)
	if err != nil {
		inst.pendMu.Lock()
		delete(inst.pending, id)
		inst.pendMu.Unlock()
		return nil, rrerrors.E(op, err)
	}
	if err := proc.Encoder.Encode(raw); err != nil {
		inst.pendMu.Lock()
		delete(inst.pending, id)
		inst.pendMu.Unlock()
		return nil, rrerrors.E(op, err)
	}

	select {
	case resp := <-call.ch:
		return resp, nil
	case <-ctx.Done():
		inst.pendMu.Lock()
		delete(inst.pending, id)
		inst.pendMu.Unlock()
		return nil, rrerrors.E(op, ctx.Err())
	}
}

// BeginExecute registers an in-flight execute request and sends its
// initiating message, returning immediately. Streaming and terminal
// notifications are delivered to onStream/onTerm from the reader
// goroutine as they arrive. Use for "execute", which gets no synchronous
// Response at all; use SendInput for "input", which gets both.
func (inst *Instance) BeginExecute(id int64, msg *jsonrpc.Message, onStream StreamFunc, onTerm TerminalFunc) error {
	const op = rrerrors.Op("engine_instance_begin_execute")

	proc := inst.process()
	if proc == nil {
		return rrerrors.E(op, rrerrors.Str("instance has no running process"))
	}

	inst.reqMu.Lock()
	inst.requests[id] = &inFlightRequest{onStream: onStream, onTerm: onTerm}
	inst.reqMu.Unlock()

	raw, err := jsonrpc.Encode(msg)
	if err != nil {
		inst.reqMu.Lock()
		delete(inst.requests, id)
		inst.reqMu.Unlock()
		return rrerrors.E(op, err)
	}
	return proc.Encoder.Encode(raw)
}

// SendInput sends an "input" request and waits, until ctx is done, for its
// synchronous ack Response, while also registering onStream/onTerm for
// the terminal notification that follows independently (input is the
// one method with both a Response and a terminal notification). The ack
// wait is registered before the frame is written,
// so a same-tick reply can never race past it.
func (inst *Instance) SendInput(ctx context.Context, id int64, msg *jsonrpc.Message, onStream StreamFunc, onTerm TerminalFunc) (*jsonrpc.Message, error) {
	const op = rrerrors.Op("engine_instance_send_input")

	proc := inst.process()
	if proc == nil {
		return nil, rrerrors.E(op, rrerrors.Str("instance has no running process"))
	}

	ack := &pendingCall{ch: make(chan *jsonrpc.Message, 1)}
	inst.pendMu.Lock()
	inst.pending[id] = ack
	inst.pendMu.Unlock()

	inst.reqMu.Lock()
	inst.requests[id] = &inFlightRequest{onStream: onStream, onTerm: onTerm}
	inst.reqMu.Unlock()

	raw, err := jsonrpc.Encode(msg)
	if err != nil {
		inst.cancelPending(id)
		return nil, rrerrors.E(op, err)
	}
	if err := proc.Encoder.Encode(raw); err != nil {
		inst.cancelPending(id)
		return nil, rrerrors.E(op, err)
	}

	select {
	case resp := <-ack.ch:
		return resp, nil
	case <-ctx.Done():
		inst.pendMu.Lock()
		delete(inst.pending, id)
		inst.pendMu.Unlock()
		return nil, rrerrors.E(op, ctx.Err())
	}
}

func (inst *Instance) cancelPending(id int64) {
	inst.pendMu.Lock()
	delete(inst.pending, id)
	inst.pendMu.Unlock()
	inst.reqMu.Lock()
	delete(inst.requests, id)
	inst.reqMu.Unlock()
}

// Shutdown tears the instance down via its supervisor's two-stage
// shutdown and marks it terminated. It does not wait for the reader loop
// to observe the closed stream.
func (inst *Instance) Shutdown(ctx context.Context, graceful, forced time.Duration) error {
	proc := inst.process()
	if proc == nil {
		return nil
	}
	err := proc.Shutdown(ctx, graceful, forced)
	inst.setState(StateTerminated)
	return err
}

// Kill force-terminates the process immediately, used by the Watchdog on
// a terminal ping timeout.
func (inst *Instance) Kill() error {
	proc := inst.process()
	if proc == nil {
		return nil
	}
	err := proc.Kill()
	inst.setState(StateTerminated)
	return err
}

// Exited exposes the underlying process's exit signal, or a closed
// channel if the instance never started.
func (inst *Instance) Exited() <-chan struct{} {
	proc := inst.process()
	if proc == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return proc.Exited()
}
