package engine

import (
	"context"
	"time"

	rrerrors "github.com/roadrunner-server/errors"
	"go.uber.org/zap"

	"github.com/gassist/plugin-engine/internal/jsonrpc"
)

// Handle is returned by Dispatch. It completes when the request's
// complete/error notification arrives, the soft deadline elapses, or ctx
// is cancelled.
type Handle struct {
	RequestID int64
	Done      <-chan Result
}

// Result is the terminal outcome of a dispatched execute/input call.
type Result struct {
	Success     bool
	KeepSession bool
	Data        any
	Err         *jsonrpc.ErrorParams
}

// Dispatch routes one incoming user turn: if the session controller
// reports an owner, the turn becomes an "input" call against that
// plugin; otherwise function is resolved through the catalogue and the
// turn becomes an "execute" call. onStream is invoked for every stream
// chunk in arrival order until the terminal result.
func (e *Engine) Dispatch(ctx context.Context, function string, args map[string]any, turnText string, onStream StreamFunc) (*Handle, error) {
	const op = rrerrors.Op("engine_dispatch")

	if owner, ok := e.sessions.Owner(); ok {
		inst := e.instance(owner)
		if inst == nil {
			return nil, rrerrors.E(op, rrerrors.Str("session owner has no running instance"))
		}
		return e.dispatchInput(ctx, inst, turnText, onStream)
	}

	ref, ok := e.Catalogue().Resolve(function)
	if !ok {
		return nil, rrerrors.E(op, jsonrpc.NewRPCError(jsonrpc.CodeMethodNotFound, "unknown function: "+function))
	}
	inst := e.instance(ref.Plugin)
	if inst == nil {
		return nil, rrerrors.E(op, rrerrors.Str("resolved plugin has no running instance"))
	}
	if inst.State() != StateRunning {
		// On-demand plugin (persistent = false), or a persistent plugin the
		// Watchdog previously terminated: spawn fresh for this call.
		if err := e.startInstance(e.ctx, inst); err != nil {
			return nil, rrerrors.E(op, err)
		}
	}
	return e.dispatchExecute(ctx, inst, function, args, onStream)
}

func (e *Engine) dispatchExecute(ctx context.Context, inst *Instance, function string, args map[string]any, onStream StreamFunc) (*Handle, error) {
	const op = rrerrors.Op("engine_dispatch_execute")

	id := inst.NextID()
	done := make(chan Result, 1)
	fired := make(chan struct{})

	onTerm := func(_ int64, success, keepSession bool, data any, errInfo *jsonrpc.ErrorParams) {
		e.onTerminal(inst, success, keepSession, errInfo)
		done <- Result{Success: success, KeepSession: keepSession, Data: data, Err: errInfo}
		close(fired)
	}

	req, err := jsonrpc.NewRequest(id, jsonrpc.MethodExecute, jsonrpc.ExecuteParams{Function: function, Arguments: args})
	if err != nil {
		return nil, rrerrors.E(op, err)
	}
	if err := inst.BeginExecute(id, req, onStream, onTerm); err != nil {
		return nil, rrerrors.E(op, err)
	}

	e.watchDeadline(ctx, inst, id, e.cfg.ExecTimeout, fired)
	return &Handle{RequestID: id, Done: done}, nil
}

func (e *Engine) dispatchInput(ctx context.Context, inst *Instance, content string, onStream StreamFunc) (*Handle, error) {
	const op = rrerrors.Op("engine_dispatch_input")

	id := inst.NextID()
	done := make(chan Result, 1)
	fired := make(chan struct{})

	onTerm := func(_ int64, success, keepSession bool, data any, errInfo *jsonrpc.ErrorParams) {
		e.onTerminal(inst, success, keepSession, errInfo)
		done <- Result{Success: success, KeepSession: keepSession, Data: data, Err: errInfo}
		close(fired)
	}

	req, err := jsonrpc.NewRequest(id, jsonrpc.MethodInput, jsonrpc.InputParams{Content: content})
	if err != nil {
		return nil, rrerrors.E(op, err)
	}

	ackCtx, cancel := context.WithTimeout(ctx, e.cfg.InputAckTimeout)
	defer cancel()
	if _, err := inst.SendInput(ackCtx, id, req, onStream, onTerm); err != nil {
		return nil, rrerrors.E(op, err)
	}

	e.watchDeadline(ctx, inst, id, e.cfg.ExecTimeout, fired)
	return &Handle{RequestID: id, Done: done}, nil
}

// onTerminal applies the session-controller transitions once a request's
// outcome is known.
func (e *Engine) onTerminal(inst *Instance, success, keepSession bool, errInfo *jsonrpc.ErrorParams) {
	e.metrics.RecordDispatch(success)
	if !success {
		e.sessions.Release(inst.Name())
		return
	}
	if keepSession {
		e.sessions.Acquire(inst.Name(), e.cfg.SessionTimeout)
	} else {
		e.sessions.Release(inst.Name())
	}
}

// watchDeadline enforces T_exec: if no terminal result has arrived by
// deadline or ctx is cancelled first, the plugin process is killed (the
// same path the watchdog uses on a missed-pong timeout) and a -2 timeout
// is synthesised for the caller. fired is closed (never sent on) by the
// terminal callback, so this goroutine never competes with the caller for
// the one buffered Result the caller reads from Handle.Done.
func (e *Engine) watchDeadline(ctx context.Context, inst *Instance, id int64, deadline time.Duration, fired <-chan struct{}) {
	go func() {
		timer := time.NewTimer(deadline)
		defer timer.Stop()
		select {
		case <-fired:
			return
		case <-ctx.Done():
		case <-timer.C:
		}
		// A timeout or cancellation past this point races the reader
		// goroutine's own terminal delivery; finishRequest's terminal
		// flag guarantees at most one delivery either way.
		e.log.Warn("execute deadline exceeded, killing plugin", zap.String("plugin", inst.Name()))
		_ = inst.Kill()
		e.metrics.SetPluginState(inst.Name(), false)
		inst.finishRequest(id, false, false, nil, &jsonrpc.ErrorParams{
			RequestID: id,
			Code:      jsonrpc.CodeTimeout,
			Message:   "execute deadline exceeded",
		})
	}()
}
