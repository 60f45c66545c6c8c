package engine

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/gassist/plugin-engine/internal/jsonrpc"
	"github.com/gassist/plugin-engine/internal/manifest"
)

func newTestInstance() *Instance {
	return NewInstance(&manifest.Manifest{Name: "test-plugin"}, true, zap.NewNop())
}

func TestFinishRequestDeliversExactlyOnce(t *testing.T) {
	inst := newTestInstance()

	var calls int32
	inst.reqMu.Lock()
	inst.requests[1] = &inFlightRequest{onTerm: func(id int64, success, keep bool, data any, errInfo *jsonrpc.ErrorParams) {
		atomic.AddInt32(&calls, 1)
	}}
	inst.reqMu.Unlock()

	inst.finishRequest(1, true, false, "ok", nil)
	inst.finishRequest(1, true, false, "ok-again", nil) // duplicate terminal, must be dropped

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestStreamAfterTerminalIsDropped(t *testing.T) {
	inst := newTestInstance()

	var streamed []string
	req := &inFlightRequest{
		onStream: func(id int64, chunk string) { streamed = append(streamed, chunk) },
		onTerm:   func(id int64, success, keep bool, data any, errInfo *jsonrpc.ErrorParams) {},
	}
	inst.reqMu.Lock()
	inst.requests[2] = req
	inst.reqMu.Unlock()

	msg := func(method string, params any) *jsonrpc.Message {
		note, err := jsonrpc.NewNotification(method, params)
		if err != nil {
			t.Fatal(err)
		}
		return note
	}

	inst.handleNotification(msg(jsonrpc.MethodStream, jsonrpc.StreamParams{RequestID: 2, Data: "chunk1"}))
	inst.finishRequest(2, true, false, "done", nil)
	inst.handleNotification(msg(jsonrpc.MethodStream, jsonrpc.StreamParams{RequestID: 2, Data: "late-chunk"}))

	assert.Equal(t, []string{"chunk1"}, streamed)
}

func TestTerminateAllInFlightSurfacesTimeoutForEveryPending(t *testing.T) {
	inst := newTestInstance()

	var errInfo *jsonrpc.ErrorParams
	inst.reqMu.Lock()
	inst.requests[3] = &inFlightRequest{onTerm: func(id int64, success, keep bool, data any, e *jsonrpc.ErrorParams) {
		errInfo = e
	}}
	inst.reqMu.Unlock()

	call := &pendingCall{ch: make(chan *jsonrpc.Message, 1)}
	inst.pendMu.Lock()
	inst.pending[4] = call
	inst.pendMu.Unlock()

	inst.terminateAllInFlight(jsonrpc.CodeTimeout, "stream ended")

	assert.NotNil(t, errInfo)
	assert.Equal(t, jsonrpc.CodeTimeout, errInfo.Code)

	resp := <-call.ch
	assert.NotNil(t, resp.Error)
	assert.Equal(t, jsonrpc.CodeTimeout, resp.Error.Code)
}

func TestDeliverResponseIgnoresUnknownID(t *testing.T) {
	inst := newTestInstance()
	id := int64(99)
	resp, err := jsonrpc.NewResult(id, "value")
	assert.NoError(t, err)
	// No pending call registered for id 99; must not panic or block.
	inst.deliverResponse(resp)
}
