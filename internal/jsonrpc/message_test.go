package jsonrpc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyRequestResponseNotification(t *testing.T) {
	req, err := NewRequest(7, MethodExecute, ExecuteParams{Function: "say_hello"})
	require.NoError(t, err)
	assert.Equal(t, KindRequest, req.Classify())

	resp, err := NewResult(7, InputAck{Acknowledged: true})
	require.NoError(t, err)
	assert.Equal(t, KindResponse, resp.Classify())

	errResp := NewErrorResponse(7, NewRPCError(CodeMethodNotFound, "unknown method"))
	assert.Equal(t, KindResponse, errResp.Classify())

	note, err := NewNotification(MethodStream, StreamParams{RequestID: 7, Data: "1"})
	require.NoError(t, err)
	assert.Equal(t, KindNotification, note.Classify())

	assert.Equal(t, KindInvalid, (&Message{}).Classify())
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	req, err := NewRequest(11, MethodPing, PingParams{Timestamp: 1234})
	require.NoError(t, err)

	raw, err := Encode(req)
	require.NoError(t, err)

	decoded, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, Version, decoded.JSONRPC)
	assert.Equal(t, MethodPing, decoded.Method)
	require.NotNil(t, decoded.ID)
	assert.EqualValues(t, 11, *decoded.ID)

	var params PingParams
	require.NoError(t, UnmarshalParams(decoded.Params, &params))
	assert.EqualValues(t, 1234, params.Timestamp)
}

func TestPingResponseEchoesTimestamp(t *testing.T) {
	resp, err := NewResult(3, PingResult{Timestamp: 555})
	require.NoError(t, err)

	var result PingResult
	require.NoError(t, UnmarshalParams(resp.Result, &result))
	assert.EqualValues(t, 555, result.Timestamp)
}

func TestRPCErrorMessage(t *testing.T) {
	e := NewRPCError(CodeTimeout, "the plugin did not respond")
	assert.Contains(t, e.Error(), "the plugin did not respond")
	assert.Equal(t, CodeTimeout, e.Code)
}
