package jsonrpc

import (
	"encoding/json"
	"fmt"

	rrerrors "github.com/roadrunner-server/errors"
)

// Code is a JSON-RPC (or protocol-specific) wire error code.
type Code int

const (
	CodeParseError     Code = -32700
	CodeInvalidRequest Code = -32600
	CodeMethodNotFound Code = -32601
	CodeInvalidParams  Code = -32602
	CodeInternalError  Code = -32603

	// Protocol-specific, not part of the base JSON-RPC 2.0 spec.
	CodePluginError  Code = -1
	CodeTimeout      Code = -2
	CodeRateLimited  Code = -3
)

// RPCError is the wire-level error object carried by a Response or an
// "error" notification.
type RPCError struct {
	Code    Code            `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// NewRPCError builds an RPCError with no extra data.
func NewRPCError(code Code, message string) *RPCError {
	return &RPCError{Code: code, Message: message}
}

// Wrap annotates err with a roadrunner-server/errors operation tag for
// Go-level diagnostics. It never changes the wire-level Code carried
// back to the plugin/engine peer; it is used for internal logs and
// returned Go errors only.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return rrerrors.E(rrerrors.Op(op), err)
}
