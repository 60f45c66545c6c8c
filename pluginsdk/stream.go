package pluginsdk

import "github.com/gassist/plugin-engine/internal/jsonrpc"

// Context is handed to a Handler for the duration of one "execute" or
// "input" call. It is a capability scoped to the invocation: it lets a
// handler stream chunks, flag passthrough, and log, but does not outlive
// the call, so it never creates a cycle back to the engine.
type Context struct {
	plugin      *Plugin
	requestID   int64
	keep        bool
	history     []jsonrpc.HistoryMessage
	systemInfo  string
}

// RequestID returns the id of the in-flight execute/input call.
func (c *Context) RequestID() int64 { return c.requestID }

// Stream emits one chunk of streaming output, tagged with the current
// request id. Valid only while this Context's call is in flight; calling
// it after the handler has returned is a programming error in the plugin
// and is a no-op here (the SDK has already cleared the in-flight state by
// then).
func (c *Context) Stream(chunk string) error {
	if id, ok := c.plugin.currentRequestID(); !ok || id != c.requestID {
		return nil
	}
	note, err := jsonrpc.NewNotification(jsonrpc.MethodStream, jsonrpc.StreamParams{
		RequestID: c.requestID,
		Data:      chunk,
	})
	if err != nil {
		return err
	}
	return c.plugin.send(note)
}

// SetKeepSession flags whether the next terminal notification for this
// request should carry keep_session = true, granting this plugin
// passthrough ownership of the session. Absent a call, it defaults to
// false.
func (c *Context) SetKeepSession(keep bool) {
	c.keep = keep
	c.plugin.setKeepSession(c.requestID, keep)
}

func (c *Context) keepSession() bool { return c.keep }

// SystemInfo returns the optional system_info string an "execute" call
// carried.
func (c *Context) SystemInfo() string { return c.systemInfo }

// History returns the optional conversation context an "execute" call
// carried.
func (c *Context) History() []jsonrpc.HistoryMessage { return c.history }

// Log emits a "log" notification at the given level, independent of
// whether a request is currently in flight.
func (c *Context) Log(level, message string) error {
	return c.plugin.Log(level, message)
}
