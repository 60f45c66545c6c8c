package pluginsdk

import "github.com/gassist/plugin-engine/internal/jsonrpc"

// Log emits a "log" notification at the given level (one of
// jsonrpc.LogDebug/LogInfo/LogWarning/LogError), independent of any
// in-flight request.
func (p *Plugin) Log(level, message string) error {
	note, err := jsonrpc.NewNotification(jsonrpc.MethodLog, jsonrpc.LogParams{
		Level:   level,
		Message: message,
	})
	if err != nil {
		return err
	}
	return p.send(note)
}
