// © Copyright 2025-2026, The hello-rpc Authors
// SPDX-License-Identifier: Apache-2.0

package arrowrpc

// CallContext provides request-scoped information and client logging to
// method handlers.
type CallContext struct {
	// RequestID is the client-supplied identifier for this request, echoed in
	// all response metadata.
	RequestID string
	// ServerID is the server identifier set via [Server.SetServerID].
	ServerID string
	// Service is the logical service name the method is registered under.
	Service string
	// Method is the name of the RPC method being invoked.
	Method string
	// LogLevel is the client-requested minimum log severity. Messages below
	// it are discarded by [CallContext.ClientLog].
	LogLevel LogLevel
	logs     []LogMessage
}

// ClientLog records a log message that is sent to the client ahead of the
// call's result.
func (c *CallContext) ClientLog(level LogLevel, msg string, extras ...KV) {
	if level.priority() > c.LogLevel.priority() {
		return
	}
	m := LogMessage{Level: level, Message: msg}
	if len(extras) > 0 {
		m.Extras = make(map[string]string, len(extras))
		for _, kv := range extras {
			m.Extras[kv.Key] = kv.Value
		}
	}
	c.logs = append(c.logs, m)
}

func (c *CallContext) drainLogs() []LogMessage {
	logs := c.logs
	c.logs = nil
	return logs
}
