// © Copyright 2025-2026, The hello-rpc Authors
// SPDX-License-Identifier: Apache-2.0

package arrowrpc

import "log/slog"

// LogLevel represents the severity of a client-directed log message.
type LogLevel string

const (
	// LogException is reserved for the error batch that terminates a call.
	LogException LogLevel = "EXCEPTION"
	LogError     LogLevel = "ERROR"
	LogWarn      LogLevel = "WARN"
	LogInfo      LogLevel = "INFO"
	LogDebug     LogLevel = "DEBUG"
	// LogTrace is the least severe level and the default when a request
	// does not name one.
	LogTrace LogLevel = "TRACE"
)

// priority returns a numeric priority for the level (lower = more severe).
func (l LogLevel) priority() int {
	switch l {
	case LogException:
		return 0
	case LogError:
		return 1
	case LogWarn:
		return 2
	case LogInfo:
		return 3
	case LogDebug:
		return 4
	case LogTrace:
		return 5
	default:
		return 6
	}
}

// slogLevel maps a protocol level onto the closest slog level.
func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case LogException, LogError:
		return slog.LevelError
	case LogWarn:
		return slog.LevelWarn
	case LogInfo:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

// KV is a key-value pair for structured log extras.
type KV struct {
	Key   string
	Value string
}

// LogMessage is a client-directed log message.
type LogMessage struct {
	Level   LogLevel
	Message string
	Extras  map[string]string
}
