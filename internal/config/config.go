// © Copyright 2025-2026, The hello-rpc Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"strconv"
)

// ServerConfig holds settings for the serving side.
type ServerConfig struct {
	ServerID         string
	UnixSocket       string
	HTTPAddr         string
	CompressionLevel int
	MaxRequestBytes  int
	DebugErrors      bool
	Metrics          bool
	OtelStdout       bool
}

// ClientConfig holds settings for the calling side.
type ClientConfig struct {
	URL        string
	UnixSocket string
	LogLevel   string
}

// AppConfig is populated from HELLO_RPC_* environment variables. Command-line
// flags take precedence over it.
type AppConfig struct {
	LogLevel  string
	LogFormat string
	Server    ServerConfig
	Client    ClientConfig
}

// Load reads configuration from environment variables.
// A .env file is auto-loaded by the binary through
// _ "github.com/joho/godotenv/autoload"; real environment variables win.
func Load() *AppConfig {
	return &AppConfig{
		LogLevel:  getEnv("HELLO_RPC_LOG_LEVEL", "info"),
		LogFormat: getEnv("HELLO_RPC_LOG_FORMAT", "text"),
		Server: ServerConfig{
			ServerID:         getEnv("HELLO_RPC_SERVER_ID", ""),
			UnixSocket:       getEnv("HELLO_RPC_UNIX_SOCKET", ""),
			HTTPAddr:         getEnv("HELLO_RPC_HTTP_ADDR", ""),
			CompressionLevel: getEnvInt("HELLO_RPC_COMPRESSION_LEVEL", 3),
			MaxRequestBytes:  getEnvInt("HELLO_RPC_MAX_REQUEST_BYTES", 64<<20),
			DebugErrors:      getEnvBool("HELLO_RPC_DEBUG_ERRORS", false),
			Metrics:          getEnvBool("HELLO_RPC_METRICS", false),
			OtelStdout:       getEnvBool("HELLO_RPC_OTEL_STDOUT", false),
		},
		Client: ClientConfig{
			URL:        getEnv("HELLO_RPC_URL", ""),
			UnixSocket: getEnv("HELLO_RPC_CLIENT_UNIX_SOCKET", ""),
			LogLevel:   getEnv("HELLO_RPC_CLIENT_LOG_LEVEL", "INFO"),
		},
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}
