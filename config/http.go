package config

import (
	"strings"
	"time"
)

// HTTPConfig contains configuration of the local guard server.
type HTTPConfig struct {
	// Addr is the address to bind the HTTP server to.
	Addr string `env:"HTTP_ADDR" envDefault:"127.0.0.1:8080"`

	// AppPrefix mounts the permission-gated pages.
	AppPrefix string `env:"HTTP_APP_PREFIX" envDefault:"/app"`

	// ReadHeaderTimeout bounds how long a client may take to send headers.
	ReadHeaderTimeout time.Duration `env:"HTTP_READ_HEADER_TIMEOUT" envDefault:"5s"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Sanitize applies guardrails to HTTP configuration values.
func (h *HTTPConfig) Sanitize() {
	if h.Addr == "" {
		h.Addr = "127.0.0.1:8080"
	}
	h.AppPrefix = "/" + strings.Trim(strings.TrimSpace(h.AppPrefix), "/")
	if h.AppPrefix == "/" {
		h.AppPrefix = "/app"
	}
	if h.ReadHeaderTimeout <= 0 {
		h.ReadHeaderTimeout = 5 * time.Second
	}
	if h.ShutdownTimeout <= 0 {
		h.ShutdownTimeout = 10 * time.Second
	}
}
