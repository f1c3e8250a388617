package httpserver

import "time"

// Config carries the HTTP façade settings.
type Config struct {
	ListenAddr      string
	AllowedOrigins  []string
	JWTSigningKey   string
	ShutdownTimeout time.Duration
}
