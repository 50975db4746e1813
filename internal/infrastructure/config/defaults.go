package config

import "time"

const (
	DefaultHTTPPort        = "8080"
	DefaultShutdownTimeout = 10 * time.Second
	DefaultRetentionSweep  = 24 * time.Hour
	DefaultPGMaxConns      = 5
	DefaultPGMinConns      = 1
)
