package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts. The request timeout must leave room for the pairing
// connect timeout plus overhead, since /pair blocks until the code arrives.
const (
	ServerRequestTimeout  = 90 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Timeout for a single cleanup sweep
const CleanupSweepTimeout = 30 * time.Second
