package rpc

import (
	"net/http"

	"golang.org/x/time/rate"
)

// Config holds the configuration of a bitcoind style json rpc client.
type Config struct {
	// URL of the daemon. Multi wallet daemons use the /wallet/<name> path
	// Example: http://127.0.0.1:33873/wallet/gateway
	Url string
	// Custom headers to send
	CustomHeaders map[string]string
	// HTTP Client to use. Digest authentication is configured on its transport
	Client *http.Client
	// Basic authentication credentials (rpcuser/rpcpassword)
	Username string
	Password string
	// Optional limiter shared by every call
	Limiter *rate.Limiter
}
