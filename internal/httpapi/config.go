package httpapi

import "time"

// maxBodyBytes controls the maximum allowed request body size for JSON endpoints.
var maxBodyBytes int64 = 1 << 20

// SetMaxBodyBytes allows configuring the maximum request body size.
func SetMaxBodyBytes(n int64) {
	if n <= 0 {
		maxBodyBytes = 1 << 20
		return
	}
	maxBodyBytes = n
}

// requestTimeout bounds how long a /chat caller waits for its reply.
// Zero means no additional timeout beyond server/connection timeouts.
var requestTimeout time.Duration

// SetRequestTimeout sets the /chat timeout (0 disables).
func SetRequestTimeout(d time.Duration) {
	if d < 0 {
		d = 0
	}
	requestTimeout = d
}

// corsAllowedOrigins defaults to any origin.
var corsAllowedOrigins = []string{"*"}

// SetCORSOrigins replaces the allowed CORS origins. Empty means any origin.
func SetCORSOrigins(origins []string) {
	if len(origins) == 0 {
		corsAllowedOrigins = []string{"*"}
		return
	}
	corsAllowedOrigins = append([]string(nil), origins...)
}
