package middleware

import "sync"

// Public endpoints bypass authentication and rate limiting: health probes
// and the metrics scrape must stay reachable when keys rotate or the
// limiter trips. Registration happens during route setup, before serving.
var (
	publicMu        sync.RWMutex
	publicEndpoints = make(map[string]struct{})
)

// RegisterPublicEndpoint marks a path as exempt from auth and rate
// limiting.
func RegisterPublicEndpoint(path string) {
	publicMu.Lock()
	defer publicMu.Unlock()

	publicEndpoints[path] = struct{}{}
}

func isPublicEndpoint(path string) bool {
	publicMu.RLock()
	defer publicMu.RUnlock()

	_, ok := publicEndpoints[path]

	return ok
}
