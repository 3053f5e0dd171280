package api

import (
	"net/http"
	"slices"
)

// CORSMiddleware adds CORS headers for the configured origins and answers
// preflight requests.
func CORSMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && slices.Contains(allowedOrigins, origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Set("Access-Control-Max-Age", "3600")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// originAllowed reports whether a websocket handshake from origin may
// proceed. Requests without an Origin header come from non-browser clients
// and are accepted only when allowMissing is set.
func originAllowed(allowedOrigins []string, origin string, allowMissing bool) bool {
	if origin == "" {
		return allowMissing
	}
	return slices.Contains(allowedOrigins, origin)
}
