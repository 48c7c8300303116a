package middleware

import "net/http"

// Headers sets the response headers shared by every status endpoint
// response. Status data is live, so nothing may be cached.
func Headers(version string) Middleware {
	server := "branchsim"
	if version != "" {
		server += "/" + version
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("Server", server)
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Cache-Control", "no-store")
			next.ServeHTTP(w, r)
		})
	}
}
