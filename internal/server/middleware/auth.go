package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// AuthConfig holds the Basic Auth credentials of the status endpoint.
type AuthConfig struct {
	Enabled  bool
	User     string
	Password string
}

// Auth creates a Basic Auth middleware.
// Paths ending with "*" in publicPaths are matched as prefixes.
func Auth(cfg AuthConfig, publicPaths ...string) Middleware {
	if !cfg.Enabled {
		return passthrough
	}

	exact := make(map[string]bool)
	var prefixes []string
	for _, path := range publicPaths {
		if prefix, ok := strings.CutSuffix(path, "*"); ok {
			prefixes = append(prefixes, prefix)
		} else {
			exact[path] = true
		}
	}

	public := func(path string) bool {
		if exact[path] {
			return true
		}
		for _, prefix := range prefixes {
			if strings.HasPrefix(path, prefix) {
				return true
			}
		}
		return false
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if public(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			user, pass, ok := r.BasicAuth()
			if !ok {
				unauthorized(w)
				return
			}

			// both comparisons always run
			userMatch := subtle.ConstantTimeCompare([]byte(user), []byte(cfg.User)) == 1
			passMatch := subtle.ConstantTimeCompare([]byte(pass), []byte(cfg.Password)) == 1
			if !userMatch || !passMatch {
				unauthorized(w)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="branchsim"`)
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
}
