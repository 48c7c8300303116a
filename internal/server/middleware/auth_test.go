package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

var testAuth = AuthConfig{
	Enabled:  true,
	User:     "admin",
	Password: "secret",
}

func TestAuth_Disabled(t *testing.T) {
	handler := Auth(AuthConfig{Enabled: false})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
}

func TestAuth_Credentials(t *testing.T) {
	tests := []struct {
		name     string
		user     string
		password string
		setAuth  bool
		want     int
	}{
		{"valid", "admin", "secret", true, http.StatusOK},
		{"wrong password", "admin", "wrong", true, http.StatusUnauthorized},
		{"wrong user", "wronguser", "secret", true, http.StatusUnauthorized},
		{"missing", "", "", false, http.StatusUnauthorized},
	}

	handler := Auth(testAuth)(okHandler())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/status", nil)
			if tt.setAuth {
				req.SetBasicAuth(tt.user, tt.password)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Errorf("expected status %d, got %d", tt.want, w.Code)
			}
			if tt.want == http.StatusUnauthorized {
				if got := w.Header().Get("WWW-Authenticate"); got != `Basic realm="branchsim"` {
					t.Errorf("WWW-Authenticate = %q", got)
				}
			}
		})
	}
}

func TestAuth_PublicPaths(t *testing.T) {
	handler := Auth(testAuth, "/health", "/public/*")(okHandler())

	tests := []struct {
		path string
		want int
	}{
		{"/health", http.StatusOK},
		{"/public/", http.StatusOK},
		{"/public/info", http.StatusOK},
		{"/status", http.StatusUnauthorized},
		{"/healthz", http.StatusUnauthorized},
		{"/metrics", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Errorf("%s: expected status %d, got %d", tt.path, tt.want, w.Code)
			}
		})
	}
}
