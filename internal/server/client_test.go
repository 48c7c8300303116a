package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/haskel/branchsim/internal/config"
)

func TestClient_Status(t *testing.T) {
	srv := testServer(t, &fakeNode{addrs: []string{"127.0.0.1:9050"}})
	ts := httptest.NewServer(srv.httpServer.Handler)
	defer ts.Close()

	client := NewClient(ts.URL+"/", "", "", time.Second)
	status, err := client.Status(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status.Version != "0.1.0-test" {
		t.Errorf("expected version 0.1.0-test, got %q", status.Version)
	}
	if status.Workers != 4 {
		t.Errorf("expected 4 workers, got %d", status.Workers)
	}
	if status.Connections == nil {
		t.Error("expected non-nil connections")
	}
}

func TestClient_StatusError(t *testing.T) {
	cfg := config.Default()
	cfg.Auth.Enabled = true
	cfg.Auth.User = "admin"
	cfg.Auth.Password = "secret"
	srv := New(cfg, &fakeNode{}, testAggregator(t), testLogger(), "0.1.0-test")
	ts := httptest.NewServer(srv.httpServer.Handler)
	defer ts.Close()

	_, err := NewClient(ts.URL, "admin", "wrong", time.Second).Status(context.Background())

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected *StatusError, got %v", err)
	}
	if statusErr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", statusErr.Code)
	}

	if _, err := NewClient(ts.URL, "admin", "secret", time.Second).Status(context.Background()); err != nil {
		t.Errorf("expected valid credentials to pass, got %v", err)
	}
}

func TestClient_Raw(t *testing.T) {
	srv := testServer(t, &fakeNode{})
	ts := httptest.NewServer(srv.httpServer.Handler)
	defer ts.Close()

	data, err := NewClient(ts.URL, "", "", time.Second).Raw(context.Background(), "/health")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(data) == 0 {
		t.Error("expected a body")
	}

	_, err = NewClient(ts.URL, "", "", time.Second).Raw(context.Background(), "/missing")
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != http.StatusNotFound {
		t.Errorf("expected 404 StatusError, got %v", err)
	}
}
