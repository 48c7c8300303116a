package tui

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/haskel/branchsim/internal/server"
	"github.com/haskel/branchsim/internal/worker"
)

func statusServer(t *testing.T, status server.StatusResponse) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/status" {
			http.NotFound(w, r)
			return
		}
		if user, pass, ok := r.BasicAuth(); ok && (user != "admin" || pass != "secret") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(status)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func sampleStatus() server.StatusResponse {
	return server.StatusResponse{
		Version:   "0.1.0",
		Uptime:    "1m0s",
		Listening: []string{"127.0.0.1:9050"},
		Workers:   4,
		Connections: []worker.Info{
			{Client: "alice", Remote: "10.0.0.2:5000", SessionID: 3, Busy: 2, Workers: 4, Executed: 17, Since: time.Now()},
			{Client: "bob", Remote: "10.0.0.3:5000", SessionID: 1, Workers: 4},
		},
	}
}

func TestFetchStatus(t *testing.T) {
	srv := statusServer(t, sampleStatus())

	msg := fetchStatus(NewModel(DashboardConfig{ServerURL: srv.URL}).client)()
	sm, ok := msg.(statusMsg)
	if !ok {
		t.Fatalf("expected statusMsg, got %T", msg)
	}
	if sm.err != nil {
		t.Fatalf("unexpected error: %v", sm.err)
	}
	if len(sm.data.Connections) != 2 {
		t.Errorf("expected 2 connections, got %d", len(sm.data.Connections))
	}
	if sm.data.Connections[0].Client != "alice" {
		t.Errorf("expected client alice, got %q", sm.data.Connections[0].Client)
	}
}

func TestFetchStatus_Unauthorized(t *testing.T) {
	srv := statusServer(t, sampleStatus())

	m := NewModel(DashboardConfig{ServerURL: srv.URL, User: "admin", Password: "wrong"})
	sm := fetchStatus(m.client)().(statusMsg)
	if sm.err == nil {
		t.Fatal("expected error for bad credentials")
	}
	if !strings.Contains(sm.err.Error(), "401") {
		t.Errorf("expected status code in error, got %v", sm.err)
	}
}

func TestNewModel_DefaultRefresh(t *testing.T) {
	m := NewModel(DashboardConfig{ServerURL: "http://localhost:9060"})
	if m.config.RefreshInterval != time.Second {
		t.Errorf("expected 1s refresh, got %v", m.config.RefreshInterval)
	}
	if !m.loading {
		t.Error("expected model to start loading")
	}
}

func TestModel_StatusUpdate(t *testing.T) {
	m := NewModel(DashboardConfig{ServerURL: "http://localhost:9060"})
	status := sampleStatus()

	updated, _ := m.Update(statusMsg{data: &status})
	m = updated.(Model)
	if m.loading {
		t.Error("expected loading to be cleared")
	}
	if m.status == nil || m.status.Workers != 4 {
		t.Fatalf("status not stored: %+v", m.status)
	}

	updated, _ = m.Update(statusMsg{err: errors.New("connection refused")})
	m = updated.(Model)
	if m.err == nil {
		t.Error("expected error to be stored")
	}
	if m.status == nil {
		t.Error("expected last status to be kept after an error")
	}
}

func TestModel_Scroll(t *testing.T) {
	m := NewModel(DashboardConfig{})
	status := sampleStatus()
	updated, _ := m.Update(statusMsg{data: &status})
	m = updated.(Model)

	down := tea.KeyMsg{Type: tea.KeyDown}
	for range 5 {
		updated, _ = m.Update(down)
		m = updated.(Model)
	}
	if m.tableOffset != 1 {
		t.Errorf("expected offset clamped to 1, got %d", m.tableOffset)
	}

	updated, _ = m.Update(tea.KeyMsg{Type: tea.KeyUp})
	m = updated.(Model)
	if m.tableOffset != 0 {
		t.Errorf("expected offset 0, got %d", m.tableOffset)
	}
}

func TestModel_Quit(t *testing.T) {
	m := NewModel(DashboardConfig{})
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected tea.QuitMsg")
	}
}

func TestModel_View(t *testing.T) {
	m := NewModel(DashboardConfig{})
	if m.View() != "Loading..." {
		t.Errorf("expected loading view before size is known")
	}

	status := sampleStatus()
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 140, Height: 40})
	updated, _ = updated.Update(statusMsg{data: &status})
	view := updated.View()

	for _, want := range []string{"BRANCHSIM NODE", "Connections (2)", "alice", "bob", "127.0.0.1:9050"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestModel_ViewNoConnections(t *testing.T) {
	status := sampleStatus()
	status.Connections = nil

	m := NewModel(DashboardConfig{})
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	updated, _ = updated.Update(statusMsg{data: &status})

	if !strings.Contains(updated.View(), "no clients connected") {
		t.Error("expected empty connections notice")
	}
}
