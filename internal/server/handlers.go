package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/haskel/branchsim/internal/monitor"
	"github.com/haskel/branchsim/internal/worker"
)

type InfoResponse struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

type ReadyResponse struct {
	Ready     bool     `json:"ready"`
	Listening []string `json:"listening"`
}

// StatusResponse is the full state of a worker node.
type StatusResponse struct {
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
	// Listening holds the addresses clients connect to.
	Listening []string `json:"listening"`
	// Workers is the worker pool size granted to each connection.
	Workers     int              `json:"workers"`
	Connections []worker.Info    `json:"connections"`
	Host        monitor.Snapshot `json:"host"`
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	s.writeJSON(w, http.StatusOK, InfoResponse{
		Name:    "branchsim",
		Version: s.version,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	addrs := s.node.Addrs()
	resp := ReadyResponse{
		Ready:     len(addrs) > 0,
		Listening: addrs,
	}

	if !resp.Ready {
		s.writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	workers := s.config.Server.Workers
	if workers <= 0 {
		workers = monitor.Parallelism()
	}

	s.writeJSON(w, http.StatusOK, StatusResponse{
		Version:     s.version,
		Uptime:      time.Since(s.started).Truncate(time.Second).String(),
		Listening:   s.node.Addrs(),
		Workers:     workers,
		Connections: s.connections(),
		Host:        s.aggregator.Snapshot(),
	})
}

func (s *Server) handleConnections(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.connections())
}

// connections never returns nil so that JSON clients always see an array.
func (s *Server) connections() []worker.Info {
	infos := s.node.Connections()
	if infos == nil {
		infos = []worker.Info{}
	}
	return infos
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode JSON response",
			"error", err,
			"status", status,
		)
	}
}
