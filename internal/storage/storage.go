package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrUnknownRemote = errors.New("unknown remote")
	ErrUnknownRun    = errors.New("unknown run")
)

// Data is the persisted client state.
type Data struct {
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
	Remotes   []string  `json:"remotes"`
	Runs      []Run     `json:"runs"`
}

// Run records the outcome of one simulation run.
type Run struct {
	ID            string           `json:"id"`
	SessionID     uint32           `json:"session_id"`
	StartedAt     time.Time        `json:"started_at"`
	FinishedAt    time.Time        `json:"finished_at"`
	Predictors    int              `json:"predictors"`
	Benchmarks    int              `json:"benchmarks"`
	Tasks         int              `json:"tasks"`
	ValuesEntered int              `json:"values_entered"`
	Failed        int              `json:"failed"`
	Completed     bool             `json:"completed"`
	Aborted       bool             `json:"aborted"`
	Means         []PredictorMeans `json:"means,omitempty"`
}

// PredictorMeans are the accuracy means of one predictor over a run.
type PredictorMeans struct {
	Predictor  string  `json:"predictor"`
	Arithmetic float64 `json:"arithmetic"`
	Geometric  float64 `json:"geometric"`
	Harmonic   float64 `json:"harmonic"`
	Count      int     `json:"count"`
}

const (
	currentVersion = 1
	dataFileName   = "branchsim_data.json"
	// MaxRuns bounds the run history; the oldest runs are dropped first.
	MaxRuns = 100
)

// Storage persists the remote list and the run history in a JSON file in
// the data directory.
type Storage struct {
	dataDir string
	logger  *slog.Logger

	mu    sync.RWMutex
	data  *Data
	dirty bool
}

func New(dataDir string, logger *slog.Logger) *Storage {
	return &Storage{
		dataDir: dataDir,
		logger:  logger,
		data:    newEmptyData(),
	}
}

func newEmptyData() *Data {
	return &Data{
		Version:   currentVersion,
		UpdatedAt: time.Now(),
	}
}

func (s *Storage) path() string {
	return filepath.Join(s.dataDir, dataFileName)
}

// Load reads the data file. A missing or unreadable file starts fresh.
func (s *Storage) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	filePath := s.path()

	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Debug("no existing data file, starting fresh", "path", filePath)
			s.data = newEmptyData()
			return nil
		}
		return err
	}
	defer file.Close()

	var data Data
	if err := json.NewDecoder(file).Decode(&data); err != nil {
		s.logger.Warn("failed to decode data file, starting fresh", "error", err)
		s.data = newEmptyData()
		return nil
	}

	if data.Version > currentVersion {
		s.logger.Warn("data file version is newer than supported, starting fresh",
			"file_version", data.Version,
			"supported_version", currentVersion,
		)
		s.data = newEmptyData()
		return nil
	}

	s.data = &data
	s.dirty = false
	s.logger.Debug("loaded data from disk",
		"path", filePath,
		"remotes", len(data.Remotes),
		"runs", len(data.Runs),
	)

	return nil
}

// Save writes the data file through a temp file and rename.
func (s *Storage) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.saveLocked()
}

func (s *Storage) saveLocked() error {
	if err := os.MkdirAll(s.dataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	filePath := s.path()
	tempPath := filePath + ".tmp"

	s.data.UpdatedAt = time.Now()

	file, err := os.Create(tempPath)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(s.data); err != nil {
		file.Close()
		os.Remove(tempPath)
		return err
	}

	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return err
	}

	if err := os.Rename(tempPath, filePath); err != nil {
		os.Remove(tempPath)
		return err
	}

	s.dirty = false
	s.logger.Debug("saved data to disk", "path", filePath)

	return nil
}

// AddRemote stores addr and reports whether it was new.
func (s *Storage) AddRemote(addr string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if slices.Contains(s.data.Remotes, addr) {
		return false
	}
	s.data.Remotes = append(s.data.Remotes, addr)
	s.dirty = true
	return true
}

func (s *Storage) RemoveRemote(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := slices.Index(s.data.Remotes, addr)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownRemote, addr)
	}
	s.data.Remotes = slices.Delete(s.data.Remotes, i, i+1)
	s.dirty = true
	return nil
}

func (s *Storage) Remotes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.data.Remotes)
}

// AddRun appends run to the history, assigning an ID when it has none.
func (s *Storage) AddRun(run Run) Run {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	s.data.Runs = append(s.data.Runs, run)
	if excess := len(s.data.Runs) - MaxRuns; excess > 0 {
		s.data.Runs = slices.Delete(s.data.Runs, 0, excess)
	}
	s.dirty = true
	return run
}

// Runs returns the history, oldest first.
func (s *Storage) Runs() []Run {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.data.Runs)
}

// Run looks up a run by ID or by a unique ID prefix.
func (s *Storage) Run(id string) (Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := uuid.Parse(id); err == nil {
		for _, r := range s.data.Runs {
			if r.ID == id {
				return r, nil
			}
		}
		return Run{}, fmt.Errorf("%w: %s", ErrUnknownRun, id)
	}

	var found []Run
	for _, r := range s.data.Runs {
		if len(id) > 0 && len(r.ID) >= len(id) && r.ID[:len(id)] == id {
			found = append(found, r)
		}
	}
	switch len(found) {
	case 1:
		return found[0], nil
	case 0:
		return Run{}, fmt.Errorf("%w: %s", ErrUnknownRun, id)
	default:
		return Run{}, fmt.Errorf("run id prefix %q is ambiguous", id)
	}
}

// IsDirty returns whether data has unsaved changes.
func (s *Storage) IsDirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dirty
}
