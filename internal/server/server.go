// Package server exposes the extraction pipeline as an HTTP job API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/cwbudde/marchingcubes/internal/mc"
	"github.com/cwbudde/marchingcubes/internal/runner"
	"github.com/cwbudde/marchingcubes/internal/store"
	"github.com/dustin/go-humanize"
)

// Server represents the HTTP server
type Server struct {
	jobManager *JobManager
	store      store.Store
	defaults   JobConfig
	limits     Limits
	addr       string
	server     *http.Server

	// ctx parents every job so Shutdown can cancel them.
	ctx    context.Context
	cancel context.CancelFunc
}

// DefaultJobConfig holds the values a job request starts from.
func DefaultJobConfig() JobConfig {
	return JobConfig{GridLog2: [3]uint{5, 5, 5}, IsoValue: 0.2}
}

// DefaultMaxGridLog2 caps each grid axis of a job at 128 voxels.
const DefaultMaxGridLog2 = 7

// Limits bound what a job request may ask for.
type Limits struct {
	// VolumeDir is the only directory volume files are read from. When empty,
	// requests naming a volumePath are rejected.
	VolumeDir string
	// MaxGridLog2 caps every axis of gridLog2. Zero means DefaultMaxGridLog2.
	MaxGridLog2 uint
}

// NewServer creates a new HTTP server. runStore may be nil, in which case
// results are only kept in memory.
func NewServer(addr string, runStore store.Store) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		jobManager: NewJobManager(),
		store:      runStore,
		defaults:   DefaultJobConfig(),
		limits:     Limits{MaxGridLog2: DefaultMaxGridLog2},
		addr:       addr,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// SetDefaults replaces the values that fields missing from a job request take.
func (s *Server) SetDefaults(cfg JobConfig) {
	s.defaults = cfg
}

// SetLimits replaces the request limits.
func (s *Server) SetLimits(l Limits) {
	if l.MaxGridLog2 == 0 {
		l.MaxGridLog2 = DefaultMaxGridLog2
	}
	s.limits = l
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/jobs", s.handleJobs)
	mux.HandleFunc("/api/v1/jobs/", s.handleJobsWithID)
	mux.HandleFunc("/api/v1/runs", s.handleListRuns)
	return s.loggingMiddleware(s.corsMiddleware(mux))
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("Starting HTTP server", "addr", s.addr, "persist", s.store != nil)
	return s.server.ListenAndServe()
}

// Shutdown stops accepting requests, cancels running jobs and waits for them.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down HTTP server", "running_jobs", len(s.jobManager.GetRunningJobs()))
	var err error
	if s.server != nil {
		err = s.server.Shutdown(ctx)
	}
	s.cancel()
	s.jobManager.Wait()
	return err
}

// handleJobs handles /api/v1/jobs
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateJob(w, r)
	case http.MethodGet:
		s.handleListJobs(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleJobsWithID handles /api/v1/jobs/:id/*
func (s *Server) handleJobsWithID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/jobs/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.Error(w, "Job ID required", http.StatusBadRequest)
		return
	}

	jobID := parts[0]
	sub := ""
	if len(parts) > 1 {
		sub = parts[1]
	}

	switch sub {
	case "", "status":
		s.handleGetJobStatus(w, r, jobID)
	case "positions.bin":
		s.handleGetGeometry(w, r, jobID, runner.PositionsFile)
	case "normals.bin":
		s.handleGetGeometry(w, r, jobID, runner.NormalsFile)
	case "stream":
		s.handleJobStream(w, r, jobID)
	case "cancel":
		s.handleCancelJob(w, r, jobID)
	default:
		http.Error(w, "Not found", http.StatusNotFound)
	}
}

// handleCreateJob handles POST /api/v1/jobs
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	config := s.defaults
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&config); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}
	if err := config.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.admit(&config); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if b := mc.NormalizeBackend(config.Backend); !mc.BackendAvailable(b) {
		http.Error(w, fmt.Sprintf("backend %q is not available", config.Backend), http.StatusBadRequest)
		return
	}

	job := s.jobManager.CreateJob(config)
	s.jobManager.Start(s.ctx, s.store, job.ID)

	writeJSON(w, http.StatusCreated, job)
}

// admit applies the server limits to a validated request. A volume path is
// rewritten to the file it names under the volume directory.
func (s *Server) admit(cfg *JobConfig) error {
	for axis, l := range cfg.GridLog2 {
		if l > s.limits.MaxGridLog2 {
			return fmt.Errorf("gridLog2[%d] = %d exceeds the server limit of %d", axis, l, s.limits.MaxGridLog2)
		}
	}
	if cfg.VolumePath == "" {
		return nil
	}
	if s.limits.VolumeDir == "" {
		return errors.New("volume files are disabled on this server, use a synthetic shape")
	}
	path, err := resolveVolume(s.limits.VolumeDir, cfg.VolumePath)
	if err != nil {
		return err
	}
	cfg.VolumePath = path
	return nil
}

// resolveVolume maps name to a file inside dir. Absolute names, names that
// climb out of dir and symlinks leading out of it are all rejected.
func resolveVolume(dir, name string) (string, error) {
	if !filepath.IsLocal(name) {
		return "", fmt.Errorf("volumePath %q must be relative to the volume directory", name)
	}
	root, err := filepath.Abs(dir)
	if err == nil {
		root, err = filepath.EvalSymlinks(root)
	}
	if err != nil {
		slog.Error("Volume directory unavailable", "dir", dir, "error", err)
		return "", errors.New("volume directory unavailable")
	}

	path, err := filepath.EvalSymlinks(filepath.Join(root, name))
	if err != nil {
		return "", fmt.Errorf("volume %q not found", name)
	}
	if rel, err := filepath.Rel(root, path); err != nil || !filepath.IsLocal(rel) {
		return "", fmt.Errorf("volume %q not found", name)
	}
	return path, nil
}

// handleListJobs handles GET /api/v1/jobs
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.jobManager.ListJobs())
}

// handleGetJobStatus handles GET /api/v1/jobs/:id/status
func (s *Server) handleGetJobStatus(w http.ResponseWriter, r *http.Request, jobID string) {
	job, exists := s.jobManager.GetJob(jobID)
	if !exists {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}

	var elapsed time.Duration
	if job.EndTime != nil {
		elapsed = job.EndTime.Sub(job.StartTime)
	} else {
		elapsed = time.Since(job.StartTime)
	}

	response := map[string]interface{}{
		"id":           job.ID,
		"state":        job.State,
		"config":       job.Config,
		"stage":        job.Stage,
		"activeVoxels": job.ActiveVoxels,
		"totalVerts":   job.TotalVerts,
		"triangles":    job.Triangles,
		"geometry":     humanize.Bytes(uint64(job.TotalVerts) * 32),
		"runId":        job.RunID,
		"elapsed":      elapsed.Seconds(),
		"startTime":    job.StartTime,
		"endTime":      job.EndTime,
		"error":        job.Error,
	}
	writeJSON(w, http.StatusOK, response)
}

// handleGetGeometry handles GET /api/v1/jobs/:id/{positions,normals}.bin
func (s *Server) handleGetGeometry(w http.ResponseWriter, r *http.Request, jobID, artifact string) {
	job, exists := s.jobManager.GetJob(jobID)
	if !exists {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}
	if job.State != StateCompleted {
		http.Error(w, "No results yet", http.StatusNotFound)
		return
	}

	var data []byte
	if res, ok := s.jobManager.result(jobID); ok {
		if artifact == runner.PositionsFile {
			data = mc.Vec4Bytes(res.Positions)
		} else {
			data = mc.Vec4Bytes(res.Normals)
		}
	} else if s.store != nil && job.RunID != "" {
		var err error
		data, err = s.store.ReadArtifact(job.RunID, artifact)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, store.ErrNotFound) {
				status = http.StatusNotFound
			}
			http.Error(w, err.Error(), status)
			return
		}
	} else {
		http.Error(w, "No results yet", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", fmt.Sprint(len(data)))
	w.Header().Set("X-Vertex-Count", fmt.Sprint(job.TotalVerts))
	if _, err := w.Write(data); err != nil {
		slog.Error("Failed to write geometry", "job_id", jobID, "error", err)
	}
}

// handleCancelJob handles POST /api/v1/jobs/:id/cancel
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request, jobID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if _, exists := s.jobManager.GetJob(jobID); !exists {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}
	if !s.jobManager.Cancel(jobID) {
		http.Error(w, "Job already finished", http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleListRuns handles GET /api/v1/runs
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.store == nil {
		http.Error(w, "No run store configured", http.StatusNotFound)
		return
	}
	runs, err := s.store.ListRuns()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

// corsMiddleware adds CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("HTTP request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
