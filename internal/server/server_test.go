package server

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cwbudde/marchingcubes/internal/mc"
	"github.com/cwbudde/marchingcubes/internal/store"
)

func postJob(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func waitForState(t *testing.T, s *Server, jobID string) *Job {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		job, _ := s.jobManager.GetJob(jobID)
		if job.State.Terminal() {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Job %s did not finish", jobID)
	return nil
}

func TestServer_CreateJob(t *testing.T) {
	s := NewServer(":8080", nil)
	defer s.Shutdown(t.Context())

	w := postJob(t, s.Handler(), `{"shape":"sphere","gridLog2":[4,4,4],"backend":"serial"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}

	var job Job
	if err := json.NewDecoder(w.Body).Decode(&job); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if job.ID == "" {
		t.Error("Job ID should not be empty")
	}
	// Fields missing from the request take the server defaults.
	if job.Config.IsoValue != 0.2 {
		t.Errorf("Expected default iso 0.2, got %g", job.Config.IsoValue)
	}

	done := waitForState(t, s, job.ID)
	if done.State != StateCompleted {
		t.Errorf("Expected completed, got %s (%s)", done.State, done.Error)
	}
}

func TestServer_CreateJob_BadRequests(t *testing.T) {
	s := NewServer(":8080", nil)
	defer s.Shutdown(t.Context())

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{"shape":`},
		{"unknown field", `{"shape":"sphere","refPath":"x.png"}`},
		{"no source", `{"gridLog2":[4,4,4]}`},
		{"bad grid", `{"shape":"sphere","gridLog2":[11,4,4]}`},
		{"grid over server limit", `{"shape":"sphere","gridLog2":[10,10,10]}`},
		{"one axis over server limit", `{"shape":"sphere","gridLog2":[4,8,4]}`},
		{"volume files disabled", `{"volumePath":"/etc/hostname","gridLog2":[1,1,1]}`},
		{"bad iso", `{"shape":"sphere","isoValue":1.5}`},
		{"gpu backend", `{"shape":"sphere","backend":"opencl"}`},
		{"unknown backend", `{"shape":"sphere","backend":"fpga"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postJob(t, s.Handler(), tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("Expected status 400, got %d", w.Code)
			}
		})
	}
	if n := len(s.jobManager.ListJobs()); n != 0 {
		t.Errorf("Rejected requests created %d jobs", n)
	}
}

func TestServer_VolumeDir(t *testing.T) {
	dir := t.TempDir()
	vol := make([]byte, 8)
	vol[0] = 255
	if err := os.WriteFile(filepath.Join(dir, "corner.raw"), vol, 0644); err != nil {
		t.Fatal(err)
	}
	secret := filepath.Join(t.TempDir(), "secret.raw")
	if err := os.WriteFile(secret, vol, 0644); err != nil {
		t.Fatal(err)
	}
	climb, err := filepath.Rel(dir, secret)
	if err != nil {
		t.Fatal(err)
	}

	s := NewServer(":8080", nil)
	defer s.Shutdown(t.Context())
	s.SetLimits(Limits{VolumeDir: dir})

	rejected := map[string]string{
		"absolute": secret,
		"climbing": climb,
		"missing":  "missing.raw",
	}
	if err := os.Symlink(secret, filepath.Join(dir, "link.raw")); err == nil {
		rejected["symlink out"] = "link.raw"
	}
	for name, path := range rejected {
		t.Run(name, func(t *testing.T) {
			body, _ := json.Marshal(map[string]any{"volumePath": path, "gridLog2": []uint{1, 1, 1}})
			w := postJob(t, s.Handler(), string(body))
			if w.Code != http.StatusBadRequest {
				t.Fatalf("Expected status 400, got %d: %s", w.Code, w.Body.String())
			}
			if strings.Contains(w.Body.String(), "bytes") {
				t.Errorf("Rejection leaks file details: %s", w.Body.String())
			}
		})
	}
	if n := len(s.jobManager.ListJobs()); n != 0 {
		t.Fatalf("Rejected requests created %d jobs", n)
	}

	w := postJob(t, s.Handler(), `{"volumePath":"corner.raw","gridLog2":[1,1,1],"backend":"serial"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}
	var job Job
	if err := json.NewDecoder(w.Body).Decode(&job); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if filepath.Base(job.Config.VolumePath) != "corner.raw" || !filepath.IsAbs(job.Config.VolumePath) {
		t.Errorf("VolumePath = %q, want resolved path of corner.raw", job.Config.VolumePath)
	}
	done := waitForState(t, s, job.ID)
	if done.State != StateCompleted || done.Triangles == 0 {
		t.Errorf("Expected completed job with triangles, got %s (%d triangles, %s)", done.State, done.Triangles, done.Error)
	}
}

func TestServer_SetLimitsDefaultsGrid(t *testing.T) {
	s := NewServer(":8080", nil)
	s.SetLimits(Limits{})
	if s.limits.MaxGridLog2 != DefaultMaxGridLog2 {
		t.Errorf("MaxGridLog2 = %d, want %d", s.limits.MaxGridLog2, DefaultMaxGridLog2)
	}
}

func TestServer_ListJobs(t *testing.T) {
	s := NewServer(":8080", nil)

	s.jobManager.CreateJob(sphereJob())
	s.jobManager.CreateJob(sphereJob())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	var jobs []*Job
	if err := json.NewDecoder(w.Body).Decode(&jobs); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(jobs) != 2 {
		t.Errorf("Expected 2 jobs, got %d", len(jobs))
	}
}

func TestServer_MethodNotAllowed(t *testing.T) {
	s := NewServer(":8080", nil)
	for _, target := range []string{"/api/v1/jobs", "/api/v1/runs"} {
		req := httptest.NewRequest(http.MethodDelete, target, nil)
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, req)
		if w.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s: expected status 405, got %d", target, w.Code)
		}
	}
}

func TestServer_GetJobStatus(t *testing.T) {
	s := NewServer(":8080", nil)
	job := s.jobManager.CreateJob(sphereJob())

	for _, path := range []string{"/api/v1/jobs/%s", "/api/v1/jobs/%s/status"} {
		req := httptest.NewRequest(http.MethodGet, fmt.Sprintf(path, job.ID), nil)
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", w.Code)
		}
		var response map[string]interface{}
		if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
		if response["id"] != job.ID {
			t.Error("Response should contain job ID")
		}
		if response["state"] != string(StatePending) {
			t.Errorf("Expected pending state, got %v", response["state"])
		}
	}
}

func TestServer_NotFound(t *testing.T) {
	s := NewServer(":8080", nil)
	job := s.jobManager.CreateJob(sphereJob())

	tests := []struct {
		method string
		target string
		want   int
	}{
		{http.MethodGet, "/api/v1/jobs/nonexistent/status", http.StatusNotFound},
		{http.MethodGet, "/api/v1/jobs/nonexistent/positions.bin", http.StatusNotFound},
		{http.MethodGet, "/api/v1/jobs/nonexistent/stream", http.StatusNotFound},
		{http.MethodPost, "/api/v1/jobs/nonexistent/cancel", http.StatusNotFound},
		{http.MethodGet, "/api/v1/jobs/" + job.ID + "/mesh.obj", http.StatusNotFound},
		{http.MethodGet, "/api/v1/jobs/" + job.ID + "/positions.bin", http.StatusNotFound},
		{http.MethodGet, "/api/v1/jobs/", http.StatusBadRequest},
		{http.MethodGet, "/api/v1/runs", http.StatusNotFound},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(tt.method, tt.target, nil)
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, req)
		if w.Code != tt.want {
			t.Errorf("%s %s: expected %d, got %d", tt.method, tt.target, tt.want, w.Code)
		}
	}
}

func TestServer_GetGeometry(t *testing.T) {
	s := NewServer(":8080", nil)
	defer s.Shutdown(t.Context())

	w := postJob(t, s.Handler(), `{"shape":"sphere","gridLog2":[4,4,4]}`)
	var job Job
	json.NewDecoder(w.Body).Decode(&job)
	done := waitForState(t, s, job.ID)

	for _, name := range []string{"positions.bin", "normals.bin"} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+job.ID+"/"+name, nil)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected status 200, got %d", name, rec.Code)
		}
		if ct := rec.Header().Get("Content-Type"); ct != "application/octet-stream" {
			t.Errorf("%s: Content-Type = %s", name, ct)
		}
		floats, err := mc.DecodeFloat32(rec.Body.Bytes())
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if len(floats) != int(done.TotalVerts)*4 {
			t.Errorf("%s: got %d floats, want %d", name, len(floats), done.TotalVerts*4)
		}
		// Positions carry w=1, normals w=0.
		wantW := float32(1)
		if name == "normals.bin" {
			wantW = 0
		}
		if floats[3] != wantW {
			t.Errorf("%s: w = %g, want %g", name, floats[3], wantW)
		}
	}
}

func TestServer_PersistedRuns(t *testing.T) {
	fsStore, err := store.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	s := NewServer(":8080", fsStore)
	defer s.Shutdown(t.Context())

	w := postJob(t, s.Handler(), `{"shape":"box","gridLog2":[4,4,4]}`)
	var job Job
	json.NewDecoder(w.Body).Decode(&job)
	done := waitForState(t, s, job.ID)
	if done.RunID != job.ID {
		t.Fatalf("Expected run %s to be persisted, got %q", job.ID, done.RunID)
	}

	// Drop the in-memory result; geometry is then served from the store.
	s.jobManager.UpdateJob(job.ID, func(j *Job) { j.result = nil })
	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+job.ID+"/positions.bin", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.Len() != int(done.TotalVerts)*16 {
		t.Errorf("Expected stored geometry, got %d with %d bytes", rec.Code, rec.Body.Len())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	var runs []store.RunInfo
	if err := json.NewDecoder(rec.Body).Decode(&runs); err != nil {
		t.Fatalf("Failed to decode runs: %v", err)
	}
	if len(runs) != 1 || runs[0].RunID != job.ID || runs[0].Source != "synth:box" {
		t.Errorf("Unexpected runs: %+v", runs)
	}
}

func TestServer_CancelFinishedJob(t *testing.T) {
	s := NewServer(":8080", nil)
	defer s.Shutdown(t.Context())

	w := postJob(t, s.Handler(), `{"shape":"sphere","gridLog2":[3,3,3]}`)
	var job Job
	json.NewDecoder(w.Body).Decode(&job)
	waitForState(t, s, job.ID)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs/"+job.ID+"/cancel", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusConflict {
		t.Errorf("Expected status 409, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+job.ID+"/cancel", nil)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", rec.Code)
	}
}

func TestServer_CancelPendingJob(t *testing.T) {
	s := NewServer(":8080", nil)
	job := s.jobManager.CreateJob(sphereJob())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs/"+job.ID+"/cancel", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d", rec.Code)
	}
	updated, _ := s.jobManager.GetJob(job.ID)
	if updated.State != StateCancelled {
		t.Errorf("Expected cancelled, got %s", updated.State)
	}
}

func TestServer_StreamFinishedJob(t *testing.T) {
	s := NewServer(":8080", nil)
	defer s.Shutdown(t.Context())

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/v1/jobs", "application/json",
		bytes.NewReader([]byte(`{"shape":"sphere","gridLog2":[4,4,4]}`)))
	if err != nil {
		t.Fatal(err)
	}
	var job Job
	json.NewDecoder(resp.Body).Decode(&job)
	resp.Body.Close()
	done := waitForState(t, s, job.ID)

	resp, err = http.Get(ts.URL + "/api/v1/jobs/" + job.ID + "/stream")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %s", ct)
	}

	// A finished job yields one event and the stream closes.
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	events := parseSSE(t, body)
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}
	if events[0].State != StateCompleted || events[0].Triangles != done.Triangles {
		t.Errorf("Unexpected event: %+v", events[0])
	}
}

func TestServer_StreamRunningJob(t *testing.T) {
	s := NewServer(":8080", nil)
	job := s.jobManager.CreateJob(sphereJob())

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/jobs/" + job.ID + "/stream")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	first := readSSE(t, reader)
	if first.State != StatePending {
		t.Fatalf("Expected pending initial event, got %+v", first)
	}

	// The client is subscribed once the initial event is flushed.
	s.jobManager.Start(t.Context(), nil, job.ID)
	defer s.jobManager.Wait()

	var stages []string
	for {
		ev := readSSE(t, reader)
		if ev.Stage != "" {
			stages = append(stages, ev.Stage)
		}
		if ev.State.Terminal() {
			if ev.State != StateCompleted {
				t.Errorf("Expected completed, got %s", ev.State)
			}
			break
		}
	}
	want := []string{mc.StageClassify, mc.StageScanOccupied, mc.StageCompact, mc.StageScanVerts, mc.StageGenerate}
	if strings.Join(stages, ",") != strings.Join(want, ",") {
		t.Errorf("stages = %v, want %v", stages, want)
	}
}

func TestServer_CORS(t *testing.T) {
	s := NewServer(":8080", nil)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/jobs", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("Missing CORS header")
	}
}

func TestServer_SetDefaults(t *testing.T) {
	s := NewServer(":8080", nil)
	defaults := DefaultJobConfig()
	defaults.GridLog2 = [3]uint{3, 3, 3}
	defaults.IsoValue = 0.3
	defaults.Dense = true
	s.SetDefaults(defaults)

	w := postJob(t, s.Handler(), `{"shape":"cylinder"}`)
	var job Job
	json.NewDecoder(w.Body).Decode(&job)
	defer s.Shutdown(t.Context())

	if job.Config.GridLog2 != [3]uint{3, 3, 3} || job.Config.IsoValue != 0.3 || !job.Config.Dense {
		t.Errorf("Defaults not applied: %+v", job.Config)
	}
}

func parseSSE(t *testing.T, body []byte) []ProgressEvent {
	t.Helper()
	var events []ProgressEvent
	reader := bufio.NewReader(bytes.NewReader(body))
	for {
		line, err := reader.ReadString('\n')
		if data, ok := strings.CutPrefix(line, "data: "); ok {
			var ev ProgressEvent
			if err := json.Unmarshal([]byte(strings.TrimSpace(data)), &ev); err != nil {
				t.Fatalf("Invalid event %q: %v", data, err)
			}
			events = append(events, ev)
		}
		if err != nil {
			return events
		}
	}
}

func readSSE(t *testing.T, reader *bufio.Reader) ProgressEvent {
	t.Helper()
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("Stream ended early: %v", err)
		}
		if data, ok := strings.CutPrefix(line, "data: "); ok {
			var ev ProgressEvent
			if err := json.Unmarshal([]byte(strings.TrimSpace(data)), &ev); err != nil {
				t.Fatalf("Invalid event %q: %v", data, err)
			}
			return ev
		}
	}
}
