package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// ProgressEvent is a stage or state update of a job
type ProgressEvent struct {
	JobID     string        `json:"jobId"`
	State     JobState      `json:"state"`
	Step      int           `json:"step"`
	IsoValue  float32       `json:"isoValue"`
	Stage     string        `json:"stage,omitempty"`
	Items     uint32        `json:"items,omitempty"`
	Total     uint32        `json:"total,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
	Triangles int           `json:"triangles,omitempty"`
	Error     string        `json:"error,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// feed holds the subscribers of one job and the event a late subscriber
// starts from.
type feed struct {
	subs map[chan ProgressEvent]struct{}
	last *ProgressEvent
}

// finished reports whether nothing more will be read from or sent to f.
func (f *feed) finished() bool {
	return len(f.subs) == 0 && (f.last == nil || f.last.State.Terminal())
}

// EventBroadcaster fans job events out to SSE subscribers. Sends never block:
// a subscriber whose buffer is full misses the event. A feed is dropped once
// its job is terminal and its last subscriber has left.
type EventBroadcaster struct {
	mu    sync.Mutex
	feeds map[string]*feed
}

func NewEventBroadcaster() *EventBroadcaster {
	return &EventBroadcaster{feeds: make(map[string]*feed)}
}

func (eb *EventBroadcaster) feedLocked(jobID string) *feed {
	f, ok := eb.feeds[jobID]
	if !ok {
		f = &feed{subs: make(map[chan ProgressEvent]struct{})}
		eb.feeds[jobID] = f
	}
	return f
}

// Subscribe returns a channel of events for jobID, primed with the most
// recent event if there is one.
func (eb *EventBroadcaster) Subscribe(jobID string) chan ProgressEvent {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	f := eb.feedLocked(jobID)
	ch := make(chan ProgressEvent, 16)
	if f.last != nil {
		ch <- *f.last
	}
	f.subs[ch] = struct{}{}

	slog.Debug("SSE client subscribed", "jobID", jobID, "subscribers", len(f.subs))
	return ch
}

// Unsubscribe closes ch. Calling it twice is harmless.
func (eb *EventBroadcaster) Unsubscribe(jobID string, ch chan ProgressEvent) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	f, ok := eb.feeds[jobID]
	if !ok {
		return
	}
	if _, ok := f.subs[ch]; ok {
		delete(f.subs, ch)
		close(ch)
	}
	if f.finished() {
		delete(eb.feeds, jobID)
	}
	slog.Debug("SSE client unsubscribed", "jobID", jobID, "subscribers", len(f.subs))
}

func (eb *EventBroadcaster) Broadcast(event ProgressEvent) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	f := eb.feedLocked(event.JobID)
	f.last = &event
	for ch := range f.subs {
		select {
		case ch <- event:
		default:
			slog.Warn("SSE subscriber lagging, event dropped", "jobID", event.JobID, "stage", event.Stage)
		}
	}
	if f.finished() {
		delete(eb.feeds, event.JobID)
	}
}

// handleJobStream handles SSE connections for job stage events. The stream
// ends once the job reaches a terminal state.
func (s *Server) handleJobStream(w http.ResponseWriter, r *http.Request, jobID string) {
	job, exists := s.jobManager.GetJob(jobID)
	if !exists {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	eventChan := s.jobManager.broadcaster.Subscribe(jobID)
	defer s.jobManager.broadcaster.Unsubscribe(jobID, eventChan)

	initialEvent := ProgressEvent{
		JobID:     job.ID,
		State:     job.State,
		Stage:     job.Stage,
		Triangles: job.Triangles,
		Error:     job.Error,
		Timestamp: time.Now(),
	}
	if err := writeSSEEvent(w, initialEvent); err != nil {
		slog.Error("Failed to write initial SSE event", "error", err)
		return
	}
	flusher.Flush()
	if job.State.Terminal() {
		return
	}

	pingTicker := time.NewTicker(30 * time.Second)
	defer pingTicker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			slog.Debug("SSE client disconnected", "jobID", jobID)
			return

		case event, ok := <-eventChan:
			if !ok {
				return
			}
			if err := writeSSEEvent(w, event); err != nil {
				slog.Error("Failed to write SSE event", "error", err)
				return
			}
			flusher.Flush()
			if event.State.Terminal() {
				return
			}

		case <-pingTicker.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

// writeSSEEvent writes an event in SSE format
func writeSSEEvent(w http.ResponseWriter, event ProgressEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
