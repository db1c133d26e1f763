package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cwbudde/marchingcubes/internal/mc"
	"github.com/cwbudde/marchingcubes/internal/runner"
	"github.com/cwbudde/marchingcubes/internal/store"
)

// runJob executes an extraction job. Stage events are broadcast to stream
// subscribers; completed runs are persisted when runStore is not nil.
func runJob(ctx context.Context, jm *JobManager, runStore store.Store, jobID string) error {
	job, exists := jm.GetJob(jobID)
	if !exists {
		return fmt.Errorf("job not found: %s", jobID)
	}
	if job.State.Terminal() {
		return nil
	}

	err := jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateRunning
	})
	if err != nil {
		return err
	}
	jm.broadcaster.Broadcast(ProgressEvent{JobID: jobID, State: StateRunning, Timestamp: time.Now()})

	slog.Info("Starting job", "job_id", jobID, "source", job.Config.Source(), "grid_log2", job.Config.GridLog2)

	observer := func(step int, iso float32, ev mc.StageEvent) {
		jm.UpdateJob(jobID, func(j *Job) { j.Stage = ev.Stage })
		jm.broadcaster.Broadcast(ProgressEvent{
			JobID:     jobID,
			State:     StateRunning,
			Step:      step,
			IsoValue:  iso,
			Stage:     ev.Stage,
			Items:     ev.Items,
			Total:     ev.Total,
			Duration:  ev.Duration,
			Timestamp: time.Now(),
		})
	}

	out, err := runner.Run(ctx, job.Config, runner.Options{Observer: observer})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			markJobCancelled(jm, jobID)
			return err
		}
		markJobFailed(jm, jobID, err)
		return err
	}

	runID := ""
	if runStore != nil {
		manifest := runner.Manifest(jobID, out)
		if err := runStore.SaveRun(manifest, runner.Artifacts(out, false)); err != nil {
			// The geometry is still served from memory.
			slog.Error("Failed to persist run", "job_id", jobID, "error", err)
		} else {
			runID = manifest.RunID
		}
	}

	endTime := time.Now()
	err = jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCompleted
		j.ActiveVoxels = out.Result.ActiveVoxels
		j.TotalVerts = out.Result.TotalVerts
		j.Triangles = out.Result.Triangles()
		j.RunID = runID
		j.EndTime = &endTime
		j.result = out.Result
	})
	if err != nil {
		return err
	}

	slog.Info("Job completed",
		"job_id", jobID,
		"elapsed", out.Elapsed,
		"active_voxels", out.Result.ActiveVoxels,
		"triangles", out.Result.Triangles(),
	)

	jm.broadcaster.Broadcast(ProgressEvent{
		JobID:     jobID,
		State:     StateCompleted,
		IsoValue:  out.Result.IsoValue,
		Triangles: out.Result.Triangles(),
		Timestamp: time.Now(),
	})
	return nil
}

// markJobFailed marks a job as failed with an error message
func markJobFailed(jm *JobManager, jobID string, err error) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateFailed
		j.Error = err.Error()
		j.EndTime = &endTime
	})
	jm.broadcaster.Broadcast(ProgressEvent{
		JobID:     jobID,
		State:     StateFailed,
		Error:     err.Error(),
		Timestamp: endTime,
	})
	slog.Error("Job failed", "job_id", jobID, "error", err)
}

// markJobCancelled marks a job as cancelled
func markJobCancelled(jm *JobManager, jobID string) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCancelled
		j.EndTime = &endTime
	})
	jm.broadcaster.Broadcast(ProgressEvent{JobID: jobID, State: StateCancelled, Timestamp: endTime})
	slog.Info("Job cancelled", "job_id", jobID)
}
