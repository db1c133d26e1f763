package main

import (
	"errors"
	"testing"
	"time"

	"github.com/cwbudde/marchingcubes/internal/store"
)

func testRuns(now time.Time) []store.RunInfo {
	return []store.RunInfo{
		{RunID: "run1", Timestamp: now.AddDate(0, 0, -10)}, // 10 days old
		{RunID: "run2", Timestamp: now.AddDate(0, 0, -5)},  // 5 days old
		{RunID: "run3", Timestamp: now.AddDate(0, 0, -1)},  // 1 day old
		{RunID: "run4", Timestamp: now.AddDate(0, 0, -30)}, // 30 days old
	}
}

func runIDs(infos []store.RunInfo) map[string]bool {
	ids := make(map[string]bool, len(infos))
	for _, info := range infos {
		ids[info.RunID] = true
	}
	return ids
}

func TestSelectRunsForDeletion(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name      string
		keepLast  int
		olderThan int
		want      []string
	}{
		{"by age", 0, 7, []string{"run1", "run4"}},
		{"by count", 2, 0, []string{"run1", "run4"}},
		{"combined", 3, 3, []string{"run1", "run2", "run4"}},
		{"keep more than exist", 10, 0, nil},
		{"nothing old enough", 0, 60, nil},
		{"keep one", 1, 0, []string{"run1", "run2", "run4"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := selectRunsForDeletion(testRuns(now), tt.keepLast, tt.olderThan, now)
			if len(got) != len(tt.want) {
				t.Fatalf("Expected %d runs to delete, got %d", len(tt.want), len(got))
			}
			ids := runIDs(got)
			for _, id := range tt.want {
				if !ids[id] {
					t.Errorf("Expected %s to be selected for deletion", id)
				}
			}
		})
	}
}

func TestSelectRunsForDeletion_DoesNotReorderInput(t *testing.T) {
	now := time.Now()
	infos := testRuns(now)
	selectRunsForDeletion(infos, 1, 0, now)
	if infos[0].RunID != "run1" || infos[3].RunID != "run4" {
		t.Error("Input slice should not be modified")
	}
}

func TestShortID(t *testing.T) {
	if got := shortID("0123456789abcdef"); got != "0123456789ab..." {
		t.Errorf("shortID = %q", got)
	}
	if got := shortID("short"); got != "short" {
		t.Errorf("shortID = %q", got)
	}
}

type failingDeleter struct {
	fail    map[string]bool
	removed []string
}

func (d *failingDeleter) DeleteRun(runID string) error {
	if d.fail[runID] {
		return errors.New("permission denied")
	}
	d.removed = append(d.removed, runID)
	return nil
}

func TestDeleteRunsCountsOnlyRemovedBytes(t *testing.T) {
	infos := []store.RunInfo{
		{RunID: "run1", Bytes: 1000},
		{RunID: "run2", Bytes: 20000},
		{RunID: "run3", Bytes: 300},
	}
	d := &failingDeleter{fail: map[string]bool{"run2": true}}

	deleted, failed, freed := deleteRuns(d, infos)
	if deleted != 2 || failed != 1 {
		t.Errorf("deleted=%d failed=%d, want 2 and 1", deleted, failed)
	}
	if freed != 1300 {
		t.Errorf("freed = %d, want 1300", freed)
	}
	if len(d.removed) != 2 || d.removed[0] != "run1" || d.removed[1] != "run3" {
		t.Errorf("removed = %v", d.removed)
	}
}
