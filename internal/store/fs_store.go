package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ManifestFile is the name of the manifest inside a run directory.
const ManifestFile = "manifest.json"

// TraceFile is the name of the stage trace inside a run directory.
const TraceFile = "trace.jsonl"

// FSStore implements Store on the filesystem.
// Runs are stored as <baseDir>/runs/<runID>/{manifest.json, *.bin, trace.jsonl}.
//
// Every file is written to a temp file and renamed into place, so readers
// never observe partial writes and no locks are needed.
type FSStore struct {
	baseDir string
}

// NewFSStore creates a filesystem store, creating baseDir if needed.
func NewFSStore(baseDir string) (*FSStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &FSStore{baseDir: baseDir}, nil
}

// BaseDir returns the root directory of the store.
func (fs *FSStore) BaseDir() string {
	return fs.baseDir
}

// RunDir returns the directory of a run.
func (fs *FSStore) RunDir(runID string) string {
	return runDir(fs.baseDir, runID)
}

func runDir(baseDir, runID string) string {
	return filepath.Join(baseDir, "runs", runID)
}

func (fs *FSStore) manifestPath(runID string) string {
	return filepath.Join(fs.RunDir(runID), ManifestFile)
}

// checkName rejects IDs and artifact names that would escape the run directory.
func checkName(kind, name string) error {
	if name == "" {
		return fmt.Errorf("%s cannot be empty", kind)
	}
	if name != filepath.Base(name) || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid %s: %q", kind, name)
	}
	return nil
}

// writeAtomic writes data to path through a temp file and rename.
func writeAtomic(path string, data []byte) error {
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename %s: %w", filepath.Base(path), err)
	}
	return nil
}

// SaveRun writes artifacts first and the manifest last, so a manifest only
// exists once every artifact it lists is in place. Artifact sizes in the
// manifest are filled in from the data.
func (fs *FSStore) SaveRun(manifest *RunManifest, artifacts map[string][]byte) error {
	if manifest == nil {
		return fmt.Errorf("manifest cannot be nil")
	}
	if err := checkName("runID", manifest.RunID); err != nil {
		return err
	}
	if err := manifest.Validate(); err != nil {
		return fmt.Errorf("invalid manifest: %w", err)
	}

	dir := fs.RunDir(manifest.RunID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create run directory: %w", err)
	}

	names := make([]string, 0, len(artifacts))
	for name := range artifacts {
		if err := checkName("artifact name", name); err != nil {
			return err
		}
		if name == ManifestFile || name == TraceFile {
			return fmt.Errorf("artifact name %q is reserved", name)
		}
		names = append(names, name)
	}
	sort.Strings(names)

	manifest.Artifacts = make([]ArtifactInfo, 0, len(names))
	for _, name := range names {
		data := artifacts[name]
		if err := writeAtomic(filepath.Join(dir, name), data); err != nil {
			return fmt.Errorf("failed to save artifact %s: %w", name, err)
		}
		manifest.Artifacts = append(manifest.Artifacts, ArtifactInfo{Name: name, Bytes: int64(len(data))})
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize manifest: %w", err)
	}
	if err := writeAtomic(fs.manifestPath(manifest.RunID), data); err != nil {
		return fmt.Errorf("failed to save manifest: %w", err)
	}

	slog.Debug("Run saved", "runID", manifest.RunID, "path", dir, "artifacts", len(names))
	return nil
}

// LoadRun reads the manifest of a run.
func (fs *FSStore) LoadRun(runID string) (*RunManifest, error) {
	if err := checkName("runID", runID); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(fs.manifestPath(runID))
	if os.IsNotExist(err) {
		return nil, &NotFoundError{RunID: runID}
	} else if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var manifest RunManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to deserialize manifest: %w", err)
	}

	slog.Debug("Run loaded", "runID", runID)
	return &manifest, nil
}

// ReadArtifact returns the bytes of one artifact.
func (fs *FSStore) ReadArtifact(runID, name string) ([]byte, error) {
	if err := checkName("runID", runID); err != nil {
		return nil, err
	}
	if err := checkName("artifact name", name); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(fs.RunDir(runID), name))
	if os.IsNotExist(err) {
		return nil, &NotFoundError{RunID: runID, Artifact: name}
	} else if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	return data, nil
}

// ListRuns returns metadata for all runs with a readable manifest, newest first.
func (fs *FSStore) ListRuns() ([]RunInfo, error) {
	runsDir := filepath.Join(fs.baseDir, "runs")

	entries, err := os.ReadDir(runsDir)
	if os.IsNotExist(err) {
		return []RunInfo{}, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to read runs directory: %w", err)
	}

	infos := []RunInfo{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		manifest, err := fs.LoadRun(entry.Name())
		if errors.Is(err, ErrNotFound) {
			continue // run still in progress
		}
		if err != nil {
			slog.Warn("Skipping unreadable run", "runID", entry.Name(), "error", err)
			continue
		}
		infos = append(infos, manifest.ToInfo())
	}

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Timestamp.Equal(infos[j].Timestamp) {
			return infos[i].RunID < infos[j].RunID
		}
		return infos[i].Timestamp.After(infos[j].Timestamp)
	})

	slog.Debug("Listed runs", "count", len(infos))
	return infos, nil
}

// DeleteRun removes a run and everything stored with it.
func (fs *FSStore) DeleteRun(runID string) error {
	if err := checkName("runID", runID); err != nil {
		return err
	}

	dir := fs.RunDir(runID)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return &NotFoundError{RunID: runID}
	} else if err != nil {
		return fmt.Errorf("failed to stat run directory: %w", err)
	}

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove run directory: %w", err)
	}

	slog.Debug("Run deleted", "runID", runID, "path", dir)
	return nil
}
