package store

import (
	"fmt"
	"time"
)

// maxGridLog2 mirrors the largest axis the extractor accepts.
const maxGridLog2 = 10

// ExtractConfig describes one extraction run. It is shared by the CLI, the
// job server and stored manifests.
type ExtractConfig struct {
	// VolumePath is a raw byte volume. Exactly one of VolumePath and Shape is set.
	VolumePath string `json:"volumePath,omitempty"`
	// Shape names a synthetic volume.
	Shape     string  `json:"shape,omitempty"`
	ShapeSize float64 `json:"shapeSize,omitempty"`

	GridLog2 [3]uint `json:"gridLog2"`
	IsoValue float32 `json:"isoValue"`
	// Dense disables compaction of empty voxels.
	Dense    bool   `json:"dense,omitempty"`
	Backend  string `json:"backend,omitempty"`
	Workers  int    `json:"workers,omitempty"`
	MaxVerts int    `json:"maxVerts,omitempty"`
}

// Source describes where the volume comes from.
func (c ExtractConfig) Source() string {
	if c.VolumePath != "" {
		return c.VolumePath
	}
	return "synth:" + c.Shape
}

// Validate checks the configuration for values the pipeline cannot run with.
func (c ExtractConfig) Validate() error {
	if c.VolumePath == "" && c.Shape == "" {
		return &ValidationError{Field: "VolumePath", Reason: "or Shape must be set"}
	}
	if c.VolumePath != "" && c.Shape != "" {
		return &ValidationError{Field: "Shape", Reason: "cannot be combined with VolumePath"}
	}
	if c.ShapeSize < 0 {
		return &ValidationError{Field: "ShapeSize", Reason: "cannot be negative"}
	}
	for axis, l := range c.GridLog2 {
		if l == 0 || l > maxGridLog2 {
			return &ValidationError{
				Field:  fmt.Sprintf("GridLog2[%d]", axis),
				Reason: fmt.Sprintf("must be in [1,%d]", maxGridLog2),
			}
		}
	}
	if c.IsoValue < 0 || c.IsoValue > 1 {
		return &ValidationError{Field: "IsoValue", Reason: "must be in [0,1]"}
	}
	if c.Workers < 0 {
		return &ValidationError{Field: "Workers", Reason: "cannot be negative"}
	}
	if c.MaxVerts < 0 {
		return &ValidationError{Field: "MaxVerts", Reason: "cannot be negative"}
	}
	return nil
}

// ArtifactInfo describes one raw dump stored with a run.
type ArtifactInfo struct {
	Name  string `json:"name"`
	Bytes int64  `json:"bytes"`
}

// RunManifest is the persisted record of an extraction run.
type RunManifest struct {
	RunID     string        `json:"runId"`
	Config    ExtractConfig `json:"config"`
	Backend   string        `json:"backend"`
	Timestamp time.Time     `json:"timestamp"`
	Elapsed   time.Duration `json:"elapsed"`

	ActiveVoxels uint32 `json:"activeVoxels"`
	TotalVerts   uint32 `json:"totalVerts"`
	Triangles    int    `json:"triangles"`

	Artifacts []ArtifactInfo `json:"artifacts"`
}

// Validate checks the manifest for missing or inconsistent fields.
func (m *RunManifest) Validate() error {
	if m.RunID == "" {
		return &ValidationError{Field: "RunID", Reason: "cannot be empty"}
	}
	if m.Timestamp.IsZero() {
		return &ValidationError{Field: "Timestamp", Reason: "cannot be zero"}
	}
	if m.TotalVerts%3 != 0 {
		return &ValidationError{Field: "TotalVerts", Reason: "must be a multiple of 3"}
	}
	if m.Triangles*3 != int(m.TotalVerts) {
		return &ValidationError{
			Field:  "Triangles",
			Reason: fmt.Sprintf("mismatch: %d triangles for %d vertices", m.Triangles, m.TotalVerts),
		}
	}
	if m.TotalVerts > 0 && m.ActiveVoxels == 0 {
		return &ValidationError{Field: "ActiveVoxels", Reason: "cannot be zero when vertices exist"}
	}
	if err := m.Config.Validate(); err != nil {
		return err
	}
	return nil
}

// ArtifactBytes is the total size of the run's artifacts.
func (m *RunManifest) ArtifactBytes() int64 {
	var n int64
	for _, a := range m.Artifacts {
		n += a.Bytes
	}
	return n
}

// RunInfo is the listing view of a run.
type RunInfo struct {
	RunID     string    `json:"runId"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	GridLog2  [3]uint   `json:"gridLog2"`
	IsoValue  float32   `json:"isoValue"`
	Triangles int       `json:"triangles"`
	Bytes     int64     `json:"bytes"`
}

// ToInfo converts a manifest to its listing view.
func (m *RunManifest) ToInfo() RunInfo {
	return RunInfo{
		RunID:     m.RunID,
		Timestamp: m.Timestamp,
		Source:    m.Config.Source(),
		GridLog2:  m.Config.GridLog2,
		IsoValue:  m.Config.IsoValue,
		Triangles: m.Triangles,
		Bytes:     m.ArtifactBytes(),
	}
}

// ValidationError represents an invalid config or manifest field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}
