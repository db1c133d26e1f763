package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/cwbudde/marchingcubes/internal/mc"
	"github.com/cwbudde/marchingcubes/internal/store"
	"github.com/cwbudde/marchingcubes/internal/synth"
)

func sphereConfig() store.ExtractConfig {
	return store.ExtractConfig{
		Shape:    string(synth.ShapeSphere),
		GridLog2: [3]uint{4, 4, 4},
		IsoValue: 0.2,
		Backend:  "serial",
	}
}

func TestRunSynthetic(t *testing.T) {
	var stages []string
	out, err := Run(context.Background(), sphereConfig(), Options{
		Observer: func(step int, iso float32, ev mc.StageEvent) {
			if step != 0 || iso != 0.2 {
				t.Errorf("observer got step %d iso %g", step, iso)
			}
			stages = append(stages, ev.Stage)
		},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Backend != mc.BackendSerial {
		t.Errorf("Backend = %s, want serial", out.Backend)
	}
	if out.Result.Empty() || out.Result.TotalVerts%3 != 0 {
		t.Fatalf("unexpected result: %d verts", out.Result.TotalVerts)
	}
	if len(out.Steps) != 1 || out.Steps[0].Triangles != out.Result.Triangles() {
		t.Errorf("Steps = %+v", out.Steps)
	}
	if len(stages) != 5 {
		t.Errorf("observed stages %v, want 5", stages)
	}
	if len(out.Buffers.VoxelVerts) != int(out.Grid.NumVoxels) {
		t.Errorf("buffers not captured: %d", len(out.Buffers.VoxelVerts))
	}
}

func TestRunSteps(t *testing.T) {
	cfg := sphereConfig()
	out, err := Run(context.Background(), cfg, Options{IsoStep: 0.05, Steps: 3})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(out.Steps) != 3 {
		t.Fatalf("got %d steps, want 3", len(out.Steps))
	}
	want := []float32{0.2, 0.25, 0.3}
	for i, s := range out.Steps {
		if s.IsoValue != cfg.IsoValue+float32(i)*0.05 || s.Step != i {
			t.Errorf("step %d = %+v, want iso %g", i, s, want[i])
		}
	}
	if out.Config.IsoValue != out.Steps[2].IsoValue {
		t.Errorf("config iso %g not updated to last step", out.Config.IsoValue)
	}
	// A higher isovalue on a distance field encloses a larger sphere.
	if out.Steps[2].Triangles <= out.Steps[0].Triangles {
		t.Errorf("triangles did not grow: %d -> %d", out.Steps[0].Triangles, out.Steps[2].Triangles)
	}
}

func TestRunClampsIso(t *testing.T) {
	cfg := sphereConfig()
	cfg.IsoValue = 0.9
	out, err := Run(context.Background(), cfg, Options{IsoStep: 0.2, Steps: 2})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Steps[1].IsoValue != 1 {
		t.Errorf("iso = %g, want clamped to 1", out.Steps[1].IsoValue)
	}
}

func TestRunRawVolume(t *testing.T) {
	grid := mc.MustGrid(3, 3, 3)
	data := make([]byte, grid.Bytes())
	data[grid.Index(4, 4, 4)] = 255
	path := filepath.Join(t.TempDir(), "point.raw")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	cfg := store.ExtractConfig{VolumePath: path, GridLog2: [3]uint{3, 3, 3}, IsoValue: 0.5}
	out, err := Run(context.Background(), cfg, Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Result.ActiveVoxels != 8 || out.Result.TotalVerts != 24 {
		t.Errorf("active = %d verts = %d, want 8 and 24", out.Result.ActiveVoxels, out.Result.TotalVerts)
	}
}

func TestRunErrors(t *testing.T) {
	ctx := context.Background()

	if _, err := Run(ctx, store.ExtractConfig{GridLog2: [3]uint{4, 4, 4}}, Options{}); err == nil {
		t.Error("expected error without a volume source")
	}

	cfg := sphereConfig()
	cfg.Shape = "torus"
	if _, err := Run(ctx, cfg, Options{}); !errors.Is(err, synth.ErrUnknownShape) {
		t.Errorf("err = %v, want ErrUnknownShape", err)
	}

	cfg = sphereConfig()
	cfg.Backend = "fpga"
	if _, err := Run(ctx, cfg, Options{}); !errors.Is(err, mc.ErrUnknownBackend) {
		t.Errorf("err = %v, want ErrUnknownBackend", err)
	}

	cfg = sphereConfig()
	cfg.MaxVerts = 3
	if _, err := Run(ctx, cfg, Options{}); !errors.Is(err, mc.ErrVertexBudgetExceeded) {
		t.Errorf("err = %v, want ErrVertexBudgetExceeded", err)
	}

	cfg = sphereConfig()
	cfg.VolumePath = filepath.Join(t.TempDir(), "missing.raw")
	cfg.Shape = ""
	if _, err := Run(ctx, cfg, Options{}); err == nil {
		t.Error("expected error for missing volume file")
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := Run(cancelled, sphereConfig(), Options{}); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestArtifactsAndManifest(t *testing.T) {
	out, err := Run(context.Background(), sphereConfig(), Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	arts := Artifacts(out, false)
	if len(arts) != 3 {
		t.Errorf("got %d artifacts, want 3", len(arts))
	}
	if got := len(arts[PositionsFile]); got != int(out.Result.TotalVerts)*16 {
		t.Errorf("positions = %d bytes, want %d", got, out.Result.TotalVerts*16)
	}
	if got := len(arts[CompactedFile]); got != int(out.Result.ActiveVoxels)*4 {
		t.Errorf("compacted = %d bytes, want %d", got, out.Result.ActiveVoxels*4)
	}

	debug := Artifacts(out, true)
	for _, name := range []string{VoxelVertsFile, VoxelVertsScanFile, VoxelOccupiedFile, OccupiedScanFile} {
		if len(debug[name]) != int(out.Grid.NumVoxels)*4 {
			t.Errorf("%s = %d bytes", name, len(debug[name]))
		}
	}

	dense := *out
	dense.Config.Dense = true
	if _, ok := Artifacts(&dense, false)[CompactedFile]; ok {
		t.Error("dense run should not write the compacted array")
	}

	id := NewRunID()
	m := Manifest(id, out)
	if err := m.Validate(); err != nil {
		t.Errorf("manifest invalid: %v", err)
	}
	if m.RunID != id || m.Backend != "serial" || m.Triangles != out.Result.Triangles() {
		t.Errorf("manifest = %+v", m)
	}
	if NewRunID() == id {
		t.Error("run IDs should be unique")
	}
}

func TestTraceObserver(t *testing.T) {
	dir := t.TempDir()
	tw, err := store.NewTraceWriter(dir, "trace-run", false)
	if err != nil {
		t.Fatalf("NewTraceWriter: %v", err)
	}
	if _, err := Run(context.Background(), sphereConfig(), Options{Steps: 2, IsoStep: 0.01, Observer: TraceObserver(tw)}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}

	tr, err := store.NewTraceReader(dir, "trace-run")
	if err != nil {
		t.Fatalf("NewTraceReader: %v", err)
	}
	defer tr.Close()
	entries, err := tr.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(entries) != 10 {
		t.Fatalf("got %d entries, want 10", len(entries))
	}
	if entries[0].Stage != mc.StageClassify || entries[9].Step != 1 {
		t.Errorf("entries = %+v ... %+v", entries[0], entries[9])
	}
}
