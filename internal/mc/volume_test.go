package mc

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadRawVolume(t *testing.T) {
	g := MustGrid(2, 2, 2)
	data := make([]byte, g.Bytes())
	data[g.Index(1, 2, 3)] = 255
	path := filepath.Join(t.TempDir(), "vol.raw")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	vol, err := LoadRawVolume(path, g)
	if err != nil {
		t.Fatalf("LoadRawVolume: %v", err)
	}
	if got := vol.Sample(1, 2, 3); got != 1 {
		t.Errorf("Sample(1,2,3) = %f, want 1", got)
	}
	if got := vol.Sample(5, 6, 7); got != 1 {
		t.Errorf("wrapped Sample(5,6,7) = %f, want 1", got)
	}
	if got := vol.Sample(0, 0, 0); got != 0 {
		t.Errorf("Sample(0,0,0) = %f, want 0", got)
	}
}

func TestLoadRawVolumeErrors(t *testing.T) {
	g := MustGrid(2, 2, 2)
	dir := t.TempDir()

	if _, err := LoadRawVolume(filepath.Join(dir, "missing.raw"), g); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file err = %v, want os.ErrNotExist", err)
	}

	short := filepath.Join(dir, "short.raw")
	if err := os.WriteFile(short, make([]byte, 10), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadRawVolume(short, g); !errors.Is(err, ErrVolumeSize) {
		t.Errorf("short file err = %v, want ErrVolumeSize", err)
	}
}
