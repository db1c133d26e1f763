package mc

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dustin/go-humanize"
)

// ErrVolumeSize is returned when raw volume data is shorter than the grid requires.
var ErrVolumeSize = errors.New("volume data does not cover grid")

// ErrGridMismatch is returned when a volume is extracted with an extractor built for another grid.
var ErrGridMismatch = errors.New("volume grid does not match extractor grid")

// Volume is an immutable scalar field of unsigned byte samples, one per grid
// point, stored in the same linear order as voxel ids.
type Volume struct {
	grid Grid
	data []byte
}

// NewVolume wraps raw samples for the grid. The slice is not copied and must
// not be modified afterwards. Extra trailing bytes are ignored.
func NewVolume(grid Grid, data []byte) (*Volume, error) {
	if len(data) < grid.Bytes() {
		return nil, fmt.Errorf("%w: have %d bytes, grid %s needs %d", ErrVolumeSize, len(data), grid, grid.Bytes())
	}
	return &Volume{grid: grid, data: data[:grid.Bytes()]}, nil
}

// LoadRawVolume reads a headerless byte volume laid out as i + j*dimX + k*dimX*dimY.
func LoadRawVolume(path string, grid Grid) (*Volume, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read volume: %w", err)
	}
	if len(data) > grid.Bytes() {
		slog.Warn("Volume file larger than grid, using prefix",
			"path", path,
			"file_size", humanize.Bytes(uint64(len(data))),
			"grid", grid.String())
	}
	vol, err := NewVolume(grid, data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	slog.Debug("Loaded volume", "path", path, "grid", grid.String(), "size", humanize.Bytes(uint64(grid.Bytes())))
	return vol, nil
}

// Grid returns the volume's grid geometry.
func (v *Volume) Grid() Grid { return v.grid }

// Bytes returns the raw samples. Callers must not modify the result.
func (v *Volume) Bytes() []byte { return v.data }

// Sample returns the normalized field value in [0,1] at grid point (i,j,k).
// Coordinates wrap around each axis.
func (v *Volume) Sample(i, j, k uint32) float32 {
	return float32(v.data[v.grid.Index(i, j, k)]) / 255
}
