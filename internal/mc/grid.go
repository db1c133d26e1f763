package mc

import (
	"errors"
	"fmt"
)

// maxAxisLog2 bounds a single axis at 1024 samples, which keeps voxel ids
// of the largest grid within 30 bits.
const maxAxisLog2 = 10

// ErrInvalidGrid is returned when the requested grid geometry is not representable.
var ErrInvalidGrid = errors.New("invalid grid geometry")

// Grid describes a uniform voxel grid whose axes are powers of two.
//
// Voxel ids are flattened as i | j<<Shift[1] | k<<Shift[2], which matches the
// row-major raw volume layout i + j*dimX + k*dimX*dimY.
type Grid struct {
	Log2      [3]uint    `json:"log2"`
	Size      [3]uint32  `json:"size"`
	Shift     [3]uint    `json:"shift"`
	Mask      [3]uint32  `json:"mask"`
	NumVoxels uint32     `json:"numVoxels"`
	VoxelSize [3]float32 `json:"voxelSize"`
}

// NewGrid builds grid geometry from per-axis log2 sizes.
func NewGrid(log2x, log2y, log2z uint) (Grid, error) {
	log2 := [3]uint{log2x, log2y, log2z}
	for axis, l := range log2 {
		if l == 0 || l > maxAxisLog2 {
			return Grid{}, fmt.Errorf("%w: axis %d log2 %d outside [1,%d]", ErrInvalidGrid, axis, l, maxAxisLog2)
		}
	}

	var g Grid
	g.Log2 = log2
	for axis, l := range log2 {
		g.Size[axis] = 1 << l
		g.Mask[axis] = g.Size[axis] - 1
		g.VoxelSize[axis] = 2.0 / float32(g.Size[axis])
	}
	g.Shift = [3]uint{0, log2x, log2x + log2y}
	g.NumVoxels = g.Size[0] * g.Size[1] * g.Size[2]
	return g, nil
}

// MustGrid is NewGrid for geometry known to be valid.
func MustGrid(log2x, log2y, log2z uint) Grid {
	g, err := NewGrid(log2x, log2y, log2z)
	if err != nil {
		panic(err)
	}
	return g
}

// Decode splits a voxel id into grid coordinates using shifts and masks.
func (g Grid) Decode(id uint32) (i, j, k uint32) {
	i = (id >> g.Shift[0]) & g.Mask[0]
	j = (id >> g.Shift[1]) & g.Mask[1]
	k = (id >> g.Shift[2]) & g.Mask[2]
	return i, j, k
}

// Index flattens coordinates into a voxel id. Coordinates wrap per axis, so
// the grid behaves as a periodic volume at its boundaries.
func (g Grid) Index(i, j, k uint32) uint32 {
	return (i & g.Mask[0]) | (j&g.Mask[1])<<g.Shift[1] | (k&g.Mask[2])<<g.Shift[2]
}

// Position returns the world-space location of grid point (i,j,k). The grid
// spans [-1,1] on every axis; points are not wrapped.
func (g Grid) Position(i, j, k uint32) [3]float32 {
	return [3]float32{
		-1 + float32(i)*g.VoxelSize[0],
		-1 + float32(j)*g.VoxelSize[1],
		-1 + float32(k)*g.VoxelSize[2],
	}
}

// Bytes is the size in bytes of a raw volume covering the grid.
func (g Grid) Bytes() int {
	return int(g.NumVoxels)
}

// Equal reports whether two grids have the same geometry.
func (g Grid) Equal(o Grid) bool {
	return g.Log2 == o.Log2
}

func (g Grid) String() string {
	return fmt.Sprintf("%dx%dx%d", g.Size[0], g.Size[1], g.Size[2])
}

// DefaultMaxVerts is the vertex capacity the reference program allocates for
// a grid: gridSize.x * gridSize.y * 100.
func DefaultMaxVerts(g Grid) int {
	return int(g.Size[0]) * int(g.Size[1]) * 100
}
