// Package synth builds synthetic byte volumes by sampling signed distance
// fields on a grid.
package synth

import (
	"errors"
	"fmt"
	"math"
	"runtime"
	"strings"

	"github.com/cwbudde/marchingcubes/internal/mc"
	"github.com/deadsy/sdfx/sdf"
	v3 "github.com/deadsy/sdfx/vec/v3"
	"golang.org/x/sync/errgroup"
)

// Shape names a synthetic solid.
type Shape string

const (
	ShapeSphere     Shape = "sphere"
	ShapeBox        Shape = "box"
	ShapeCylinder   Shape = "cylinder"
	ShapeHollowCube Shape = "hollow-cube"
)

// ErrUnknownShape is returned for shape names outside Shapes().
var ErrUnknownShape = errors.New("unknown shape")

// Shapes lists the supported shapes.
func Shapes() []Shape {
	return []Shape{ShapeSphere, ShapeBox, ShapeCylinder, ShapeHollowCube}
}

// ParseShape normalizes a user supplied shape name.
func ParseShape(name string) (Shape, error) {
	s := Shape(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range Shapes() {
		if s == known {
			return s, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownShape, name)
}

// Params control how a distance field is mapped to samples. A grid point at
// signed distance d stores clamp(Bias + Scale*d, 0, 1) * 255.
type Params struct {
	Shape Shape   `json:"shape"`
	Size  float64 `json:"size"`
	Bias  float64 `json:"bias"`
	Scale float64 `json:"scale"`
}

// DefaultParams places the surface of the shape at isovalue 0.2.
func DefaultParams(shape Shape) Params {
	return Params{Shape: shape, Size: 0.4, Bias: 0.2, Scale: 0.5}
}

// NewSDF builds the distance field of a shape. Size is the sphere and
// cylinder radius, or half the edge length of the cubes.
func NewSDF(shape Shape, size float64) (sdf.SDF3, error) {
	if size <= 0 {
		return nil, fmt.Errorf("shape size must be positive, got %g", size)
	}
	switch shape {
	case ShapeSphere:
		return sdf.Sphere3D(size)
	case ShapeBox:
		return sdf.Box3D(v3.Vec{X: 2 * size, Y: 2 * size, Z: 2 * size}, 0)
	case ShapeCylinder:
		return sdf.Cylinder3D(3*size, size*0.75, 0)
	case ShapeHollowCube:
		outer, err := sdf.Box3D(v3.Vec{X: 2 * size, Y: 2 * size, Z: 2 * size}, 0)
		if err != nil {
			return nil, err
		}
		inner, err := sdf.Box3D(v3.Vec{X: size, Y: size, Z: size}, 0)
		if err != nil {
			return nil, err
		}
		return sdf.Difference3D(outer, inner), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownShape, shape)
	}
}

// quantize maps a field value in [0,1] to a byte, rounding half away from zero.
func quantize(v float64) byte {
	v = math.Max(0, math.Min(1, v))
	return byte(math.Round(v * 255))
}

// Sample evaluates s at every grid point. Slices along z are sampled in
// parallel.
func Sample(grid mc.Grid, s sdf.SDF3, bias, scale float64) *mc.Volume {
	data := make([]byte, grid.Bytes())
	nx, ny, nz := grid.Size[0], grid.Size[1], grid.Size[2]
	coord := func(i, n uint32) float64 { return -1 + 2*float64(i)/float64(n) }

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for k := uint32(0); k < nz; k++ {
		g.Go(func() error {
			z := coord(k, nz)
			for j := uint32(0); j < ny; j++ {
				y := coord(j, ny)
				for i := uint32(0); i < nx; i++ {
					d := s.Evaluate(v3.Vec{X: coord(i, nx), Y: y, Z: z})
					data[grid.Index(i, j, k)] = quantize(bias + scale*d)
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	vol, err := mc.NewVolume(grid, data)
	if err != nil {
		panic(err)
	}
	return vol
}

// Generate samples a shape with the given parameters.
func Generate(grid mc.Grid, p Params) (*mc.Volume, error) {
	s, err := NewSDF(p.Shape, p.Size)
	if err != nil {
		return nil, err
	}
	return Sample(grid, s, p.Bias, p.Scale), nil
}

// SphereDistance stores |p|/2 at every grid point: a sphere of radius 0.4
// at isovalue 0.2.
func SphereDistance(grid mc.Grid) *mc.Volume {
	vol, err := Generate(grid, DefaultParams(ShapeSphere))
	if err != nil {
		panic(err)
	}
	return vol
}

// Fill returns a constant volume.
func Fill(grid mc.Grid, value byte) *mc.Volume {
	data := make([]byte, grid.Bytes())
	for i := range data {
		data[i] = value
	}
	vol, err := mc.NewVolume(grid, data)
	if err != nil {
		panic(err)
	}
	return vol
}
