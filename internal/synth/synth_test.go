package synth

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/cwbudde/marchingcubes/internal/mc"
)

func extract(t *testing.T, vol *mc.Volume, iso float32) *mc.Result {
	t.Helper()
	ext := mc.NewCPUExtractor(vol.Grid(), mc.DefaultOptions())
	defer ext.Close()
	res, err := ext.Extract(context.Background(), vol, iso)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	return res
}

func TestSphereDistanceSurface(t *testing.T) {
	g := mc.MustGrid(5, 5, 5)
	res := extract(t, SphereDistance(g), 0.2)
	if res.Triangles() == 0 {
		t.Fatal("expected a sphere surface")
	}
	for v, p := range res.Positions {
		r := math.Sqrt(float64(p[0]*p[0] + p[1]*p[1] + p[2]*p[2]))
		if math.Abs(r-0.4) > 0.07 {
			t.Fatalf("vertex %d at radius %f, want about 0.4", v, r)
		}
	}
}

func TestSphereDistanceMatchesHalfRadius(t *testing.T) {
	g := mc.MustGrid(3, 3, 3)
	vol := SphereDistance(g)
	for _, ijk := range [][3]uint32{{0, 0, 0}, {4, 4, 4}, {7, 2, 5}} {
		p := g.Position(ijk[0], ijk[1], ijk[2])
		r := math.Sqrt(float64(p[0]*p[0] + p[1]*p[1] + p[2]*p[2]))
		want := quantize(r / 2)
		got := vol.Bytes()[g.Index(ijk[0], ijk[1], ijk[2])]
		if diff := int(got) - int(want); diff < -1 || diff > 1 {
			t.Errorf("sample at %v = %d, want %d", ijk, got, want)
		}
	}
}

func TestShapesProduceSurfaces(t *testing.T) {
	g := mc.MustGrid(5, 5, 5)
	counts := make(map[Shape]int)
	for _, shape := range Shapes() {
		vol, err := Generate(g, DefaultParams(shape))
		if err != nil {
			t.Fatalf("%s: %v", shape, err)
		}
		res := extract(t, vol, 0.2)
		if res.Triangles() == 0 {
			t.Errorf("%s: no triangles", shape)
		}
		for v, p := range res.Positions {
			for axis := 0; axis < 3; axis++ {
				if math.Abs(float64(p[axis])) > 0.7 {
					t.Fatalf("%s: vertex %d at %v outside the shape bounds", shape, v, p)
				}
			}
		}
		counts[shape] = res.Triangles()
	}
	if counts[ShapeHollowCube] <= counts[ShapeBox] {
		t.Errorf("hollow cube has %d triangles, box %d; expected the cavity to add more",
			counts[ShapeHollowCube], counts[ShapeBox])
	}
}

func TestFill(t *testing.T) {
	g := mc.MustGrid(2, 2, 2)
	for _, v := range []byte{0, 255} {
		vol := Fill(g, v)
		for i, b := range vol.Bytes() {
			if b != v {
				t.Fatalf("sample %d = %d, want %d", i, b, v)
			}
		}
		if res := extract(t, vol, 0.2); res.TotalVerts != 0 || res.ActiveVoxels != 0 {
			t.Errorf("constant %d volume produced %d verts, %d active", v, res.TotalVerts, res.ActiveVoxels)
		}
	}
}

func TestParseShape(t *testing.T) {
	if s, err := ParseShape(" Hollow-Cube "); err != nil || s != ShapeHollowCube {
		t.Errorf("ParseShape = %q, %v", s, err)
	}
	if _, err := ParseShape("torus"); !errors.Is(err, ErrUnknownShape) {
		t.Errorf("err = %v, want ErrUnknownShape", err)
	}
}

func TestNewSDFRejectsBadSize(t *testing.T) {
	if _, err := NewSDF(ShapeSphere, 0); err == nil {
		t.Error("expected error for zero size")
	}
	if _, err := NewSDF(Shape("torus"), 1); !errors.Is(err, ErrUnknownShape) {
		t.Errorf("err = %v, want ErrUnknownShape", err)
	}
}

func TestQuantize(t *testing.T) {
	tests := []struct {
		in   float64
		want byte
	}{
		{-0.5, 0},
		{0, 0},
		{0.2, 51},
		{1, 255},
		{2, 255},
	}
	for _, tt := range tests {
		if got := quantize(tt.in); got != tt.want {
			t.Errorf("quantize(%f) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
