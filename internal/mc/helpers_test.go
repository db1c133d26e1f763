package mc

import (
	"context"
	"math"
	"math/rand"
	"testing"
)

// sphereVolume stores |p|/2 at every grid point, so the isosurface at 0.2
// is a sphere of radius 0.4 centred in the grid.
func sphereVolume(t *testing.T, g Grid) *Volume {
	t.Helper()
	data := make([]byte, g.Bytes())
	for id := uint32(0); id < g.NumVoxels; id++ {
		i, j, k := g.Decode(id)
		x := -1 + 2*float64(i)/float64(g.Size[0])
		y := -1 + 2*float64(j)/float64(g.Size[1])
		z := -1 + 2*float64(k)/float64(g.Size[2])
		d := math.Sqrt(x*x+y*y+z*z) / 2
		data[id] = byte(math.Min(255, math.Max(0, math.Round(d*255))))
	}
	return mustVolume(t, g, data)
}

// randomInteriorVolume fills every grid point with random bytes except the
// outermost layer, which stays zero so no surface wraps around the grid.
func randomInteriorVolume(t *testing.T, g Grid, seed int64) *Volume {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	data := make([]byte, g.Bytes())
	for id := uint32(0); id < g.NumVoxels; id++ {
		i, j, k := g.Decode(id)
		if i == 0 || j == 0 || k == 0 || i == g.Mask[0] || j == g.Mask[1] || k == g.Mask[2] {
			continue
		}
		data[id] = byte(rng.Intn(256))
	}
	return mustVolume(t, g, data)
}

func constVolume(t *testing.T, g Grid, value byte) *Volume {
	t.Helper()
	data := make([]byte, g.Bytes())
	for i := range data {
		data[i] = value
	}
	return mustVolume(t, g, data)
}

func mustVolume(t *testing.T, g Grid, data []byte) *Volume {
	t.Helper()
	vol, err := NewVolume(g, data)
	if err != nil {
		t.Fatalf("NewVolume: %v", err)
	}
	return vol
}

func extract(t *testing.T, ext Extractor, vol *Volume, iso float32) *Result {
	t.Helper()
	res, err := ext.Extract(context.Background(), vol, iso)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	return res
}

type vertexKey [3]uint32

func keyOf(v Vec4) vertexKey {
	return vertexKey{math.Float32bits(v[0]), math.Float32bits(v[1]), math.Float32bits(v[2])}
}

type edgeKey [2]vertexKey

func makeEdge(a, b vertexKey) edgeKey {
	less := a[0] < b[0] || (a[0] == b[0] && (a[1] < b[1] || (a[1] == b[1] && a[2] < b[2])))
	if less {
		return edgeKey{a, b}
	}
	return edgeKey{b, a}
}

// openEdges welds vertices by exact position, drops triangles that collapse
// to a line or point, and returns the number of edges not shared by exactly
// two triangles together with the number of collapsed triangles.
func openEdges(positions []Vec4) (open, collapsed int) {
	counts := make(map[edgeKey]int)
	for v := 0; v+2 < len(positions); v += 3 {
		a, b, c := keyOf(positions[v]), keyOf(positions[v+1]), keyOf(positions[v+2])
		if a == b || b == c || a == c {
			collapsed++
			continue
		}
		counts[makeEdge(a, b)]++
		counts[makeEdge(b, c)]++
		counts[makeEdge(c, a)]++
	}
	for _, n := range counts {
		if n != 2 {
			open++
		}
	}
	return open, collapsed
}

func vec4Equal(a, b []Vec4) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		for c := 0; c < 4; c++ {
			if math.Float32bits(a[i][c]) != math.Float32bits(b[i][c]) {
				return false
			}
		}
	}
	return true
}
