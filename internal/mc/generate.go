package mc

import "math"

// interpEpsilon guards interpolation against near-equal corner values.
const interpEpsilon = 1e-5

// generateArgs are the inputs of triangle generation.
type generateArgs struct {
	fieldArgs
	// active maps a work-item to a voxel id. Nil means the dense range.
	active    []uint32
	vertsScan []uint32
	positions []Vec4
	normals   []Vec4
}

// gradient estimates the field gradient at grid point (i,j,k) by central
// differences over the periodic volume.
func (a *fieldArgs) gradient(i, j, k uint32) [3]float32 {
	v := a.vol
	return [3]float32{
		v.Sample(i+1, j, k) - v.Sample(i-1, j, k),
		v.Sample(i, j+1, k) - v.Sample(i, j-1, k),
		v.Sample(i, j, k+1) - v.Sample(i, j, k-1),
	}
}

// lerp returns a + t*(b-a) per component. The explicit conversion keeps the
// result identical on platforms that would otherwise fuse the multiply-add.
func lerp(a, b [3]float32, t float32) [3]float32 {
	return [3]float32{
		a[0] + float32(t*(b[0]-a[0])),
		a[1] + float32(t*(b[1]-a[1])),
		a[2] + float32(t*(b[2]-a[2])),
	}
}

func normalize(n [3]float32) [3]float32 {
	l := float32(math.Sqrt(float64(n[0]*n[0] + n[1]*n[1] + n[2]*n[2])))
	if l == 0 {
		return n
	}
	return [3]float32{n[0] / l, n[1] / l, n[2] / l}
}

// vertexInterp places the isosurface crossing on the edge between corners
// with positions pa, pb and field values fa, fb.
func vertexInterp(iso float32, pa, pb [3]float32, fa, fb float32) ([3]float32, float32) {
	d := fb - fa
	var t float32
	if float32(math.Abs(float64(d))) >= interpEpsilon {
		t = (iso - fa) / d
	}
	return lerp(pa, pb, t), t
}

// generateKernel emits the triangles of one active voxel.
func generateKernel(a *generateArgs) Kernel {
	return func(item uint32) {
		voxel := item
		if a.active != nil {
			voxel = a.active[item]
		}
		i, j, k := a.grid.Decode(voxel)
		code, field := a.corners(i, j, k)
		count := int(numVertsTable[code])
		if count == 0 {
			return
		}

		var pos, grad [8][3]float32
		for b, off := range cornerOffsets {
			ci, cj, ck := i+off[0], j+off[1], k+off[2]
			pos[b] = a.grid.Position(ci, cj, ck)
			grad[b] = a.gradient(ci, cj, ck)
		}

		var vertList, normList [12][3]float32
		mask := edgeTable[code]
		for e, c := range edgeCorners {
			if mask&(1<<e) == 0 {
				continue
			}
			ca, cb := c[0], c[1]
			p, t := vertexInterp(a.iso, pos[ca], pos[cb], field[ca], field[cb])
			vertList[e] = p
			normList[e] = normalize(lerp(grad[ca], grad[cb], t))
		}

		base := int(a.vertsScan[voxel])
		row := &triTable[code]
		for v := 0; v < count; v++ {
			e := row[v]
			out := base + v
			p, n := vertList[e], normList[e]
			a.positions[out] = Vec4{p[0], p[1], p[2], 1}
			a.normals[out] = Vec4{n[0], n[1], n[2], 0}
		}
	}
}
