package mc

// fieldArgs carries what every kernel needs to evaluate the scalar field.
type fieldArgs struct {
	grid Grid
	vol  *Volume
	iso  float32
}

// corners samples the eight corners of voxel (i,j,k) and builds the corner
// code. Bit b is set when corner b lies strictly above the isovalue.
func (a *fieldArgs) corners(i, j, k uint32) (code uint8, field [8]float32) {
	for b, off := range cornerOffsets {
		field[b] = a.vol.Sample(i+off[0], j+off[1], k+off[2])
		if field[b] > a.iso {
			code |= 1 << b
		}
	}
	return code, field
}

// classifyKernel writes the vertex count and occupancy flag of one voxel.
func classifyKernel(a *fieldArgs, voxelVerts, voxelOccupied []uint32) Kernel {
	return func(id uint32) {
		i, j, k := a.grid.Decode(id)
		code, _ := a.corners(i, j, k)
		n := uint32(numVertsTable[code])
		voxelVerts[id] = n
		if n > 0 {
			voxelOccupied[id] = 1
		} else {
			voxelOccupied[id] = 0
		}
	}
}
