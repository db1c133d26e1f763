package mc

// compactKernel scatters each occupied voxel id to its scanned slot, producing
// the active voxels in ascending id order.
func compactKernel(compacted, voxelOccupied, voxelOccupiedScan []uint32) Kernel {
	return func(id uint32) {
		if voxelOccupied[id] != 0 {
			compacted[voxelOccupiedScan[id]] = id
		}
	}
}
