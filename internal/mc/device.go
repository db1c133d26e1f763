package mc

import (
	"log/slog"
	"runtime"

	"golang.org/x/sys/cpu"
)

// Device describes the host compute device the CPU backends run on.
type Device struct {
	Name       string   `json:"name"`
	Arch       string   `json:"arch"`
	LogicalCPU int      `json:"logicalCpus"`
	MaxProcs   int      `json:"maxProcs"`
	Features   []string `json:"features"`
	// MaxWorkGroup is the largest work-group size any stage uses.
	MaxWorkGroup int `json:"maxWorkGroup"`
}

// hostFeatures is the SIMD feature list detected at startup.
var hostFeatures []string

func init() {
	type feature struct {
		name string
		ok   bool
	}
	var candidates []feature
	switch runtime.GOARCH {
	case "amd64", "386":
		candidates = []feature{
			{"sse2", cpu.X86.HasSSE2},
			{"sse41", cpu.X86.HasSSE41},
			{"avx", cpu.X86.HasAVX},
			{"avx2", cpu.X86.HasAVX2},
			{"fma", cpu.X86.HasFMA},
			{"avx512f", cpu.X86.HasAVX512F},
		}
	case "arm64":
		candidates = []feature{
			{"asimd", cpu.ARM64.HasASIMD},
			{"fp", cpu.ARM64.HasFP},
			{"sve", cpu.ARM64.HasSVE},
		}
	}
	for _, f := range candidates {
		if f.ok {
			hostFeatures = append(hostFeatures, f.name)
		}
	}
	slog.Debug("Host device detected", "arch", runtime.GOARCH, "features", hostFeatures)
}

// HostDevice reports the host CPU as a compute device.
func HostDevice() Device {
	features := make([]string, len(hostFeatures))
	copy(features, hostFeatures)
	return Device{
		Name:         "host",
		Arch:         runtime.GOARCH,
		LogicalCPU:   runtime.NumCPU(),
		MaxProcs:     runtime.GOMAXPROCS(0),
		Features:     features,
		MaxWorkGroup: ClassifyThreads,
	}
}
