package mc

import (
	"errors"
	"fmt"
	"strings"
)

// Backend identifies an extractor implementation.
type Backend string

const (
	BackendCPU    Backend = "cpu"
	BackendSerial Backend = "serial"
	BackendOpenCL Backend = "opencl"
)

var (
	// ErrUnknownBackend is returned when the name does not match a known backend.
	ErrUnknownBackend = errors.New("unknown extractor backend")
	// ErrBackendUnavailable indicates the backend is not available in this build.
	ErrBackendUnavailable = errors.New("extractor backend unavailable")
)

var noopCleanup = func() {}

// NormalizeBackend maps arbitrary user input to a canonical backend identifier.
func NormalizeBackend(name string) Backend {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "cpu", "parallel":
		return BackendCPU
	case "serial", "reference":
		return BackendSerial
	case "gpu", "opencl", "cl", "sycl", "cuda":
		return BackendOpenCL
	default:
		return Backend(name)
	}
}

// SupportedBackends returns the list of backends understood by the factory.
func SupportedBackends() []Backend {
	return []Backend{BackendCPU, BackendSerial, BackendOpenCL}
}

// BackendAvailable reports whether the backend can be constructed in this build.
func BackendAvailable(b Backend) bool {
	return b == BackendCPU || b == BackendSerial
}

// NewExtractorForBackend constructs the requested extractor and returns a
// cleanup hook that releases it.
func NewExtractorForBackend(name string, grid Grid, opts Options) (Extractor, func(), error) {
	backend := NormalizeBackend(name)

	switch backend {
	case BackendCPU:
		ext := NewCPUExtractor(grid, opts)
		return ext, ext.Close, nil
	case BackendSerial:
		ext := NewSerialExtractor(grid, opts)
		return ext, ext.Close, nil
	case BackendOpenCL:
		return nil, noopCleanup, fmt.Errorf("%w: %s (no device runtime in this build)", ErrBackendUnavailable, backend)
	default:
		return nil, noopCleanup, fmt.Errorf("%w: %s", ErrUnknownBackend, name)
	}
}
