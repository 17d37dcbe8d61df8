//go:build !opencl

package density

import "errors"

// Builds without the opencl tag have no device support: the availability
// probe reports false and backend selection stays on the CPU path.

var errNoGPUSupport = errors.New("built without OpenCL support")

func probeGPU() bool { return false }

type gpuDevice struct{}

func newGPUDevice() (*gpuDevice, error) {
	return nil, errNoGPUSupport
}

func (*gpuDevice) multiplySpectra(a, b []complex128) ([]complex128, error) {
	return nil, errNoGPUSupport
}

func (*gpuDevice) release() {}
