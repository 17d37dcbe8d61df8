package density

import (
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/cytolabs/flowqc/internal/qcmetrics"
)

// Backend performs the elementwise complex multiply of two spectra — the
// only backend-selectable step of the convolution. Forward and inverse
// transforms always run on the CPU.
type Backend interface {
	Name() string
	MultiplySpectra(a, b []complex128) ([]complex128, error)
}

// CPUBackend multiplies spectra directly. It never fails on well-formed
// input and is the fallback for every GPU error.
type CPUBackend struct{}

func (CPUBackend) Name() string { return "cpu" }

func (CPUBackend) MultiplySpectra(a, b []complex128) ([]complex128, error) {
	out := make([]complex128, len(a))
	for i := range a {
		out[i] = a[i] * b[i]
	}
	return out, nil
}

// multiplyWithFallback runs the backend multiply and transparently falls
// back to the CPU path on any backend failure. GPU failures are a recorded
// degradation, never an error surfaced to the caller.
func multiplyWithFallback(b Backend, sa, sb []complex128) []complex128 {
	if len(sa) != len(sb) {
		// Spectra of one convolution always share a length; a mismatch is
		// a programming error upstream, so keep the shorter prefix.
		if len(sb) < len(sa) {
			sa = sa[:len(sb)]
		} else {
			sb = sb[:len(sa)]
		}
	}

	out, err := b.MultiplySpectra(sa, sb)
	if err != nil {
		qcmetrics.GPUFallbacks.Inc()
		out, _ = CPUBackend{}.MultiplySpectra(sa, sb)
	}
	return out
}

var (
	gpuProbeOnce sync.Once
	gpuAvailable bool
)

// GPUAvailable reports whether a GPU device initializes successfully. The
// probe runs exactly once per process; subsequent calls read the memoized
// result without re-probing.
func GPUAvailable() bool {
	gpuProbeOnce.Do(func() {
		gpuAvailable = probeGPU()
	})
	return gpuAvailable
}

// SelectBackend picks the GPU backend when a device is available and the
// caller supplied a context, otherwise the CPU backend.
func SelectBackend(gpu *GPUContext, logger *zap.Logger) Backend {
	if logger == nil {
		logger = zap.NewNop()
	}
	if gpu != nil && GPUAvailable() {
		logger.Info("density backend selected", zap.String("backend", "gpu"))
		return &GPUBackend{ctx: gpu}
	}
	logger.Info("density backend selected", zap.String("backend", "cpu"))
	return CPUBackend{}
}

// GPUBackend offloads the spectrum multiply to a GPU device owned by a
// GPUContext. Not safe for concurrent use; batched multi-channel calls must
// go through one context sequentially.
type GPUBackend struct {
	ctx *GPUContext
}

func (*GPUBackend) Name() string { return "gpu" }

func (g *GPUBackend) MultiplySpectra(a, b []complex128) ([]complex128, error) {
	return g.ctx.dev.multiplySpectra(a, b)
}

// GPUContext owns a device handle and a single-slot cache of the kernel's
// forward spectrum, keyed by exact FFT size and bandwidth (tolerance
// 1e-10). A cache hit skips the kernel FFT entirely. Reusing one context
// across a batch of channels pays the device setup cost once per
// configuration instead of once per channel.
//
// A GPUContext is not safe for concurrent use without external
// synchronization.
type GPUContext struct {
	dev *gpuDevice

	spectrum  []complex128
	fftSize   int
	bandwidth float64
	valid     bool
}

// NewGPUContext initializes a GPU device. The error is informational: the
// caller is expected to fall back to the CPU path, not abort.
func NewGPUContext() (*GPUContext, error) {
	dev, err := newGPUDevice()
	if err != nil {
		return nil, err
	}
	return &GPUContext{dev: dev}, nil
}

func (c *GPUContext) cachedSpectrum(fftSize int, bandwidth float64) ([]complex128, bool) {
	if c.valid && c.fftSize == fftSize && math.Abs(c.bandwidth-bandwidth) < 1e-10 {
		return c.spectrum, true
	}
	return nil, false
}

func (c *GPUContext) storeSpectrum(spectrum []complex128, fftSize int, bandwidth float64) {
	c.spectrum = spectrum
	c.fftSize = fftSize
	c.bandwidth = bandwidth
	c.valid = true
}

// Invalidate clears the cached kernel spectrum. Useful when switching to a
// different grid size or bandwidth regime.
func (c *GPUContext) Invalidate() {
	c.spectrum = nil
	c.valid = false
}

// Close releases the device resources. The context must not be used after.
func (c *GPUContext) Close() {
	if c.dev != nil {
		c.dev.release()
		c.dev = nil
	}
	c.Invalidate()
}
