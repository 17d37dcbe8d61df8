// Package density implements kernel density estimation over a fixed-size
// grid, with peak extraction on the resulting curve.
//
// The estimate bins the raw values onto a uniform grid, samples a centered
// Gaussian kernel on the same spacing, and convolves the two via a
// zero-padded real FFT. The forward and inverse transforms always run on
// the CPU; only the elementwise spectrum multiply is backend-selectable
// (see backend.go). Bandwidth follows Silverman's rule of thumb:
//
//	bw = 0.9 * min(sd, IQR/1.34) * n^(-1/5) * adjust
package density

import (
	"context"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/cytolabs/flowqc/qcerr"
	"github.com/cytolabs/flowqc/stats"
)

const invSqrt2Pi = 0.3989422804014327

// cancelCheckInterval is how many processed values pass between
// cooperative cancellation checks while binning data onto the grid.
const cancelCheckInterval = 250_000

// Curve is a density estimate sampled on a uniform grid.
type Curve struct {
	X []float64 // grid points
	Y []float64 // density values
}

// Estimator computes density curves with a fixed grid size and bandwidth
// adjustment. The zero value is not usable; use NewEstimator.
//
// When a GPUContext is attached, the estimator must not be shared across
// goroutines: the context's kernel-spectrum cache is mutated on use.
type Estimator struct {
	gridSize int
	adjust   float64
	backend  Backend
	gpu      *GPUContext
}

// NewEstimator returns an estimator with the given grid size and bandwidth
// adjustment factor. A nil backend selects the CPU path.
func NewEstimator(gridSize int, adjust float64, backend Backend, gpu *GPUContext) (*Estimator, error) {
	if gridSize < 2 {
		return nil, qcerr.Configf("density grid needs at least 2 points, got %d", gridSize)
	}
	if backend == nil {
		backend = CPUBackend{}
	}
	return &Estimator{gridSize: gridSize, adjust: adjust, backend: backend, gpu: gpu}, nil
}

// Estimate computes the density curve for data. Non-finite values are
// dropped first; at least three finite values are required. Identical
// values produce a zero bandwidth and are reported as a stats error so
// callers can treat the input as peakless rather than aborting.
func (e *Estimator) Estimate(ctx context.Context, data []float64) (*Curve, error) {
	clean := make([]float64, 0, len(data))
	for _, x := range data {
		if !math.IsInf(x, 0) && !math.IsNaN(x) {
			clean = append(clean, x)
		}
	}
	if len(clean) < 3 {
		return nil, &qcerr.InsufficientDataError{Min: 3, Actual: len(clean)}
	}

	n := float64(len(clean))
	sd := stats.SampleSD(clean)
	iqr, err := stats.IQR(clean)
	if err != nil {
		return nil, err
	}

	spread := sd
	if iqr/1.34 < spread {
		spread = iqr / 1.34
	}
	bandwidth := 0.9 * spread * math.Pow(n, -0.2) * e.adjust
	if bandwidth <= 0 {
		return nil, qcerr.Statsf("kde", "zero bandwidth (degenerate data spread)")
	}

	dataMin, dataMax := clean[0], clean[0]
	for _, x := range clean[1:] {
		if x < dataMin {
			dataMin = x
		}
		if x > dataMax {
			dataMax = x
		}
	}
	gridMin := dataMin - 3*bandwidth
	gridMax := dataMax + 3*bandwidth

	m := e.gridSize
	spacing := (gridMax - gridMin) / float64(m-1)
	x := make([]float64, m)
	for i := range x {
		x[i] = gridMin + spacing*float64(i)
	}

	// Bin raw values onto the grid.
	binned := make([]float64, m)
	for i, v := range clean {
		if i%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		idx := int(math.Floor((v - gridMin) / spacing))
		if idx >= 0 && idx < m {
			binned[idx]++
		}
	}

	// Centered Gaussian kernel sampled on the grid spacing.
	kernel := make([]float64, m)
	center := float64(m-1) / 2
	for i := range kernel {
		u := (float64(i) - center) * spacing / bandwidth
		kernel[i] = invSqrt2Pi * math.Exp(-0.5*u*u)
	}

	y, err := e.convolve(binned, kernel, bandwidth, n)
	if err != nil {
		return nil, err
	}
	return &Curve{X: x, Y: y}, nil
}

// convolve performs the zero-padded FFT convolution of the binned counts
// with the kernel and normalizes the result.
func (e *Estimator) convolve(binned, kernel []float64, bandwidth, n float64) ([]float64, error) {
	m := len(binned)
	fftSize := nextPow2(2 * m)
	fft := fourier.NewFFT(fftSize)

	binnedPadded := make([]float64, fftSize)
	copy(binnedPadded, binned)
	binnedSpectrum := fft.Coefficients(nil, binnedPadded)

	kernelSpectrum := e.kernelSpectrum(fft, kernel, fftSize, bandwidth)

	conv := multiplyWithFallback(e.backend, binnedSpectrum, kernelSpectrum)

	result := fft.Sequence(nil, conv)

	// The kernel is centered, so the convolution output is rotated by the
	// kernel offset; undo that while normalizing.
	kernelStart := (fftSize - m) / 2
	norm := float64(fftSize) * n * bandwidth
	y := make([]float64, m)
	for i := range y {
		y[i] = result[(kernelStart+i)%fftSize] / norm
	}
	return y, nil
}

// kernelSpectrum computes the forward spectrum of the centered, padded
// kernel, consulting the GPU context cache when one is attached.
func (e *Estimator) kernelSpectrum(fft *fourier.FFT, kernel []float64, fftSize int, bandwidth float64) []complex128 {
	if e.gpu != nil {
		if spec, ok := e.gpu.cachedSpectrum(fftSize, bandwidth); ok {
			return spec
		}
	}

	padded := padKernel(kernel, fftSize)
	spec := fft.Coefficients(nil, padded)

	if e.gpu != nil {
		e.gpu.storeSpectrum(spec, fftSize, bandwidth)
	}
	return spec
}

// padKernel lays the centered kernel into the zero-padded FFT buffer: the
// upper half of the kernel goes to the middle of the buffer, the lower half
// wraps to the front.
func padKernel(kernel []float64, fftSize int) []float64 {
	m := len(kernel)
	padded := make([]float64, fftSize)
	start := (fftSize - m) / 2
	firstHalf := (m + 1) / 2
	copy(padded[start:start+firstHalf], kernel[m/2:])
	if m/2 > 0 {
		copy(padded[:m/2], kernel[:m/2])
	}
	return padded
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// FindPeaks returns the x positions of strict local maxima whose density
// exceeds prominence times the global maximum. Ties break toward the
// leftmost point. If no point qualifies, the global maximum is returned so
// a well-formed curve always yields at least one peak.
func (c *Curve) FindPeaks(prominence float64) []float64 {
	if len(c.Y) < 3 {
		return nil
	}

	maxY := c.Y[0]
	maxIdx := 0
	for i, y := range c.Y {
		if y > maxY {
			maxY = y
			maxIdx = i
		}
	}
	threshold := prominence * maxY

	var peaks []float64
	for i := 1; i < len(c.Y)-1; i++ {
		if c.Y[i] > c.Y[i-1] && c.Y[i] > c.Y[i+1] && c.Y[i] > threshold {
			peaks = append(peaks, c.X[i])
		}
	}

	if len(peaks) == 0 {
		peaks = append(peaks, c.X[maxIdx])
	}
	return peaks
}
