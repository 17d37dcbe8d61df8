package outlier

import (
	"sort"

	"github.com/cytolabs/flowqc/peaks"
	"github.com/cytolabs/flowqc/qcerr"
	"github.com/cytolabs/flowqc/stats"
)

// MADConfig controls the robust per-channel confirmation pass.
type MADConfig struct {
	// Threshold is the number of scaled MADs a bin's representative peak
	// may deviate from the channel median before it is flagged.
	Threshold float64

	// SmoothParam controls the local smoothing applied to the peak
	// trajectory before the median/MAD statistics; 0 disables smoothing.
	SmoothParam float64
}

// DefaultMADConfig returns the standard MAD settings.
func DefaultMADConfig() MADConfig {
	return MADConfig{Threshold: 6.0, SmoothParam: 0.5}
}

// MADResult holds the per-bin verdict and each channel's share of it.
type MADResult struct {
	OutlierBins []bool

	// Contribution maps channel name to the percentage of bins that
	// channel flagged. Channels that contributed nothing report 0.
	Contribution map[string]float64
}

// DetectMAD flags bins whose representative peak value deviates more than
// Threshold scaled MADs from the channel's own median. The statistics are
// computed over every bin with data, but a bin is only flagged when
// eligible[bin] is true — in combined mode the eligible set is the
// isolation stage's outliers, so this pass confirms and attributes them to
// specific channels rather than discovering new ones.
//
// Channels with fewer than three valid bins, or a zero MAD, contribute
// nothing; that is recorded as a 0% contribution, not an error.
func DetectMAD(peakResults map[string]*peaks.ChannelPeakFrame, eligible []bool, nBins int, cfg MADConfig) (*MADResult, error) {
	if len(peakResults) == 0 {
		return nil, qcerr.ErrNoPeaks
	}

	outliers := make([]bool, nBins)
	contribution := make(map[string]float64, len(peakResults))

	channels := make([]string, 0, len(peakResults))
	for name := range peakResults {
		channels = append(channels, name)
	}
	sort.Strings(channels)

	for _, channel := range channels {
		frame := peakResults[channel]

		// Representative peak per bin: the median when several clusters
		// peak in the same bin.
		byBin := map[int][]float64{}
		for _, p := range frame.Peaks {
			if p.Bin < nBins {
				byBin[p.Bin] = append(byBin[p.Bin], p.Value)
			}
		}

		binIdx := make([]int, 0, len(byBin))
		for bin := range byBin {
			binIdx = append(binIdx, bin)
		}
		sort.Ints(binIdx)

		if len(binIdx) < 3 {
			contribution[channel] = 0
			continue
		}

		trajectory := make([]float64, len(binIdx))
		for i, bin := range binIdx {
			vals := byBin[bin]
			if len(vals) == 1 {
				trajectory[i] = vals[0]
				continue
			}
			med, err := stats.Median(vals)
			if err != nil {
				return nil, err
			}
			trajectory[i] = med
		}

		smoothed := smoothTrajectory(trajectory, cfg.SmoothParam)

		median, mad, err := stats.MedianMADScaled(smoothed)
		if err != nil {
			return nil, err
		}
		if mad == 0 {
			contribution[channel] = 0
			continue
		}

		upper := median + cfg.Threshold*mad
		lower := median - cfg.Threshold*mad

		flagged := 0
		for i, v := range smoothed {
			bin := binIdx[i]
			if v <= upper && v >= lower {
				continue
			}
			if bin < len(eligible) && !eligible[bin] {
				continue
			}
			outliers[bin] = true
			flagged++
		}
		contribution[channel] = float64(flagged) / float64(nBins) * 100
	}

	return &MADResult{OutlierBins: outliers, Contribution: contribution}, nil
}

// smoothTrajectory applies local triangular-kernel smoothing to the peak
// trajectory. The window scales with both the series length and the
// smoothing parameter; short series pass through untouched.
func smoothTrajectory(values []float64, param float64) []float64 {
	n := len(values)
	if n < 4 || param <= 0 {
		out := make([]float64, n)
		copy(out, values)
		return out
	}

	halfWindow := int(float64(n) * param * 0.5)
	if halfWindow < 1 {
		halfWindow = 1
	}
	if halfWindow > n/4 {
		halfWindow = n / 4
	}

	smoothed := make([]float64, n)
	for i := range values {
		start := i - halfWindow
		if start < 0 {
			start = 0
		}
		end := i + halfWindow + 1
		if end > n {
			end = n
		}

		var sumW, sum float64
		for j := start; j < end; j++ {
			dist := float64(i - j)
			if dist < 0 {
				dist = -dist
			}
			w := 1 - dist/float64(halfWindow+1)
			if w < 0 {
				w = 0
			}
			sumW += w
			sum += w * values[j]
		}
		if sumW > 0 {
			smoothed[i] = sum / sumW
		} else {
			smoothed[i] = values[i]
		}
	}
	return smoothed
}
