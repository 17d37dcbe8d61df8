// Package stats provides the robust statistics used by the QC pipeline:
// medians, median absolute deviation, sample standard deviation and
// quantiles. MAD values can be scaled by 1.4826 so they are comparable to a
// standard deviation under normality, matching the convention of standard
// statistical environments.
package stats

import (
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/cytolabs/flowqc/qcerr"
)

// MADScaleFactor makes MAD consistent with the standard deviation for
// normally distributed data: 1 / qnorm(3/4).
const MADScaleFactor = 1.4826

// Median returns the median of data. The input is not modified.
func Median(data []float64) (float64, error) {
	if len(data) == 0 {
		return 0, qcerr.Statsf("median", "empty input")
	}

	sorted := make([]float64, len(data))
	copy(sorted, data)
	sort.Float64s(sorted)

	n := len(sorted)
	if n%2 == 0 {
		return (sorted[n/2-1] + sorted[n/2]) / 2, nil
	}
	return sorted[n/2], nil
}

// MedianMAD returns the median and the raw (unscaled) median absolute
// deviation of data.
func MedianMAD(data []float64) (median, mad float64, err error) {
	median, err = Median(data)
	if err != nil {
		return 0, 0, err
	}

	devs := make([]float64, len(data))
	for i, x := range data {
		devs[i] = x - median
		if devs[i] < 0 {
			devs[i] = -devs[i]
		}
	}

	mad, err = Median(devs)
	if err != nil {
		return 0, 0, err
	}
	return median, mad, nil
}

// MedianMADScaled returns the median and the MAD scaled by MADScaleFactor.
func MedianMADScaled(data []float64) (median, mad float64, err error) {
	median, mad, err = MedianMAD(data)
	if err != nil {
		return 0, 0, err
	}
	return median, mad * MADScaleFactor, nil
}

// SampleSD returns the sample standard deviation (n-1 denominator).
// Returns 0 for fewer than two values.
func SampleSD(data []float64) float64 {
	if len(data) < 2 {
		return 0
	}
	return stat.StdDev(data, nil)
}

// IQR returns the interquartile range of data. For very small inputs the
// full range is returned instead.
func IQR(data []float64) (float64, error) {
	if len(data) == 0 {
		return 0, qcerr.Statsf("iqr", "empty input")
	}

	sorted := make([]float64, len(data))
	copy(sorted, data)
	sort.Float64s(sorted)

	if len(sorted) < 4 {
		return sorted[len(sorted)-1] - sorted[0], nil
	}

	q1 := stat.Quantile(0.25, stat.Empirical, sorted, nil)
	q3 := stat.Quantile(0.75, stat.Empirical, sorted, nil)
	return q3 - q1, nil
}
