package outlier

// RemoveShortRegions flips interior runs of good bins that are strictly
// shorter than minRun to bad: a handful of good bins wedged between bad
// regions is more likely noise than recovery. Runs touching either end of
// the sequence are left alone, short or not, since there is no bad region
// on that side to have isolated them.
func RemoveShortRegions(outlierBins []bool, minRun int) []bool {
	result := make([]bool, len(outlierBins))
	copy(result, outlierBins)

	i := 0
	for i < len(result) {
		if result[i] {
			i++
			continue
		}

		start := i
		for i < len(result) && !result[i] {
			i++
		}
		end := i

		if end-start < minRun && start > 0 && end < len(result) {
			for j := start; j < end; j++ {
				result[j] = true
			}
		}
	}
	return result
}
