package flowqc

import "github.com/cytolabs/flowqc/peaks"

// Result reports everything a QC run determined about a sample.
type Result struct {
	// RunID correlates log and audit lines for this run.
	RunID string

	// GoodCells marks, per event in acquisition order, whether the
	// event survived QC. An event is removed when any bin covering it
	// was flagged.
	GoodCells []bool

	// PercentageRemoved is the share of events with GoodCells false,
	// in percent.
	PercentageRemoved float64

	// ITPercentage is the share of bins the isolation tree flagged.
	// Nil when the detector did not run.
	ITPercentage *float64

	// MADPercentage is the share of bins the MAD detector flagged.
	// Nil when the detector did not run.
	MADPercentage *float64

	// ConsecutivePercentage is the share of bins flipped to bad by the
	// short-region filter.
	ConsecutivePercentage float64

	// MADContribution gives, per analyzed channel, the percentage of
	// bins that channel flagged under the MAD test.
	MADContribution map[string]float64

	// Peaks holds the detected density peaks per channel that passed
	// the peak-detection gate.
	Peaks map[string]*peaks.ChannelPeakFrame

	// SkippedChannels lists channels excluded from outlier detection,
	// mapped to the reason.
	SkippedChannels map[string]string

	// NBins and EventsPerBin describe the binning actually used.
	NBins        int
	EventsPerBin int
}

// BadCells reports the number of events removed by QC.
func (r *Result) BadCells() int {
	n := 0
	for _, good := range r.GoodCells {
		if !good {
			n++
		}
	}
	return n
}
