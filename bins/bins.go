// Package bins partitions an event stream into overlapping index windows
// and maps bin-level verdicts back to per-event masks.
//
// Windows advance by half their width, so adjacent bins share 50% of their
// events. The trailing window is clamped so its end equals the event count
// exactly, which means it may be shorter than the others.
package bins

import (
	"math"

	"github.com/cytolabs/flowqc/qcerr"
)

// Range is a half-open [Start, End) index window over event indices.
type Range struct {
	Start int
	End   int
}

// Len returns the number of events covered by the window.
func (r Range) Len() int {
	return r.End - r.Start
}

// CreateBreaks computes the overlapping windows for nEvents events with
// eventsPerBin events per window. Both arguments must be positive.
func CreateBreaks(nEvents, eventsPerBin int) ([]Range, error) {
	if nEvents == 0 {
		return nil, qcerr.Configf("cannot bin an empty event stream")
	}
	if eventsPerBin == 0 {
		return nil, qcerr.Configf("events per bin must be positive")
	}

	overlap := (eventsPerBin + 1) / 2
	step := eventsPerBin - overlap
	if step == 0 {
		// eventsPerBin == 1: degenerate but valid, one bin per event.
		step = 1
	}

	var breaks []Range
	for start := 0; start < nEvents; start += step {
		end := start + eventsPerBin
		if end > nEvents {
			end = nEvents
		}
		breaks = append(breaks, Range{Start: start, End: end})
	}
	return breaks, nil
}

// EventsPerBin computes the bin size for a run: large enough that the bin
// count stays under maxBins (accounting for the 50% overlap doubling the
// bin count), rounded up to the next multiple of step, and never below
// minCells.
func EventsPerBin(nEvents, minCells, maxBins, step int) int {
	maxCells := int(math.Ceil(float64(nEvents) / float64(maxBins) * 2))
	maxCells = (maxCells/step)*step + step
	if maxCells < minCells {
		return minCells
	}
	return maxCells
}

// GoodEventMask projects bin-level outlier verdicts down to events. Because
// bins overlap, an event belongs to up to two bins; it is kept only when
// none of its covering bins is an outlier.
func GoodEventMask(outlierBins []bool, breaks []Range, nEvents int) []bool {
	good := make([]bool, nEvents)
	for i := range good {
		good[i] = true
	}
	for binIdx, bad := range outlierBins {
		if !bad || binIdx >= len(breaks) {
			continue
		}
		r := breaks[binIdx]
		for i := r.Start; i < r.End && i < nEvents; i++ {
			good[i] = false
		}
	}
	return good
}
