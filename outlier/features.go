// Package outlier scores time bins for anomalies: an ensemble
// isolation-forest detector over a bin-by-feature matrix, a per-channel
// MAD confirmation pass, and a consecutive-run filter that denoises the
// combined bin verdict.
package outlier

import (
	"fmt"
	"sort"

	"github.com/cytolabs/flowqc/peaks"
	"github.com/cytolabs/flowqc/qcerr"
	"github.com/cytolabs/flowqc/stats"
)

// FeatureMatrix is the dense nBins-by-nFeatures input to the isolation
// forest. One column per (channel, cluster) pair; Names holds
// "{channel}_cluster_{id}" per column.
type FeatureMatrix struct {
	Rows  [][]float64
	Names []string
}

// NBins returns the number of rows.
func (m *FeatureMatrix) NBins() int { return len(m.Rows) }

// NFeatures returns the number of columns.
func (m *FeatureMatrix) NFeatures() int { return len(m.Names) }

// BuildFeatureMatrix assembles one row per bin and one column per
// (channel, cluster) pair. Column order is deterministic: channels sorted
// lexicographically, clusters by id within a channel. Every cell of a
// column starts as the cluster's median peak value, then cells with an
// observed peak are overwritten — the imputation biases missing bins
// toward "normal" so only genuine deviations get flagged.
func BuildFeatureMatrix(peakResults map[string]*peaks.ChannelPeakFrame, nBins int) (*FeatureMatrix, error) {
	if len(peakResults) == 0 {
		return nil, qcerr.ErrNoPeaks
	}
	if nBins == 0 {
		return nil, qcerr.Configf("feature matrix needs at least one bin")
	}

	channels := make([]string, 0, len(peakResults))
	for name := range peakResults {
		channels = append(channels, name)
	}
	sort.Strings(channels)

	type column struct {
		name  string
		cells []peaks.PeakInfo
	}
	var columns []column

	for _, channel := range channels {
		frame := peakResults[channel]

		byCluster := map[int][]peaks.PeakInfo{}
		for _, p := range frame.Peaks {
			byCluster[p.Cluster] = append(byCluster[p.Cluster], p)
		}

		ids := make([]int, 0, len(byCluster))
		for id := range byCluster {
			ids = append(ids, id)
		}
		sort.Ints(ids)

		for _, id := range ids {
			columns = append(columns, column{
				name:  fmt.Sprintf("%s_cluster_%d", channel, id),
				cells: byCluster[id],
			})
		}
	}

	rows := make([][]float64, nBins)
	for i := range rows {
		rows[i] = make([]float64, len(columns))
	}
	names := make([]string, len(columns))

	for col, c := range columns {
		names[col] = c.name

		values := make([]float64, len(c.cells))
		for i, p := range c.cells {
			values[i] = p.Value
		}
		med, err := stats.Median(values)
		if err != nil {
			return nil, err
		}

		for bin := 0; bin < nBins; bin++ {
			rows[bin][col] = med
		}
		for _, p := range c.cells {
			if p.Bin < nBins {
				rows[p.Bin][col] = p.Value
			}
		}
	}

	return &FeatureMatrix{Rows: rows, Names: names}, nil
}
