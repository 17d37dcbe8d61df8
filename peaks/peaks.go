// Package peaks runs per-channel density peak detection across time bins
// and tracks peak "populations" across bins via greedy clustering.
//
// Each bin of a channel gets its own density estimate; local maxima above a
// prominence threshold become peaks. Peaks are then clustered across bins
// by value proximity so that the same population keeps one cluster id for
// the whole run. Channels are independent and are processed in parallel
// unless a GPU context is in play (its kernel-spectrum cache is single
// threaded by contract, so batched GPU runs go through one context
// sequentially).
package peaks

import (
	"context"
	"math"
	"runtime"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cytolabs/flowqc/bins"
	"github.com/cytolabs/flowqc/density"
)

// PeakInfo is one detected local-density maximum for one channel in one
// bin. Cluster ids are 1-based and shared across bins for the same channel.
type PeakInfo struct {
	Bin     int
	Value   float64
	Cluster int
}

// ChannelPeakFrame holds all peaks for one channel across all bins,
// ordered by bin index.
type ChannelPeakFrame struct {
	Peaks []PeakInfo
}

// Clusters returns the distinct cluster ids present in the frame, sorted.
func (f *ChannelPeakFrame) Clusters() []int {
	seen := map[int]bool{}
	for _, p := range f.Peaks {
		seen[p.Cluster] = true
	}
	ids := make([]int, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Config controls peak detection.
type Config struct {
	// PeakRemoval is the minimum peak height as a fraction of the maximum
	// density in the bin.
	PeakRemoval float64

	// MinBinsPercent is the minimum percentage of bins that must produce at
	// least one peak for a channel to be considered at all. Below the
	// threshold the channel is skipped and recorded, not failed.
	MinBinsPercent float64

	// RemoveZeros drops exact zeros from a bin before density estimation.
	RemoveZeros bool

	// GridSize is the density grid resolution per bin.
	GridSize int

	// ClusterTolerance is the greedy-assignment window as a fraction of the
	// channel's value range: a peak joins the nearest cluster only when its
	// running mean is within tolerance, otherwise it starts a new cluster.
	ClusterTolerance float64

	// Workers bounds channel-level parallelism. Zero means NumCPU.
	Workers int

	// Backend selects the spectrum-multiply implementation. Nil means CPU.
	Backend density.Backend

	// GPU, when set, forces sequential processing through one shared
	// context so the kernel-spectrum cache is reused across channels.
	GPU *density.GPUContext
}

// DefaultConfig returns the standard peak detection settings.
func DefaultConfig() Config {
	return Config{
		PeakRemoval:      1.0 / 3.0,
		MinBinsPercent:   10.0,
		GridSize:         512,
		ClusterTolerance: 0.1,
	}
}

// DetectAll runs peak detection for every named channel. Channels that
// produce no usable peaks are absent from the result; the caller decides
// whether an empty result is fatal.
func DetectAll(ctx context.Context, channels map[string][]float64, breaks []bins.Range, cfg Config, logger *zap.Logger) (map[string]*ChannelPeakFrame, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	names := make([]string, 0, len(channels))
	for name := range channels {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make(map[string]*ChannelPeakFrame, len(channels))

	if cfg.GPU != nil {
		// Batched mode: one context, reused sequentially, so the device and
		// kernel-spectrum setup cost is paid once per configuration.
		est, err := density.NewEstimator(cfg.GridSize, 1.0, cfg.Backend, cfg.GPU)
		if err != nil {
			return nil, err
		}
		for _, name := range names {
			frame, err := detectChannel(ctx, channels[name], breaks, cfg, est)
			if err != nil {
				return nil, err
			}
			recordChannel(results, name, frame, logger)
		}
		return results, nil
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, name := range names {
		name := name
		g.Go(func() error {
			est, err := density.NewEstimator(cfg.GridSize, 1.0, cfg.Backend, nil)
			if err != nil {
				return err
			}
			frame, err := detectChannel(gctx, channels[name], breaks, cfg, est)
			if err != nil {
				return err
			}
			mu.Lock()
			recordChannel(results, name, frame, logger)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func recordChannel(results map[string]*ChannelPeakFrame, name string, frame *ChannelPeakFrame, logger *zap.Logger) {
	if frame == nil {
		logger.Debug("channel produced no usable peaks", zap.String("channel", name))
		return
	}
	logger.Debug("channel peaks detected",
		zap.String("channel", name),
		zap.Int("peaks", len(frame.Peaks)),
		zap.Int("clusters", len(frame.Clusters())),
	)
	results[name] = frame
}

// detectChannel returns nil (no error) when the channel yields no usable
// peak structure: too few peaked bins, or every cluster pruned.
func detectChannel(ctx context.Context, data []float64, breaks []bins.Range, cfg Config, est *density.Estimator) (*ChannelPeakFrame, error) {
	nBins := len(breaks)
	binPeaks := make([][]float64, nBins)
	binsWithPeaks := 0

	for i, r := range breaks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		end := r.End
		if end > len(data) {
			end = len(data)
		}
		if r.Start >= end {
			continue
		}
		binData := data[r.Start:end]

		if cfg.RemoveZeros {
			filtered := make([]float64, 0, len(binData))
			for _, v := range binData {
				if v != 0 {
					filtered = append(filtered, v)
				}
			}
			binData = filtered
		}
		if len(binData) < 3 {
			continue
		}

		curve, err := est.Estimate(ctx, binData)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// Degenerate bins (identical values, zero bandwidth) simply
			// contribute no peaks.
			continue
		}

		found := curve.FindPeaks(cfg.PeakRemoval)
		sort.Float64s(found)
		binPeaks[i] = found
		if len(found) > 0 {
			binsWithPeaks++
		}
	}

	minBins := int(math.Ceil(cfg.MinBinsPercent / 100 * float64(nBins)))
	if binsWithPeaks < minBins || binsWithPeaks == 0 {
		return nil, nil
	}

	all := clusterPeaks(binPeaks, clusterWindow(data, cfg.ClusterTolerance))
	all = pruneSmallClusters(all, nBins)
	if len(all) == 0 {
		return nil, nil
	}
	return &ChannelPeakFrame{Peaks: all}, nil
}

// clusterWindow derives the absolute assignment tolerance from the
// channel's finite value range.
func clusterWindow(data []float64, fraction float64) float64 {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if hi <= lo {
		return math.SmallestNonzeroFloat64
	}
	return fraction * (hi - lo)
}

type runningCluster struct {
	id    int
	sum   float64
	count int
}

func (c *runningCluster) mean() float64 { return c.sum / float64(c.count) }

// clusterPeaks assigns peaks to clusters greedily, bin by bin: each peak
// joins the cluster whose running mean is nearest if within the tolerance
// window, otherwise it starts a new cluster.
func clusterPeaks(binPeaks [][]float64, window float64) []PeakInfo {
	var clusters []*runningCluster
	var all []PeakInfo

	for bin, values := range binPeaks {
		for _, v := range values {
			var best *runningCluster
			bestDist := math.Inf(1)
			for _, c := range clusters {
				d := math.Abs(c.mean() - v)
				if d < bestDist {
					bestDist = d
					best = c
				}
			}

			if best == nil || bestDist > window {
				best = &runningCluster{id: len(clusters) + 1}
				clusters = append(clusters, best)
			}
			best.sum += v
			best.count++

			all = append(all, PeakInfo{Bin: bin, Value: v, Cluster: best.id})
		}
	}
	return all
}

// pruneSmallClusters drops clusters present in fewer than half the bins;
// transient populations carry no stability signal.
func pruneSmallClusters(all []PeakInfo, nBins int) []PeakInfo {
	binsPerCluster := map[int]map[int]bool{}
	for _, p := range all {
		if binsPerCluster[p.Cluster] == nil {
			binsPerCluster[p.Cluster] = map[int]bool{}
		}
		binsPerCluster[p.Cluster][p.Bin] = true
	}

	minBins := (nBins + 1) / 2
	kept := all[:0]
	for _, p := range all {
		if len(binsPerCluster[p.Cluster]) >= minBins {
			kept = append(kept, p)
		}
	}
	return kept
}
