package flowqc

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cytolabs/flowqc/bins"
	"github.com/cytolabs/flowqc/density"
	"github.com/cytolabs/flowqc/internal/audit"
	"github.com/cytolabs/flowqc/internal/qcmetrics"
	"github.com/cytolabs/flowqc/outlier"
	"github.com/cytolabs/flowqc/peaks"
	"github.com/cytolabs/flowqc/qcerr"
)

// binStep is the granularity automatic bin sizing rounds to.
const binStep = 500

// highRemovalWarnPercent is the removal share above which a run is
// logged as suspicious. Such runs usually indicate a bad acquisition
// or misconfigured channels rather than a few anomalous bins.
const highRemovalWarnPercent = 70.0

// Option customizes a QC run.
type Option func(*runOptions)

type runOptions struct {
	logger  *zap.Logger
	audit   *audit.Logger
	backend density.Backend
	gpu     *density.GPUContext
}

// WithLogger attaches a structured logger to the run. Without it the
// run is silent.
func WithLogger(logger *zap.Logger) Option {
	return func(o *runOptions) { o.logger = logger }
}

// WithAudit records run lifecycle events to the given audit logger.
func WithAudit(a *audit.Logger) Option {
	return func(o *runOptions) { o.audit = a }
}

// WithDensityBackend overrides the spectrum-multiply backend, mainly
// for tests.
func WithDensityBackend(b density.Backend) Option {
	return func(o *runOptions) { o.backend = b }
}

// WithGPUContext reuses an existing GPU context across runs instead of
// creating one per run when cfg.GPU is set.
func WithGPUContext(g *density.GPUContext) Option {
	return func(o *runOptions) { o.gpu = g }
}

// Run executes the full QC pipeline on src: time binning, per-channel
// density peak detection, outlier detection per cfg.Mode, short-region
// smoothing, and projection back to a per-event mask.
//
// Detector failures on individual channels skip the channel; Run
// returns an error only for invalid configuration, unusable sources,
// cancellation, or when no channel yields any peak structure.
func Run(ctx context.Context, src EventSource, cfg Config, options ...Option) (*Result, error) {
	opts := runOptions{logger: zap.NewNop()}
	for _, opt := range options {
		opt(&opts)
	}
	logger := opts.logger

	if err := cfg.Validate(); err != nil {
		qcmetrics.RunsTotal.WithLabelValues(string(cfg.Mode), "invalid").Inc()
		return nil, err
	}
	if src == nil {
		return nil, qcerr.Configf("event source is required")
	}

	runID := uuid.NewString()
	logger = logger.With(zap.String("run_id", runID))
	started := time.Now()

	nEvents := src.NEvents()
	if nEvents == 0 {
		return nil, &qcerr.InsufficientDataError{Min: 1, Actual: 0}
	}

	channelNames := cfg.Channels
	if len(channelNames) == 0 {
		channelNames = FluorescenceChannels(src.ChannelNames())
	}
	if len(channelNames) == 0 {
		return nil, qcerr.Configf("no channels to analyze")
	}

	opts.audit.Record(runID, audit.EventRunStarted,
		zap.String("mode", string(cfg.Mode)),
		zap.Int("events", nEvents),
		zap.Strings("channels", channelNames),
	)

	res, err := run(ctx, src, cfg, opts, logger, runID, nEvents, channelNames)
	if err != nil {
		qcmetrics.RunsTotal.WithLabelValues(string(cfg.Mode), "error").Inc()
		opts.audit.Record(runID, audit.EventRunFailed, zap.Error(err))
		logger.Error("qc run failed", zap.Error(err))
		return nil, err
	}

	qcmetrics.RunsTotal.WithLabelValues(string(cfg.Mode), "ok").Inc()
	qcmetrics.EventsRemoved.Add(float64(res.BadCells()))
	opts.audit.Record(runID, audit.EventRunCompleted,
		zap.Float64("percentage_removed", res.PercentageRemoved),
		zap.Int("bins", res.NBins),
		zap.Duration("elapsed", time.Since(started)),
	)
	logger.Info("qc run completed",
		zap.Float64("percentage_removed", res.PercentageRemoved),
		zap.Int("bins", res.NBins),
		zap.Int("events_per_bin", res.EventsPerBin),
		zap.Duration("elapsed", time.Since(started)),
	)
	if res.PercentageRemoved > highRemovalWarnPercent {
		logger.Warn("more than 70% of events removed, check the sample and parameters",
			zap.Float64("percentage_removed", res.PercentageRemoved))
	}
	return res, nil
}

func run(ctx context.Context, src EventSource, cfg Config, opts runOptions, logger *zap.Logger, runID string, nEvents int, channelNames []string) (*Result, error) {
	eventsPerBin := cfg.EventsPerBin
	if eventsPerBin == 0 {
		eventsPerBin = bins.EventsPerBin(nEvents, cfg.MinCells, cfg.MaxBins, binStep)
	}
	breaks, err := bins.CreateBreaks(nEvents, eventsPerBin)
	if err != nil {
		return nil, err
	}
	nBins := len(breaks)
	logger.Debug("bins created", zap.Int("bins", nBins), zap.Int("events_per_bin", eventsPerBin))

	channels := make(map[string][]float64, len(channelNames))
	for _, name := range channelNames {
		data, err := src.Channel(name)
		if err != nil {
			return nil, fmt.Errorf("loading channel %s: %w", name, err)
		}
		if len(data) != nEvents {
			return nil, qcerr.Statsf("load", "channel %s has %d values, expected %d", name, len(data), nEvents)
		}
		channels[name] = data
	}

	gpu := opts.gpu
	if cfg.GPU && gpu == nil {
		gpu, err = density.NewGPUContext()
		if err != nil {
			logger.Warn("gpu unavailable, using cpu backend", zap.Error(err))
			opts.audit.Record(runID, audit.EventGPUDegraded, zap.Error(err))
			gpu = nil
		} else {
			defer gpu.Close()
		}
	}
	backend := opts.backend
	if backend == nil {
		backend = density.SelectBackend(gpu, logger)
	}

	peakCfg := peaks.Config{
		PeakRemoval:      cfg.PeakRemoval,
		MinBinsPercent:   cfg.MinBinsPeakDetection,
		RemoveZeros:      cfg.RemoveZeros,
		GridSize:         cfg.GridSize,
		ClusterTolerance: cfg.ClusterTolerance,
		Workers:          cfg.Workers,
		Backend:          backend,
		GPU:              gpu,
	}

	peakStart := time.Now()
	peakResults, err := peaks.DetectAll(ctx, channels, breaks, peakCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("peak detection: %w", err)
	}
	qcmetrics.StageDuration.WithLabelValues("peaks").Observe(time.Since(peakStart).Seconds())
	opts.audit.Record(runID, audit.EventStageCompleted,
		zap.String("stage", "peaks"),
		zap.Int("channels_with_peaks", len(peakResults)),
	)

	skipped := make(map[string]string)
	for _, name := range channelNames {
		if _, ok := peakResults[name]; !ok {
			skipped[name] = "insufficient peak structure"
			opts.audit.Record(runID, audit.EventChannelSkipped,
				zap.String("channel", name),
				zap.String("reason", skipped[name]),
			)
		}
	}
	if len(peakResults) == 0 {
		return nil, qcerr.ErrNoPeaks
	}

	res := &Result{
		RunID:           runID,
		Peaks:           peakResults,
		SkippedChannels: skipped,
		NBins:           nBins,
		EventsPerBin:    eventsPerBin,
		MADContribution: map[string]float64{},
	}

	combined := make([]bool, nBins)
	runIT := cfg.Mode == ModeAll || cfg.Mode == ModeIsolationTree
	runMAD := cfg.Mode == ModeAll || cfg.Mode == ModeMAD

	itSkipped := false
	if runIT && nBins < cfg.ForceIT {
		itSkipped = true
		runIT = false
		logger.Info("isolation tree skipped, too few bins",
			zap.Int("bins", nBins), zap.Int("required", cfg.ForceIT))
		opts.audit.Record(runID, audit.EventStageCompleted,
			zap.String("stage", "isolation_tree"),
			zap.String("status", "skipped"),
			zap.Int("bins", nBins),
		)
	}

	var itBins []bool
	if runIT {
		features, err := outlier.BuildFeatureMatrix(peakResults, nBins)
		if err != nil {
			return nil, fmt.Errorf("feature matrix: %w", err)
		}

		itStart := time.Now()
		forest, err := outlier.DetectIsolation(features, outlier.ForestConfig{
			Trees:         cfg.ITTrees,
			SubsampleSize: cfg.ITSubsample,
			Limit:         cfg.ITLimit,
			Seed:          cfg.Seed,
		})
		if err != nil {
			return nil, fmt.Errorf("isolation tree: %w", err)
		}
		qcmetrics.StageDuration.WithLabelValues("isolation_tree").Observe(time.Since(itStart).Seconds())

		itBins = forest.OutlierBins
		pct := percentTrue(itBins)
		res.ITPercentage = &pct
		qcmetrics.BinsFlagged.WithLabelValues("isolation_tree").Add(float64(countTrue(itBins)))
		opts.audit.Record(runID, audit.EventStageCompleted,
			zap.String("stage", "isolation_tree"),
			zap.Float64("percentage", pct),
		)

		for i, bad := range itBins {
			if bad {
				combined[i] = true
			}
		}
	}

	if runMAD {
		// In the combined mode MAD confirms and attributes what the
		// isolation tree flagged; when the tree did not run, every bin
		// is eligible.
		eligible := make([]bool, nBins)
		if cfg.Mode == ModeAll && !itSkipped {
			copy(eligible, itBins)
		} else {
			for i := range eligible {
				eligible[i] = true
			}
		}

		madStart := time.Now()
		madRes, err := outlier.DetectMAD(peakResults, eligible, nBins, outlier.MADConfig{
			Threshold:   cfg.MADThreshold,
			SmoothParam: cfg.SmoothParam,
		})
		if err != nil {
			return nil, fmt.Errorf("mad detection: %w", err)
		}
		qcmetrics.StageDuration.WithLabelValues("mad").Observe(time.Since(madStart).Seconds())

		pct := percentTrue(madRes.OutlierBins)
		res.MADPercentage = &pct
		res.MADContribution = madRes.Contribution
		qcmetrics.BinsFlagged.WithLabelValues("mad").Add(float64(countTrue(madRes.OutlierBins)))
		opts.audit.Record(runID, audit.EventStageCompleted,
			zap.String("stage", "mad"),
			zap.Float64("percentage", pct),
		)

		for i, bad := range madRes.OutlierBins {
			if bad {
				combined[i] = true
			}
		}
	}

	smoothed := outlier.RemoveShortRegions(combined, cfg.ConsecutiveBins)
	flipped := 0
	for i := range smoothed {
		if smoothed[i] && !combined[i] {
			flipped++
		}
	}
	res.ConsecutivePercentage = float64(flipped) / float64(nBins) * 100
	qcmetrics.BinsFlagged.WithLabelValues("consecutive").Add(float64(flipped))

	res.GoodCells = bins.GoodEventMask(smoothed, breaks, nEvents)
	res.PercentageRemoved = float64(nEvents-countTrue(res.GoodCells)) / float64(nEvents) * 100
	return res, nil
}

func countTrue(mask []bool) int {
	n := 0
	for _, v := range mask {
		if v {
			n++
		}
	}
	return n
}

func percentTrue(mask []bool) float64 {
	if len(mask) == 0 {
		return 0
	}
	return float64(countTrue(mask)) / float64(len(mask)) * 100
}
