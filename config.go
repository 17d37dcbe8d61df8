package flowqc

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/cytolabs/flowqc/peaks"
	"github.com/cytolabs/flowqc/qcerr"
)

// QCMode selects which outlier detectors contribute to the final
// verdict.
type QCMode string

const (
	// ModeAll runs the isolation tree first and uses MAD to confirm
	// and attribute its findings.
	ModeAll QCMode = "all"
	// ModeIsolationTree runs only the isolation tree detector.
	ModeIsolationTree QCMode = "IT"
	// ModeMAD runs only the MAD detector.
	ModeMAD QCMode = "MAD"
	// ModeNone computes bins and peaks but flags nothing.
	ModeNone QCMode = "none"
)

// Config holds all tunable parameters of a QC run. The zero value is
// not usable; start from DefaultConfig.
type Config struct {
	// Channels to analyze. Empty means all fluorescence channels of
	// the source.
	Channels []string `mapstructure:"channels"`

	// Mode selects the detector combination.
	Mode QCMode `mapstructure:"determine_good_cells"`

	// MADThreshold is the number of scaled MADs a bin statistic may
	// deviate from its channel median before the bin is flagged.
	MADThreshold float64 `mapstructure:"mad"`

	// ITLimit is the isolation forest anomaly score above which a bin
	// is flagged.
	ITLimit float64 `mapstructure:"it_limit"`

	// ConsecutiveBins is the minimum run length of good bins between
	// flagged regions. Shorter interior runs are absorbed.
	ConsecutiveBins int `mapstructure:"consecutive_bins"`

	// MinCells is the lower bound on events per bin.
	MinCells int `mapstructure:"min_cells"`

	// MaxBins caps the number of bins when sizing them automatically.
	MaxBins int `mapstructure:"max_bins"`

	// EventsPerBin fixes the bin size. Zero means derive it from
	// MinCells and MaxBins.
	EventsPerBin int `mapstructure:"events_per_bin"`

	// ForceIT is the minimum bin count required to run the isolation
	// tree. Below it the detector is skipped.
	ForceIT int `mapstructure:"force_it"`

	// PeakRemoval is the prominence fraction below which density peaks
	// are discarded.
	PeakRemoval float64 `mapstructure:"remove_peaks_below"`

	// MinBinsPeakDetection is the percentage of bins that must show
	// peaks for a channel to participate in outlier detection.
	MinBinsPeakDetection float64 `mapstructure:"min_nr_bins_peakdetection"`

	// ClusterTolerance is the peak clustering window as a fraction of
	// the channel's value range.
	ClusterTolerance float64 `mapstructure:"cluster_tolerance"`

	// RemoveZeros drops exact-zero values before density estimation.
	RemoveZeros bool `mapstructure:"remove_zeros"`

	// SmoothParam controls trajectory smoothing ahead of the MAD test.
	// Zero disables smoothing.
	SmoothParam float64 `mapstructure:"smooth_param"`

	// Seed makes the isolation forest deterministic.
	Seed int64 `mapstructure:"seed"`

	// ITTrees and ITSubsample size the isolation forest ensemble.
	ITTrees     int `mapstructure:"it_trees"`
	ITSubsample int `mapstructure:"it_subsample"`

	// GridSize is the density estimation grid resolution.
	GridSize int `mapstructure:"grid_size"`

	// Workers bounds channel-level parallelism. Zero means one worker
	// per channel.
	Workers int `mapstructure:"workers"`

	// GPU requests the GPU density backend when available.
	GPU bool `mapstructure:"gpu"`
}

// DefaultConfig returns the standard QC parameters.
func DefaultConfig() Config {
	pd := peaks.DefaultConfig()
	return Config{
		Mode:                 ModeAll,
		MADThreshold:         6.0,
		ITLimit:              0.6,
		ConsecutiveBins:      5,
		MinCells:             150,
		MaxBins:              500,
		ForceIT:              150,
		PeakRemoval:          pd.PeakRemoval,
		MinBinsPeakDetection: pd.MinBinsPercent,
		ClusterTolerance:     pd.ClusterTolerance,
		SmoothParam:          0.5,
		ITTrees:              100,
		ITSubsample:          256,
		GridSize:             pd.GridSize,
	}
}

// Validate checks parameter ranges. It returns a ConfigError naming
// the first offending field.
func (c Config) Validate() error {
	switch c.Mode {
	case ModeAll, ModeIsolationTree, ModeMAD, ModeNone:
	default:
		return qcerr.Configf("determine_good_cells must be one of all, IT, MAD, none; got %q", c.Mode)
	}
	if c.MADThreshold <= 0 {
		return qcerr.Configf("mad must be positive, got %g", c.MADThreshold)
	}
	if c.ITLimit <= 0 || c.ITLimit >= 1 {
		return qcerr.Configf("it_limit must be in (0, 1), got %g", c.ITLimit)
	}
	if c.ConsecutiveBins < 1 {
		return qcerr.Configf("consecutive_bins must be at least 1, got %d", c.ConsecutiveBins)
	}
	if c.MinCells < 1 {
		return qcerr.Configf("min_cells must be at least 1, got %d", c.MinCells)
	}
	if c.MaxBins < 1 {
		return qcerr.Configf("max_bins must be at least 1, got %d", c.MaxBins)
	}
	if c.EventsPerBin < 0 {
		return qcerr.Configf("events_per_bin must not be negative, got %d", c.EventsPerBin)
	}
	if c.ForceIT < 0 {
		return qcerr.Configf("force_it must not be negative, got %d", c.ForceIT)
	}
	if c.PeakRemoval <= 0 || c.PeakRemoval >= 1 {
		return qcerr.Configf("remove_peaks_below must be in (0, 1), got %g", c.PeakRemoval)
	}
	if c.MinBinsPeakDetection < 0 || c.MinBinsPeakDetection > 100 {
		return qcerr.Configf("min_nr_bins_peakdetection must be in [0, 100], got %g", c.MinBinsPeakDetection)
	}
	if c.ClusterTolerance <= 0 || c.ClusterTolerance > 1 {
		return qcerr.Configf("cluster_tolerance must be in (0, 1], got %g", c.ClusterTolerance)
	}
	if c.SmoothParam < 0 {
		return qcerr.Configf("smooth_param must not be negative, got %g", c.SmoothParam)
	}
	if c.ITTrees < 1 {
		return qcerr.Configf("it_trees must be at least 1, got %d", c.ITTrees)
	}
	if c.ITSubsample < 2 {
		return qcerr.Configf("it_subsample must be at least 2, got %d", c.ITSubsample)
	}
	if c.GridSize < 2 {
		return qcerr.Configf("grid_size must be at least 2, got %d", c.GridSize)
	}
	if c.Workers < 0 {
		return qcerr.Configf("workers must not be negative, got %d", c.Workers)
	}
	return nil
}

// LoadConfig reads QC parameters from an optional config file plus
// FLOWQC_* environment variables, layered over DefaultConfig. path may
// be empty to use environment and defaults only.
func LoadConfig(path string) (Config, error) {
	v := viper.New()

	def := DefaultConfig()
	v.SetDefault("determine_good_cells", string(def.Mode))
	v.SetDefault("mad", def.MADThreshold)
	v.SetDefault("it_limit", def.ITLimit)
	v.SetDefault("consecutive_bins", def.ConsecutiveBins)
	v.SetDefault("min_cells", def.MinCells)
	v.SetDefault("max_bins", def.MaxBins)
	v.SetDefault("events_per_bin", def.EventsPerBin)
	v.SetDefault("force_it", def.ForceIT)
	v.SetDefault("remove_peaks_below", def.PeakRemoval)
	v.SetDefault("min_nr_bins_peakdetection", def.MinBinsPeakDetection)
	v.SetDefault("cluster_tolerance", def.ClusterTolerance)
	v.SetDefault("remove_zeros", def.RemoveZeros)
	v.SetDefault("smooth_param", def.SmoothParam)
	v.SetDefault("seed", def.Seed)
	v.SetDefault("it_trees", def.ITTrees)
	v.SetDefault("it_subsample", def.ITSubsample)
	v.SetDefault("grid_size", def.GridSize)
	v.SetDefault("workers", def.Workers)
	v.SetDefault("gpu", def.GPU)

	v.SetEnvPrefix("FLOWQC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
