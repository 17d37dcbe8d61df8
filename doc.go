// Package flowqc detects and removes temporal anomalies in flow
// cytometry data: clogs, speed changes, and signal drift that corrupt
// stretches of an acquisition.
//
// The pipeline partitions events into overlapping time bins, estimates
// per-bin signal densities with an FFT-accelerated kernel density
// estimator, tracks density peak positions across bins, and flags bins
// whose peak trajectories are anomalous using an isolation forest
// confirmed by a median absolute deviation test. Flagged bins are
// smoothed into contiguous regions and projected back onto events.
//
// Typical use:
//
//	cfg := flowqc.DefaultConfig()
//	res, err := flowqc.Run(ctx, src, cfg, flowqc.WithLogger(logger))
//	if err != nil {
//		return err
//	}
//	keep := res.GoodCells
//
// Reading FCS files, compensation, and transformation are out of scope;
// callers supply data through the EventSource interface.
package flowqc
