package peaks

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/cytolabs/flowqc/bins"
)

// stableChannel generates n events around the given means with small
// noise, so every bin shows the same peak structure.
func stableChannel(rng *rand.Rand, n int, means ...float64) []float64 {
	data := make([]float64, n)
	for i := range data {
		data[i] = means[rng.Intn(len(means))] + rng.NormFloat64()*2
	}
	return data
}

func mustBreaks(t *testing.T, nEvents, eventsPerBin int) []bins.Range {
	t.Helper()
	breaks, err := bins.CreateBreaks(nEvents, eventsPerBin)
	if err != nil {
		t.Fatal(err)
	}
	return breaks
}

func TestDetectAllStablePopulations(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	const nEvents = 20_000
	channels := map[string][]float64{
		"FL1-A": stableChannel(rng, nEvents, 100),
		"FL2-A": stableChannel(rng, nEvents, 50, 200),
	}
	breaks := mustBreaks(t, nEvents, 1000)

	results, err := DetectAll(context.Background(), channels, breaks, DefaultConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}

	one, ok := results["FL1-A"]
	if !ok {
		t.Fatal("FL1-A missing from results")
	}
	if got := len(one.Clusters()); got != 1 {
		t.Errorf("FL1-A clusters = %d, want 1", got)
	}

	two, ok := results["FL2-A"]
	if !ok {
		t.Fatal("FL2-A missing from results")
	}
	if got := len(two.Clusters()); got != 2 {
		t.Errorf("FL2-A clusters = %d, want 2", got)
	}
}

func TestDetectAllPeakValuesTrackMeans(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	const nEvents = 20_000
	channels := map[string][]float64{
		"FL1-A": stableChannel(rng, nEvents, 100),
	}
	breaks := mustBreaks(t, nEvents, 1000)

	results, err := DetectAll(context.Background(), channels, breaks, DefaultConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}
	frame := results["FL1-A"]
	for _, p := range frame.Peaks {
		if math.Abs(p.Value-100) > 5 {
			t.Errorf("bin %d peak at %g, want near 100", p.Bin, p.Value)
		}
	}
}

func TestDetectAllClusterIDsStableAcrossBins(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	const nEvents = 20_000
	channels := map[string][]float64{
		"FL2-A": stableChannel(rng, nEvents, 50, 200),
	}
	breaks := mustBreaks(t, nEvents, 1000)

	results, err := DetectAll(context.Background(), channels, breaks, DefaultConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}
	frame := results["FL2-A"]

	// Every peak near 50 should carry one id, every peak near 200 the
	// other, across all bins.
	idNear := map[bool]int{}
	for _, p := range frame.Peaks {
		high := p.Value > 125
		if prev, seen := idNear[high]; seen {
			if p.Cluster != prev {
				t.Fatalf("population near %v switched cluster id: %d then %d", p.Value, prev, p.Cluster)
			}
		} else {
			idNear[high] = p.Cluster
		}
	}
	if idNear[false] == idNear[true] {
		t.Error("both populations share one cluster id")
	}
}

func TestDetectAllRemoveZeros(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	const nEvents = 20_000
	data := make([]float64, nEvents)
	for i := range data {
		// Heavy zero inflation next to a real population.
		if i%2 == 0 {
			data[i] = 0
		} else {
			data[i] = 100 + rng.NormFloat64()*2
		}
	}
	breaks := mustBreaks(t, nEvents, 1000)

	cfg := DefaultConfig()
	cfg.RemoveZeros = true
	results, err := DetectAll(context.Background(), map[string][]float64{"FL1-A": data}, breaks, cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	frame, ok := results["FL1-A"]
	if !ok {
		t.Fatal("channel missing")
	}
	for _, p := range frame.Peaks {
		if p.Value < 50 {
			t.Fatalf("zero spike survived as peak at %g", p.Value)
		}
	}
}

func TestDetectAllSkipsDegenerateChannel(t *testing.T) {
	const nEvents = 20_000
	flat := make([]float64, nEvents) // all zeros, zero bandwidth everywhere
	breaks := mustBreaks(t, nEvents, 1000)

	results, err := DetectAll(context.Background(), map[string][]float64{"FL1-A": flat}, breaks, DefaultConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := results["FL1-A"]; ok {
		t.Error("degenerate channel should be skipped, not reported")
	}
}

func TestDetectAllCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rng := rand.New(rand.NewSource(5))
	const nEvents = 20_000
	channels := map[string][]float64{"FL1-A": stableChannel(rng, nEvents, 100)}
	breaks := mustBreaks(t, nEvents, 1000)

	if _, err := DetectAll(ctx, channels, breaks, DefaultConfig(), nil); err == nil {
		t.Fatal("expected cancellation error")
	}
}

func TestClusterPeaksGreedy(t *testing.T) {
	binPeaks := [][]float64{
		{10, 100},
		{11, 99},
		{12, 101},
	}
	all := clusterPeaks(binPeaks, 5)

	byCluster := map[int][]float64{}
	for _, p := range all {
		byCluster[p.Cluster] = append(byCluster[p.Cluster], p.Value)
	}
	if len(byCluster) != 2 {
		t.Fatalf("got %d clusters, want 2", len(byCluster))
	}
	if len(byCluster[1]) != 3 || len(byCluster[2]) != 3 {
		t.Errorf("cluster sizes %d and %d, want 3 and 3", len(byCluster[1]), len(byCluster[2]))
	}
}

func TestClusterPeaksNewClusterOutsideWindow(t *testing.T) {
	all := clusterPeaks([][]float64{{10}, {10.5}, {40}}, 5)
	last := all[len(all)-1]
	if last.Cluster != 2 {
		t.Errorf("distant peak joined cluster %d, want new cluster 2", last.Cluster)
	}
}

func TestPruneSmallClusters(t *testing.T) {
	all := []PeakInfo{
		{Bin: 0, Value: 10, Cluster: 1},
		{Bin: 1, Value: 10, Cluster: 1},
		{Bin: 2, Value: 10, Cluster: 1},
		{Bin: 3, Value: 10, Cluster: 1},
		{Bin: 2, Value: 99, Cluster: 2}, // transient, one bin out of four
	}
	kept := pruneSmallClusters(all, 4)
	for _, p := range kept {
		if p.Cluster == 2 {
			t.Fatal("transient cluster survived pruning")
		}
	}
	if len(kept) != 4 {
		t.Errorf("kept %d peaks, want 4", len(kept))
	}
}

func TestClusterWindow(t *testing.T) {
	data := []float64{0, 50, 100, math.NaN(), math.Inf(1)}
	if got := clusterWindow(data, 0.1); got != 10 {
		t.Errorf("window = %g, want 10", got)
	}
}
