package outlier

import (
	"math"
	"math/rand"
	"testing"
)

// syntheticMatrix builds a feature matrix with stable values everywhere
// except the given anomalous bins, which are displaced far outside the
// normal spread.
func syntheticMatrix(rng *rand.Rand, nBins, nFeatures int, anomalous ...int) *FeatureMatrix {
	isAnomalous := map[int]bool{}
	for _, b := range anomalous {
		isAnomalous[b] = true
	}

	names := make([]string, nFeatures)
	for f := range names {
		names[f] = "ch_cluster_1"
	}
	rows := make([][]float64, nBins)
	for b := range rows {
		rows[b] = make([]float64, nFeatures)
		for f := range rows[b] {
			v := 100 + rng.NormFloat64()
			if isAnomalous[b] {
				v = 500 + rng.NormFloat64()
			}
			rows[b][f] = v
		}
	}
	return &FeatureMatrix{Rows: rows, Names: names}
}

func TestDetectIsolationFlagsDisplacedBins(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	m := syntheticMatrix(rng, 200, 3, 42, 43, 44)

	res, err := DetectIsolation(m, DefaultForestConfig())
	if err != nil {
		t.Fatal(err)
	}

	for _, bad := range []int{42, 43, 44} {
		if !res.OutlierBins[bad] {
			t.Errorf("bin %d (score %.3f) not flagged", bad, res.Scores[bad])
		}
	}
	flagged := 0
	for _, o := range res.OutlierBins {
		if o {
			flagged++
		}
	}
	if flagged > 20 {
		t.Errorf("%d bins flagged, expected only the displaced few", flagged)
	}
}

func TestDetectIsolationScoresInRange(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	m := syntheticMatrix(rng, 150, 2, 10)

	res, err := DetectIsolation(m, DefaultForestConfig())
	if err != nil {
		t.Fatal(err)
	}
	for bin, s := range res.Scores {
		if s < 0 || s > 1 {
			t.Fatalf("bin %d score %g outside [0, 1]", bin, s)
		}
	}
}

func TestDetectIsolationDeterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	m := syntheticMatrix(rng, 200, 3, 7, 120)

	cfg := DefaultForestConfig()
	cfg.Seed = 99

	first, err := DetectIsolation(m, cfg)
	if err != nil {
		t.Fatal(err)
	}
	second, err := DetectIsolation(m, cfg)
	if err != nil {
		t.Fatal(err)
	}
	for bin := range first.Scores {
		if first.Scores[bin] != second.Scores[bin] {
			t.Fatalf("bin %d: score %g then %g for the same seed", bin, first.Scores[bin], second.Scores[bin])
		}
	}
}

func TestDetectIsolationSeedChangesScores(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	m := syntheticMatrix(rng, 200, 3, 7)

	a := DefaultForestConfig()
	a.Seed = 1
	b := DefaultForestConfig()
	b.Seed = 2

	resA, err := DetectIsolation(m, a)
	if err != nil {
		t.Fatal(err)
	}
	resB, err := DetectIsolation(m, b)
	if err != nil {
		t.Fatal(err)
	}
	same := true
	for bin := range resA.Scores {
		if resA.Scores[bin] != resB.Scores[bin] {
			same = false
			break
		}
	}
	if same {
		t.Error("different seeds produced identical scores")
	}
}

func TestDetectIsolationUniformDataFlagsNothing(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	m := syntheticMatrix(rng, 200, 3)

	res, err := DetectIsolation(m, DefaultForestConfig())
	if err != nil {
		t.Fatal(err)
	}
	flagged := 0
	for _, o := range res.OutlierBins {
		if o {
			flagged++
		}
	}
	if flagged > 20 {
		t.Errorf("%d of 200 uniform bins flagged", flagged)
	}
}

func TestDetectIsolationErrors(t *testing.T) {
	if _, err := DetectIsolation(&FeatureMatrix{}, DefaultForestConfig()); err == nil {
		t.Error("expected error for empty matrix")
	}
	m := &FeatureMatrix{Rows: [][]float64{{1}}, Names: []string{"a"}}
	cfg := DefaultForestConfig()
	cfg.Trees = 0
	if _, err := DetectIsolation(m, cfg); err == nil {
		t.Error("expected error for zero trees")
	}
}

func TestAvgPathLength(t *testing.T) {
	if got := avgPathLength(1); got != 0 {
		t.Errorf("c(1) = %g, want 0", got)
	}
	// c(n) = 2(ln(n-1)+gamma) - 2(n-1)/n
	want := 2*(math.Log(255)+eulerMascheroni) - 2*255.0/256.0
	if got := avgPathLength(256); math.Abs(got-want) > 1e-9 {
		t.Errorf("c(256) = %g, want %g", got, want)
	}
	if avgPathLength(100) >= avgPathLength(1000) {
		t.Error("c(n) should grow with n")
	}
}
