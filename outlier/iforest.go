package outlier

import (
	"math"
	"math/rand"
	"runtime"
	"sync"

	"github.com/cytolabs/flowqc/qcerr"
)

// eulerMascheroni is the constant in the expected unsuccessful-BST-search
// path length c(n).
const eulerMascheroni = 0.5772156649

// ForestConfig controls the isolation-forest ensemble.
type ForestConfig struct {
	// Trees is the ensemble size.
	Trees int

	// SubsampleSize bounds the per-tree subsample; capped at the bin count.
	SubsampleSize int

	// Limit is the anomaly-score threshold: bins scoring above it are
	// flagged. Higher values accept more bins as normal.
	Limit float64

	// Seed makes the ensemble reproducible: identical input and seed yield
	// identical verdicts.
	Seed int64
}

// DefaultForestConfig returns the standard ensemble settings.
func DefaultForestConfig() ForestConfig {
	return ForestConfig{
		Trees:         100,
		SubsampleSize: 256,
		Limit:         0.6,
	}
}

// ForestResult holds per-bin anomaly scores and the thresholded verdict.
type ForestResult struct {
	OutlierBins []bool
	Scores      []float64
}

type isoNode struct {
	splitFeature int
	splitValue   float64
	left, right  *isoNode
	size         int
	leaf         bool
}

// DetectIsolation scores every bin of the feature matrix with a seeded
// isolation-forest ensemble and flags bins whose normalized score exceeds
// cfg.Limit. Trees are built in parallel; each tree is a pure function of
// the matrix and its own derived seed, so parallelism does not perturb the
// result.
func DetectIsolation(m *FeatureMatrix, cfg ForestConfig) (*ForestResult, error) {
	n := m.NBins()
	if n == 0 {
		return nil, qcerr.Statsf("isolation", "empty feature matrix")
	}
	if cfg.Trees <= 0 {
		return nil, qcerr.Configf("isolation forest needs at least one tree, got %d", cfg.Trees)
	}

	sample := cfg.SubsampleSize
	if sample <= 0 || sample > n {
		sample = n
	}
	maxDepth := int(math.Ceil(math.Log2(float64(sample))))
	if maxDepth < 1 {
		maxDepth = 1
	}

	trees := make([]*isoNode, cfg.Trees)

	var wg sync.WaitGroup
	workers := runtime.NumCPU()
	if workers > cfg.Trees {
		workers = cfg.Trees
	}
	treeCh := make(chan int)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range treeCh {
				rng := rand.New(rand.NewSource(cfg.Seed + int64(t)))
				trees[t] = buildTree(m, subsample(rng, n, sample), 0, maxDepth, rng)
			}
		}()
	}
	for t := 0; t < cfg.Trees; t++ {
		treeCh <- t
	}
	close(treeCh)
	wg.Wait()

	// Scoring is a read-only fold over the completed trees.
	cNorm := avgPathLength(sample)
	scores := make([]float64, n)
	outliers := make([]bool, n)
	for bin := 0; bin < n; bin++ {
		total := 0.0
		for _, tree := range trees {
			total += pathLength(tree, m.Rows[bin], 0)
		}
		avg := total / float64(len(trees))

		score := 0.5
		if cNorm > 0 {
			score = math.Pow(2, -avg/cNorm)
		}
		scores[bin] = score
		outliers[bin] = score > cfg.Limit
	}

	return &ForestResult{OutlierBins: outliers, Scores: scores}, nil
}

// subsample picks `size` distinct row indices via a partial Fisher-Yates
// shuffle.
func subsample(rng *rand.Rand, n, size int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	for i := 0; i < size; i++ {
		j := i + rng.Intn(n-i)
		idx[i], idx[j] = idx[j], idx[i]
	}
	return idx[:size]
}

func buildTree(m *FeatureMatrix, rows []int, depth, maxDepth int, rng *rand.Rand) *isoNode {
	if len(rows) <= 1 || depth >= maxDepth {
		return &isoNode{size: len(rows), leaf: true}
	}

	feature := rng.Intn(m.NFeatures())
	lo, hi := featureRange(m, rows, feature)
	if hi <= lo {
		return &isoNode{size: len(rows), leaf: true}
	}
	split := lo + rng.Float64()*(hi-lo)

	var left, right []int
	for _, r := range rows {
		if m.Rows[r][feature] < split {
			left = append(left, r)
		} else {
			right = append(right, r)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return &isoNode{size: len(rows), leaf: true}
	}

	return &isoNode{
		splitFeature: feature,
		splitValue:   split,
		left:         buildTree(m, left, depth+1, maxDepth, rng),
		right:        buildTree(m, right, depth+1, maxDepth, rng),
		size:         len(rows),
	}
}

func featureRange(m *FeatureMatrix, rows []int, feature int) (float64, float64) {
	lo := m.Rows[rows[0]][feature]
	hi := lo
	for _, r := range rows[1:] {
		v := m.Rows[r][feature]
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

func pathLength(node *isoNode, row []float64, depth int) float64 {
	if node.leaf {
		return float64(depth) + avgPathLength(node.size)
	}
	if row[node.splitFeature] < node.splitValue {
		return pathLength(node.left, row, depth+1)
	}
	return pathLength(node.right, row, depth+1)
}

// avgPathLength is the expected path length of an unsuccessful binary
// search over n points: c(n) = 2(ln(n-1) + γ) - 2(n-1)/n, with c(1) = 0.
func avgPathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	nf := float64(n)
	return 2*(math.Log(nf-1)+eulerMascheroni) - 2*(nf-1)/nf
}
