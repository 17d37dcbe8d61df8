package outlier

import (
	"errors"
	"testing"

	"github.com/cytolabs/flowqc/peaks"
	"github.com/cytolabs/flowqc/qcerr"
)

func frame(infos ...peaks.PeakInfo) *peaks.ChannelPeakFrame {
	return &peaks.ChannelPeakFrame{Peaks: infos}
}

func TestBuildFeatureMatrixShape(t *testing.T) {
	results := map[string]*peaks.ChannelPeakFrame{
		"FL2-A": frame(
			peaks.PeakInfo{Bin: 0, Value: 50, Cluster: 1},
			peaks.PeakInfo{Bin: 0, Value: 200, Cluster: 2},
			peaks.PeakInfo{Bin: 1, Value: 51, Cluster: 1},
		),
		"FL1-A": frame(
			peaks.PeakInfo{Bin: 0, Value: 100, Cluster: 1},
			peaks.PeakInfo{Bin: 1, Value: 101, Cluster: 1},
		),
	}

	m, err := BuildFeatureMatrix(results, 3)
	if err != nil {
		t.Fatal(err)
	}
	if m.NBins() != 3 {
		t.Errorf("NBins = %d, want 3", m.NBins())
	}
	if m.NFeatures() != 3 {
		t.Errorf("NFeatures = %d, want 3", m.NFeatures())
	}

	want := []string{"FL1-A_cluster_1", "FL2-A_cluster_1", "FL2-A_cluster_2"}
	for i, name := range want {
		if m.Names[i] != name {
			t.Errorf("column %d named %q, want %q", i, m.Names[i], name)
		}
	}
}

func TestBuildFeatureMatrixObservedAndImputed(t *testing.T) {
	results := map[string]*peaks.ChannelPeakFrame{
		"FL1-A": frame(
			peaks.PeakInfo{Bin: 0, Value: 100, Cluster: 1},
			peaks.PeakInfo{Bin: 1, Value: 102, Cluster: 1},
			peaks.PeakInfo{Bin: 2, Value: 104, Cluster: 1},
		),
	}

	m, err := BuildFeatureMatrix(results, 4)
	if err != nil {
		t.Fatal(err)
	}
	if m.Rows[0][0] != 100 || m.Rows[1][0] != 102 || m.Rows[2][0] != 104 {
		t.Errorf("observed values not preserved: %v", [][]float64{m.Rows[0], m.Rows[1], m.Rows[2]})
	}
	// Bin 3 had no peak; it takes the cluster median.
	if m.Rows[3][0] != 102 {
		t.Errorf("imputed value = %g, want median 102", m.Rows[3][0])
	}
}

func TestBuildFeatureMatrixErrors(t *testing.T) {
	if _, err := BuildFeatureMatrix(nil, 10); !errors.Is(err, qcerr.ErrNoPeaks) {
		t.Errorf("got %v, want ErrNoPeaks", err)
	}
	results := map[string]*peaks.ChannelPeakFrame{
		"FL1-A": frame(peaks.PeakInfo{Bin: 0, Value: 1, Cluster: 1}),
	}
	if _, err := BuildFeatureMatrix(results, 0); err == nil {
		t.Error("expected error for zero bins")
	}
}
