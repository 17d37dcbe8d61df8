package bins

import "testing"

func TestCreateBreaksOverlap(t *testing.T) {
	breaks, err := CreateBreaks(1000, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(breaks) == 0 {
		t.Fatal("no breaks produced")
	}
	if breaks[0].Start != 0 {
		t.Errorf("first bin starts at %d, want 0", breaks[0].Start)
	}
	// Adjacent bins share half their events.
	if breaks[1].Start != 50 {
		t.Errorf("second bin starts at %d, want 50", breaks[1].Start)
	}
	for i := 1; i < len(breaks); i++ {
		if breaks[i].Start-breaks[i-1].Start != 50 {
			t.Fatalf("bin %d stepped by %d, want 50", i, breaks[i].Start-breaks[i-1].Start)
		}
	}
}

func TestCreateBreaksCoversAllEvents(t *testing.T) {
	for _, n := range []int{1, 99, 100, 101, 1000, 12345} {
		breaks, err := CreateBreaks(n, 100)
		if err != nil {
			t.Fatal(err)
		}
		covered := make([]bool, n)
		for _, r := range breaks {
			if r.End > n {
				t.Fatalf("n=%d: bin %+v runs past the stream", n, r)
			}
			for i := r.Start; i < r.End; i++ {
				covered[i] = true
			}
		}
		for i, c := range covered {
			if !c {
				t.Fatalf("n=%d: event %d not covered by any bin", n, i)
			}
		}
	}
}

func TestCreateBreaksTrailingClamp(t *testing.T) {
	breaks, err := CreateBreaks(130, 100)
	if err != nil {
		t.Fatal(err)
	}
	last := breaks[len(breaks)-1]
	if last.End != 130 {
		t.Errorf("last bin ends at %d, want 130", last.End)
	}
	if last.Len() > 100 {
		t.Errorf("last bin len %d exceeds bin size", last.Len())
	}
}

func TestCreateBreaksOddBinSize(t *testing.T) {
	// eventsPerBin=101: overlap 51, step 50.
	breaks, err := CreateBreaks(500, 101)
	if err != nil {
		t.Fatal(err)
	}
	if breaks[1].Start != 50 {
		t.Errorf("second bin starts at %d, want 50", breaks[1].Start)
	}
}

func TestCreateBreaksErrors(t *testing.T) {
	if _, err := CreateBreaks(0, 100); err == nil {
		t.Error("expected error for zero events")
	}
	if _, err := CreateBreaks(100, 0); err == nil {
		t.Error("expected error for zero bin size")
	}
}

func TestEventsPerBin(t *testing.T) {
	tests := []struct {
		name     string
		nEvents  int
		minCells int
		maxBins  int
		want     int
	}{
		// 1e6/500*2 = 4000, already a multiple boundary, rounds to 4500.
		{"large sample", 1_000_000, 150, 500, 4500},
		// Tiny sample still rounds up to a full step.
		{"small sample", 1000, 150, 500, 500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EventsPerBin(tt.nEvents, tt.minCells, tt.maxBins, 500)
			if got != tt.want {
				t.Errorf("EventsPerBin = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestEventsPerBinRespectsMaxBins(t *testing.T) {
	nEvents := 2_000_000
	epb := EventsPerBin(nEvents, 150, 500, 500)
	breaks, err := CreateBreaks(nEvents, epb)
	if err != nil {
		t.Fatal(err)
	}
	if len(breaks) > 500+1 {
		t.Errorf("got %d bins, want at most ~500", len(breaks))
	}
}

func TestGoodEventMaskUnion(t *testing.T) {
	breaks := []Range{{0, 100}, {50, 150}, {100, 200}}
	// Only the middle bin is bad; events 50-149 are removed even though
	// the bins on either side considered them fine.
	mask := GoodEventMask([]bool{false, true, false}, breaks, 200)
	for i := 0; i < 200; i++ {
		wantGood := i < 50 || i >= 150
		if mask[i] != wantGood {
			t.Fatalf("event %d: good=%v, want %v", i, mask[i], wantGood)
		}
	}
}

func TestGoodEventMaskAllGood(t *testing.T) {
	breaks := []Range{{0, 100}, {50, 150}}
	mask := GoodEventMask([]bool{false, false}, breaks, 150)
	for i, g := range mask {
		if !g {
			t.Fatalf("event %d marked bad with no flagged bins", i)
		}
	}
}
