package sample

import (
	"bytes"
	"math"
	"strings"
	"testing"
)

func TestDemodMagnitudePhase(t *testing.T) {
	d := &Demod{
		Timestamp: []uint64{0, 100, 200},
		X:         []float64{1, 0, 3},
		Y:         []float64{0, 2, 4},
	}
	r := d.R()
	want := []float64{1, 2, 5}
	for i := range want {
		if math.Abs(r[i]-want[i]) > 1e-12 {
			t.Errorf("R[%d] = %v, want %v", i, r[i], want[i])
		}
	}
	theta := d.Theta()
	if math.Abs(theta[0]) > 1e-12 {
		t.Errorf("Theta[0] = %v, want 0", theta[0])
	}
	if math.Abs(theta[1]-math.Pi/2) > 1e-12 {
		t.Errorf("Theta[1] = %v, want pi/2", theta[1])
	}
}

func TestDemodDuration(t *testing.T) {
	d := &Demod{Timestamp: []uint64{0, 60e6}}
	got := d.Duration(60e6)
	if math.Abs(got-1.0) > 1e-12 {
		t.Errorf("Duration = %v, want 1.0", got)
	}
	empty := &Demod{}
	if empty.Duration(60e6) != 0 {
		t.Error("empty block should have zero duration")
	}
}

func TestDemodAppend(t *testing.T) {
	a := &Demod{Timestamp: []uint64{0, 1}, X: []float64{1, 2}, Y: []float64{3, 4}}
	b := &Demod{Timestamp: []uint64{2}, X: []float64{5}, Y: []float64{6}}
	a.Append(b)
	if a.Len() != 3 || a.X[2] != 5 || a.Y[2] != 6 {
		t.Errorf("unexpected block after append: %+v", a)
	}
}

func TestCheckScopeFlagsCleanRecords(t *testing.T) {
	recs := []ScopeRecord{
		{TotalSamples: 2, Wave: [][]float64{{1, 2}}},
		{TotalSamples: 3, Wave: [][]float64{{1, 2, 3}, {4, 5, 6}}},
	}
	if err := CheckScopeFlags(recs); err != nil {
		t.Errorf("expected no flag warnings, got %v", err)
	}
}

func TestCheckScopeFlagsSurfacesEveryBit(t *testing.T) {
	recs := []ScopeRecord{
		{Flags: FlagDataLoss | FlagTransferFailure, TotalSamples: 1, Wave: [][]float64{{1}}},
		{Flags: FlagMissedTrigger, TotalSamples: 1, Wave: [][]float64{{1}}},
	}
	err := CheckScopeFlags(recs)
	if err == nil {
		t.Fatal("expected aggregate flag warnings")
	}
	msg := err.Error()
	for _, want := range []string{"dataloss", "transfer failure", "missed trigger"} {
		if !strings.Contains(msg, want) {
			t.Errorf("aggregate %q missing %q", msg, want)
		}
	}
}

func TestCheckScopeFlagsSizeMismatch(t *testing.T) {
	recs := []ScopeRecord{{TotalSamples: 4, Wave: [][]float64{{1, 2}}}}
	err := CheckScopeFlags(recs)
	if err == nil || !strings.Contains(err.Error(), "totalsamples") {
		t.Errorf("expected size mismatch warning, got %v", err)
	}
}

func TestBurstComplete(t *testing.T) {
	b := Burst{Header: Header{Flags: FlagGridComplete}}
	if !b.Complete() {
		t.Error("burst with bit 0 set should be complete")
	}
	if (Burst{}).Complete() {
		t.Error("zero burst should not be complete")
	}
}

func TestSweepEncodeCSV(t *testing.T) {
	s := Sweep{
		Grid: []float64{1e3, 2e3},
		X:    []float64{1, 0},
		Y:    []float64{0, 1},
	}
	var buf bytes.Buffer
	if err := s.EncodeCSV(&buf); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header + 2 rows, got %d lines", len(lines))
	}
	if lines[0] != "grid,x,y,r,phi" {
		t.Errorf("unexpected header line %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "1000,1,0,1,") {
		t.Errorf("unexpected first data row %q", lines[1])
	}
}

func TestDemodEncodeCSV(t *testing.T) {
	d := &Demod{
		Timestamp: []uint64{0, 50},
		X:         []float64{1, 1},
		Y:         []float64{0, 0},
	}
	var buf bytes.Buffer
	if err := d.EncodeCSV(&buf, 100); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header + 2 rows, got %d lines", len(lines))
	}
	if !strings.HasPrefix(lines[2], "0.5,") {
		t.Errorf("expected second sample at t=0.5, got %q", lines[2])
	}
}
