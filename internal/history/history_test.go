package history

import (
	"context"
	"testing"
	"time"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndQuerySamples(t *testing.T) {
	s := testStore(t)

	if err := s.RecordSample(499.5, "Beam", "None"); err != nil {
		t.Fatalf("RecordSample: %v", err)
	}
	if err := s.RecordSample(494.8, "Inject", "Injecting"); err != nil {
		t.Fatalf("RecordSample: %v", err)
	}

	samples, err := s.QuerySamples(time.Time{}, 0)
	if err != nil {
		t.Fatalf("QuerySamples: %v", err)
	}
	if len(samples) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(samples))
	}
	if samples[0].BeamCurrentAvg != 499.5 || samples[0].MachineMode != "Beam" {
		t.Errorf("sample[0] = %+v", samples[0])
	}
	if samples[1].InjectionPhase != "Injecting" {
		t.Errorf("sample[1].InjectionPhase = %q", samples[1].InjectionPhase)
	}
	if samples[0].Timestamp.IsZero() {
		t.Error("expected a timestamp")
	}
}

func TestQuerySamplesLimit(t *testing.T) {
	s := testStore(t)

	for i := 0; i < 5; i++ {
		if err := s.RecordSample(float64(i), "Beam", "None"); err != nil {
			t.Fatalf("RecordSample: %v", err)
		}
	}

	samples, err := s.QuerySamples(time.Time{}, 3)
	if err != nil {
		t.Fatalf("QuerySamples: %v", err)
	}
	if len(samples) != 3 {
		t.Errorf("expected 3 samples with limit, got %d", len(samples))
	}
}

func TestQuerySamplesSince(t *testing.T) {
	s := testStore(t)

	s.RecordSample(1.0, "Beam", "None")
	cutoff := time.Now()
	time.Sleep(5 * time.Millisecond)
	s.RecordSample(2.0, "Beam", "None")

	samples, err := s.QuerySamples(cutoff, 0)
	if err != nil {
		t.Fatalf("QuerySamples: %v", err)
	}
	if len(samples) != 1 {
		t.Fatalf("expected 1 sample after cutoff, got %d", len(samples))
	}
	if samples[0].BeamCurrentAvg != 2.0 {
		t.Errorf("expected 2.0, got %g", samples[0].BeamCurrentAvg)
	}
}

func TestPruneSamples(t *testing.T) {
	s := testStore(t)

	s.RecordSample(1.0, "Beam", "None")
	s.RecordSample(2.0, "Beam", "None")
	time.Sleep(5 * time.Millisecond)
	cutoff := time.Now()
	time.Sleep(5 * time.Millisecond)
	s.RecordSample(3.0, "Beam", "None")

	n, err := s.PruneSamples(cutoff)
	if err != nil {
		t.Fatalf("PruneSamples: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 pruned, got %d", n)
	}

	samples, _ := s.QuerySamples(time.Time{}, 0)
	if len(samples) != 1 {
		t.Fatalf("expected 1 remaining, got %d", len(samples))
	}
	if samples[0].BeamCurrentAvg != 3.0 {
		t.Errorf("expected 3.0, got %g", samples[0].BeamCurrentAvg)
	}
}

func TestRecordAndQueryTransitions(t *testing.T) {
	s := testStore(t)

	if err := s.RecordTransition("Beam", "Inject", "threshold"); err != nil {
		t.Fatalf("RecordTransition: %v", err)
	}
	if err := s.RecordTransition("Inject", "Beam", "injection complete"); err != nil {
		t.Fatalf("RecordTransition: %v", err)
	}

	trs, err := s.QueryTransitions(time.Time{})
	if err != nil {
		t.Fatalf("QueryTransitions: %v", err)
	}
	if len(trs) != 2 {
		t.Fatalf("expected 2 transitions, got %d", len(trs))
	}
	if trs[0].FromMode != "Beam" || trs[0].ToMode != "Inject" {
		t.Errorf("transition[0] = %+v", trs[0])
	}
	if trs[1].Reason != "injection complete" {
		t.Errorf("transition[1].Reason = %q", trs[1].Reason)
	}
}

func TestRecordAndQueryFaults(t *testing.T) {
	s := testStore(t)

	if err := s.RecordFault("Down", "Beam", "random fault", "simulator entered Down mode"); err != nil {
		t.Fatalf("RecordFault: %v", err)
	}

	faults, err := s.QueryFaults(time.Time{})
	if err != nil {
		t.Fatalf("QueryFaults: %v", err)
	}
	if len(faults) != 1 {
		t.Fatalf("expected 1 fault, got %d", len(faults))
	}
	if faults[0].Mode != "Down" || faults[0].PriorMode != "Beam" {
		t.Errorf("fault = %+v", faults[0])
	}
}

func TestRecorderSamples(t *testing.T) {
	s := testStore(t)

	rec := NewRecorder(s, func() Reading {
		return Reading{BeamCurrentAvg: 498.7, MachineMode: "Beam", InjectionPhase: "None"}
	}, 10*time.Millisecond, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	rec.Run(ctx)

	samples, err := s.QuerySamples(time.Time{}, 0)
	if err != nil {
		t.Fatalf("QuerySamples: %v", err)
	}
	if len(samples) == 0 {
		t.Fatal("expected recorder to write samples")
	}
	if samples[0].BeamCurrentAvg != 498.7 {
		t.Errorf("expected 498.7, got %g", samples[0].BeamCurrentAvg)
	}
}
