package observability

import (
	"fmt"
	"testing"
	"time"
)

func TestStageWindowSnapshot(t *testing.T) {
	w := NewStageWindow(8)
	w.Observe(StageFirstFragment, 500*time.Millisecond)
	w.Observe(StageFirstFragment, 700*time.Millisecond)
	w.Observe(StageFirstFragment, 900*time.Millisecond)
	w.CountEvent("backend_fallback")
	w.CountEvent("backend_fallback")
	w.CountEvent("  ")

	snap := w.Snapshot()
	if snap.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", snap.WindowSize)
	}
	if len(snap.Stages) != 1 {
		t.Fatalf("len(Stages) = %d, want 1", len(snap.Stages))
	}
	s := snap.Stages[0]
	if s.Stage != StageFirstFragment || s.Samples != 3 {
		t.Fatalf("stage = %+v", s)
	}
	if s.LastMS != 900 {
		t.Fatalf("LastMS = %.2f, want 900", s.LastMS)
	}
	if s.P50MS != 700 {
		t.Fatalf("P50MS = %.2f, want 700", s.P50MS)
	}
	if s.P95MS <= 700 || s.P95MS > 900 {
		t.Fatalf("P95MS = %.2f, want (700,900]", s.P95MS)
	}
	if s.TargetP95MS != 1500 {
		t.Fatalf("TargetP95MS = %.2f, want 1500", s.TargetP95MS)
	}
	if len(snap.Events) != 1 || snap.Events[0].Count != 2 {
		t.Fatalf("Events = %+v, want backend_fallback=2", snap.Events)
	}
}

func TestStageWindowWrapsAtCapacity(t *testing.T) {
	w := NewStageWindow(4)
	for i := 1; i <= 10; i++ {
		w.Observe(StageTotal, time.Duration(i)*time.Millisecond)
	}
	s := w.Snapshot().Stages[0]
	if s.Samples != 4 {
		t.Fatalf("Samples = %d, want 4", s.Samples)
	}
	if s.AvgMS != 8.5 {
		t.Fatalf("AvgMS = %.2f, want 8.5 over the newest samples", s.AvgMS)
	}

	w.Reset()
	if got := len(w.Snapshot().Stages); got != 0 {
		t.Fatalf("stages after Reset = %d", got)
	}
}

func TestMetricsRecordsIntoUniqueNamespace(t *testing.T) {
	m := NewMetrics(fmt.Sprintf("collegegpt_test_%d", time.Now().UnixNano()))
	m.SetActiveBackend("remote")
	m.ObserveGeneration("remote", "sync", "ok", 20*time.Millisecond)
	m.ObserveFirstFragmentLatency("local", time.Second)
	m.ObserveStage(StageRetrieval, time.Millisecond)

	snap := m.SnapshotStages()
	if len(snap.Stages) != 2 {
		t.Fatalf("stages = %+v, want retrieval and first_fragment", snap.Stages)
	}
}
