package monitor

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kasuganosora/shardconn/pkg/capability"
)

func TestIsSlow(t *testing.T) {
	analyzer := NewSlowDispatchAnalyzer(1*time.Second, 100)

	tests := []struct {
		name     string
		duration time.Duration
		expected bool
	}{
		{"Fast dispatch", 500 * time.Millisecond, false},
		{"At threshold", 1 * time.Second, true},
		{"Slow dispatch", 2 * time.Second, true},
		{"Zero duration", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := analyzer.IsSlow(tt.duration); result != tt.expected {
				t.Errorf("IsSlow(%v) = %v, want %v", tt.duration, result, tt.expected)
			}
		})
	}
}

func TestRecord(t *testing.T) {
	analyzer := NewSlowDispatchAnalyzer(1*time.Second, 100)

	if id := analyzer.Record(capability.OpPing, capability.Aggregate, 3, 10*time.Millisecond, nil); id != 0 {
		t.Errorf("fast dispatch id = %d, want 0", id)
	}

	id := analyzer.Record(capability.OpCommit, capability.Aggregate, 3, 2*time.Second, errors.New("shard down"))
	if id != 1 {
		t.Errorf("first slow id = %d, want 1", id)
	}

	logs := analyzer.GetByOperation(capability.OpCommit)
	if len(logs) != 1 {
		t.Fatalf("commit entries = %d, want 1", len(logs))
	}
	if logs[0].Targets != 3 || logs[0].Error != "shard down" || logs[0].Outcome != OutcomeError {
		t.Errorf("unexpected entry: %+v", logs[0])
	}
	if len(analyzer.GetByOperation(capability.OpPing)) != 0 {
		t.Error("ping should not be recorded")
	}
}

func TestRecordEvictsOldest(t *testing.T) {
	analyzer := NewSlowDispatchAnalyzer(0, 3)
	for i := 0; i < 5; i++ {
		analyzer.Record(capability.OpPing, capability.Aggregate, 1, time.Millisecond, nil)
	}

	if analyzer.Count() != 3 {
		t.Fatalf("Count = %d, want 3", analyzer.Count())
	}
	if first := analyzer.GetAll()[0].ID; first != 3 {
		t.Errorf("oldest kept id = %d, want 3", first)
	}

	analyzer.Clear()
	if analyzer.Count() != 0 {
		t.Errorf("Count after clear = %d, want 0", analyzer.Count())
	}
}

func TestThreshold(t *testing.T) {
	analyzer := NewSlowDispatchAnalyzer(time.Second, 10)
	analyzer.SetThreshold(10 * time.Millisecond)
	if analyzer.GetThreshold() != 10*time.Millisecond {
		t.Errorf("threshold = %v, want 10ms", analyzer.GetThreshold())
	}
	if !analyzer.IsSlow(20 * time.Millisecond) {
		t.Error("20ms should be slow after lowering threshold")
	}
}

func TestAnalyze(t *testing.T) {
	analyzer := NewSlowDispatchAnalyzer(0, 100)
	analyzer.Record(capability.OpCommit, capability.Aggregate, 4, 300*time.Millisecond, nil)
	analyzer.Record(capability.OpCommit, capability.Aggregate, 4, 100*time.Millisecond, errors.New("x"))
	analyzer.Record(capability.OpQuery, capability.Delegate, 1, 50*time.Millisecond, nil)

	stats := analyzer.Analyze()
	if len(stats) != 2 {
		t.Fatalf("stats = %d, want 2", len(stats))
	}
	commit := stats[0]
	if commit.Operation != capability.OpCommit {
		t.Fatalf("first stats = %s, want commit", commit.Operation)
	}
	if commit.Count != 2 || commit.AvgDuration != 200*time.Millisecond || commit.MaxDuration != 300*time.Millisecond {
		t.Errorf("unexpected commit stats: %+v", commit)
	}
	if commit.ErrorCount != 1 || commit.MaxTargets != 4 {
		t.Errorf("unexpected commit stats: %+v", commit)
	}

	recommendations := analyzer.GetRecommendations()
	found := false
	for _, r := range recommendations {
		if strings.Contains(r, "parallel_aggregate") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected parallel_aggregate recommendation, got %v", recommendations)
	}
}
