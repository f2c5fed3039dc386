package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func testMetrics() *Metrics {
	return NewWith(prometheus.NewRegistry())
}

func TestEventClassified(t *testing.T) {
	m := testMetrics()
	m.EventClassified("summon")
	m.EventClassified("summon")
	m.EventClassified("ignored")

	expected := `
		# HELP troupe_events_total Total classified Slack events by kind
		# TYPE troupe_events_total counter
		troupe_events_total{kind="ignored"} 1
		troupe_events_total{kind="summon"} 2
	`
	if err := testutil.CollectAndCompare(m.EventCounter, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected metric value: %v", err)
	}
}

func TestExecutionLifecycle(t *testing.T) {
	m := testMetrics()
	m.ExecutionStarted("dan")
	m.ExecutionStarted("dan")
	if got := testutil.ToFloat64(m.ActiveExecutions.WithLabelValues("dan")); got != 2 {
		t.Fatalf("active gauge = %v, want 2", got)
	}

	m.ExecutionFinished("dan", "completed", 12.5)
	m.ExecutionFinished("dan", "cancelled", 3.0)
	if got := testutil.ToFloat64(m.ActiveExecutions.WithLabelValues("dan")); got != 0 {
		t.Fatalf("active gauge = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.ExecutionCounter.WithLabelValues("dan", "completed")); got != 1 {
		t.Fatalf("completed counter = %v", got)
	}
	if got := testutil.ToFloat64(m.ExecutionCounter.WithLabelValues("dan", "cancelled")); got != 1 {
		t.Fatalf("cancelled counter = %v", got)
	}
	if count := testutil.CollectAndCount(m.ExecutionDuration); count < 1 {
		t.Error("expected duration observations")
	}
}

func TestInjectionApplied(t *testing.T) {
	m := testMetrics()
	m.InjectionApplied("dan", 3)
	m.InjectionApplied("dan", 0)
	if got := testutil.ToFloat64(m.InjectionCounter.WithLabelValues("dan")); got != 3 {
		t.Fatalf("injection counter = %v, want 3", got)
	}
}

func TestRecordProviderRequest(t *testing.T) {
	m := testMetrics()
	m.RecordProviderRequest("anthropic", "claude-sonnet", "success", 1.2, 100, 50)
	m.RecordProviderRequest("anthropic", "claude-sonnet", "error", 0.1, 0, 0)

	if got := testutil.ToFloat64(m.ProviderRequestCounter.WithLabelValues("anthropic", "claude-sonnet", "success")); got != 1 {
		t.Fatalf("success counter = %v", got)
	}
	if got := testutil.ToFloat64(m.ProviderTokens.WithLabelValues("anthropic", "claude-sonnet", "prompt")); got != 100 {
		t.Fatalf("prompt tokens = %v", got)
	}
	if got := testutil.ToFloat64(m.ProviderTokens.WithLabelValues("anthropic", "claude-sonnet", "completion")); got != 50 {
		t.Fatalf("completion tokens = %v", got)
	}
	// Zero-token error requests must not create token series.
	if count := testutil.CollectAndCount(m.ProviderTokens); count != 2 {
		t.Fatalf("token series = %d, want 2", count)
	}
}

func TestRecordToolExecution(t *testing.T) {
	m := testMetrics()
	m.RecordToolExecution("read_file", "success", 0.05)
	m.RecordToolExecution("read_file", "success", 0.07)
	m.RecordToolExecution("run_command", "error", 1.5)

	if got := testutil.ToFloat64(m.ToolCounter.WithLabelValues("read_file", "success")); got != 2 {
		t.Fatalf("read_file counter = %v", got)
	}
	if got := testutil.ToFloat64(m.ToolCounter.WithLabelValues("run_command", "error")); got != 1 {
		t.Fatalf("run_command counter = %v", got)
	}
}

func TestRoundtableApprovalWorkerCounters(t *testing.T) {
	m := testMetrics()
	m.RoundtableResponse("dan", "posted")
	m.RoundtableResponse("sam", "passed")
	m.ApprovalResolved("answered")
	m.ApprovalResolved("timeout")
	m.WorkerOutcome("dispatched")
	m.WorkerOutcome("completed")

	if got := testutil.ToFloat64(m.RoundtableCounter.WithLabelValues("sam", "passed")); got != 1 {
		t.Fatalf("roundtable passed = %v", got)
	}
	if got := testutil.ToFloat64(m.ApprovalCounter.WithLabelValues("timeout")); got != 1 {
		t.Fatalf("approval timeout = %v", got)
	}
	if got := testutil.ToFloat64(m.WorkerCounter.WithLabelValues("completed")); got != 1 {
		t.Fatalf("worker completed = %v", got)
	}
}

func TestReconnected(t *testing.T) {
	m := testMetrics()
	m.Reconnected()
	m.Reconnected()

	if got := testutil.ToFloat64(m.ReconnectCounter); got != 2 {
		t.Fatalf("reconnect counter = %v", got)
	}
}
