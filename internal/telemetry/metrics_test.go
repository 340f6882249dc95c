package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.TaskExecuted("http", "SUCCEEDED", 150*time.Millisecond)
	m.TaskExecuted("http", "SUCCEEDED", 50*time.Millisecond)
	m.TaskExecuted("http", "FAILED_RETRYABLE", time.Millisecond)
	m.DeadLettered("dynaflow.processor")
	m.SetPendingWork("runnable", 7)

	if got := testutil.ToFloat64(m.tasksExecuted.WithLabelValues("http", "SUCCEEDED")); got != 2 {
		t.Errorf("tasks_executed{SUCCEEDED} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.deadLetters.WithLabelValues("dynaflow.processor")); got != 1 {
		t.Errorf("dead_letters = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.pendingWork.WithLabelValues("runnable")); got != 7 {
		t.Errorf("pending_work = %v, want 7", got)
	}
	if n := testutil.CollectAndCount(m.taskDuration); n != 1 {
		t.Errorf("task_duration series = %d, want 1", n)
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.FlowBuilt("built")
	m.TaskExecuted("noop", "SUCCEEDED", time.Second)
	m.SetPendingWork("runnable", 1)
}

func TestParseLevel(t *testing.T) {
	tests := map[string]string{
		"debug": "DEBUG",
		"WARN":  "WARN",
		"ERROR": "ERROR",
		"":      "INFO",
		"bogus": "INFO",
	}
	for in, want := range tests {
		if got := ParseLevel(in).String(); got != want {
			t.Errorf("ParseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}
