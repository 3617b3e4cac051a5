// Package metrics tests for Prometheus instrumentation.
package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

// TestMetrics_Recording verifies each recorder updates its collector.
func TestMetrics_Recording(t *testing.T) {
	m := New()

	m.SetQueueDepth(4)
	m.SetDeadLetterDepth(1)
	m.ObserveEnqueue("product", "create")
	m.ObserveEnqueue("product", "create")
	m.ObserveReplay("brand", "delete", OutcomeDropped)
	m.ObservePull("category", true, 3)
	m.ObservePull("category", false, 0)
	m.SetOnline(true)

	if got := testutil.ToFloat64(m.QueueDepth); got != 4 {
		t.Errorf("QueueDepth = %v, want 4", got)
	}
	if got := testutil.ToFloat64(m.DeadLetterDepth); got != 1 {
		t.Errorf("DeadLetterDepth = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.EnqueueTotal.WithLabelValues("product", "create")); got != 2 {
		t.Errorf("EnqueueTotal = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ReplayTotal.WithLabelValues("brand", "delete", OutcomeDropped)); got != 1 {
		t.Errorf("ReplayTotal = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.SyncTotal.WithLabelValues("category", "success")); got != 1 {
		t.Errorf("SyncTotal success = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.SyncTotal.WithLabelValues("category", "error")); got != 1 {
		t.Errorf("SyncTotal error = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.SyncUpdatedTotal.WithLabelValues("category")); got != 3 {
		t.Errorf("SyncUpdatedTotal = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.Online); got != 1 {
		t.Errorf("Online = %v, want 1", got)
	}

	m.SetOnline(false)
	if got := testutil.ToFloat64(m.Online); got != 0 {
		t.Errorf("Online = %v, want 0", got)
	}
}

// TestMetrics_Nil verifies a nil *Metrics is inert.
func TestMetrics_Nil(t *testing.T) {
	var m *Metrics

	m.SetQueueDepth(1)
	m.SetDeadLetterDepth(1)
	m.ObserveEnqueue("product", "create")
	m.ObserveReplay("product", "create", OutcomeSuccess)
	m.ObservePull("product", true, 1)
	m.ObserveSyncDuration(0.5)
	m.SetOnline(true)

	if m.Registry() != nil {
		t.Error("Registry() on nil Metrics should be nil")
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 404 {
		t.Errorf("nil Handler status = %d, want 404", rec.Code)
	}
}

// TestMetrics_Handler verifies the exposition endpoint.
func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.SetQueueDepth(2)
	m.ObserveSyncDuration(0.25)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		"catalogsync_offline_queue_depth 2",
		"catalogsync_sync_all_duration_seconds_count 1",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}

// TestNew_Independent verifies two instances do not collide on registration.
func TestNew_Independent(t *testing.T) {
	a, b := New(), New()
	a.SetQueueDepth(1)
	b.SetQueueDepth(5)

	if testutil.ToFloat64(a.QueueDepth) != 1 || testutil.ToFloat64(b.QueueDepth) != 5 {
		t.Error("instances share state")
	}
}
