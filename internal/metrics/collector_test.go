package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollector_Counts(t *testing.T) {
	c := New()
	c.InboundRecord()
	c.InboundRecord()
	c.MediaRelay(ResultOK)
	c.MediaRelay(ResultFailed)
	c.MediaRelay(ResultFailed)
	c.OutboundDelivered()
	c.RetentionDeleted()
	c.DeletePropagated()
	c.PhaseError("inbound", "transient")
	c.SetCursor("News", 101)
	c.ObserveCycle(1500 * time.Millisecond)

	if got := testutil.ToFloat64(c.inboundRecords); got != 2 {
		t.Errorf("inbound records: %v", got)
	}
	if got := testutil.ToFloat64(c.mediaRelay.WithLabelValues(ResultFailed)); got != 2 {
		t.Errorf("media failures: %v", got)
	}
	if got := testutil.ToFloat64(c.cursor.WithLabelValues("News")); got != 101 {
		t.Errorf("cursor gauge: %v", got)
	}
	if got := testutil.ToFloat64(c.deletesSynced); got != 1 {
		t.Errorf("deletes propagated: %v", got)
	}
	if got := testutil.ToFloat64(c.phaseErrors.WithLabelValues("inbound", "transient")); got != 1 {
		t.Errorf("phase errors: %v", got)
	}
}

func TestCollector_NilSafe(t *testing.T) {
	var c *Collector
	c.InboundRecord()
	c.MediaRelay(ResultOK)
	c.OutboundDelivered()
	c.RetentionDeleted()
	c.DeletePropagated()
	c.PhaseError("outbound", "transient")
	c.SetCursor("x", 1)
	c.ObserveCycle(time.Second)
}

func TestCollector_Handler(t *testing.T) {
	c := New()
	c.OutboundDelivered()

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	text := string(body)
	for _, want := range []string{
		"tgmirror_outbound_delivered_total 1",
		"# TYPE tgmirror_cycle_duration_seconds histogram",
		"tgmirror_uptime_seconds",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("expected %q in output", want)
		}
	}
}
