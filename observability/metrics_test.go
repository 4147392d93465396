package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	RegisterMetrics()
	RegisterMetrics()

	RecordAxis(0, "x", 3*time.Millisecond)
	RecordMessage(0, "x", "send", 384)
	RecordWrap(0, "y")
	RecordBarrier(0, 50*time.Microsecond)
	RecordFailure(1)
}

func TestRecordMessage_CountsValues(t *testing.T) {
	before := testutil.ToFloat64(values.WithLabelValues("7", "z", "recv"))
	RecordMessage(7, "z", "recv", 100)
	RecordMessage(7, "z", "recv", 20)
	got := testutil.ToFloat64(values.WithLabelValues("7", "z", "recv")) - before
	if got != 120 {
		t.Errorf("Expected 120 values recorded, got %f", got)
	}
	if n := testutil.ToFloat64(messages.WithLabelValues("7", "z", "recv")); n < 2 {
		t.Errorf("Expected at least 2 messages, got %f", n)
	}
}
