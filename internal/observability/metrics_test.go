package observability

import (
	"testing"
	"time"

	"github.com/danmuck/simbridge/internal/testutil/testlog"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("bridgectl", "GET", "/health", 200, 12*time.Millisecond)
	RecordExchange(3 * time.Millisecond)
	RecordNegotiation("ok")
	RecordAPICallbacks("ok")
	SetStreaming(true)
	SetStreaming(false)
}

func TestCountersAdvance(t *testing.T) {
	testlog.Start(t)
	before := testutil.ToFloat64(skippedFields.WithLabelValues("encode", "image_size"))
	RecordSkippedField("encode", "image_size")
	RecordSkippedField("encode", "image_size")
	if got := testutil.ToFloat64(skippedFields.WithLabelValues("encode", "image_size")); got != before+2 {
		t.Fatalf("skipped fields got=%v want=%v", got, before+2)
	}

	beforeTicks := testutil.ToFloat64(ticks.WithLabelValues("sent"))
	RecordTick("sent")
	if got := testutil.ToFloat64(ticks.WithLabelValues("sent")); got != beforeTicks+1 {
		t.Fatalf("ticks got=%v want=%v", got, beforeTicks+1)
	}

	beforeResync := testutil.ToFloat64(resyncs.WithLabelValues("clock"))
	RecordResync("clock")
	if got := testutil.ToFloat64(resyncs.WithLabelValues("clock")); got != beforeResync+1 {
		t.Fatalf("resyncs got=%v want=%v", got, beforeResync+1)
	}
}
