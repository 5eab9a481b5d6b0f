package observability

import (
	"testing"
	"time"

	"github.com/danmuck/spikelink/internal/testutil/testlog"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("spikectl", "GET", "/health", 200, 12*time.Millisecond)
	RecordRun("DIDO", 30*time.Millisecond, true)
	RecordBackpressureWait()
	RecordProtocolError("sync")

	before := testutil.ToFloat64(linkPackets.WithLabelValues(DirectionTx, "SPK"))
	RecordPacket(DirectionTx, "SPK")
	RecordPacket(DirectionTx, "SPK")
	if got := testutil.ToFloat64(linkPackets.WithLabelValues(DirectionTx, "SPK")); got != before+2 {
		t.Fatalf("packets got=%v want=%v", got, before+2)
	}

	SetRunLag(7)
	if got := testutil.ToFloat64(runLag); got != 7 {
		t.Fatalf("lag got=%v want=7", got)
	}

	fires := testutil.ToFloat64(firesReceived)
	RecordFires(3)
	if got := testutil.ToFloat64(firesReceived); got != fires+3 {
		t.Fatalf("fires got=%v want=%v", got, fires+3)
	}
}
