package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRecordPublish_LabelsOutcome(t *testing.T) {
	ok := EventsPublishedTotal.WithLabelValues("MetricsProbe", "ok")
	failed := EventsPublishedTotal.WithLabelValues("MetricsProbe", "error")
	okBefore := testutil.ToFloat64(ok)
	failedBefore := testutil.ToFloat64(failed)

	RecordPublish("MetricsProbe", nil)
	RecordPublish("MetricsProbe", errors.New("down"))

	require.Equal(t, okBefore+1, testutil.ToFloat64(ok))
	require.Equal(t, failedBefore+1, testutil.ToFloat64(failed))
}

func TestRecordDrop_EmptyLabelsBecomeUnknown(t *testing.T) {
	c := EventsDroppedTotal.WithLabelValues("unknown", "unknown")
	before := testutil.ToFloat64(c)

	RecordDrop("", "")

	require.Equal(t, before+1, testutil.ToFloat64(c))
}

func TestObserveHandler(t *testing.T) {
	before := testutil.CollectAndCount(HandlerDuration)
	ObserveHandler("MetricsProbe", "probe.Handler", 5*time.Millisecond)
	require.GreaterOrEqual(t, testutil.CollectAndCount(HandlerDuration), before)
	require.GreaterOrEqual(t, testutil.CollectAndCount(HandlerDuration), 1)
}
