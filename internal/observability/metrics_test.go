package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestWatermarksIgnoreZeroTime(t *testing.T) {
	at := time.Unix(1_700_000_000, 0)
	RecordRemoteSynced(at)
	RecordRemoteSynced(time.Time{})
	require.Equal(t, float64(at.Unix()), testutil.ToFloat64(remoteSyncedGauge))

	RecordTimeEntryPersisted(at)
	RecordTimeEntryPersisted(time.Time{})
	require.Equal(t, float64(at.Unix()), testutil.ToFloat64(timeEntryPersistGauge))
}

func TestActiveTimerDelta(t *testing.T) {
	before := testutil.ToFloat64(activeTimersGauge)
	RecordTimerStarted()
	RecordTimerStarted()
	RecordTimerStopped()
	require.Equal(t, before+1, testutil.ToFloat64(activeTimersGauge))
}
