package fault

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arm-smmu/smmuv3/pkg/smmu/types"
)

func TestRecordTranslationFault(t *testing.T) {
	q := New(16)
	rec := q.RecordTranslationFault(1, 2, 0x1000, types.AccessRead, types.Stage1Only, 1, types.NonSecure)

	require.Equal(t, types.Level1TranslationFault, rec.FaultType)
	require.Equal(t, types.StreamID(1), rec.StreamID)
	require.Equal(t, types.PASID(2), rec.PASID)
	require.NotZero(t, rec.Syndrome)
	require.Equal(t, 1, q.GetEventCount())
}

func TestRecordPermissionFault(t *testing.T) {
	q := New(16)
	rec := q.RecordPermissionFault(1, 0, 0x2000, types.AccessWrite, types.BothStages, types.Secure)
	require.Equal(t, types.PermissionFault, rec.FaultType)
	require.True(t, rec.Structured.IsWrite)
}

func TestQueueTailDropOnOverflow(t *testing.T) {
	q := New(2)
	q.RecordTranslationFault(1, 0, 0x1000, types.AccessRead, types.Stage1Only, 0, types.NonSecure)
	q.RecordTranslationFault(1, 0, 0x2000, types.AccessRead, types.Stage1Only, 0, types.NonSecure)
	q.RecordTranslationFault(1, 0, 0x3000, types.AccessRead, types.Stage1Only, 0, types.NonSecure)

	events := q.GetEvents()
	require.Len(t, events, 2)
	require.Equal(t, uint64(0x2000), events[0].Address, "oldest record should have been dropped")
	require.Equal(t, uint64(0x3000), events[1].Address)
}

func TestClearEventsPreservesLifetimeCounters(t *testing.T) {
	q := New(16)
	q.RecordTranslationFault(1, 0, 0x1000, types.AccessRead, types.Stage1Only, 0, types.NonSecure)
	q.ClearEvents()

	require.Equal(t, 0, q.GetEventCount())
	require.False(t, q.HasEvents())
	stats := q.GetStatistics()
	require.Equal(t, uint64(1), stats.TotalFaults)
}

func TestGetFaultsByStreamAndPASID(t *testing.T) {
	q := New(16)
	q.RecordTranslationFault(1, 0, 0x1000, types.AccessRead, types.Stage1Only, 0, types.NonSecure)
	q.RecordTranslationFault(2, 5, 0x2000, types.AccessRead, types.Stage1Only, 0, types.NonSecure)

	byStream := q.GetFaultsByStream(1)
	require.Len(t, byStream, 1)
	require.Equal(t, types.StreamID(1), byStream[0].StreamID)

	byPASID := q.GetFaultsByPASID(5)
	require.Len(t, byPASID, 1)
	require.Equal(t, types.PASID(5), byPASID[0].PASID)
}

func TestGetRecentFaults(t *testing.T) {
	q := New(16)
	q.RecordFault(Record{StreamID: 1, Timestamp: 100})
	q.RecordFault(Record{StreamID: 2, Timestamp: 200})

	recent := q.GetRecentFaults(200, 50)
	require.Len(t, recent, 1)
	require.Equal(t, types.StreamID(2), recent[0].StreamID)
}

func TestStatisticsBreakdown(t *testing.T) {
	q := New(16)
	q.RecordTranslationFault(1, 0, 0x1000, types.AccessRead, types.Stage1Only, 0, types.NonSecure)
	q.RecordPermissionFault(1, 0, 0x2000, types.AccessWrite, types.Stage1Only, types.NonSecure)

	stats := q.GetStatistics()
	require.Equal(t, uint64(2), stats.TotalFaults)
	require.Equal(t, uint64(1), stats.TranslationFaults)
	require.Equal(t, uint64(1), stats.PermissionFaults)
	require.Equal(t, 1, stats.ByAccessKind[types.AccessRead])
	require.Equal(t, 1, stats.ByAccessKind[types.AccessWrite])
}

func TestSetMaxQueueSizeDropsOldest(t *testing.T) {
	q := New(16)
	for i := 0; i < 5; i++ {
		q.RecordTranslationFault(1, 0, uint64(i), types.AccessRead, types.Stage1Only, 0, types.NonSecure)
	}
	q.SetMaxQueueSize(2)
	require.Equal(t, 2, q.GetEventCount())
}
