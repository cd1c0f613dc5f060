package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordTableOccupancySetsGauges(t *testing.T) {
	RecordTableOccupancy("3", 5, 75)

	assert.Equal(t, float64(5), testutil.ToFloat64(TableActiveEntries.WithLabelValues("3")))
	assert.Equal(t, float64(75), testutil.ToFloat64(TableVacancyPercent.WithLabelValues("3")))
}

func TestRecordVacancyEventIncrementsCounter(t *testing.T) {
	before := testutil.ToFloat64(VacancyEventsTotal.WithLabelValues("5", "down"))

	RecordVacancyEvent("5", "down")

	assert.Equal(t, before+1, testutil.ToFloat64(VacancyEventsTotal.WithLabelValues("5", "down")))
}

func TestRecordPacketInIncrementsByReason(t *testing.T) {
	before := testutil.ToFloat64(PacketInTotal.WithLabelValues("PacketInReasonTableMiss"))

	RecordPacketIn("PacketInReasonTableMiss")

	assert.Equal(t, before+1, testutil.ToFloat64(PacketInTotal.WithLabelValues("PacketInReasonTableMiss")))
}

func TestRecordPacketInSendErrorIncrementsCounter(t *testing.T) {
	before := testutil.ToFloat64(PacketInSendErrorsTotal)

	RecordPacketInSendError()

	assert.Equal(t, before+1, testutil.ToFloat64(PacketInSendErrorsTotal))
}

func TestRecordMultipartRequestObservesDuration(t *testing.T) {
	countBefore := testutil.CollectAndCount(MultipartRequestDuration)

	RecordMultipartRequest("table_features", 10*time.Millisecond)

	assert.GreaterOrEqual(t, testutil.CollectAndCount(MultipartRequestDuration), countBefore)
}

func TestRecordFlowModIncrementsByCommandAndOutcome(t *testing.T) {
	before := testutil.ToFloat64(FlowModTotal.WithLabelValues("add", "ok"))

	RecordFlowMod("add", "ok")

	assert.Equal(t, before+1, testutil.ToFloat64(FlowModTotal.WithLabelValues("add", "ok")))
}
