package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveJob(t *testing.T) {
	completed := testutil.ToFloat64(WorkerJobsCompleted.WithLabelValues("metrics-test"))
	failed := testutil.ToFloat64(WorkerJobsFailed.WithLabelValues("metrics-test", "QUERY_TIMEOUT"))

	ObserveJob("metrics-test", "", 0.2)
	ObserveJob("metrics-test", "QUERY_TIMEOUT", 1.5)
	ObserveJob("metrics-test", "QUERY_TIMEOUT", 0.7)

	assert.Equal(t, completed+1, testutil.ToFloat64(WorkerJobsCompleted.WithLabelValues("metrics-test")))
	assert.Equal(t, failed+2, testutil.ToFloat64(WorkerJobsFailed.WithLabelValues("metrics-test", "QUERY_TIMEOUT")))
	assert.GreaterOrEqual(t, testutil.CollectAndCount(WorkerJobDuration), 1)
}

func TestCollectorsRegistered(t *testing.T) {
	LLMRequests.WithLabelValues("clarify", "success").Inc()
	LiveFetchCalls.WithLabelValues("Blitz Live", "ok").Inc()
	PipelineTurns.WithLabelValues("answered").Inc()

	assert.GreaterOrEqual(t, testutil.ToFloat64(LLMRequests.WithLabelValues("clarify", "success")), 1.0)
	assert.GreaterOrEqual(t, testutil.ToFloat64(LiveFetchCalls.WithLabelValues("Blitz Live", "ok")), 1.0)
	assert.GreaterOrEqual(t, testutil.ToFloat64(PipelineTurns.WithLabelValues("answered")), 1.0)
}
