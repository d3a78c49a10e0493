package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestJobCounters(t *testing.T) {
	before := testutil.ToFloat64(jobsSubmitted.WithLabelValues("text-to-image"))
	IncJobSubmitted(" Text-To-Image ")
	assert.Equal(t, before+1, testutil.ToFloat64(jobsSubmitted.WithLabelValues("text-to-image")))

	finished := testutil.ToFloat64(jobsFinished.WithLabelValues("image-to-video", "error"))
	ObserveJobFinished("image-to-video", "error", 2*time.Second)
	assert.Equal(t, finished+1, testutil.ToFloat64(jobsFinished.WithLabelValues("image-to-video", "error")))
}

func TestGauges(t *testing.T) {
	SetQueueDepth(3)
	assert.Equal(t, float64(3), testutil.ToFloat64(queueDepth))

	base := testutil.ToFloat64(workersBusy)
	WorkerBusy()
	WorkerBusy()
	WorkerIdle()
	assert.Equal(t, base+1, testutil.ToFloat64(workersBusy))
	WorkerIdle()
}

func TestRecoveredIgnoresZero(t *testing.T) {
	before := testutil.ToFloat64(jobsRecovered.WithLabelValues("requeued"))
	IncJobsRecovered("requeued", 0)
	IncJobsRecovered("requeued", 2)
	assert.Equal(t, before+2, testutil.ToFloat64(jobsRecovered.WithLabelValues("requeued")))
}

func TestNormalizesEmptyLabels(t *testing.T) {
	assert.Equal(t, "unknown", norm("  "))
	assert.Equal(t, "gemini", norm("Gemini"))
}

func TestMustRegisterIsIdempotent(t *testing.T) {
	assert.NotPanics(t, func() {
		MustRegister()
		MustRegister()
	})
}
