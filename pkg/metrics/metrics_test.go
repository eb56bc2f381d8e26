package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestFilesUploadedTotalIncrements(t *testing.T) {
	FilesUploadedTotal.Reset()
	FilesUploadedTotal.WithLabelValues("nightly").Inc()
	FilesUploadedTotal.WithLabelValues("nightly").Inc()

	assert.Equal(t, float64(2), testutil.ToFloat64(FilesUploadedTotal.WithLabelValues("nightly")))
}

func TestTimerObservesDuration(t *testing.T) {
	timer := NewTimer()
	timer.ObserveDuration(ClassifyDuration)
	assert.GreaterOrEqual(t, timer.Duration().Seconds(), 0.0)
}
