package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	return NewMetricsWithRegistry(reg, reg)
}

func TestRecordChunk(t *testing.T) {
	m := newTestMetrics()

	m.RecordChunk("upload", nil)
	m.RecordChunk("upload", nil)
	m.RecordChunk("upload", errors.New("boom"))
	m.RecordChunk("download", nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.chunkTransfers.WithLabelValues("upload", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.chunkTransfers.WithLabelValues("upload", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.chunkTransfers.WithLabelValues("download", "ok")))
}

func TestRecordTransfer(t *testing.T) {
	m := newTestMetrics()

	m.RecordTransfer("upload", 1024, 200*time.Millisecond)
	m.RecordTransfer("upload", 1024, 100*time.Millisecond)

	assert.Equal(t, 2048.0, testutil.ToFloat64(m.transferBytes.WithLabelValues("upload")))
}

func TestRecordBlobOperation(t *testing.T) {
	m := newTestMetrics()

	m.RecordBlobOperation("s3", "put", time.Millisecond, nil)
	m.RecordBlobOperation("s3", "put", time.Millisecond, errors.New("denied"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.blobOperations.WithLabelValues("s3", "put")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.blobErrors.WithLabelValues("s3", "put")))
}

func TestUnlockAndOrphans(t *testing.T) {
	m := newTestMetrics()

	m.RecordUnlock(errors.New("bad password"))
	m.RecordUnlock(nil)
	m.RecordOrphanedBlobs(3)
	m.RecordOrphanedBlobs(0)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.unlockAttempts.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.unlockAttempts.WithLabelValues("ok")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.orphanedBlobs))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordChunk("upload", nil)
		m.RecordTransfer("upload", 1, time.Second)
		m.RecordBlobOperation("memory", "get", time.Second, nil)
		m.RecordUnlock(nil)
		m.RecordOrphanedBlobs(1)
	})
}

func TestHandler(t *testing.T) {
	m := newTestMetrics()
	m.RecordChunk("upload", nil)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "vault_chunk_transfers_total"))
}
