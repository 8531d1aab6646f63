package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDatasetJob(t *testing.T) {
	m := New()
	m.DatasetJob("update", "weekly", true, 120, 2, 1, 3*time.Second)
	m.DatasetJob("update", "pbp", false, 0, 0, 0, time.Second)

	assert.Equal(t, float64(120), testutil.ToFloat64(m.RowsIngested.WithLabelValues("weekly")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.PartitionsPromoted.WithLabelValues("weekly", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.PartitionsPromoted.WithLabelValues("weekly", "failed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.DatasetJobs.WithLabelValues("update", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.DatasetJobs.WithLabelValues("update", "failed")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.PromotionDuration))
}

func TestWriteTextfile(t *testing.T) {
	m := New()
	m.DatasetJob("bootstrap", "weekly", true, 5, 1, 0, time.Second)
	m.RunFinished(time.Unix(1700000000, 0))

	path := filepath.Join(t.TempDir(), "textfile", "statlake.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	body := string(data)
	assert.Contains(t, body, `statlake_rows_ingested_total{dataset="weekly"} 5`)
	assert.Contains(t, body, "statlake_last_run_timestamp_seconds 1.7e+09")
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.DatasetJob("update", "weekly", true, 1, 1, 0, time.Second)
	m.RunFinished(time.Now())
	assert.NoError(t, m.WriteTextfile("ignored"))
	assert.Nil(t, m.Registry())
}
