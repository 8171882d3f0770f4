package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry(), prometheus.Labels{"server": "a"})

	c.ObserveQuery("SELECT", true, 2*time.Millisecond)
	c.ObserveQuery("SELECT", true, time.Millisecond)
	c.ObserveQuery("UPDATE", false, time.Millisecond)
	c.ObserveTransaction("commit")
	c.ObserveBroadcast("in", 3)
	c.ObserveBroadcast("in", 2)
	c.ObserveSessionsRemoved(4)
	c.ObserveSessionsRemoved(0)
	c.ObserveMigration(7, true)
	c.ObserveQueue(5, 99)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.queries.WithLabelValues("SELECT", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.queries.WithLabelValues("UPDATE", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.transactions.WithLabelValues("commit")))
	assert.Equal(t, 5.0, testutil.ToFloat64(c.broadcasts.WithLabelValues("in")))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.sessionsPurged))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.migrations.WithLabelValues("ok")))
	assert.Equal(t, 7.0, testutil.ToFloat64(c.migrationStmts))
	assert.Equal(t, 5.0, testutil.ToFloat64(c.queueDepth))
	assert.Equal(t, 99.0, testutil.ToFloat64(c.lastBroadcast))
}

func TestHandler(t *testing.T) {
	c := NewCollector(nil, nil)
	c.ObserveTransaction("rollback")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `serenity_transactions_total{outcome="rollback"} 1`)
}
