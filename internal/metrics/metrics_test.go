package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()
	m.RowsRead.WithLabelValues("passengers").Add(3)
	m.LoadJobs.WithLabelValues("passengers", OutcomeSucceeded).Inc()
	m.ObserveStage("passengers", "hash", time.Now().Add(-time.Second))

	require.Equal(t, 3.0, testutil.ToFloat64(m.RowsRead.WithLabelValues("passengers")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.LoadJobs.WithLabelValues("passengers", OutcomeSucceeded)))
	require.Equal(t, 1, testutil.CollectAndCount(m.StageDuration))
}

func TestPush(t *testing.T) {
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasPrefix(r.URL.Path, "/metrics/job/deb"), r.URL.Path)
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := New()
	m.RowsWritten.WithLabelValues("cards").Add(5)
	require.NoError(t, m.Push(context.Background(), srv.URL, "deb"))
	require.NotEmpty(t, body)
}
