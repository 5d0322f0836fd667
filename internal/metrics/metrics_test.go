package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersRegisterAndIncrement(t *testing.T) {
	t.Parallel()

	m := New()
	m.PapersDiscovered.Inc()
	m.PapersStored.Inc()
	m.PapersSkipped.WithLabelValues("duplicate").Inc()
	m.PapersFailed.WithLabelValues("download").Inc()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.PapersDiscovered))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PapersSkipped.WithLabelValues("duplicate")))
}

func TestRegistriesAreIndependent(t *testing.T) {
	t.Parallel()

	a := New()
	b := New()
	a.PapersStored.Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.PapersStored))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.PapersStored))
}

func TestInstrumentRecordsRequests(t *testing.T) {
	t.Parallel()

	m := New()
	h := m.Instrument("/v1/jobs", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/jobs", nil))
	assert.Equal(t, http.StatusAccepted, rr.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("POST", "202")))
}

func TestHandlerExposesCollectors(t *testing.T) {
	t.Parallel()

	m := New()
	m.PapersDiscovered.Inc()

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, err := io.ReadAll(rr.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "ingest_papers_discovered_total 1")
}
