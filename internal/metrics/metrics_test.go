package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProm(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewProm("parcel", reg)

	p.IncPackagesCreated()
	p.IncPackagesCreated()
	p.IncPackageFailures("packaging")
	p.ObserveArchiveBytes(2048)
	p.IncDownloads("ok")
	p.IncDownloads("not_found")
	p.IncDownloads("not_found")
	p.IncCleanups("ok")

	assert.Equal(t, 2.0, testutil.ToFloat64(p.created))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.failures.WithLabelValues("packaging")))
	assert.Equal(t, 2.0, testutil.ToFloat64(p.download.WithLabelValues("not_found")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.cleanups.WithLabelValues("ok")))

	n, err := testutil.GatherAndCount(reg, "parcel_archive_bytes")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNoop(t *testing.T) {
	var m Metrics = Noop{}
	m.IncPackagesCreated()
	m.IncPackageFailures("x")
	m.ObserveArchiveBytes(1)
	m.IncDownloads("ok")
	m.IncCleanups("ok")
}

func TestHandler(t *testing.T) {
	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "go_goroutines"))
}
