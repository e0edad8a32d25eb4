package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/marmos91/dittohdfs/pkg/fserror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestClientMetrics(t *testing.T) {
	m := newClientMetrics(prometheus.NewRegistry())

	m.RecordCall("getFileInfo", 3*time.Millisecond, nil)
	m.RecordCall("getFileInfo", time.Millisecond, fserror.NotFound("stat", "/x"))
	m.RecordConnect(nil)
	m.RecordConnect(errors.New("refused"))
	m.RecordConnect(errors.New("refused"))
	m.RecordBytes("read", 4096)
	m.RecordBytes("read", 1024)
	m.RecordFailover("checksum")
	m.SetOpenFiles(2)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.callsTotal.WithLabelValues("getFileInfo", "success", "")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.callsTotal.WithLabelValues("getFileInfo", "error", "not found")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.connectsTotal.WithLabelValues("error")))
	assert.Equal(t, 5120.0, testutil.ToFloat64(m.bytesTotal.WithLabelValues("read")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failoversTotal.WithLabelValues("checksum")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.openFiles))
}

func TestNoopWhenDisabled(t *testing.T) {
	if IsEnabled() {
		t.Skip("registry already initialized in this process")
	}
	assert.IsType(t, noopClientMetrics{}, NewClientMetrics())
	assert.IsType(t, noopClientMetrics{}, OrNoop(nil))
}
