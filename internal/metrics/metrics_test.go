package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/realtime-channel/internal/metrics"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	m.Status("room", "connecting")
	m.Status("room", "connected")
	m.Sent("room")
	m.Sent("room")
	m.Buffered("room")
	m.Evicted("room", 3)
	m.Drained("room", 2)
	m.Reconnect("room")
	m.Received("room")
	m.Dropped("room")

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"realtime_channel_status_transitions_total",
		"realtime_channel_messages_sent_total",
		"realtime_channel_messages_evicted_total",
		"realtime_channel_connected",
	} {
		assert.True(t, names[want], "missing %s", want)
	}

	count, err := testutil.GatherAndCount(reg, "realtime_channel_messages_sent_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMetrics_DoubleRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := metrics.New(reg)
	require.NoError(t, err)

	_, err = metrics.New(reg)
	assert.Error(t, err)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *metrics.Metrics
	assert.NotPanics(t, func() {
		m.Status("x", "connected")
		m.Sent("x")
		m.Evicted("x", 1)
	})
}

func TestMetrics_NilRegisterer(t *testing.T) {
	m, err := metrics.New(nil)
	require.NoError(t, err)
	assert.NotNil(t, m)
}
