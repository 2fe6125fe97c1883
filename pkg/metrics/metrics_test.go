package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGaugeAndCounter(t *testing.T) {
	require.NoError(t, InitMetrics(t.TempDir()))
	defer Close()

	since := time.Now().Add(-time.Minute)
	SetGauge("sessions_live", 3)
	Incr("messages_sent", 2)
	Incr("messages_sent", 5)

	pts, err := Query("sessions_live", since)
	require.NoError(t, err)
	require.NotEmpty(t, pts)
	assert.Equal(t, float64(3), pts[len(pts)-1].Value)

	pts, err = Query("messages_sent", since)
	require.NoError(t, err)
	require.NotEmpty(t, pts)
	assert.Equal(t, float64(7), pts[len(pts)-1].Value)
}

func TestQueryUnknownSeries(t *testing.T) {
	require.NoError(t, InitMetrics(t.TempDir()))
	defer Close()

	pts, err := Query("nothing_here", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, pts)
}

func TestNoopBeforeInit(t *testing.T) {
	require.NoError(t, Close())
	assert.NotPanics(t, func() { SetGauge("x", 1) })
	pts, err := Query("x", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Nil(t, pts)
}
