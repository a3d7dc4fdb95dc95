package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMonitorClampsLoadedToTotal(t *testing.T) {
	m := New(100, nil, "test")
	m.Update(50)
	m.Update(100)
	snap := m.Metrics()
	require.Equal(t, uint64(100), snap.LoadedBytes)
}

func TestMonitorCalculatingBeforeFirstSample(t *testing.T) {
	m := New(1000, nil, "test")
	snap := m.Metrics()
	require.Equal(t, "calculating", snap.ETALabel)
}

func TestMonitorSpeedFormatting(t *testing.T) {
	require.Equal(t, "512 KB/s", formatSpeed(512*1024))
	require.Equal(t, "2.0 MB/s", formatSpeed(2*1024*1024))
}

func TestMonitorETAFormatting(t *testing.T) {
	require.Equal(t, "30s left", formatETA(1000, 700, 10))
	require.Equal(t, "2m 30s left", formatETA(10000, 1000, 60))
	require.Equal(t, "calculating", formatETA(1000, 0, 0))
}

func TestMonitorResetReinitializes(t *testing.T) {
	m := New(10, nil, "test")
	m.Update(10)
	m.Reset(50)
	snap := m.Metrics()
	require.Equal(t, uint64(50), snap.TotalBytes)
	require.Equal(t, uint64(0), snap.LoadedBytes)
}

func TestMonitorEMASmoothingAfterTick(t *testing.T) {
	m := New(1_000_000, nil, "test")
	m.mu.Lock()
	m.lastTick = time.Now().Add(-time.Second)
	m.mu.Unlock()
	m.Update(500_000)

	snap := m.Metrics()
	require.Greater(t, snap.SpeedBytesPerSec, 0.0)
	require.True(t, m.hasSpeed)
}
