package sysinfo

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/boardwatch/boardwatch/internal/common/logger"
	gopsnet "github.com/shirou/gopsutil/v4/net"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCollector(t *testing.T, updateFile, upgradesFile string) *Collector {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console"})
	require.NoError(t, err)
	return NewCollector(updateFile, upgradesFile, log)
}

func TestUsageSnapshots(t *testing.T) {
	c := newTestCollector(t, "", "")

	ram, err := c.RAM()
	require.NoError(t, err)
	assert.NotZero(t, ram.Total)
	assert.LessOrEqual(t, ram.Used, ram.Total)

	diskUsage, err := c.Disk()
	require.NoError(t, err)
	assert.NotZero(t, diskUsage.Total)
	assert.GreaterOrEqual(t, diskUsage.Percent, 0.0)
	assert.LessOrEqual(t, diskUsage.Percent, 100.0)
}

func TestNetworkDelta(t *testing.T) {
	before, err := gopsnet.IOCounters(false)
	require.NoError(t, err)
	if len(before) == 0 {
		t.Skip("no network counters on this host")
	}

	// The constructor primes the baseline, so the first delta is bounded
	// by the bytes moved since construction, not the absolute interface
	// counters accumulated since boot.
	c := newTestCollector(t, "", "")

	first, err := c.Network()
	require.NoError(t, err)

	after, err := gopsnet.IOCounters(false)
	require.NoError(t, err)
	require.NotEmpty(t, after)

	assert.LessOrEqual(t, first.Received, after[0].BytesRecv-before[0].BytesRecv)
	assert.LessOrEqual(t, first.Sent, after[0].BytesSent-before[0].BytesSent)

	// The baseline advances with each call: the second delta is likewise
	// bounded by the test's own window, never the boot-time totals.
	second, err := c.Network()
	require.NoError(t, err)

	final, err := gopsnet.IOCounters(false)
	require.NoError(t, err)
	require.NotEmpty(t, final)
	assert.LessOrEqual(t, second.Received, final[0].BytesRecv-before[0].BytesRecv)
	assert.LessOrEqual(t, second.Sent, final[0].BytesSent-before[0].BytesSent)
}

func TestProcesses(t *testing.T) {
	c := newTestCollector(t, "", "")

	procs, err := c.Processes()
	require.NoError(t, err)
	require.NotEmpty(t, procs)

	self := os.Getpid()
	found := false
	for _, p := range procs {
		if int(p.PID) == self {
			found = true
			assert.NotEmpty(t, p.Name)
		}
	}
	assert.True(t, found, "own process missing from table")
}

func TestGlobal(t *testing.T) {
	t.Run("missing file means no update", func(t *testing.T) {
		c := newTestCollector(t, filepath.Join(t.TempDir(), "absent"), "")
		assert.Equal(t, Global{}, c.Global())
	})

	t.Run("file contents surface as update notice", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), ".update_available")
		require.NoError(t, os.WriteFile(path, []byte("9.9.9\n"), 0644))

		c := newTestCollector(t, path, "")
		assert.Equal(t, Global{Update: "9.9.9"}, c.Global())
	})
}

func TestRound2(t *testing.T) {
	assert.Equal(t, 12.35, round2(12.345678))
	assert.Equal(t, 0.0, round2(0))
}

func TestSaturatingSub(t *testing.T) {
	assert.Equal(t, uint64(5), saturatingSub(10, 5))
	assert.Equal(t, uint64(0), saturatingSub(5, 10))
}
