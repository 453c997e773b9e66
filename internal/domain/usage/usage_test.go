package usage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/procfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const meminfo = `MemTotal:        8000000 kB
MemFree:         1000000 kB
MemAvailable:    6000000 kB
Buffers:          200000 kB
Cached:          3000000 kB
SwapCached:            0 kB
`

const stat = `cpu  100 0 100 700 100 0 0 0 0 0
cpu0 100 0 100 700 100 0 0 0 0 0
intr 0
ctxt 1000
btime 1700000000
processes 100
procs_running 1
procs_blocked 0
softirq 0 0 0 0 0 0 0 0 0 0 0
`

func fixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "meminfo"), []byte(meminfo), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stat"), []byte(stat), 0o644))
	return dir
}

func TestMemory(t *testing.T) {
	s, err := NewSampler(fixture(t), time.Millisecond)
	require.NoError(t, err)

	mem, err := s.Memory()
	require.NoError(t, err)
	assert.Equal(t, uint64(8000000*1024), mem.Total)
	assert.Equal(t, uint64(6000000*1024), mem.Available)
	assert.Equal(t, uint64(2000000*1024), mem.Used)
	assert.Equal(t, uint64(1000000*1024), mem.Free)
	assert.Equal(t, 25.0, mem.Percent)
}

func TestUsage(t *testing.T) {
	s, err := NewSampler(fixture(t), time.Millisecond)
	require.NoError(t, err)

	u, err := s.Usage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 25.0, u.Memory.Percent)
	assert.Zero(t, u.CPU.Percent)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.interval = time.Hour
	_, err = s.Usage(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCPUPercent(t *testing.T) {
	before := procfs.CPUStat{User: 10, System: 10, Idle: 80}
	after := procfs.CPUStat{User: 40, System: 20, Idle: 140}
	assert.Equal(t, 40.0, CPUPercent(before, after))
	assert.Zero(t, CPUPercent(after, after))
}

func TestMissingProcfs(t *testing.T) {
	s, err := NewSampler(t.TempDir(), time.Millisecond)
	require.NoError(t, err)
	_, err = s.Memory()
	assert.Error(t, err)
}
