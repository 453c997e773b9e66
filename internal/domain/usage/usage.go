// Package usage reports host memory and CPU utilisation from procfs.
package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/procfs"

	"github.com/GriffinCanCode/notebookd/internal/protocol"
)

// DefaultInterval is the CPU sampling window.
const DefaultInterval = 100 * time.Millisecond

// Sampler reads /proc (or another procfs mount).
type Sampler struct {
	fs       procfs.FS
	interval time.Duration
}

// NewSampler opens the procfs mounted at mountPoint; empty selects /proc.
func NewSampler(mountPoint string, interval time.Duration) (*Sampler, error) {
	if mountPoint == "" {
		mountPoint = procfs.DefaultMountPoint
	}
	fs, err := procfs.NewFS(mountPoint)
	if err != nil {
		return nil, fmt.Errorf("open procfs: %w", err)
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Sampler{fs: fs, interval: interval}, nil
}

// Usage samples memory once and CPU over the sampling window.
func (s *Sampler) Usage(ctx context.Context) (protocol.UsageResponse, error) {
	mem, err := s.Memory()
	if err != nil {
		return protocol.UsageResponse{}, err
	}
	before, err := s.fs.Stat()
	if err != nil {
		return protocol.UsageResponse{}, protocol.BackendExecution(err, "read cpu stats")
	}
	select {
	case <-ctx.Done():
		return protocol.UsageResponse{}, ctx.Err()
	case <-time.After(s.interval):
	}
	after, err := s.fs.Stat()
	if err != nil {
		return protocol.UsageResponse{}, protocol.BackendExecution(err, "read cpu stats")
	}
	return protocol.UsageResponse{
		Memory: mem,
		CPU:    protocol.CPUUsage{Percent: CPUPercent(before.CPUTotal, after.CPUTotal)},
	}, nil
}

// Memory reads the memory figures in bytes.
func (s *Sampler) Memory() (protocol.MemoryUsage, error) {
	info, err := s.fs.Meminfo()
	if err != nil {
		return protocol.MemoryUsage{}, protocol.BackendExecution(err, "read meminfo")
	}
	kb := func(v *uint64) uint64 {
		if v == nil {
			return 0
		}
		return *v * 1024
	}
	total := kb(info.MemTotal)
	free := kb(info.MemFree)
	available := kb(info.MemAvailable)
	if info.MemAvailable == nil {
		available = free + kb(info.Buffers) + kb(info.Cached)
	}
	if available > total {
		available = total
	}
	out := protocol.MemoryUsage{
		Total:     total,
		Available: available,
		Used:      total - available,
		Free:      free,
	}
	if total > 0 {
		out.Percent = round1(float64(out.Used) / float64(total) * 100)
	}
	return out, nil
}

// CPUPercent is the busy share of the time elapsed between two samples.
func CPUPercent(before, after procfs.CPUStat) float64 {
	idle := func(c procfs.CPUStat) float64 { return c.Idle + c.Iowait }
	total := func(c procfs.CPUStat) float64 {
		return c.User + c.Nice + c.System + c.Idle + c.Iowait + c.IRQ + c.SoftIRQ + c.Steal
	}
	dTotal := total(after) - total(before)
	if dTotal <= 0 {
		return 0
	}
	busy := dTotal - (idle(after) - idle(before))
	if busy < 0 {
		busy = 0
	}
	return round1(busy / dTotal * 100)
}

func round1(v float64) float64 {
	return float64(int64(v*10+0.5)) / 10
}
