package sysmon

import (
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/procfs"
)

// bytesPerKB converts meminfo values to bytes.
const bytesPerKB = 1024

// ErrUnsupported is returned when the host exposes no procfs.
var ErrUnsupported = errors.New("system usage is not available on this host")

// Usage is a host usage snapshot.
type Usage struct {
	// CPUPercent is the busy share of all CPUs since the previous sample, 0..100.
	CPUPercent float64
	// MemUsedBytes is total memory minus available memory.
	MemUsedBytes uint64
	// MemTotalBytes is the installed memory.
	MemTotalBytes uint64
}

// Sampler reads usage snapshots. It is built once and shared; Usage is safe
// for concurrent use.
type Sampler struct {
	fs      procfs.FS
	initErr error

	mu        sync.Mutex
	prevBusy  float64
	prevTotal float64
}

// NewSampler returns a Sampler reading the procfs mounted at mountPoint,
// or at the default mount point when empty.
func NewSampler(mountPoint string) *Sampler {
	if mountPoint == "" {
		mountPoint = procfs.DefaultMountPoint
	}

	fs, err := procfs.NewFS(mountPoint)
	if err != nil {
		return &Sampler{initErr: fmt.Errorf("%w: %w", ErrUnsupported, err)}
	}

	return &Sampler{fs: fs}
}

// Usage returns the current snapshot. CPU usage of the first call covers the
// time since boot.
func (s *Sampler) Usage() (Usage, error) {
	if s.initErr != nil {
		return Usage{}, s.initErr
	}

	stat, err := s.fs.Stat()
	if err != nil {
		return Usage{}, fmt.Errorf("read cpu stat: %w", err)
	}

	meminfo, err := s.fs.Meminfo()
	if err != nil {
		return Usage{}, fmt.Errorf("read meminfo: %w", err)
	}

	usage := Usage{CPUPercent: s.cpuPercent(stat.CPUTotal)}

	if meminfo.MemTotal != nil {
		usage.MemTotalBytes = *meminfo.MemTotal * bytesPerKB

		available := uint64(0)
		if meminfo.MemAvailable != nil {
			available = *meminfo.MemAvailable * bytesPerKB
		} else if meminfo.MemFree != nil {
			available = *meminfo.MemFree * bytesPerKB
		}

		if available < usage.MemTotalBytes {
			usage.MemUsedBytes = usage.MemTotalBytes - available
		}
	}

	return usage, nil
}

// cpuPercent returns the busy share since the previous call and stores cpu as the new baseline.
func (s *Sampler) cpuPercent(cpu procfs.CPUStat) float64 {
	idle := cpu.Idle + cpu.Iowait
	busy := cpu.User + cpu.Nice + cpu.System + cpu.IRQ + cpu.SoftIRQ + cpu.Steal
	total := idle + busy

	s.mu.Lock()
	defer s.mu.Unlock()

	deltaBusy := busy - s.prevBusy
	deltaTotal := total - s.prevTotal
	s.prevBusy, s.prevTotal = busy, total

	if deltaTotal <= 0 || deltaBusy < 0 {
		return 0
	}

	return min(deltaBusy/deltaTotal*100, 100) //nolint:mnd // Percent.
}
