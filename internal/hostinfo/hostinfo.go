// Package hostinfo samples host resource usage for status reports.
package hostinfo

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// Snapshot is one point-in-time host reading.
type Snapshot struct {
	CPUPercent  float64
	MemUsedMB   uint64
	MemTotalMB  uint64
	DiskFreeGB  float64
	DiskTotalGB float64
}

// Collect samples CPU over the given interval and reads memory and disk
// usage for the filesystem holding path.
func Collect(ctx context.Context, path string, interval time.Duration) (*Snapshot, error) {
	snap := &Snapshot{}

	cpu, err := cpuPercent(ctx, interval)
	if err != nil {
		return nil, err
	}
	snap.CPUPercent = cpu

	total, avail, err := memInfo()
	if err != nil {
		return nil, err
	}
	snap.MemTotalMB = total / 1024
	snap.MemUsedMB = (total - avail) / 1024

	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return nil, fmt.Errorf("statfs %s: %w", path, err)
	}
	bs := uint64(st.Bsize)
	snap.DiskTotalGB = float64(st.Blocks*bs) / (1 << 30)
	snap.DiskFreeGB = float64(st.Bavail*bs) / (1 << 30)

	return snap, nil
}

// ServiceActive reports whether the named systemd unit is active.
func ServiceActive(ctx context.Context, unit string) bool {
	cmd := exec.CommandContext(ctx, "systemctl", "is-active", "--quiet", unit)
	return cmd.Run() == nil
}

// cpuPercent computes aggregate CPU busy time over interval from /proc/stat.
func cpuPercent(ctx context.Context, interval time.Duration) (float64, error) {
	busy1, total1, err := cpuTimes()
	if err != nil {
		return 0, err
	}
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-time.After(interval):
	}
	busy2, total2, err := cpuTimes()
	if err != nil {
		return 0, err
	}
	if total2 == total1 {
		return 0, nil
	}
	return 100 * float64(busy2-busy1) / float64(total2-total1), nil
}

func cpuTimes() (busy, total uint64, err error) {
	data, err := os.ReadFile("/proc/stat")
	if err != nil {
		return 0, 0, err
	}
	line, _, _ := strings.Cut(string(data), "\n")
	fields := strings.Fields(line)
	if len(fields) < 5 || fields[0] != "cpu" {
		return 0, 0, fmt.Errorf("unexpected /proc/stat format")
	}
	var vals []uint64
	for _, f := range fields[1:] {
		v, err := strconv.ParseUint(f, 10, 64)
		if err != nil {
			break
		}
		vals = append(vals, v)
	}
	for i, v := range vals {
		total += v
		// idle and iowait are fields 4 and 5
		if i != 3 && i != 4 {
			busy += v
		}
	}
	return busy, total, nil
}

// memInfo returns MemTotal and MemAvailable from /proc/meminfo, in KiB.
func memInfo() (total, avail uint64, err error) {
	data, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return 0, 0, err
	}
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			total, _ = strconv.ParseUint(fields[1], 10, 64)
		case "MemAvailable:":
			avail, _ = strconv.ParseUint(fields[1], 10, 64)
		}
	}
	if total == 0 {
		return 0, 0, fmt.Errorf("could not parse /proc/meminfo")
	}
	return total, avail, nil
}
