// Package bootmanager retrieves a host's last boot time over an established
// session.
package bootmanager

import (
	"bufio"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/host"

	"github.com/uptimeops/upcheck/upcheck/sessionmanager"
)

// Source answers the question "when did this host last boot". A zero time with
// a nil error is never returned.
type Source interface {
	LastBoot(ctx context.Context, sess sessionmanager.Session) (time.Time, error)
}

// statCommand reads kernel statistics; the btime line carries the boot time as
// seconds since the epoch, immune to clock formatting and locale differences.
const statCommand = "cat /proc/stat"

// statScanLimit caps a single /proc/stat line. The intr line grows with the
// interrupt count and runs past bufio's 64KB default on many-core hosts, and
// btime comes after it.
const statScanLimit = 1 << 20

// StatSource reads btime from /proc/stat on remote hosts. Local sessions are
// answered straight from the kernel via gopsutil, which also covers platforms
// without /proc.
type StatSource struct{}

func (StatSource) LastBoot(ctx context.Context, sess sessionmanager.Session) (time.Time, error) {
	if !sess.Remote() {
		seconds, err := host.BootTimeWithContext(ctx)
		if err != nil {
			return time.Time{}, fmt.Errorf("local boot time: %w", err)
		}
		return time.Unix(int64(seconds), 0), nil
	}

	out, err := sess.Output(ctx, statCommand)
	if err != nil {
		return time.Time{}, fmt.Errorf("read /proc/stat: %w", err)
	}
	return ParseStat(out)
}

// ParseStat extracts the boot time from /proc/stat output.
func ParseStat(out string) (time.Time, error) {
	scanner := bufio.NewScanner(strings.NewReader(out))
	scanner.Buffer(make([]byte, 0, 64*1024), statScanLimit)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 1 || fields[0] != "btime" {
			continue
		}
		if len(fields) < 2 {
			return time.Time{}, fmt.Errorf("btime field has no value")
		}

		sec, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid btime %q: %w", fields[1], err)
		}
		return time.Unix(sec, 0), nil
	}
	if err := scanner.Err(); err != nil {
		return time.Time{}, fmt.Errorf("scan /proc/stat output: %w", err)
	}
	return time.Time{}, fmt.Errorf("no btime field in /proc/stat output")
}
