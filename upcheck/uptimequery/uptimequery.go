// Package uptimequery queries hosts for their system uptime and classifies
// each host's reachability. Hosts are processed strictly one at a time; a
// host's failure is recorded in its result, never propagated to the caller.
package uptimequery

import (
	"context"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/uptimeops/upcheck/logger"
	"github.com/uptimeops/upcheck/upcheck/bootmanager"
	"github.com/uptimeops/upcheck/upcheck/sessionmanager"
)

// DefaultPatchThreshold is the uptime, in days, above which a host is flagged
// as possibly needing patches. Flat cutoff; the comparison is strict.
const DefaultPatchThreshold = 30.0

// Querier runs uptime queries against a fleet of hosts.
type Querier struct {
	dialer    sessionmanager.Dialer
	source    bootmanager.Source
	log       logger.Logger
	threshold float64
	now       func() time.Time
	localName string
}

// Option adjusts a Querier at construction time.
type Option func(*Querier)

// WithLogger sets the diagnostic channel. Offline hosts are reported here at
// warning level.
func WithLogger(l logger.Logger) Option {
	return func(q *Querier) {
		q.log = l
	}
}

// WithPatchThreshold overrides the uptime threshold, in days, for the
// MightNeedPatched flag.
func WithPatchThreshold(days float64) Option {
	return func(q *Querier) {
		q.threshold = days
	}
}

// WithClock overrides the time source used to compute uptime durations.
func WithClock(now func() time.Time) Option {
	return func(q *Querier) {
		q.now = now
	}
}

// WithLocalHostname overrides the name queried when the input list is empty.
func WithLocalHostname(name string) Option {
	return func(q *Querier) {
		q.localName = name
	}
}

// New builds a Querier over the given connection dialer and boot-time source.
func New(dialer sessionmanager.Dialer, source bootmanager.Source, opts ...Option) *Querier {
	q := &Querier{
		dialer:    dialer,
		source:    source,
		log:       logger.Nop(),
		threshold: DefaultPatchThreshold,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.localName == "" {
		q.localName = LocalHostname()
	}
	return q
}

// LocalHostname returns the identifier queried by default, falling back to
// "localhost" when the machine's own name cannot be determined.
func LocalHostname() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "localhost"
	}
	return name
}

// Run queries every named host in order and returns one result per name. An
// empty name list queries the local host. The sweep always runs to completion:
// cancelling ctx only makes the remaining hosts' blocking calls fail fast, so
// they still surface as records rather than as missing entries.
func (q *Querier) Run(ctx context.Context, names []string) []HostUptimeResult {
	if len(names) == 0 {
		names = []string{q.localName}
	}

	results := make([]HostUptimeResult, 0, len(names))
	for _, name := range names {
		results = append(results, q.queryHost(ctx, name))
	}
	return results
}

// Stream consumes host names from an upstream producer and emits one result
// per name as soon as that host finishes, preserving arrival order. A single
// goroutine works through the names sequentially; there is no fan-out. The
// returned channel closes when the input closes or ctx is cancelled. Unlike
// Run, an input that closes without producing any names yields no results.
func (q *Querier) Stream(ctx context.Context, names <-chan string) <-chan HostUptimeResult {
	out := make(chan HostUptimeResult)
	go func() {
		defer close(out)
		for {
			select {
			case name, ok := <-names:
				if !ok {
					return
				}
				select {
				case out <- q.queryHost(ctx, name):
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// queryHost computes a fresh result for one host. Every field starts from its
// zero value here; nothing carries over between hosts.
func (q *Querier) queryHost(ctx context.Context, name string) HostUptimeResult {
	res := HostUptimeResult{
		ComputerName: name,
		StartTime:    StartTimeUnavailable,
	}

	sess, err := q.dialer.Dial(ctx, name)
	if err != nil {
		res.Status = StatusOffline
		q.log.Warnf("host %s is unreachable: %v", name, err)
		return res
	}

	boot, err := q.lastBoot(ctx, sess)
	if err != nil {
		q.log.Debugf("boot time query on %s failed: %v", name, err)
		res.Status = StatusError
		return res
	}

	res.Status = StatusOK
	res.StartTime = boot.Format(StartTimeLayout)
	res.UptimeDays = roundDays(q.now().Sub(boot))
	res.MightNeedPatched = res.UptimeDays > q.threshold
	return res
}

// lastBoot runs the boot-time query with the session released on every path
// out, including query failure. The session is never touched again afterwards.
func (q *Querier) lastBoot(ctx context.Context, sess sessionmanager.Session) (time.Time, error) {
	defer sess.Close()

	boot, err := q.source.LastBoot(ctx, sess)
	if err != nil {
		return time.Time{}, err
	}
	if boot.IsZero() {
		return time.Time{}, fmt.Errorf("boot time query returned nothing")
	}
	return boot, nil
}

// roundDays converts an uptime duration to days rounded to one decimal place.
func roundDays(d time.Duration) float64 {
	days := d.Hours() / 24
	return math.Round(days*10) / 10
}
