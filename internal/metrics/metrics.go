// Package metrics holds the agent's atomic counters and gauges: the
// standard SNMP group counters the system MIB exposes read-only
// (snmpInPkts, snmpInBadVersions, ...) plus a few operational ones for
// the daemon's own health surface.
package metrics

import (
	"sync/atomic"
	"time"
)

// Counter is a monotonically increasing value safe for concurrent use by
// every worker in the pool.
type Counter struct {
	value atomic.Int64
}

func (c *Counter) Inc()            { c.value.Add(1) }
func (c *Counter) Add(delta int64) { c.value.Add(delta) }
func (c *Counter) Value() int64    { return c.value.Load() }

// Gauge is a point-in-time value that can move up or down, e.g. the
// active worker count or the rate-limit bucket population.
type Gauge struct {
	value atomic.Int64
}

func (g *Gauge) Set(v int64)    { g.value.Store(v) }
func (g *Gauge) Add(delta int64) { g.value.Add(delta) }
func (g *Gauge) Value() int64   { return g.value.Load() }

// SNMP holds the RFC 1213 snmp group counters the system MIB exposes as
// read-only scalars (§3's "standard MIBs pre-populated... snmp group
// counters"). Every field is written by many workers concurrently and
// read by the MIB registry's getters under no additional lock, per the
// "Statistics counters: all / all / atomic fetch-add" row of the
// concurrency model.
type SNMP struct {
	InPkts              Counter
	OutPkts             Counter
	InBadVersions       Counter
	InBadCommunityNames Counter
	InBadCommunityUses  Counter
	InASNParseErrs      Counter

	InGetRequests     Counter
	InGetNexts        Counter
	InSetRequests     Counter
	InGetBulks        Counter
	InTraps           Counter
	InInforms         Counter
	OutGetResponses   Counter
	OutReports        Counter

	RateLimitDrops Counter
	AccessDenied   Counter
}

// New returns a zeroed SNMP counter block.
func New() *SNMP { return &SNMP{} }

// Daemon holds operational gauges surfaced by the health endpoint.
// sysUpTime does not read it; the system MIB keeps its own boot time.
type Daemon struct {
	StartTime     time.Time
	ActiveWorkers Gauge
	QueueDepth    Gauge
}

// NewDaemon returns a Daemon block stamped with the given start time.
func NewDaemon(start time.Time) *Daemon {
	return &Daemon{StartTime: start}
}

// Uptime returns the elapsed time since start, the uptime the health
// endpoint reports.
func (d *Daemon) Uptime(now time.Time) time.Duration {
	return now.Sub(d.StartTime)
}
