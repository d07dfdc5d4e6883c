// Package platform derives the host-identifying information the engine
// identity and system MIB need at startup: hostname, a stable MAC-derived
// engineID when none is configured, and process uptime.
package platform

import (
	"errors"
	"fmt"
	"net"
	"os"
	"runtime"
	"time"
)

func archName() string { return runtime.GOARCH }
func cpuCount() int    { return runtime.NumCPU() }

// Info is the snapshot of host identity collected once at startup and
// held immutably for the life of the process.
type Info struct {
	Hostname     string
	Architecture string
	CPUCount     int
	BootTime     time.Time
}

// Collect gathers host identity at process start.
func Collect() (Info, error) {
	host, err := os.Hostname()
	if err != nil {
		return Info{}, fmt.Errorf("platform: hostname: %w", err)
	}
	return Info{
		Hostname:     host,
		Architecture: archName(),
		CPUCount:     cpuCount(),
		BootTime:     time.Now(),
	}, nil
}

// Uptime returns the elapsed time since BootTime, the uptime the daemon
// stamps on its startup coldStart notifications.
func (i Info) Uptime(now time.Time) time.Duration {
	return now.Sub(i.BootTime)
}

// firstHardwareAddr returns the MAC address of the first interface that is
// up and not a loopback, skipping interfaces with no hardware address
// (tunnels, bridges with none assigned).
func firstHardwareAddr() (net.HardwareAddr, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("platform: list interfaces: %w", err)
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		if len(iface.HardwareAddr) == 0 {
			continue
		}
		return iface.HardwareAddr, nil
	}
	return nil, errors.New("platform: no non-loopback interface with a hardware address")
}

// DeriveEngineID builds an RFC 3411 §5-format engineID when none is
// configured: the 4-byte enterprise number with its top bit set
// (enterprise-specific format, so the first byte is 0x80 for enterprise
// numbers below 2^24), a format selector of 0x03 (MAC address), and the
// 6-byte MAC itself — 11 bytes total. Falls back to hashing the hostname
// into the same slot when no usable network interface exists (containers
// and CI runners commonly have none), so the daemon can still start.
func DeriveEngineID(enterpriseNumber uint32, hostname string) []byte {
	id := make([]byte, 4, 11)
	id[0] = 0x80 | byte(enterpriseNumber>>24)
	id[1] = byte(enterpriseNumber >> 16)
	id[2] = byte(enterpriseNumber >> 8)
	id[3] = byte(enterpriseNumber)

	if mac, err := firstHardwareAddr(); err == nil {
		id = append(id, 0x03)
		id = append(id, mac...)
		return id
	}

	id = append(id, 0x01)
	id = append(id, hashHostname(hostname)...)
	return id
}

// hashHostname reduces an arbitrary hostname to 6 bytes so the fallback
// engineID keeps the same 11-byte shape as the MAC-derived form.
func hashHostname(hostname string) []byte {
	var h [6]byte
	for i := 0; i < len(hostname); i++ {
		h[i%len(h)] ^= hostname[i]
		h[i%len(h)] += byte(i)
	}
	return h[:]
}
