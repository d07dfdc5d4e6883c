// Package security implements the v1/v2c security front-end: source-IP
// allow/deny lists, per-IP rate limiting, and community-string validation.
// It runs before VACM — a request that fails here never reaches the PDU
// dispatcher at all.
package security

import (
	"net"
	"sync"
	"time"
)

// CommunityEntry binds a community string to its read-write status and,
// optionally, the one source IP it is valid from.
type CommunityEntry struct {
	Community string
	ReadOnly  bool
	SourceIP  string // empty means "valid from any source"
}

// Manager holds the IP filters, community table, and rate-limit buckets a
// listening socket consults for every v1/v2c datagram before it reaches
// the dispatcher. A fresh Manager (via New) allows every source but
// recognises no community until AddCommunity is called.
type Manager struct {
	mu sync.RWMutex

	allowedIPs     map[string]bool
	deniedIPs      map[string]bool
	allowedSubnets []*net.IPNet
	deniedSubnets  []*net.IPNet

	communities map[string]CommunityEntry

	rateMu        sync.Mutex
	buckets       map[string]*bucket
	overrideMap   map[string]rateLimitOverride
	defaultMax    uint32
	defaultWindow time.Duration
}

type rateLimitOverride struct {
	max    uint32
	window time.Duration
}

type bucket struct {
	windowStart time.Time
	count       uint32
}

// New constructs a Manager with the given default rate-limit window
// (§4.7: 100 requests per 60 seconds unless configuration overrides it).
func New(defaultMaxRequests uint32, defaultWindow time.Duration) *Manager {
	return &Manager{
		allowedIPs:    make(map[string]bool),
		deniedIPs:     make(map[string]bool),
		communities:   make(map[string]CommunityEntry),
		buckets:       make(map[string]*bucket),
		overrideMap:   make(map[string]rateLimitOverride),
		defaultMax:    defaultMaxRequests,
		defaultWindow: defaultWindow,
	}
}

// Replace atomically swaps this manager's IP lists, subnets, and
// community table for other's, leaving rate-limit buckets untouched (an
// in-flight client's sliding window should survive a configuration
// reload). The mechanism a SIGHUP reload uses.
func (m *Manager) Replace(other *Manager) {
	other.mu.RLock()
	allowedIPs := copyBoolMap(other.allowedIPs)
	deniedIPs := copyBoolMap(other.deniedIPs)
	allowedSubnets := append([]*net.IPNet(nil), other.allowedSubnets...)
	deniedSubnets := append([]*net.IPNet(nil), other.deniedSubnets...)
	communities := make(map[string]CommunityEntry, len(other.communities))
	for k, v := range other.communities {
		communities[k] = v
	}
	other.mu.RUnlock()

	m.mu.Lock()
	m.allowedIPs = allowedIPs
	m.deniedIPs = deniedIPs
	m.allowedSubnets = allowedSubnets
	m.deniedSubnets = deniedSubnets
	m.communities = communities
	m.mu.Unlock()
}

func copyBoolMap(src map[string]bool) map[string]bool {
	dst := make(map[string]bool, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// AddAllowedIP / AddDeniedIP register one exact source address.
func (m *Manager) AddAllowedIP(ip string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allowedIPs[ip] = true
}

func (m *Manager) AddDeniedIP(ip string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deniedIPs[ip] = true
}

// AddAllowedSubnet / AddDeniedSubnet register a CIDR range, e.g.
// "10.0.0.0/8". An unparseable subnet is not registered and its parse
// error is returned.
func (m *Manager) AddAllowedSubnet(cidr string) error {
	_, n, err := net.ParseCIDR(cidr)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allowedSubnets = append(m.allowedSubnets, n)
	return nil
}

func (m *Manager) AddDeniedSubnet(cidr string) error {
	_, n, err := net.ParseCIDR(cidr)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deniedSubnets = append(m.deniedSubnets, n)
	return nil
}

// IsIPAllowed implements the source-IP check: an explicit or
// subnet-CIDR deny always wins; otherwise, if any allow list is
// non-empty, the address must match it; with no allow list configured,
// every address not explicitly denied is allowed.
func (m *Manager) IsIPAllowed(ip string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.deniedIPs[ip] {
		return false
	}
	addr := net.ParseIP(ip)
	if addr != nil {
		for _, n := range m.deniedSubnets {
			if n.Contains(addr) {
				return false
			}
		}
	}

	hasAllowList := len(m.allowedIPs) > 0 || len(m.allowedSubnets) > 0
	if !hasAllowList {
		return true
	}
	if m.allowedIPs[ip] {
		return true
	}
	if addr != nil {
		for _, n := range m.allowedSubnets {
			if n.Contains(addr) {
				return true
			}
		}
	}
	return false
}

// AddCommunity registers or replaces a valid community string.
func (m *Manager) AddCommunity(e CommunityEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.communities[e.Community] = e
}

// RemoveCommunity deletes a previously registered community.
func (m *Manager) RemoveCommunity(community string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.communities, community)
}

// CheckCommunity validates community against the table and, if the entry
// binds a specific source IP, against sourceIP too. ok reports whether
// the community is recognized at all (drives snmpInBadCommunityNames);
// readOnly is meaningless when ok is false.
func (m *Manager) CheckCommunity(community, sourceIP string) (readOnly bool, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, found := m.communities[community]
	if !found {
		return false, false
	}
	if e.SourceIP != "" && e.SourceIP != sourceIP {
		return false, false
	}
	return e.ReadOnly, true
}

// SetRateLimit overrides the default max_requests/window_duration for one
// source IP.
func (m *Manager) SetRateLimit(sourceIP string, maxRequests uint32, window time.Duration) {
	m.rateMu.Lock()
	defer m.rateMu.Unlock()
	delete(m.buckets, sourceIP)
	m.overrideMap[sourceIP] = rateLimitOverride{maxRequests, window}
}

// CheckRateLimit implements the per-source-IP sliding window (§4.7c):
// admit up to max_requests packets per window_duration, then drop
// silently until the window rolls over. now is passed in so callers (and
// tests) control the clock rather than this package reaching for
// time.Now() itself.
func (m *Manager) CheckRateLimit(sourceIP string, now time.Time) bool {
	m.rateMu.Lock()
	defer m.rateMu.Unlock()

	maxReq, window := m.defaultMax, m.defaultWindow
	if ov, ok := m.overrideMap[sourceIP]; ok {
		maxReq, window = ov.max, ov.window
	}

	b, ok := m.buckets[sourceIP]
	if !ok {
		b = &bucket{windowStart: now, count: 0}
		m.buckets[sourceIP] = b
	}
	if now.Sub(b.windowStart) >= window {
		b.windowStart = now
		b.count = 0
	}
	if b.count >= maxReq {
		return false
	}
	b.count++
	return true
}

// ResetRateLimit clears the bucket for one source IP, admitting its next
// packet immediately regardless of the current window.
func (m *Manager) ResetRateLimit(sourceIP string) {
	m.rateMu.Lock()
	defer m.rateMu.Unlock()
	delete(m.buckets, sourceIP)
}

// EvictIdle removes rate-limit buckets whose current window began before
// cutoff,
// bounding memory for long-running agents that see many distinct source
// IPs over time (§3's "may be pruned by idle age").
func (m *Manager) EvictIdle(cutoff time.Time) {
	m.rateMu.Lock()
	defer m.rateMu.Unlock()
	for ip, b := range m.buckets {
		if b.windowStart.Before(cutoff) {
			delete(m.buckets, ip)
		}
	}
}
