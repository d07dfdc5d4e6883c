// Package vacm implements the View-based Access Control Model (RFC 3415):
// groups, access entries, views, and the decision procedure the PDU
// dispatcher consults before honoring a read, write, or notify operation.
package vacm

import (
	"sync"
	"sync/atomic"

	"github.com/simpledaemons/simple-snmpd/internal/ber"
	"github.com/simpledaemons/simple-snmpd/internal/usm"
)

// Operation is one of the three access kinds VACM gates.
type Operation int

const (
	OpRead Operation = iota
	OpWrite
	OpNotify
)

// ContextMatch controls how an access entry's context-prefix is compared
// against the incoming contextName.
type ContextMatch int

const (
	MatchExact ContextMatch = iota
	MatchPrefix
)

// ViewType marks whether a view subtree entry includes or excludes the
// OIDs it matches.
type ViewType int

const (
	ViewIncluded ViewType = iota
	ViewExcluded
)

// Decision is the outcome of a VACM access check.
type Decision int

const (
	DecisionAllowed Decision = iota
	DecisionNoAccess
	DecisionNotInView
)

// Group maps a security model and user name to a named group; the
// decision procedure's first step is a group_of lookup.
type Group struct {
	Name          string
	SecurityModel string
	User          string
}

// Access is one (group, context-prefix, security level) row mapping to the
// three named views it authorizes.
type Access struct {
	GroupName     string
	ContextPrefix string
	ContextMatch  ContextMatch
	SecurityLevel usm.SecurityLevel
	ReadView      string
	WriteView     string
	NotifyView    string
}

// ViewEntry is one subtree/mask/type row of a named view. Entries are
// evaluated in registration order; the first matching entry decides.
type ViewEntry struct {
	Subtree ber.OID
	Mask    []bool // bit i true = sub-identifier i is significant; nil = all-significant
	Type    ViewType
}

// Manager holds the VACM configuration tables and implements the
// read/write/notify decision procedure of §4.6.
type Manager struct {
	mu      sync.RWMutex
	groups  []Group
	access  []Access
	views   map[string][]ViewEntry

	Stats Statistics
}

// Statistics mirrors the original daemon's VACMManager::Statistics: simple
// counters a metrics exporter can surface.
type Statistics struct {
	TotalChecks  atomic.Uint64
	ReadAllowed  atomic.Uint64
	ReadDenied   atomic.Uint64
	WriteAllowed atomic.Uint64
	WriteDenied  atomic.Uint64
	NotifyAllow  atomic.Uint64
	NotifyDeny   atomic.Uint64
}

// New constructs an empty VACM manager.
func New() *Manager {
	return &Manager{views: make(map[string][]ViewEntry)}
}

// Replace atomically swaps this manager's groups/access/views tables for
// other's, leaving Stats untouched, the mechanism a SIGHUP configuration
// reload uses.
func (m *Manager) Replace(other *Manager) {
	other.mu.RLock()
	groups := append([]Group(nil), other.groups...)
	access := append([]Access(nil), other.access...)
	views := make(map[string][]ViewEntry, len(other.views))
	for k, v := range other.views {
		views[k] = append([]ViewEntry(nil), v...)
	}
	other.mu.RUnlock()

	m.mu.Lock()
	m.groups = groups
	m.access = access
	m.views = views
	m.mu.Unlock()
}

// AddGroup registers a (securityModel, user) -> group mapping.
func (m *Manager) AddGroup(g Group) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.groups = append(m.groups, g)
}

// AddAccess registers an access entry.
func (m *Manager) AddAccess(a Access) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.access = append(m.access, a)
}

// AddViewEntry appends one subtree rule to the named view, in evaluation
// order.
func (m *Manager) AddViewEntry(viewName string, e ViewEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.views[viewName] = append(m.views[viewName], e)
}

// groupOf finds the group a user belongs to under the given security
// model. Mirrors find_group_for_user.
func (m *Manager) groupOf(user, securityModel string) (Group, bool) {
	for _, g := range m.groups {
		if g.User == user && g.SecurityModel == securityModel {
			return g, true
		}
	}
	return Group{}, false
}

// accessFor finds the most specific access entry for a group/context pair
// whose required security level is satisfied by level. "Most specific"
// prefers an exact context match, then the longest matching prefix.
func (m *Manager) accessFor(groupName, context string, level usm.SecurityLevel) (Access, bool) {
	var best Access
	bestExact := false
	bestPrefixLen := -1
	found := false

	for _, a := range m.access {
		if a.GroupName != groupName || level < a.SecurityLevel {
			continue
		}
		switch a.ContextMatch {
		case MatchExact:
			if a.ContextPrefix != context {
				continue
			}
			// An exact match always wins over any prefix match.
			best, bestExact, found = a, true, true
		case MatchPrefix:
			if bestExact {
				continue
			}
			if len(context) < len(a.ContextPrefix) || context[:len(a.ContextPrefix)] != a.ContextPrefix {
				continue
			}
			if len(a.ContextPrefix) > bestPrefixLen {
				best, bestPrefixLen, found = a, len(a.ContextPrefix), true
			}
		}
	}
	return best, found
}

// viewNameFor picks the read/write/notify view field off an access entry.
func viewNameFor(a Access, op Operation) string {
	switch op {
	case OpWrite:
		return a.WriteView
	case OpNotify:
		return a.NotifyView
	default:
		return a.ReadView
	}
}

// Check runs the full §4.6 decision procedure for one access request.
func (m *Manager) Check(user, securityModel, context string, level usm.SecurityLevel, op Operation, oid ber.OID) Decision {
	m.mu.RLock()
	defer m.mu.RUnlock()

	m.Stats.TotalChecks.Add(1)

	g, ok := m.groupOf(user, securityModel)
	if !ok {
		m.denyFor(op)
		return DecisionNoAccess
	}
	a, ok := m.accessFor(g.Name, context, level)
	if !ok {
		m.denyFor(op)
		return DecisionNoAccess
	}
	view := viewNameFor(a, op)
	if view == "" {
		m.denyFor(op)
		return DecisionNoAccess
	}
	if !m.oidInView(view, oid) {
		m.denyFor(op)
		return DecisionNotInView
	}
	m.allowFor(op)
	return DecisionAllowed
}

func (m *Manager) allowFor(op Operation) {
	switch op {
	case OpWrite:
		m.Stats.WriteAllowed.Add(1)
	case OpNotify:
		m.Stats.NotifyAllow.Add(1)
	default:
		m.Stats.ReadAllowed.Add(1)
	}
}

func (m *Manager) denyFor(op Operation) {
	switch op {
	case OpWrite:
		m.Stats.WriteDenied.Add(1)
	case OpNotify:
		m.Stats.NotifyDeny.Add(1)
	default:
		m.Stats.ReadDenied.Add(1)
	}
}

// oidInView walks the named view's entries in order; the first subtree
// that matches under its mask decides. No match means not-in-view.
func (m *Manager) oidInView(viewName string, oid ber.OID) bool {
	for _, e := range m.views[viewName] {
		if matchesSubtree(oid, e.Subtree, e.Mask) {
			return e.Type == ViewIncluded
		}
	}
	return false
}

// OIDInView exposes oidInView for callers (e.g. GETNEXT's view-aware walk)
// that need a read-locked, allocation-free membership test without going
// through the full group/access decision procedure.
func (m *Manager) OIDInView(viewName string, oid ber.OID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.oidInView(viewName, oid)
}

// matchesSubtree implements the mask semantics of §4.6: bit i=1 means
// sub-identifier i of the subtree is significant (must match exactly);
// bit i=0 wildcards that position. A nil mask means all-significant,
// i.e. subtree must be a literal prefix of oid.
func matchesSubtree(oid, subtree ber.OID, mask []bool) bool {
	if len(oid) < len(subtree) {
		return false
	}
	for i, sub := range subtree {
		significant := mask == nil || i >= len(mask) || mask[i]
		if significant && oid[i] != sub {
			return false
		}
	}
	return true
}
