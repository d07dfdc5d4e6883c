package usm

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// Failure enumerates the USM error taxonomy (§4.5): each variant
// corresponds to a distinct RFC 3414 usmStats counter and a REPORT OID the
// v3 message processor must emit.
type Failure int

const (
	FailureNone Failure = iota
	FailureUnknownEngineID
	FailureUnknownUserName
	FailureUnsupportedSecLevel
	FailureWrongDigest
	FailureDecryptionError
	FailureNotInTimeWindow
)

// User is one configured SNMPv3 principal. AuthKey and PrivKey are already
// localized (engine-ID bound) — Manager.AddUser performs localization from
// a plaintext passphrase so raw secrets never sit in the table longer than
// the call that derives them.
type User struct {
	Name          string
	Level         SecurityLevel
	AuthProtocol  AuthProtocol
	PrivProtocol  PrivProtocol
	AuthKey       []byte
	PrivKey       []byte
	Enabled       bool
	CreatedAt     time.Time
	lastUse       atomic.Int64 // unix nanos
}

// Manager holds the USM user table and the local engine's identity/time
// state. It is a plain value constructed at startup (never a package
// singleton) and safe for concurrent use by every worker.
type Manager struct {
	mu    sync.RWMutex
	users map[string]*User

	engineID    []byte
	engineBoots atomic.Uint32
	bootTime    time.Time

	Stats Statistics
}

// Statistics are the usmStats* counters RFC 3414 §5 defines, incremented on
// every corresponding failure.
type Statistics struct {
	UnsupportedSecLevels atomic.Uint32
	NotInTimeWindows     atomic.Uint32
	UnknownUserNames     atomic.Uint32
	UnknownEngineIDs     atomic.Uint32
	WrongDigests         atomic.Uint32
	DecryptionErrors     atomic.Uint32
}

// NewManager constructs a Manager for the given local engineID and
// engineBoots (loaded by the caller from persisted state per §6).
func NewManager(engineID []byte, engineBoots uint32) *Manager {
	m := &Manager{
		users:    make(map[string]*User),
		engineID: append([]byte(nil), engineID...),
		bootTime: time.Now(),
	}
	m.engineBoots.Store(engineBoots)
	return m
}

// ReplaceUsers atomically swaps this manager's user table for other's,
// the mechanism a SIGHUP configuration reload uses; engineID/engineBoots
// stay bound to this Manager instance since those must not change across
// a reload, only the configured user list may.
func (m *Manager) ReplaceUsers(other *Manager) {
	other.mu.RLock()
	users := make(map[string]*User, len(other.users))
	for k, v := range other.users {
		users[k] = v
	}
	other.mu.RUnlock()

	m.mu.Lock()
	m.users = users
	m.mu.Unlock()
}

// EngineID returns the local engine identifier.
func (m *Manager) EngineID() []byte { return append([]byte(nil), m.engineID...) }

// EngineBoots returns the persisted, monotone boot counter.
func (m *Manager) EngineBoots() uint32 { return m.engineBoots.Load() }

// EngineTime returns seconds elapsed since this process instance booted,
// the value RFC 3414 calls snmpEngineTime.
func (m *Manager) EngineTime() uint32 {
	return uint32(time.Since(m.bootTime).Seconds())
}

// AddUser localizes authPassword/privPassword to this engine and stores the
// resulting user. Enforces §3's invariant: authPriv requires both protocols
// non-none, authNoPriv requires auth != none and priv == none.
func (m *Manager) AddUser(name string, level SecurityLevel, authProto AuthProtocol, authPassword string, privProto PrivProtocol, privPassword string) error {
	switch level {
	case LevelAuthPriv:
		if authProto == AuthNone || privProto == PrivNone {
			return errors.New("usm: authPriv requires both an auth and a priv protocol")
		}
	case LevelAuthNoPriv:
		if authProto == AuthNone || privProto != PrivNone {
			return errors.New("usm: authNoPriv requires an auth protocol and no priv protocol")
		}
	}

	u := &User{Name: name, Level: level, AuthProtocol: authProto, PrivProtocol: privProto, Enabled: true, CreatedAt: time.Now()}
	if authProto != AuthNone {
		authKey, err := LocalizeKey(authPassword, m.engineID, authProto)
		if err != nil {
			return err
		}
		u.AuthKey = authKey
	}
	if privProto != PrivNone {
		if u.AuthKey == nil {
			return errors.New("usm: privacy requires an authentication key to derive from")
		}
		privKey, err := ExpandPrivKey(u.AuthKey, privProto, authProto, m.engineID)
		if err != nil {
			return err
		}
		u.PrivKey = privKey
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[name] = u
	return nil
}

// RemoveUser deletes a configured user.
func (m *Manager) RemoveUser(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users, name)
}

// User looks up a configured, enabled user by name.
func (m *Manager) User(name string) (*User, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[name]
	if !ok || !u.Enabled {
		return nil, false
	}
	return u, true
}

// Touch records the time a user's credentials were last used successfully.
func (u *User) Touch() { u.lastUse.Store(time.Now().UnixNano()) }

// LastUse reports the time a user's credentials were last used, the zero
// time if never.
func (u *User) LastUse() time.Time {
	ns := u.lastUse.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// CheckEngineID reports FailureUnknownEngineID when remote does not match
// the local engine identity, implementing the engine-discovery contract of
// §4.5: an empty or mismatched engineID gets a REPORT carrying the local
// identity rather than proceeding.
func (m *Manager) CheckEngineID(remote []byte) Failure {
	if len(remote) == 0 || !bytesEqual(remote, m.engineID) {
		m.Stats.UnknownEngineIDs.Add(1)
		return FailureUnknownEngineID
	}
	return FailureNone
}

// CheckTimeWindow implements §4.5's replay-protection check: the remote
// engineBoots must equal the local value exactly, and engineTime may not
// differ from the local clock by more than 150 seconds in either
// direction.
func (m *Manager) CheckTimeWindow(remoteBoots, remoteTime uint32) Failure {
	const window = 150
	local := int64(m.EngineTime())
	delta := int64(remoteTime) - local
	if remoteBoots != m.EngineBoots() || delta < -window || delta > window {
		m.Stats.NotInTimeWindows.Add(1)
		return FailureNotInTimeWindow
	}
	return FailureNone
}

// Authenticate resolves username to a configured user, enforces that its
// configured security level is at least as strong as requested, verifies
// the message digest, and — on success — touches the user's last-use
// timestamp. msg must already have its msgAuthenticationParameters field
// zeroed, and digest is the value that field carried on the wire.
func (m *Manager) Authenticate(username string, requested SecurityLevel, msg, digest []byte) (*User, Failure) {
	u, ok := m.User(username)
	if !ok {
		m.Stats.UnknownUserNames.Add(1)
		return nil, FailureUnknownUserName
	}
	if requested > u.Level {
		m.Stats.UnsupportedSecLevels.Add(1)
		return nil, FailureUnsupportedSecLevel
	}
	if requested == LevelNoAuthNoPriv {
		return u, FailureNone
	}
	ok, err := VerifyDigest(msg, digest, u.AuthKey, u.AuthProtocol)
	if err != nil || !ok {
		m.Stats.WrongDigests.Add(1)
		return nil, FailureWrongDigest
	}
	u.Touch()
	return u, FailureNone
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
