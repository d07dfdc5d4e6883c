package main

import (
	"fmt"
	"log/slog"

	"github.com/simpledaemons/simple-snmpd/internal/ber"
	"github.com/simpledaemons/simple-snmpd/internal/config"
	"github.com/simpledaemons/simple-snmpd/internal/dispatch"
	"github.com/simpledaemons/simple-snmpd/internal/mib"
	"github.com/simpledaemons/simple-snmpd/internal/platform"
	"github.com/simpledaemons/simple-snmpd/internal/security"
	"github.com/simpledaemons/simple-snmpd/internal/usm"
	"github.com/simpledaemons/simple-snmpd/internal/v3"
	"github.com/simpledaemons/simple-snmpd/internal/vacm"
)

// defaultCommunityReadOnly mirrors the read-write grant
// populateSecurityFrontEnd gives the configured community; the default
// VACM mapping seeded for that community must agree with it, since VACM's
// own write view is what actually gates a v1/v2c SET once a community has
// cleared the security front-end.
const defaultCommunityReadOnly = false

// defaultVACMGroupName/defaultVACMViewName name the VACM rows
// seedDefaultCommunityAccess adds for the configured community, distinct
// from any operator-configured group/view name so an explicit VACM
// configuration for that same community always takes precedence (groupOf
// returns the first matching group, and these are always appended last).
const (
	defaultVACMGroupName = "__default_community__"
	defaultVACMViewName  = "__default_all__"
)

// agent holds every component built from a Configuration, the seam
// run.go's runDaemon and SIGHUP reload both build through.
type agent struct {
	registry   *mib.Registry
	dispatcher *dispatch.Dispatcher
	secFront   *security.Manager
	vacmMgr    *vacm.Manager
	usmMgr     *usm.Manager
	v3Proc     *v3.Processor
}

// buildAgent constructs the MIB registry, security front-end, USM/VACM
// tables, and dispatcher from a validated Configuration and the host's
// platform identity. engineBoots is the value loaded from the persisted
// state file (see state.go), already incremented for this run.
func buildAgent(cfg config.Configuration, info platform.Info, engineBoots uint32) (*agent, error) {
	engineID, err := resolveEngineID(cfg, info)
	if err != nil {
		return nil, err
	}

	usmMgr := usm.NewManager(engineID, engineBoots)
	if err := populateUSMUsers(usmMgr, cfg.USMUsers); err != nil {
		return nil, err
	}

	vacmMgr := vacm.New()
	populateVACM(vacmMgr, cfg)

	registry := mib.New()
	sysInfo := mib.NewSystemInfo(fmt.Sprintf("simple-snmpd on %s", info.Hostname), ber.OID{1, 3, 6, 1, 4, 1, 8072, 3, 2, 10}, 72)
	mib.RegisterStandard(registry, sysInfo, nil, &mib.Counters{})

	secFront := security.New(cfg.Security.RateLimitDefault.MaxRequests, cfg.Security.RateLimitDefault.Window())
	if err := populateSecurityFrontEnd(secFront, cfg); err != nil {
		return nil, err
	}

	return &agent{
		registry:   registry,
		dispatcher: dispatch.New(registry),
		secFront:   secFront,
		vacmMgr:    vacmMgr,
		usmMgr:     usmMgr,
		v3Proc:     v3.NewProcessor(usmMgr),
	}, nil
}

// resolveEngineID decodes cfg.EngineID as hex when the operator configured
// one explicitly, otherwise derives one from the host's identity the way
// internal/platform does for a fresh install.
func resolveEngineID(cfg config.Configuration, info platform.Info) ([]byte, error) {
	if cfg.EngineID == "" {
		return platform.DeriveEngineID(cfg.EnterpriseNumber, info.Hostname), nil
	}
	id, err := decodeHex(cfg.EngineID)
	if err != nil {
		return nil, fmt.Errorf("config: engine_id: %w", err)
	}
	return id, nil
}

func decodeHex(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("odd-length hex string %q", s)
	}
	out := make([]byte, len(s)/2)
	for i := range out {
		hi, err := hexDigit(s[i*2])
		if err != nil {
			return nil, err
		}
		lo, err := hexDigit(s[i*2+1])
		if err != nil {
			return nil, err
		}
		out[i] = hi<<4 | lo
	}
	return out, nil
}

func hexDigit(b byte) (byte, error) {
	switch {
	case b >= '0' && b <= '9':
		return b - '0', nil
	case b >= 'a' && b <= 'f':
		return b - 'a' + 10, nil
	case b >= 'A' && b <= 'F':
		return b - 'A' + 10, nil
	default:
		return 0, fmt.Errorf("invalid hex digit %q", b)
	}
}

func populateUSMUsers(m *usm.Manager, users []config.USMUserConfig) error {
	for _, u := range users {
		level, err := parseSecurityLevel(u.SecurityLevel)
		if err != nil {
			return fmt.Errorf("usm user %q: %w", u.Username, err)
		}
		authProto, err := parseAuthProtocol(u.AuthProtocol)
		if err != nil {
			return fmt.Errorf("usm user %q: %w", u.Username, err)
		}
		privProto, err := parsePrivProtocol(u.PrivProtocol)
		if err != nil {
			return fmt.Errorf("usm user %q: %w", u.Username, err)
		}
		if err := m.AddUser(u.Username, level, authProto, u.AuthPassword, privProto, u.PrivPassword); err != nil {
			return fmt.Errorf("usm user %q: %w", u.Username, err)
		}
	}
	return nil
}

func parseSecurityLevel(s string) (usm.SecurityLevel, error) {
	switch s {
	case "", "noAuthNoPriv":
		return usm.LevelNoAuthNoPriv, nil
	case "authNoPriv":
		return usm.LevelAuthNoPriv, nil
	case "authPriv":
		return usm.LevelAuthPriv, nil
	default:
		return 0, fmt.Errorf("unknown security_level %q", s)
	}
}

func parseAuthProtocol(s string) (usm.AuthProtocol, error) {
	switch s {
	case "", "none":
		return usm.AuthNone, nil
	case "MD5":
		return usm.AuthMD5, nil
	case "SHA", "SHA1":
		return usm.AuthSHA1, nil
	case "SHA-224":
		return usm.AuthSHA224, nil
	case "SHA-256":
		return usm.AuthSHA256, nil
	case "SHA-384":
		return usm.AuthSHA384, nil
	case "SHA-512":
		return usm.AuthSHA512, nil
	default:
		return 0, fmt.Errorf("unknown auth_protocol %q", s)
	}
}

func parsePrivProtocol(s string) (usm.PrivProtocol, error) {
	switch s {
	case "", "none":
		return usm.PrivNone, nil
	case "DES":
		return usm.PrivDES, nil
	case "AES", "AES-128":
		return usm.PrivAES128, nil
	case "AES-192":
		return usm.PrivAES192, nil
	case "AES-256":
		return usm.PrivAES256, nil
	case "AES-192-A":
		return usm.PrivAES192A, nil
	case "AES-256-A":
		return usm.PrivAES256A, nil
	default:
		return 0, fmt.Errorf("unknown priv_protocol %q", s)
	}
}

func populateVACM(m *vacm.Manager, cfg config.Configuration) {
	for _, g := range cfg.VACMGroups {
		m.AddGroup(vacm.Group{Name: g.Name, SecurityModel: fmt.Sprintf("%d", g.SecurityModel), User: g.User})
	}
	for _, a := range cfg.VACMAccess {
		contextMatch := vacm.MatchExact
		if a.ContextMatch == "prefix" {
			contextMatch = vacm.MatchPrefix
		}
		level, _ := parseSecurityLevel(a.SecurityLevel)
		m.AddAccess(vacm.Access{
			GroupName:     a.GroupName,
			ContextPrefix: a.ContextPrefix,
			ContextMatch:  contextMatch,
			SecurityLevel: level,
			ReadView:      a.ReadView,
			WriteView:     a.WriteView,
			NotifyView:    a.NotifyView,
		})
	}
	for _, v := range cfg.VACMViews {
		oid, err := ber.ParseOID(v.Subtree)
		if err != nil {
			continue
		}
		viewType := vacm.ViewIncluded
		if v.Type == "excluded" {
			viewType = vacm.ViewExcluded
		}
		m.AddViewEntry(v.ViewName, vacm.ViewEntry{Subtree: oid, Mask: parseMask(v.Mask), Type: viewType})
	}

	seedDefaultCommunityAccess(m, cfg.Community, defaultCommunityReadOnly)
}

// seedDefaultCommunityAccess gives the configured v1/v2c community a
// working VACM mapping out of the box: the community string doubles as
// VACM's user/securityName for both securityModel "1" (v1) and "2" (v2c),
// so a freshly installed daemon with no vacm_groups/vacm_access/vacm_views
// configured can still answer a plain GET against its default community,
// instead of every varbind coming back noSuchObject because groupOf finds
// no group at all. Registered last so any operator-configured group for
// the same (community, securityModel) pair is found first.
func seedDefaultCommunityAccess(m *vacm.Manager, community string, readOnly bool) {
	if community == "" {
		return
	}
	m.AddGroup(vacm.Group{Name: defaultVACMGroupName, SecurityModel: "1", User: community})
	m.AddGroup(vacm.Group{Name: defaultVACMGroupName, SecurityModel: "2", User: community})

	writeView := defaultVACMViewName
	if readOnly {
		writeView = ""
	}
	m.AddAccess(vacm.Access{
		GroupName:     defaultVACMGroupName,
		ContextMatch:  vacm.MatchPrefix,
		SecurityLevel: usm.LevelNoAuthNoPriv,
		ReadView:      defaultVACMViewName,
		WriteView:     writeView,
	})
	m.AddViewEntry(defaultVACMViewName, vacm.ViewEntry{Subtree: ber.OID{1}, Type: vacm.ViewIncluded})
}

// parseMask turns a dotted 0/1 octet string ("1.1.0.1") into the bit mask
// ViewEntry.Mask expects; an empty string means every sub-identifier is
// significant, encoded here as a nil mask.
func parseMask(s string) []bool {
	if s == "" {
		return nil
	}
	var mask []bool
	bit := false
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '1':
			bit = true
		case '0':
			bit = false
		case '.':
			mask = append(mask, bit)
			continue
		default:
			continue
		}
	}
	mask = append(mask, bit)
	return mask
}

func populateSecurityFrontEnd(m *security.Manager, cfg config.Configuration) error {
	for _, ip := range cfg.Security.AllowedIPs {
		m.AddAllowedIP(ip)
	}
	for _, ip := range cfg.Security.DeniedIPs {
		m.AddDeniedIP(ip)
	}
	for _, cidr := range cfg.Security.AllowedSubnets {
		if err := m.AddAllowedSubnet(cidr); err != nil {
			return fmt.Errorf("security.allowed_subnets: %w", err)
		}
	}
	for _, cidr := range cfg.Security.DeniedSubnets {
		if err := m.AddDeniedSubnet(cidr); err != nil {
			return fmt.Errorf("security.denied_subnets: %w", err)
		}
	}
	m.AddCommunity(security.CommunityEntry{Community: cfg.Community, ReadOnly: defaultCommunityReadOnly})
	return nil
}

func logAgentSummary(logger *slog.Logger, cfg config.Configuration, engineID []byte) {
	logger.Info("configuration loaded",
		"port", cfg.Port, "trap_port", cfg.TrapPort, "enable_trap", cfg.EnableTrap,
		"usm_users", len(cfg.USMUsers), "vacm_groups", len(cfg.VACMGroups),
		"engine_id", fmt.Sprintf("%x", engineID))
}
