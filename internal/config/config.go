// Package config loads the daemon's Configuration record from a YAML
// file, SNMPD_-prefixed environment variables, and CLI flags, layered in
// that order via viper — the same binding pattern cmd/edgeo-snmp/root.go
// uses for its own flag set.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// USMUserConfig is one configured SNMPv3 user entry.
type USMUserConfig struct {
	Username      string `mapstructure:"username"`
	SecurityLevel string `mapstructure:"security_level"`
	AuthProtocol  string `mapstructure:"auth_protocol"`
	AuthPassword  string `mapstructure:"auth_password"`
	PrivProtocol  string `mapstructure:"priv_protocol"`
	PrivPassword  string `mapstructure:"priv_password"`
}

// VACMGroupConfig, VACMAccessConfig, VACMViewEntryConfig mirror internal/vacm's
// data model for configuration-file loading.
type VACMGroupConfig struct {
	Name          string `mapstructure:"name"`
	SecurityModel int    `mapstructure:"security_model"`
	User          string `mapstructure:"user"`
}

type VACMAccessConfig struct {
	GroupName     string `mapstructure:"group_name"`
	ContextPrefix string `mapstructure:"context_prefix"`
	ContextMatch  string `mapstructure:"context_match"` // "exact" | "prefix"
	SecurityLevel string `mapstructure:"security_level"`
	ReadView      string `mapstructure:"read_view"`
	WriteView     string `mapstructure:"write_view"`
	NotifyView    string `mapstructure:"notify_view"`
}

type VACMViewEntryConfig struct {
	ViewName string `mapstructure:"view_name"`
	Subtree  string `mapstructure:"subtree"`
	Mask     string `mapstructure:"mask"` // dotted 0/1 octets, e.g. "1.1.0.1"
	Type     string `mapstructure:"type"` // "included" | "excluded"
}

// RateLimitConfig is the default per-IP sliding window.
type RateLimitConfig struct {
	MaxRequests   uint32 `mapstructure:"max_requests"`
	WindowSeconds uint32 `mapstructure:"window_seconds"`
}

// SecurityConfig is the v1/v2c front-end's configuration surface.
type SecurityConfig struct {
	AllowedIPs      []string         `mapstructure:"allowed_ips"`
	DeniedIPs       []string         `mapstructure:"denied_ips"`
	AllowedSubnets  []string         `mapstructure:"allowed_subnets"`
	DeniedSubnets   []string         `mapstructure:"denied_subnets"`
	RateLimitDefault RateLimitConfig `mapstructure:"rate_limit_default"`
}

// Configuration is the fully-resolved daemon configuration record (§6).
type Configuration struct {
	Port           uint16 `mapstructure:"port"`
	Community      string `mapstructure:"community"`
	MaxConnections uint32 `mapstructure:"max_connections"`
	TimeoutSeconds uint32 `mapstructure:"timeout_seconds"`
	LogLevel       string `mapstructure:"log_level"`
	LogFormat      string `mapstructure:"log_format"`
	EnableIPv6     bool   `mapstructure:"enable_ipv6"`
	EnableTrap     bool   `mapstructure:"enable_trap"`
	TrapPort       uint16 `mapstructure:"trap_port"`

	// TrapDestinations are the "host:port" targets the daemon sends its own
	// coldStart/authenticationFailure notifications to. Empty means trap
	// sending is a no-op even though the agent still builds a Sender.
	TrapDestinations []string `mapstructure:"trap_destinations"`

	EngineID         string `mapstructure:"engine_id"` // hex string; derived from platform info when empty
	EnterpriseNumber uint32 `mapstructure:"enterprise_number"`

	USMUsers []USMUserConfig `mapstructure:"usm_users"`

	VACMGroups []VACMGroupConfig     `mapstructure:"vacm_groups"`
	VACMAccess []VACMAccessConfig    `mapstructure:"vacm_access"`
	VACMViews  []VACMViewEntryConfig `mapstructure:"vacm_views"`

	Security SecurityConfig `mapstructure:"security"`

	StateFilePath string `mapstructure:"state_file_path"`

	// HealthPort serves /healthz and /readyz (ambient, not part of the wire
	// protocol); 0 disables the health endpoint entirely.
	HealthPort uint16 `mapstructure:"health_port"`
}

// Defaults matches §6's documented defaults exactly.
func Defaults() Configuration {
	return Configuration{
		Port:           161,
		Community:      "public",
		MaxConnections: 100,
		TimeoutSeconds: 30,
		LogLevel:       "info",
		LogFormat:      "text",
		EnableIPv6:     true,
		EnableTrap:     false,
		TrapPort:       162,
		Security: SecurityConfig{
			RateLimitDefault: RateLimitConfig{MaxRequests: 100, WindowSeconds: 60},
		},
		StateFilePath: "/var/lib/simple-snmpd/engine.state",
		HealthPort:    8080,
	}
}

// Loader assembles a Configuration from a YAML file, SNMPD_-prefixed
// environment variables, and CLI flags, in viper's usual precedence order
// (flags > env > file > defaults).
type Loader struct {
	v *viper.Viper
}

// NewLoader constructs a Loader with defaults pre-populated so a caller
// who supplies no file and no flags still gets a runnable configuration.
func NewLoader() *Loader {
	v := viper.New()
	v.SetEnvPrefix("SNMPD")
	v.AutomaticEnv()

	d := Defaults()
	v.SetDefault("port", d.Port)
	v.SetDefault("community", d.Community)
	v.SetDefault("max_connections", d.MaxConnections)
	v.SetDefault("timeout_seconds", d.TimeoutSeconds)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_format", d.LogFormat)
	v.SetDefault("enable_ipv6", d.EnableIPv6)
	v.SetDefault("enable_trap", d.EnableTrap)
	v.SetDefault("trap_port", d.TrapPort)
	v.SetDefault("security.rate_limit_default.max_requests", d.Security.RateLimitDefault.MaxRequests)
	v.SetDefault("security.rate_limit_default.window_seconds", d.Security.RateLimitDefault.WindowSeconds)
	v.SetDefault("state_file_path", d.StateFilePath)
	v.SetDefault("health_port", d.HealthPort)

	return &Loader{v: v}
}

// BindFlags binds a flag set's persistent flags to their matching viper
// keys, following cmd/edgeo-snmp/root.go's BindPFlag-per-flag pattern.
func (l *Loader) BindFlags(flags *pflag.FlagSet, flagToKey map[string]string) error {
	for flag, key := range flagToKey {
		f := flags.Lookup(flag)
		if f == nil {
			return fmt.Errorf("config: no such flag %q", flag)
		}
		if err := l.v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("config: bind flag %q to %q: %w", flag, key, err)
		}
	}
	return nil
}

// Load reads path (if non-empty) as a YAML configuration file, merges it
// under the environment and flag layers already bound, and unmarshals the
// result into a Configuration.
func (l *Loader) Load(path string) (Configuration, error) {
	if path != "" {
		l.v.SetConfigFile(path)
		if err := l.v.ReadInConfig(); err != nil {
			return Configuration{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Configuration
	if err := l.v.Unmarshal(&cfg); err != nil {
		return Configuration{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Configuration{}, err
	}
	return cfg, nil
}

// Validate rejects a Configuration a daemon could not safely start with,
// mirroring the CLI's `-t|--test-config` exit-code-1 path (§6).
func (c Configuration) Validate() error {
	if c.Port == 0 {
		return fmt.Errorf("config: port must be non-zero")
	}
	if c.EnableTrap && c.TrapPort == c.Port {
		return fmt.Errorf("config: trap_port must differ from port when traps are enabled")
	}
	for _, u := range c.USMUsers {
		if u.Username == "" {
			return fmt.Errorf("config: usm user entry missing username")
		}
	}
	if c.TimeoutSeconds == 0 {
		return fmt.Errorf("config: timeout_seconds must be non-zero")
	}
	return nil
}

// Window converts RateLimitConfig's seconds field to a
// time.Duration for internal/security.
func (r RateLimitConfig) Window() time.Duration {
	return time.Duration(r.WindowSeconds) * time.Second
}
