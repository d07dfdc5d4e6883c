// Command simple-snmpd is the SNMP v1/v2c/v3 agent daemon: it binds a UDP
// listener, answers GET/GETNEXT/GETBULK/SET against its MIB registry under
// VACM's access control, and optionally sends/receives trap notifications.
// The CLI surface follows cmd/edgeo-snmp/root.go's cobra/viper layering,
// generalized from a client's flag set to a daemon's.
package main

import (
	"github.com/spf13/cobra"

	"github.com/simpledaemons/simple-snmpd/internal/config"
)

var (
	cfgFile    string
	daemonize  bool
	foreground bool
	testConfig bool
	verbose    bool

	loader = config.NewLoader()
)

var rootCmd = &cobra.Command{
	Use:   "simple-snmpd",
	Short: "SNMP v1/v2c/v3 agent daemon",
	Long: `simple-snmpd is an SNMP v1/v2c/v3 agent daemon.

It answers GET, GET-NEXT, GET-BULK, and SET requests against a configurable
MIB registry, enforces VACM view-based access control and v1/v2c community
rules, and optionally sends and receives trap notifications.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if testConfig {
			return runTestConfig()
		}
		return runDaemon()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "configuration file (YAML)")
	rootCmd.PersistentFlags().BoolVarP(&daemonize, "daemon", "d", false, "accepted but has no effect: the process stays attached to the terminal")
	rootCmd.PersistentFlags().BoolVarP(&foreground, "foreground", "f", false, "run attached to the controlling terminal (default)")
	rootCmd.PersistentFlags().BoolVarP(&testConfig, "test-config", "t", false, "validate the configuration and exit")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug-level logging")

	rootCmd.AddCommand(testConfigCmd, versionCmd)
}

func loadConfiguration() (config.Configuration, error) {
	cfg, err := loader.Load(cfgFile)
	if err != nil {
		return config.Configuration{}, err
	}
	if verbose {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}

// exitCodeFor maps a top-level error to §6's exit-code convention: 1 for
// configuration/initialization failures, 2 for a runtime fatal error
// encountered once the daemon was already serving traffic.
func exitCodeFor(err error) int {
	if _, ok := err.(*runtimeFatalError); ok {
		return 2
	}
	return 1
}

// runtimeFatalError marks an error that occurred after the daemon had
// already started accepting requests, distinguishing it from a
// configuration/initialization failure for exitCodeFor.
type runtimeFatalError struct{ err error }

func (e *runtimeFatalError) Error() string { return e.err.Error() }
func (e *runtimeFatalError) Unwrap() error { return e.err }
