package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var testConfigCmd = &cobra.Command{
	Use:   "test-config",
	Short: "Validate the configuration and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTestConfig()
	},
}

// runTestConfig loads and validates the configuration without binding any
// socket, the exit-code-1 path §6 documents for a bad configuration. A
// valid configuration prints a short summary and returns nil (exit 0).
func runTestConfig() error {
	cfg, err := loadConfiguration()
	if err != nil {
		return err
	}
	fmt.Printf("configuration OK: port=%d trap_port=%d community=%q usm_users=%d vacm_groups=%d\n",
		cfg.Port, cfg.TrapPort, cfg.Community, len(cfg.USMUsers), len(cfg.VACMGroups))
	return nil
}
