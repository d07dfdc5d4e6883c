package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// daemonVersion is overridden at build time via -ldflags.
var daemonVersion = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("simple-snmpd version %s\n", daemonVersion)
		fmt.Printf("  Go version: %s\n", runtime.Version())
		fmt.Printf("  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
	},
}
