// simple-snmpd is an SNMP v1/v2c/v3 agent daemon.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "simple-snmpd:", err)
		os.Exit(exitCodeFor(err))
	}
}
