// Command nettapd runs the nettap userspace TCP/IP stack over a Linux TAP
// device, as a cobra command tree (run / validate-config) with a
// tint-colored slog handler for terminal output and a Prometheus
// /metrics endpoint.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "nettapd",
		Short:         "Userspace TCP/IP stack daemon over a Linux TAP device",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to configuration file (YAML)")

	root.AddCommand(newRunCmd(&configPath))
	root.AddCommand(newValidateConfigCmd(&configPath))
	return root
}
