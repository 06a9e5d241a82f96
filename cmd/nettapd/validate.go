package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/soypat/nettap/stackcfg"
)

func newValidateConfigCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate-config",
		Short: "Load and validate the configuration file without starting the stack",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := stackcfg.Load(*configPath)
			if err != nil {
				return err
			}
			fmt.Printf("ok: interface=%s mac=%s mtu=%d candidates=%d\n",
				cfg.Interface, cfg.MAC, cfg.MTU, len(cfg.Candidates))
			return nil
		},
	}
}
