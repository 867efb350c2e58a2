package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newTuneCommand prints the tunables bfqd would actually run with after
// loading a config file and clamping out-of-range values, without
// starting the daemon — useful for validating a bfqd.toml before
// deploying it.
func newTuneCommand() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "tune",
		Short: "Print the effective, clamped tunables for a config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfigFile(configPath)
			if err != nil {
				return err
			}
			tun := cfg.tunables()
			changed := tun.Clamp()
			fmt.Printf("%+v\n", tun)
			if len(changed) > 0 {
				fmt.Printf("clamped fields: %v\n", changed)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to bfqd.toml")
	return cmd
}
