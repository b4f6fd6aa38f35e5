package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/politecrawl/internal/config"
)

func newValidateCmd(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config ok: %d seed(s), dedup backend %s\n",
				len(cfg.Crawler.Seeds), cfg.Dedup.Backend)
			return nil
		},
	}
}
