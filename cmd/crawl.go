package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/politecrawl/internal/config"
	"github.com/JakeFAU/politecrawl/internal/driver"
	"github.com/JakeFAU/politecrawl/internal/server"
)

// crawlApp is the part of server.App the crawl command drives.
type crawlApp interface {
	Run(ctx context.Context, resume bool) (driver.Stats, error)
	Close(ctx context.Context) error
}

// buildApp is the application factory. Tests replace it.
var buildApp = func(ctx context.Context, cfg config.Config) (crawlApp, error) {
	return server.Build(ctx, cfg, server.WithVersion(version))
}

// newCrawlCmd creates the 'crawl' subcommand.
func newCrawlCmd(cfgFile *string) *cobra.Command {
	var resume bool
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run a crawl",
		Long: `Runs a crawl with the settings from --config until the frontier is
exhausted or the process receives SIGINT/SIGTERM. On interrupt no new pages
are dispatched, in-flight fetches get crawler.shutdown_grace to finish and the
state file (state.path) is written so that --resume can continue the run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd, *cfgFile, resume)
		},
	}
	cmd.Flags().BoolVar(&resume, "resume", false, "continue from the saved state file")
	return cmd
}

func runCrawl(cmd *cobra.Command, cfgFile string, resume bool) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := buildApp(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build crawl: %w", err)
	}
	defer func() {
		_ = app.Close(context.WithoutCancel(ctx))
	}()

	stats, runErr := app.Run(ctx, resume)
	if err := printStats(cmd, stats); err != nil {
		return err
	}
	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			fmt.Fprintln(cmd.ErrOrStderr(), "crawl interrupted")
			return nil
		}
		return fmt.Errorf("run crawl: %w", runErr)
	}
	return nil
}

func printStats(cmd *cobra.Command, stats driver.Stats) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(stats); err != nil {
		return fmt.Errorf("print stats: %w", err)
	}
	return nil
}
