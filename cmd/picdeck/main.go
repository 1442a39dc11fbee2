package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"picdeck/internal/config"
	"picdeck/internal/logger"
)

type globals struct {
	configFile string
	cfg        *config.Config
	log        *zap.Logger
}

func rootCommand() *cobra.Command {
	g := &globals{}

	rootCmd := &cobra.Command{
		Use:           "picdeck",
		Short:         "Serve and browse image collections through a memory and disk cache",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&g.configFile, "config", "", "Optional config file (yaml, json or toml)")
	flags.String("data-dir", "", "Image directory for the local and simulated sources")
	flags.String("source", "", "Image source: local, remote or simulated")
	flags.String("remote-url", "", "Base URL of a picdeck server for the remote source")
	flags.String("cache", "", "Disk cache type: file or disabled")
	flags.String("log-level", "", "Log level: debug, info, warn or error")
	flags.String("log-format", "", "Log format: json or console")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(g.configFile, cmd.Flags())
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		g.cfg = cfg
		g.log = log
		return nil
	}
	rootCmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		if g.log != nil {
			_ = g.log.Sync()
		}
	}

	rootCmd.AddCommand(
		serveCommand(g),
		scanCommand(g),
		fetchCommand(g),
	)

	return rootCmd
}

func main() {
	if err := rootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
