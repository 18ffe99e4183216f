package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/ternhq/tern/internal/config"
	"github.com/ternhq/tern/internal/daemon"
	"github.com/ternhq/tern/internal/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the tern daemon in the foreground",
	Long: `Run the tern daemon in the foreground. The daemon serves the REST
and SSE API and the websocket gateway until it receives SIGINT or SIGTERM.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	}
	log, err := logger.New(logger.Config{
		Level:   level,
		File:    cfg.Logging.File,
		Console: cfg.Logging.Console,
		Pretty:  cfg.Logging.Pretty,
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	d, err := daemon.New(cfg, log)
	if err != nil {
		return err
	}

	// Hot reload rebuilds the agent catalog; only sessions created after
	// the change see it. An invalid config keeps the previous one.
	zl := log.GetZerolog()
	if err := loader.Watch(func(next *config.Config) {
		if rerr := d.Reconfigure(next); rerr != nil {
			zl.Warn().Err(rerr).Msg("Config reload rejected")
			return
		}
		zl.Info().Msg("Configuration reloaded")
	}); err != nil {
		zl.Warn().Err(err).Msg("Config watch unavailable")
	}

	return d.Run()
}
