package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/soocke/qrscan/config"
	"github.com/soocke/qrscan/debug"
)

const (
	debugLogInterval = 10 * time.Second
	// lenientConfig marks commands that fall back to defaults when the
	// config file cannot be loaded.
	lenientConfig = "lenient-config"
)

// LoggerFactory builds the process logger once the debug flag is known.
type LoggerFactory func(debug bool) *slog.Logger

// cli carries state shared by the subcommands.
type cli struct {
	newLogger  LoggerFactory
	configPath string
	debug      bool

	cfg    *config.Config
	logger *slog.Logger
}

// NewRootCmd returns the qrscan command tree.
func NewRootCmd(newLogger LoggerFactory) *cobra.Command {
	c := &cli{newLogger: newLogger}
	cmd := &cobra.Command{
		Use:   "qrscan",
		Short: "Scan QR codes from the screen, image folders or still images",
		Long: `qrscan runs a capture session that decodes QR codes from a live source.

Frames are decoded one at a time; frames arriving while a decode is in
flight are dropped so results always reflect the latest frame. Results can
be printed, published to MQTT, or driven over a local HTTP bridge.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Load .env file if present (ignore errors)
			_ = godotenv.Load()
			return c.load(cmd)
		},
	}
	cmd.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "config file (JSON or YAML; default $"+config.EnvPath+" or the XDG config dir)")
	cmd.PersistentFlags().BoolVar(&c.debug, "debug", false, "enable debug logging and runtime stats")

	cmd.AddCommand(newScanCmd(c))
	cmd.AddCommand(newReadCmd(c))
	cmd.AddCommand(newServeCmd(c))
	cmd.AddCommand(newConfigCmd(c))
	return cmd
}

func (c *cli) path() string {
	if c.configPath != "" {
		return c.configPath
	}
	return config.DefaultPath()
}

func (c *cli) load(cmd *cobra.Command) error {
	cfg, err := config.Load(c.path())
	if err != nil {
		if _, ok := cmd.Annotations[lenientConfig]; !ok {
			return fmt.Errorf("load config %s: %w", c.path(), err)
		}
		cfg = config.DefaultConfig()
	}
	if cmd.Flags().Changed("debug") {
		cfg.Debug = c.debug
	}
	c.cfg = cfg
	c.logger = c.newLogger(cfg.Debug)
	return nil
}

// startDebug logs goroutine and memory stats until ctx ends when debug is on.
func (c *cli) startDebug(ctx context.Context) {
	if !c.cfg.Debug {
		return
	}
	debug.StartGoroutineLogger(ctx, debugLogInterval, c.logger)
	debug.StartMemLogger(ctx, debugLogInterval, c.logger)
}
