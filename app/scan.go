package app

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/soocke/qrscan/config"
	"github.com/soocke/qrscan/domain/results"
	"github.com/soocke/qrscan/domain/session"
)

type scanFlags struct {
	source     string
	dir        string
	lens       string
	resolution string
	zoom       float64
	torch      bool
	once       bool
	timeout    time.Duration
	json       bool
}

func newScanCmd(c *cli) *cobra.Command {
	var f scanFlags
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run a live scan session and print decoded payloads",
		Example: `  # Scan the desktop until interrupted
  qrscan scan

  # Replay a folder of frames, stop after the first code
  qrscan scan --source replay --dir ./frames --once

  # Zoom in 2x and print JSON events
  qrscan scan --zoom 2 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f.apply(cmd, c)
			ctx := cmd.Context()
			if f.timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, f.timeout)
				defer cancel()
			}
			c.startDebug(ctx)

			ctr, err := BuildContainer(ctx, c.cfg, c.logger, Options{
				Sinks: []results.Sink{results.NewWriterSink(cmd.OutOrStdout(), f.json)},
				Torch: f.torch,
			})
			if err != nil {
				return err
			}
			defer ctr.Close()

			if f.once {
				return scanOnce(ctx, ctr)
			}
			ctr.StartScan()
			<-ctx.Done()
			st := ctr.Controller.Stats()
			ctr.Controller.Stop()
			c.logger.Info("scan finished",
				"session", st.SessionID,
				"frames", humanize.Comma(int64(st.FramesOffered)),
				"decoded", humanize.Comma(int64(st.Decoded)),
				"symbols", st.Symbols,
				"scanning", st.Session.Round(time.Millisecond).String(),
			)
			return nil
		},
	}
	cmd.Flags().StringVar(&f.source, "source", "", "capture source: screen or replay")
	cmd.Flags().StringVar(&f.dir, "dir", "", "image directory for the replay source")
	cmd.Flags().StringVar(&f.lens, "lens", "", "lens facing: back or front")
	cmd.Flags().StringVar(&f.resolution, "resolution", "", "resolution: low, medium, high, ultra (or 0-3)")
	cmd.Flags().Float64Var(&f.zoom, "zoom", 0, "zoom ratio requested once the device is ready")
	cmd.Flags().BoolVar(&f.torch, "torch", false, "turn the torch on when available")
	cmd.Flags().BoolVar(&f.once, "once", false, "stop after the first decoded code")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "stop scanning after this long (0 = until interrupted)")
	cmd.Flags().BoolVar(&f.json, "json", false, "print events as JSON lines")
	return cmd
}

// apply overrides config values with the flags that were set.
func (f *scanFlags) apply(cmd *cobra.Command, c *cli) {
	flags := cmd.Flags()
	if flags.Changed("source") {
		c.cfg.Source = f.source
	}
	if flags.Changed("dir") {
		c.cfg.ReplayDir = f.dir
		if !flags.Changed("source") {
			c.cfg.Source = config.SourceReplay
		}
	}
	if flags.Changed("lens") {
		c.cfg.LensFacing = f.lens
	}
	if flags.Changed("resolution") {
		c.cfg.Resolution = f.resolution
	}
	if flags.Changed("zoom") {
		c.cfg.InitialZoom = f.zoom
	}
}

func scanOnce(ctx context.Context, ctr *Container) error {
	var ctl atomic.Pointer[session.Controller]
	opts := ctr.SessionOptions(ctl.Load)
	symbols, err := session.ScanOnce(ctx, ctr.Capture, ctr.Decoder, ctr.StartConfig(), opts, session.OnceHooks{
		Created: ctl.Store,
		Started: func(c *session.Controller) {
			if ctr.Config.InitialZoom > 0 {
				c.SetZoomRatio(ctr.Config.InitialZoom)
			}
		},
	})
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}
	ctr.Logger.Debug("scan once finished", "symbols", len(symbols))
	return nil
}
