package app

import (
	"net"

	"github.com/spf13/cobra"

	"github.com/soocke/qrscan/domain/results"
	"github.com/soocke/qrscan/transport/httpapi"
)

func newServeCmd(c *cli) *cobra.Command {
	var (
		addr      string
		autostart bool
		echo      bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Drive the scanner over a local HTTP bridge",
		Long: `Serve exposes session control (start, stop, pause, resume), zoom, torch,
still-image decoding and recent results over HTTP.`,
		Example: `  qrscan serve --addr 127.0.0.1:8765 --autostart
  curl -X POST localhost:8765/scan/start
  curl -X PUT -d '{"ratio":2}' localhost:8765/zoom`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if cmd.Flags().Changed("addr") {
				c.cfg.HTTPAddr = addr
			}
			c.startDebug(ctx)

			var opts Options
			if echo {
				opts.Sinks = []results.Sink{results.NewWriterSink(cmd.OutOrStdout(), true)}
			}
			ctr, err := BuildContainer(ctx, c.cfg, c.logger, opts)
			if err != nil {
				return err
			}
			defer ctr.Close()

			srv := httpapi.NewServer(c.logger.With("component", "http"), ctr.Controller, ctr.Decoder, ctr.Hub, ctr.StartConfig())
			return srv.ListenAndServe(ctx, c.cfg.HTTPAddr, func(net.Addr) {
				if autostart {
					ctr.StartScan()
				}
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().BoolVar(&autostart, "autostart", false, "start scanning as soon as the bridge is listening")
	cmd.Flags().BoolVar(&echo, "echo", false, "also print events to stdout as JSON lines")
	return cmd
}
