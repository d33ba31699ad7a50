package app

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/soocke/qrscan/domain/decode"
	"github.com/soocke/qrscan/domain/results"
	"github.com/soocke/qrscan/domain/session"
)

func newReadCmd(c *cli) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "read <image>... | -",
		Short: "Decode QR codes from image files",
		Long:  "Decode every QR code in the given images. Use - to read a single image from stdin.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			dec := decode.NewQR(c.logger.With("component", "decode"), decode.Options{
				TryHarder:    true,
				MaxDimension: c.cfg.MaxDecodeDimension,
			})
			out := results.NewWriterSink(cmd.OutOrStdout(), asJSON)

			var failed int
			for _, path := range args {
				var (
					symbols []session.Symbol
					err     error
				)
				if path == "-" {
					symbols, err = decode.DecodeReader(ctx, dec, cmd.InOrStdin())
				} else {
					symbols, err = decode.DecodeFile(ctx, dec, path)
				}
				if err != nil {
					failed++
					c.logger.Error("read", "path", path, "error", err)
					continue
				}
				if len(symbols) == 0 {
					c.logger.Warn("no QR code found", "path", path)
					continue
				}
				if err := out.Publish(ctx, results.Event{
					ID:      uuid.NewString(),
					Kind:    results.KindSymbols,
					Source:  path,
					At:      time.Now(),
					Symbols: symbols,
				}); err != nil {
					return err
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d images could not be read", failed, len(args))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print results as JSON lines")
	return cmd
}
