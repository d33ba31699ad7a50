package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/soocke/qrscan/config"
	"github.com/soocke/qrscan/domain/capture"
	"github.com/soocke/qrscan/domain/decode"
	"github.com/soocke/qrscan/domain/results"
	"github.com/soocke/qrscan/domain/session"
)

// Options adjusts container construction beyond the config file.
type Options struct {
	// Sinks receive every result event in addition to MQTT.
	Sinks []results.Sink
	// Torch switches the torch on once the device reports its capabilities.
	Torch bool
}

// Container assembles the capture subsystem, decoder, result hub and the
// session controller.
type Container struct {
	Config     *config.Config
	Logger     *slog.Logger
	Capture    *capture.Subsystem
	Decoder    *decode.QR
	Hub        *results.Hub
	MQTT       *results.MQTTSink
	Controller *session.Controller

	torch bool
}

// BuildContainer constructs all components. The only side effect is the
// MQTT connection attempt when a broker is configured; a failed attempt is
// logged and the client keeps retrying in the background.
func BuildContainer(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (*Container, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Container{Config: cfg, Logger: logger, torch: opts.Torch}

	sub, err := newSubsystem(cfg, logger)
	if err != nil {
		return nil, err
	}
	c.Capture = sub
	c.Decoder = decode.NewQR(logger.With("component", "decode"), decode.Options{
		TryHarder:    cfg.TryHarder,
		MaxDimension: cfg.MaxDecodeDimension,
	})

	sinks := append([]results.Sink(nil), opts.Sinks...)
	if cfg.MQTT.Broker != "" {
		c.MQTT = results.NewMQTTSink(logger.With("component", "mqtt"), results.MQTTOptions{
			Broker:   cfg.MQTT.Broker,
			Topic:    cfg.MQTT.Topic,
			ClientID: cfg.MQTT.ClientID,
			QoS:      cfg.MQTT.QoS,
		})
		if err := c.MQTT.Connect(ctx); err != nil {
			logger.Warn("mqtt unavailable, publishing will resume after reconnect", "error", err)
		}
		sinks = append(sinks, c.MQTT)
	}
	hub, err := results.NewHub(logger.With("component", "results"), results.Options{
		DuplicateWindow: time.Duration(cfg.DuplicateWindowMs) * time.Millisecond,
		DuplicateSize:   cfg.DuplicateCacheSize,
		History:         cfg.EventHistory,
	}, sinks...)
	if err != nil {
		c.closeSinks()
		return nil, fmt.Errorf("results hub: %w", err)
	}
	c.Hub = hub

	c.Controller = session.NewController(c.Capture, c.Decoder, c.SessionOptions(nil))
	return c, nil
}

func newSubsystem(cfg *config.Config, logger *slog.Logger) (*capture.Subsystem, error) {
	opts := capture.Options{
		FrameInterval: time.Duration(cfg.FrameIntervalMs) * time.Millisecond,
		MaxZoom:       cfg.MaxDigitalZoom,
		Region:        cfg.Region(),
	}
	switch cfg.Source {
	case config.SourceScreen:
		return capture.NewScreenSubsystem(logger, opts), nil
	case config.SourceReplay:
		return capture.NewReplaySubsystem(logger, cfg.ReplayDir, opts), nil
	default:
		return nil, fmt.Errorf("unknown capture source %q", cfg.Source)
	}
}

// StartConfig maps the configured lens and resolution.
func (c *Container) StartConfig() session.StartConfig {
	return session.StartConfig{
		Facing:     session.ParseFacing(c.Config.LensFacing),
		Resolution: session.ParseResolution(c.Config.Resolution),
	}
}

// SessionOptions returns controller options feeding the hub. controller
// is consulted for the session id and the torch; when nil the container's
// own controller is used.
func (c *Container) SessionOptions(controller func() *session.Controller) session.Options {
	if controller == nil {
		controller = func() *session.Controller { return c.Controller }
	}
	sessionID := func() string {
		if ctl := controller(); ctl != nil {
			return ctl.SessionID()
		}
		return ""
	}
	cb := c.Hub.Callbacks(sessionID)
	onError := cb.OnError
	cb.OnError = func(err error) {
		c.Logger.Debug("scan error", "error", err)
		onError(err)
	}
	cb.OnZoomReady = func(zs session.ZoomState) {
		c.Logger.Info("zoom ready", "min", zs.Min, "max", zs.Max, "current", zs.Current)
		if ctl := controller(); ctl != nil && c.torch && ctl.TorchAvailable() {
			ctl.EnableTorch(true)
		}
	}
	return session.Options{
		Logger:         c.Logger.With("component", "session"),
		Callbacks:      cb,
		DecodeInterval: time.Duration(c.Config.DecodeIntervalMs) * time.Millisecond,
	}
}

// StartScan starts the controller and requests the initial zoom.
func (c *Container) StartScan() {
	c.Controller.Start(c.StartConfig())
	if c.Config.InitialZoom > 0 {
		c.Controller.SetZoomRatio(c.Config.InitialZoom)
	}
}

// Close stops the session and flushes pending results.
func (c *Container) Close() {
	if c.Controller != nil {
		c.Controller.Close()
	}
	if c.Hub != nil {
		c.Hub.Close()
	}
	c.closeSinks()
}

func (c *Container) closeSinks() {
	if c.MQTT != nil {
		_ = c.MQTT.Close()
	}
}
