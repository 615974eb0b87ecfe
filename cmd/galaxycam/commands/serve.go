package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/galaxycam/internal/api"
	"github.com/bryanchriswhite/galaxycam/internal/capture"
	"github.com/bryanchriswhite/galaxycam/internal/logger"
	"github.com/bryanchriswhite/galaxycam/internal/output"
	"github.com/bryanchriswhite/galaxycam/internal/overlay"
	"github.com/bryanchriswhite/galaxycam/internal/record"
	"github.com/bryanchriswhite/galaxycam/internal/stream"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Open the camera and serve the stream",
	Long: `Open the configured camera, start continuous acquisition and serve an
MJPEG stream, snapshots, stats and the control API over HTTP.

Under systemd (Type=notify) readiness is reported once the camera is
streaming and the HTTP listener is up.`,
	Example: `  # Stream the simulated camera on the default port (8080)
  galaxycam serve

  # Stream a real camera selected by serial number
  galaxycam serve --driver galaxy --device FDA2104

  # Start with debug logging on a custom port
  galaxycam serve --port 9090 --log-level debug --log-pretty`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	configMgr, cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logger.WithComponent("serve")

	opts, err := cameraOptions(cfg.Camera)
	if err != nil {
		return err
	}
	cam, err := capture.Open(opts)
	if err != nil {
		return errors.Wrap(err, "failed to open camera")
	}
	defer func() {
		if err := cam.Close(); err != nil {
			log.Error().Err(err).Msg("Camera teardown failed")
		}
	}()

	mjpeg := output.NewMJPEGOutput(output.Config{
		FPS:     cfg.Stream.FPS,
		Width:   cfg.Stream.Width,
		Quality: cfg.Stream.JPEGQuality,
	})
	if err := mjpeg.Start(); err != nil {
		return err
	}
	defer mjpeg.Stop()

	ov := overlay.NewManager()
	ov.SetEnabled(cfg.Overlay.Enabled)
	ov.LoadFromConfig(cfg.Overlay.Widgets)

	saver, err := record.NewSaver(cfg.Record.Directory, cfg.Record.Format, cfg.Stream.JPEGQuality)
	if err != nil {
		return err
	}

	pump := stream.New(cam, ov, stream.Config{FPS: cfg.Stream.FPS, Width: cfg.Stream.Width}, mjpeg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pumpErr := make(chan error, 1)
	go func() { pumpErr <- pump.Run(ctx) }()

	server := api.NewServer(api.Options{
		Camera:  cam,
		Pump:    pump,
		MJPEG:   mjpeg,
		Overlay: ov,
		Saver:   saver,
		Config:  configMgr,
	})
	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Start(cfg.ServerPort) }()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	info := cam.Info()
	log.Info().
		Str("serial", info.Serial).
		Str("model", info.Model).
		Str("session", cam.ID()).
		Int("port", cfg.ServerPort).
		Msgf("Streaming on http://localhost:%d", cfg.ServerPort)
	daemon.SdNotify(false, daemon.SdNotifyReady)

	var runErr error
	select {
	case sig := <-sigChan:
		log.Info().Stringer("signal", sig).Msg("Shutting down gracefully")
	case err := <-serverErr:
		runErr = errors.Wrap(err, "HTTP server failed")
	case err := <-pumpErr:
		runErr = errors.Wrap(err, "stream stopped")
	}
	daemon.SdNotify(false, daemon.SdNotifyStopping)

	cancel()
	// Ends the open /stream responses so Shutdown does not wait on them.
	mjpeg.Stop()
	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP shutdown incomplete")
	}

	s := cam.Stats()
	log.Info().
		Uint64("delivered", s.Delivered).
		Uint64("timeouts", s.Timeouts).
		Uint64("incomplete", s.Incomplete).
		Uint64("published", pump.Stats().Published).
		Msg("Capture summary")
	return runErr
}
