package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/galaxycam/internal/capture"
	"github.com/bryanchriswhite/galaxycam/internal/logger"
	"github.com/bryanchriswhite/galaxycam/internal/record"
)

var grabCmd = &cobra.Command{
	Use:   "grab",
	Short: "Capture still frames to disk",
	Long: `Open the camera, let auto-settling frames pass, write the next frames
to the record directory and close the camera again.`,
	Example: `  # Save one frame as PNG into ./frames
  galaxycam grab

  # Save 10 JPEG frames into /tmp/shots after skipping 5
  galaxycam grab --count 10 --skip 5 --dir /tmp/shots --image-format jpg`,
	RunE: runGrab,
}

var (
	grabCount   int
	grabSkip    int
	grabDir     string
	grabFormat  string
	grabTimeout time.Duration
)

func init() {
	rootCmd.AddCommand(grabCmd)

	grabCmd.Flags().IntVarP(&grabCount, "count", "n", 1, "number of frames to save")
	grabCmd.Flags().IntVar(&grabSkip, "skip", 0, "frames to discard before saving")
	grabCmd.Flags().StringVarP(&grabDir, "dir", "d", "", "output directory (default from record.directory)")
	grabCmd.Flags().StringVar(&grabFormat, "image-format", "", "png, jpg, bmp or tiff (default from record.format)")
	grabCmd.Flags().DurationVar(&grabTimeout, "timeout", 10*time.Second, "give up when no frame arrives for this long")
}

func runGrab(cmd *cobra.Command, args []string) error {
	if grabCount < 1 {
		return errors.New("--count must be at least 1")
	}
	_, cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logger.WithComponent("grab")

	dir, format := cfg.Record.Directory, cfg.Record.Format
	if grabDir != "" {
		dir = grabDir
	}
	if grabFormat != "" {
		format = grabFormat
	}
	saver, err := record.NewSaver(dir, format, cfg.Stream.JPEGQuality)
	if err != nil {
		return err
	}

	opts, err := cameraOptions(cfg.Camera)
	if err != nil {
		return err
	}
	cam, err := capture.Open(opts)
	if err != nil {
		return errors.Wrap(err, "failed to open camera")
	}
	defer cam.Close()

	serial := cam.Info().Serial
	for i := 0; i < grabSkip+grabCount; i++ {
		f, err := readWithTimeout(cam, grabTimeout)
		if err != nil {
			return errors.Wrapf(err, "frame %d", i+1)
		}
		if i < grabSkip {
			f.Close()
			continue
		}
		path, err := saver.Save(serial, f)
		f.Close()
		if err != nil {
			return err
		}
		log.Debug().Str("path", path).Msg("Frame saved")
		fmt.Println(path)
	}
	return nil
}

func readWithTimeout(src capture.Source, timeout time.Duration) (*capture.Frame, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return src.ReadContext(ctx)
}
