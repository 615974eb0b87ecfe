// Package stream moves frames from a capture source through the overlay
// and out to the configured outputs at a throttled rate.
package stream

import (
	"context"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"github.com/bryanchriswhite/galaxycam/internal/capture"
	"github.com/bryanchriswhite/galaxycam/internal/logger"
	"github.com/bryanchriswhite/galaxycam/internal/output"
	"github.com/bryanchriswhite/galaxycam/internal/overlay"
)

// Config controls publishing
type Config struct {
	// FPS caps how often frames are published; frames in between are
	// read and discarded so the capture queue never backs up
	FPS int
	// Width scales published frames, keeping the aspect ratio. 0 or a
	// width larger than the sensor keeps the original size.
	Width int
}

// Stats counts what the pump did with the frames it read
type Stats struct {
	Read         uint64  `json:"read"`
	Published    uint64  `json:"published"`
	Throttled    uint64  `json:"throttled"`
	OutputErrors uint64  `json:"output_errors"`
	FPS          float64 `json:"fps"`
}

type grabRequest struct {
	reply chan *capture.Frame
}

// Pump reads frames from a Source and publishes them
type Pump struct {
	src     capture.Source
	overlay *overlay.Manager
	outputs []output.Output
	cfg     Config
	log     *zerolog.Logger

	grabs chan grabRequest
	done  chan struct{}

	read, published, throttled, outputErrors atomic.Uint64

	rateMu   sync.Mutex
	rate     float64
	lastPub  time.Time
	started  time.Time
	interval time.Duration
}

// New creates a pump. overlay may be nil.
func New(src capture.Source, ov *overlay.Manager, cfg Config, outputs ...output.Output) *Pump {
	p := &Pump{
		src:     src,
		overlay: ov,
		outputs: outputs,
		cfg:     cfg,
		log:     logger.WithComponent("stream"),
		grabs:   make(chan grabRequest),
		done:    make(chan struct{}),
	}
	if cfg.FPS > 0 {
		p.interval = time.Second / time.Duration(cfg.FPS)
	}
	return p
}

// Run pumps until ctx is done or the source stops streaming. A cancelled
// context is a clean exit and returns nil. Run must be called at most once.
func (p *Pump) Run(ctx context.Context) error {
	defer close(p.done)
	p.started = time.Now()
	p.log.Info().Int("fps", p.cfg.FPS).Int("width", p.cfg.Width).Int("outputs", len(p.outputs)).Msg("Stream pump started")
	defer p.log.Info().Uint64("published", p.published.Load()).Msg("Stream pump stopped")

	var pending []grabRequest
	for {
		f, err := p.src.ReadContext(ctx)
		if err != nil {
			for _, g := range pending {
				close(g.reply)
			}
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "read frame")
		}
		p.read.Add(1)

		// Collect still requests without blocking.
	collect:
		for {
			select {
			case g := <-p.grabs:
				pending = append(pending, g)
			default:
				break collect
			}
		}
		for _, g := range pending {
			g.reply <- &capture.Frame{
				Image:           f.Image.Clone(),
				Timestamp:       f.Timestamp,
				Seq:             f.Seq,
				Format:          f.Format,
				DeviceFrameID:   f.DeviceFrameID,
				DeviceTimestamp: f.DeviceTimestamp,
			}
		}
		pending = pending[:0]

		if p.due(f.Timestamp) {
			p.publish(f)
		} else {
			p.throttled.Add(1)
		}
		f.Close()
	}
}

// due reports whether a frame captured at ts should be published
func (p *Pump) due(ts time.Time) bool {
	p.rateMu.Lock()
	defer p.rateMu.Unlock()
	if p.interval > 0 && !p.lastPub.IsZero() && ts.Sub(p.lastPub) < p.interval {
		return false
	}
	if !p.lastPub.IsZero() {
		if dt := ts.Sub(p.lastPub).Seconds(); dt > 0 {
			// Exponential moving average of the published rate.
			inst := 1 / dt
			if p.rate == 0 {
				p.rate = inst
			} else {
				p.rate = 0.9*p.rate + 0.1*inst
			}
		}
	}
	p.lastPub = ts
	return true
}

func (p *Pump) publish(f *capture.Frame) {
	img, err := ToRGBA(f.Image, p.cfg.Width)
	if err != nil {
		p.outputErrors.Add(1)
		p.log.Warn().Err(err).Uint64("seq", f.Seq).Msg("Failed to prepare frame")
		return
	}

	if p.overlay != nil {
		p.overlay.Render(img, overlay.FrameInfo{
			Serial: p.src.Info().Serial,
			Seq:    f.Seq,
			Time:   f.Timestamp,
			Format: f.Format.String(),
			Width:  f.Image.Cols(),
			Height: f.Image.Rows(),
			FPS:    p.Rate(),
		})
	}

	for _, out := range p.outputs {
		if err := out.WriteFrame(img); err != nil {
			p.outputErrors.Add(1)
			p.log.Debug().Err(err).Str("output", out.Name()).Msg("Output rejected frame")
		}
	}
	p.published.Add(1)
}

// Grab returns a copy of the next frame the pump reads. The caller owns
// the frame and must Close it. Once Run has returned Grab fails with
// capture.ErrNotStreaming.
func (p *Pump) Grab(ctx context.Context) (*capture.Frame, error) {
	g := grabRequest{reply: make(chan *capture.Frame, 1)}
	select {
	case p.grabs <- g:
	case <-p.done:
		return nil, capture.ErrNotStreaming
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case f, ok := <-g.reply:
		if !ok {
			return nil, capture.ErrNotStreaming
		}
		return f, nil
	case <-ctx.Done():
		// The pump may still reply; free the clone when it does.
		go func() {
			if f, ok := <-g.reply; ok {
				f.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// Rate returns the smoothed publish rate in frames per second
func (p *Pump) Rate() float64 {
	p.rateMu.Lock()
	defer p.rateMu.Unlock()
	return p.rate
}

// Stats returns the pump counters
func (p *Pump) Stats() Stats {
	return Stats{
		Read:         p.read.Load(),
		Published:    p.published.Load(),
		Throttled:    p.throttled.Load(),
		OutputErrors: p.outputErrors.Load(),
		FPS:          p.Rate(),
	}
}

// ToRGBA converts a BGR or mono Mat into a new RGBA image, scaling it down
// to width first when width is positive and smaller than the Mat.
func ToRGBA(src gocv.Mat, width int) (*image.RGBA, error) {
	if src.Empty() {
		return nil, errors.New("empty image")
	}

	scaled := src
	if width > 0 && width < src.Cols() {
		height := src.Rows() * width / src.Cols()
		if height < 1 {
			height = 1
		}
		scaled = gocv.NewMat()
		defer scaled.Close()
		gocv.Resize(src, &scaled, image.Pt(width, height), 0, 0, gocv.InterpolationArea)
	}

	var code gocv.ColorConversionCode
	switch scaled.Channels() {
	case 1:
		code = gocv.ColorGrayToRGBA
	case 3:
		code = gocv.ColorBGRToRGBA
	case 4:
		code = gocv.ColorBGRAToRGBA
	default:
		return nil, errors.Errorf("unsupported channel count %d", scaled.Channels())
	}

	rgba := gocv.NewMat()
	defer rgba.Close()
	gocv.CvtColor(scaled, &rgba, code)

	img := image.NewRGBA(image.Rect(0, 0, rgba.Cols(), rgba.Rows()))
	data, err := rgba.DataPtrUint8()
	if err != nil {
		return nil, errors.Wrap(err, "read converted pixels")
	}
	copy(img.Pix, data)
	return img, nil
}
