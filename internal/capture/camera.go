package capture

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/galaxycam/internal/convert"
	"github.com/bryanchriswhite/galaxycam/internal/device"
	"github.com/bryanchriswhite/galaxycam/internal/logger"
	"github.com/bryanchriswhite/galaxycam/internal/queue"
)

// ErrNotStreaming is returned by Read when the camera is not delivering
// frames, including after Close.
var ErrNotStreaming = errors.New("camera is not streaming")

// Options configure Open.
type Options struct {
	Driver           device.Driver
	DeviceSelector   string
	Settings         device.Settings
	QueueCapacity    int
	Overflow         queue.Policy
	AcquireTimeout   time.Duration
	IdleInterval     time.Duration
	EnumerateTimeout time.Duration
	Demosaic         convert.Demosaic
	Logger           *zerolog.Logger
}

// DefaultOptions returns the stock timings: a 3 frame queue that blocks the
// producer, 100 ms acquire timeout and a 10 ms idle poll.
func DefaultOptions() Options {
	return Options{
		QueueCapacity:    queue.DefaultCapacity,
		Overflow:         queue.Block,
		AcquireTimeout:   100 * time.Millisecond,
		IdleInterval:     10 * time.Millisecond,
		EnumerateTimeout: time.Second,
		Demosaic:         convert.Bilinear,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = d.QueueCapacity
	}
	if o.AcquireTimeout <= 0 {
		o.AcquireTimeout = d.AcquireTimeout
	}
	if o.IdleInterval <= 0 {
		o.IdleInterval = d.IdleInterval
	}
	if o.EnumerateTimeout <= 0 {
		o.EnumerateTimeout = d.EnumerateTimeout
	}
	if o.Logger == nil {
		o.Logger = logger.WithComponent("camera")
	}
	return o
}

// stage is how far setup got; teardown unwinds from here.
type stage int

const (
	stageNone stage = iota
	stageLibrary
	stageOpen
	stageStreaming
)

// LoopState is the acquisition goroutine's lifecycle.
type LoopState int32

const (
	NotRunning LoopState = iota
	Running
	Stopping
)

func (s LoopState) String() string {
	switch s {
	case NotRunning:
		return "not_running"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	}
	return "unknown"
}

// Camera owns one open device and the goroutine that drains it.
type Camera struct {
	id       uuid.UUID
	opts     Options
	log      zerolog.Logger
	frameLog zerolog.Logger

	lib     *device.Library
	handle  device.Handle
	info    device.Info
	applied device.Applied
	stage   stage

	frames    *queue.Bounded[*Frame]
	running   atomic.Bool
	streaming atomic.Bool
	state     atomic.Int32
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
	firstOnce sync.Once
	started   time.Time
	seq       atomic.Uint64

	acquired      atomic.Uint64
	timeouts      atomic.Uint64
	acquireErrors atomic.Uint64
	incomplete    atomic.Uint64
	convertErrors atomic.Uint64
	releaseErrors atomic.Uint64
	panics        atomic.Uint64
	delivered     atomic.Uint64
	dropped       atomic.Uint64
	read          atomic.Uint64
}

var _ Source = (*Camera)(nil)

// Open initialises the SDK, opens the selected device, configures it,
// starts streaming and launches the acquisition goroutine. If any step
// fails, every completed step is undone before the error is returned.
func Open(opts Options) (*Camera, error) {
	if opts.Driver == nil {
		return nil, errors.New("capture: no driver")
	}
	opts = opts.withDefaults()

	id := uuid.New()
	log := opts.Logger.With().
		Str("session", id.String()).
		Str("driver", opts.Driver.Name()).
		Logger()

	c := &Camera{
		id:       id,
		opts:     opts,
		log:      log,
		frameLog: logger.Sampled(log, 5, 10*time.Second),
	}
	c.frames = queue.New[*Frame](opts.QueueCapacity,
		queue.WithPolicy[*Frame](opts.Overflow),
		queue.WithEvict[*Frame](func(f *Frame) {
			c.dropped.Add(1)
			f.Close()
		}),
	)

	if err := c.setup(); err != nil {
		if terr := c.teardown(); terr != nil {
			log.Warn().Err(terr).Msg("Teardown after failed setup reported errors")
		}
		return nil, err
	}

	c.started = time.Now()
	c.running.Store(true)
	c.state.Store(int32(Running))
	c.wg.Add(1)
	go c.run()
	log.Info().
		Str("serial", c.info.Serial).
		Int("queue_capacity", c.frames.Cap()).
		Stringer("overflow", opts.Overflow).
		Msg("Capture loop started")
	return c, nil
}

func (c *Camera) setup() error {
	lib, err := device.AcquireLibrary(c.opts.Driver)
	if err != nil {
		return err
	}
	c.lib = lib
	c.stage = stageLibrary
	c.log.Info().Msg("Camera library initialised")

	infos, err := c.opts.Driver.Enumerate(c.opts.EnumerateTimeout)
	if err != nil {
		return errors.Wrap(err, "enumerate devices")
	}
	c.log.Info().Int("count", len(infos)).Msg("Enumerated devices")
	if len(infos) == 0 {
		return device.ErrNoDevice
	}
	for _, info := range infos {
		c.log.Debug().Int("index", info.Index).Str("serial", info.Serial).Str("model", info.Model).Msg("Found device")
	}

	index, matched := device.Select(infos, c.opts.DeviceSelector)
	switch {
	case matched:
		c.log.Info().Str("selector", c.opts.DeviceSelector).Str("serial", infos[index].Serial).Msg("Opening device by serial match")
	case c.opts.DeviceSelector != "":
		c.log.Warn().Str("selector", c.opts.DeviceSelector).Msg("No device serial matches selector, opening first device")
	default:
		c.log.Info().Msg("Opening first available device")
	}

	h, err := c.opts.Driver.Open(index)
	if err != nil {
		return errors.Wrap(err, "open device")
	}
	c.handle = h
	c.info = h.Info()
	if c.info.Serial == "" {
		c.info = infos[index]
	}
	c.stage = stageOpen

	c.applied = device.Configure(h, c.opts.Settings, &c.log)

	if err := h.StartStreaming(); err != nil {
		return errors.Wrap(err, "start stream")
	}
	c.stage = stageStreaming
	c.streaming.Store(true)
	c.log.Info().Msg("Acquisition started")
	return nil
}

// teardown undoes setup in reverse, starting from the furthest stage
// reached. Failures are logged and the first one is returned.
func (c *Camera) teardown() error {
	var first error
	note := func(err error, msg string) {
		if err == nil {
			return
		}
		c.log.Warn().Err(err).Msg(msg)
		if first == nil {
			first = errors.Wrap(err, msg)
		}
	}

	switch c.stage {
	case stageStreaming:
		c.streaming.Store(false)
		note(c.handle.StopStreaming(), "stop stream")
		fallthrough
	case stageOpen:
		note(c.handle.Close(), "close device")
		fallthrough
	case stageLibrary:
		note(c.lib.Release(), "release library")
	}
	c.stage = stageNone
	return first
}

// Read returns the next frame, blocking until one is available.
func (c *Camera) Read() (*Frame, error) {
	return c.ReadContext(context.Background())
}

// ReadContext is Read bounded by ctx.
func (c *Camera) ReadContext(ctx context.Context) (*Frame, error) {
	if !c.streaming.Load() {
		return nil, ErrNotStreaming
	}
	f, err := c.frames.PopContext(ctx)
	if errors.Is(err, queue.ErrClosed) {
		return nil, ErrNotStreaming
	}
	if err != nil {
		return nil, err
	}
	c.read.Add(1)
	return f, nil
}

// Close stops the acquisition goroutine, discards queued frames and
// releases the device and SDK. It is safe to call more than once and
// returns the first teardown error.
func (c *Camera) Close() error {
	c.closeOnce.Do(func() {
		c.log.Info().Msg("Closing camera")
		c.state.Store(int32(Stopping))
		c.streaming.Store(false)
		c.running.Store(false)
		// Wakes the loop if it is blocked pushing into a full queue.
		c.frames.Close()
		c.wg.Wait()

		if n := c.frames.Drain(func(f *Frame) { f.Close() }); n > 0 {
			c.log.Debug().Int("frames", n).Msg("Discarded unread frames")
		}
		c.closeErr = c.teardown()
		c.log.Info().
			Uint64("delivered", c.delivered.Load()).
			Uint64("dropped", c.dropped.Load()).
			Msg("Camera closed")
	})
	return c.closeErr
}

// ID identifies this open session in logs and the API.
func (c *Camera) ID() string { return c.id.String() }

// Info describes the open device.
func (c *Camera) Info() device.Info { return c.info }

// Applied returns the settings the device accepted.
func (c *Camera) Applied() device.Applied { return c.applied }

// State returns the acquisition goroutine's state.
func (c *Camera) State() LoopState { return LoopState(c.state.Load()) }

// Streaming reports whether Read can return frames.
func (c *Camera) Streaming() bool { return c.streaming.Load() }

// Stats returns a snapshot of the counters.
func (c *Camera) Stats() Stats {
	s := Stats{
		SessionID:     c.id.String(),
		State:         c.State().String(),
		Acquired:      c.acquired.Load(),
		Timeouts:      c.timeouts.Load(),
		AcquireErrors: c.acquireErrors.Load(),
		Incomplete:    c.incomplete.Load(),
		ConvertErrors: c.convertErrors.Load(),
		ReleaseErrors: c.releaseErrors.Load(),
		Panics:        c.panics.Load(),
		Delivered:     c.delivered.Load(),
		Dropped:       c.dropped.Load(),
		Read:          c.read.Load(),
		Queued:        c.frames.Len(),
		Capacity:      c.frames.Cap(),
	}
	if !c.started.IsZero() {
		up := time.Since(c.started).Seconds()
		s.UptimeSeconds = up
		if up > 0 {
			s.AverageFPS = float64(s.Delivered) / up
		}
	}
	return s
}
