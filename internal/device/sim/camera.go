package sim

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/bryanchriswhite/galaxycam/internal/device"
)

// Outcome is what a single Acquire call produces.
type Outcome int

const (
	// Deliver hands out a good frame.
	Deliver Outcome = iota
	// Timeout makes Acquire return device.ErrTimeout.
	Timeout
	// Fail makes Acquire return a non-timeout SDK error.
	Fail
	// Incomplete hands out a buffer whose status is not success.
	Incomplete
	// Truncated hands out a successful buffer shorter than its geometry.
	Truncated
	// Unsupported hands out a buffer tagged with an unknown pixel format.
	Unsupported
)

// FaultPlan decides the outcome of the n-th Acquire call, counting from 1.
type FaultPlan func(n uint64) Outcome

type buffer struct {
	data []byte
}

// Camera is a simulated open device.
type Camera struct {
	info      device.Info
	opts      Options
	streamErr error
	faults    FaultPlan

	mu            sync.Mutex
	closed        bool
	streaming     bool
	format        device.PixelFormat
	supported     map[device.PixelFormat]bool
	unimplemented map[device.Feature]bool
	enums         map[device.Feature]int64
	floats        map[device.Feature]float64
	ranges        map[device.Feature]device.FloatRange

	free        chan *buffer
	outstanding map[*buffer]bool
	attempts    uint64
	frameID     uint64
	acquired    uint64
	released    uint64
	doubles     uint64
	opened      time.Time
	nextFrame   time.Time
}

func newCamera(info device.Info, opts Options, streamErr error, faults FaultPlan) *Camera {
	format, ok := device.ParsePixelFormat(opts.PixelFormat)
	if !ok {
		format = device.PixelFormatBayerRG8
	}

	supported := map[device.PixelFormat]bool{format: true}
	for _, name := range opts.Formats {
		if pf, ok := device.ParsePixelFormat(name); ok {
			supported[pf] = true
		}
	}

	unimplemented := map[device.Feature]bool{}
	for _, name := range opts.Unimplemented {
		for f := device.FeatureTriggerMode; f <= device.FeatureGain; f++ {
			if f.String() == name {
				unimplemented[f] = true
			}
		}
	}

	c := &Camera{
		info:          info,
		opts:          opts,
		streamErr:     streamErr,
		faults:        faults,
		format:        format,
		supported:     supported,
		unimplemented: unimplemented,
		enums:         map[device.Feature]int64{},
		floats:        map[device.Feature]float64{},
		ranges: map[device.Feature]device.FloatRange{
			device.FeatureExposureTime: {Min: 20, Max: 1_000_000},
			device.FeatureGain:         {Min: 0, Max: 24},
			device.FeatureFrameRate:    {Min: 1, Max: 200},
		},
		free:        make(chan *buffer, opts.PoolSize),
		outstanding: map[*buffer]bool{},
		opened:      time.Now(),
	}
	for i := 0; i < opts.PoolSize; i++ {
		c.free <- &buffer{}
	}
	return c
}

func (c *Camera) Info() device.Info { return c.info }

func (c *Camera) Implements(f device.Feature) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.unimplemented[f]
}

func (c *Camera) SetEnum(f device.Feature, value int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkLocked(f); err != nil {
		return err
	}
	if f == device.FeaturePixelFormat {
		pf := device.PixelFormat(value)
		if !c.supported[pf] {
			return device.StatusOutOfRange
		}
		if c.streaming {
			return device.StatusInvalidAccess
		}
		c.format = pf
	}
	c.enums[f] = value
	return nil
}

func (c *Camera) FloatRange(f device.Feature) (device.FloatRange, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkLocked(f); err != nil {
		return device.FloatRange{}, err
	}
	r, ok := c.ranges[f]
	if !ok {
		return device.FloatRange{}, device.StatusErrorType
	}
	return r, nil
}

func (c *Camera) SetFloat(f device.Feature, value float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkLocked(f); err != nil {
		return err
	}
	r, ok := c.ranges[f]
	if !ok {
		return device.StatusErrorType
	}
	if value < r.Min || value > r.Max {
		return device.StatusOutOfRange
	}
	c.floats[f] = value
	return nil
}

func (c *Camera) checkLocked(f device.Feature) error {
	if c.closed {
		return device.StatusInvalidHandle
	}
	if c.unimplemented[f] {
		return device.StatusNotImplemented
	}
	return nil
}

func (c *Camera) StartStreaming() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return device.StatusInvalidHandle
	}
	if c.streamErr != nil {
		return c.streamErr
	}
	c.streaming = true
	c.nextFrame = time.Now()
	return nil
}

func (c *Camera) StopStreaming() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return device.StatusInvalidHandle
	}
	c.streaming = false
	return nil
}

func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return device.StatusInvalidHandle
	}
	c.closed = true
	c.streaming = false
	return nil
}

// interval is the time between frames, or zero for unpaced delivery.
func (c *Camera) intervalLocked() time.Duration {
	fps := c.opts.FPS
	if c.enums[device.FeatureFrameRateMode] == device.FrameRateModeOn {
		if v, ok := c.floats[device.FeatureFrameRate]; ok {
			fps = v
		}
	}
	if fps <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / fps)
}

func (c *Camera) Acquire(timeout time.Duration) (*device.RawFrame, error) {
	deadline := time.Now().Add(timeout)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, device.StatusInvalidHandle
	}
	if !c.streaming {
		c.mu.Unlock()
		return nil, device.StatusInvalidCall
	}
	c.attempts++
	outcome := Deliver
	if c.faults != nil {
		outcome = c.faults(c.attempts)
	}
	wait := time.Until(c.nextFrame)
	c.mu.Unlock()

	switch outcome {
	case Timeout:
		time.Sleep(time.Until(deadline))
		return nil, device.StatusTimeout
	case Fail:
		return nil, errors.Wrap(device.StatusOfflineDevice, "simulated transfer error")
	}

	if wait > 0 {
		if time.Now().Add(wait).After(deadline) {
			time.Sleep(time.Until(deadline))
			return nil, device.StatusTimeout
		}
		time.Sleep(wait)
	}

	var buf *buffer
	select {
	case buf = <-c.free:
	case <-time.After(time.Until(deadline)):
		// Every buffer is held by the host.
		return nil, device.StatusTimeout
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || !c.streaming {
		c.free <- buf
		return nil, device.StatusInvalidCall
	}

	format := c.format
	if outcome == Unsupported {
		format = device.PixelFormat(0x010C0001) // Mono12
	}
	w, h := c.opts.Width, c.opts.Height
	bpp := format.BytesPerPixel()
	if bpp == 0 {
		bpp = 1
	}
	size := w * h * bpp
	if cap(buf.data) < size {
		buf.data = make([]byte, size)
	}
	buf.data = buf.data[:size]

	c.frameID++
	Render(buf.data, format, w, h, Gradient(int(c.frameID)))

	status := device.FrameStatusSuccess
	data := buf.data
	switch outcome {
	case Incomplete:
		status = device.FrameStatusIncomplete
	case Truncated:
		data = data[:size/2]
	}

	now := time.Now()
	if interval := c.intervalLocked(); interval > 0 {
		c.nextFrame = c.nextFrame.Add(interval)
		if c.nextFrame.Before(now) {
			c.nextFrame = now
		}
	}

	c.outstanding[buf] = true
	c.acquired++
	return &device.RawFrame{
		Data:      data,
		Width:     w,
		Height:    h,
		Format:    format,
		Status:    status,
		FrameID:   c.frameID,
		Timestamp: uint64(now.Sub(c.opened).Nanoseconds()),
		Token:     buf,
	}, nil
}

// Release returns a buffer to the pool. Releasing a frame that is not
// outstanding is an error and is counted.
func (c *Camera) Release(frame *device.RawFrame) error {
	if frame == nil {
		return device.StatusInvalidParameter
	}
	buf, ok := frame.Token.(*buffer)
	if !ok {
		return errors.Wrap(device.StatusInvalidParameter, "frame not from this driver")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.outstanding[buf] {
		c.doubles++
		return errors.Wrap(device.StatusInvalidCall, "buffer already released")
	}
	delete(c.outstanding, buf)
	c.released++
	c.free <- buf
	return nil
}

// Accounting is a snapshot of buffer bookkeeping.
type Accounting struct {
	Attempts       uint64
	Acquired       uint64
	Released       uint64
	Outstanding    int
	DoubleReleases uint64
}

// Accounting returns the camera's buffer bookkeeping.
func (c *Camera) Accounting() Accounting {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Accounting{
		Attempts:       c.attempts,
		Acquired:       c.acquired,
		Released:       c.released,
		Outstanding:    len(c.outstanding),
		DoubleReleases: c.doubles,
	}
}

// PixelFormat returns the currently selected format.
func (c *Camera) PixelFormat() device.PixelFormat {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.format
}

// Float returns the last value written to a float feature.
func (c *Camera) Float(f device.Feature) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.floats[f]
	return v, ok
}

// Enum returns the last value written to an enum feature.
func (c *Camera) Enum(f device.Feature) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.enums[f]
	return v, ok
}

// Streaming reports whether the stream is on.
func (c *Camera) Streaming() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streaming
}

// Closed reports whether Close was called.
func (c *Camera) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
