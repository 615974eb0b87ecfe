package capture

import (
	"time"

	"github.com/pkg/errors"

	"github.com/bryanchriswhite/galaxycam/internal/convert"
	"github.com/bryanchriswhite/galaxycam/internal/device"
)

// run is the acquisition goroutine. The keep-running flag is checked once
// per iteration, so Close returns within one acquire timeout.
func (c *Camera) run() {
	defer c.wg.Done()
	defer c.state.Store(int32(NotRunning))

	for c.running.Load() {
		if !c.streaming.Load() {
			time.Sleep(c.opts.IdleInterval)
			continue
		}
		c.step()
	}
	c.log.Debug().Msg("Capture loop ended")
}

// step moves at most one buffer from the driver into the queue. Every
// buffer obtained from Acquire is released exactly once, before the
// converted frame is queued.
func (c *Camera) step() {
	var raw *device.RawFrame
	// raw is cleared before the driver sees it, so a panic during or after
	// Release never hands the buffer back a second time.
	releaseRaw := func() {
		r := raw
		raw = nil
		c.release(r)
	}
	defer func() {
		if r := recover(); r != nil {
			c.panics.Add(1)
			c.frameLog.Error().Interface("panic", r).Msg("Recovered in capture loop")
			if raw != nil {
				releaseRaw()
			}
		}
	}()

	raw, err := c.handle.Acquire(c.opts.AcquireTimeout)
	switch {
	case errors.Is(err, device.ErrTimeout):
		c.timeouts.Add(1)
		return
	case err != nil:
		raw = nil
		c.acquireErrors.Add(1)
		c.frameLog.Warn().Err(err).Msg("Failed to grab image in capture loop")
		return
	}
	c.acquired.Add(1)

	if raw.Status != device.FrameStatusSuccess {
		c.incomplete.Add(1)
		c.frameLog.Debug().Stringer("status", raw.Status).Uint64("frame_id", raw.FrameID).Msg("Dropping bad frame")
		releaseRaw()
		return
	}

	ts := time.Now()
	format, frameID, deviceTS := raw.Format, raw.FrameID, raw.Timestamp
	img, err := convert.ToMat(raw, c.opts.Demosaic)
	releaseRaw()
	if err != nil {
		c.convertErrors.Add(1)
		c.frameLog.Warn().Err(err).Uint64("frame_id", frameID).Msg("Failed to convert frame")
		return
	}

	c.firstOnce.Do(func() {
		c.log.Info().
			Int("width", img.Cols()).
			Int("height", img.Rows()).
			Stringer("pixel_format", format).
			Msg("First frame received")
	})

	f := &Frame{
		Image:           img,
		Timestamp:       ts,
		Seq:             c.seq.Add(1),
		Format:          format,
		DeviceFrameID:   frameID,
		DeviceTimestamp: deviceTS,
	}
	if !c.frames.Push(f) {
		// Closed while we were converting.
		f.Close()
		return
	}
	c.delivered.Add(1)
}

func (c *Camera) release(raw *device.RawFrame) {
	if err := c.handle.Release(raw); err != nil {
		c.releaseErrors.Add(1)
		c.frameLog.Warn().Err(err).Uint64("frame_id", raw.FrameID).Msg("Failed to release buffer")
	}
}
