package capture

import (
	"context"
	"time"

	"gocv.io/x/gocv"

	"github.com/bryanchriswhite/galaxycam/internal/device"
)

// Source defines the interface consumers use to pull frames
type Source interface {
	// Read blocks until the next frame is available.
	// The caller owns the returned frame and must Close it.
	Read() (*Frame, error)

	// ReadContext is Read that gives up when ctx is done
	ReadContext(ctx context.Context) (*Frame, error)

	// Stats returns a snapshot of the acquisition counters
	Stats() Stats

	// Info describes the device frames come from
	Info() device.Info

	// Close stops acquisition and releases the device
	Close() error
}

// Frame is a converted image plus the moment it was captured
type Frame struct {
	// Image is 8-bit BGR, or 8-bit single channel for mono sensors
	Image gocv.Mat

	// Timestamp is taken right after the buffer is dequeued and before
	// conversion, so conversion time does not skew it
	Timestamp time.Time

	// Seq counts delivered frames from 1
	Seq uint64

	// Format is the pixel format the device sent
	Format device.PixelFormat

	DeviceFrameID   uint64
	DeviceTimestamp uint64
}

// Close frees the image
func (f *Frame) Close() error {
	return f.Image.Close()
}

// Stats counts what the acquisition loop has seen
type Stats struct {
	SessionID     string  `json:"session_id"`
	State         string  `json:"state"`
	Acquired      uint64  `json:"acquired"`
	Timeouts      uint64  `json:"timeouts"`
	AcquireErrors uint64  `json:"acquire_errors"`
	Incomplete    uint64  `json:"incomplete"`
	ConvertErrors uint64  `json:"convert_errors"`
	ReleaseErrors uint64  `json:"release_errors"`
	Panics        uint64  `json:"panics"`
	Delivered     uint64  `json:"delivered"`
	Dropped       uint64  `json:"dropped"`
	Read          uint64  `json:"read"`
	Queued        int     `json:"queued"`
	Capacity      int     `json:"capacity"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	AverageFPS    float64 `json:"average_fps"`
}
