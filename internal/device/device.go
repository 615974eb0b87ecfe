// Package device defines the narrow contract between the capture pipeline
// and an industrial camera SDK: library lifetime, enumeration, feature
// access and buffer acquisition.
//
// The interfaces exist so the pipeline can run against the simulated driver
// in tests and against the Galaxy SDK on hardware.
package device

import (
	"fmt"
	"time"
)

// PixelFormat is a GenICam PFNC pixel format code as reported by the SDK.
type PixelFormat uint32

const (
	PixelFormatMono8    PixelFormat = 0x01080001
	PixelFormatBayerGR8 PixelFormat = 0x01080008
	PixelFormatBayerRG8 PixelFormat = 0x01080009
	PixelFormatBayerGB8 PixelFormat = 0x0108000A
	PixelFormatBayerBG8 PixelFormat = 0x0108000B
	PixelFormatRGB8     PixelFormat = 0x02180014
	PixelFormatBGR8     PixelFormat = 0x02180015
)

var pixelFormatNames = map[PixelFormat]string{
	PixelFormatMono8:    "Mono8",
	PixelFormatBayerGR8: "BayerGR8",
	PixelFormatBayerRG8: "BayerRG8",
	PixelFormatBayerGB8: "BayerGB8",
	PixelFormatBayerBG8: "BayerBG8",
	PixelFormatRGB8:     "RGB8",
	PixelFormatBGR8:     "BGR8",
}

func (p PixelFormat) String() string {
	if name, ok := pixelFormatNames[p]; ok {
		return name
	}
	return fmt.Sprintf("PixelFormat(0x%08X)", uint32(p))
}

// BytesPerPixel returns the packed size of one pixel, or 0 for formats the
// pipeline does not understand.
func (p PixelFormat) BytesPerPixel() int {
	switch p {
	case PixelFormatMono8, PixelFormatBayerGR8, PixelFormatBayerRG8,
		PixelFormatBayerGB8, PixelFormatBayerBG8:
		return 1
	case PixelFormatRGB8, PixelFormatBGR8:
		return 3
	}
	return 0
}

// IsBayer reports whether p is one of the 8-bit Bayer mosaics.
func (p PixelFormat) IsBayer() bool {
	switch p {
	case PixelFormatBayerGR8, PixelFormatBayerRG8, PixelFormatBayerGB8, PixelFormatBayerBG8:
		return true
	}
	return false
}

// ParsePixelFormat accepts the names produced by PixelFormat.String.
func ParsePixelFormat(name string) (PixelFormat, bool) {
	for p, n := range pixelFormatNames {
		if n == name {
			return p, true
		}
	}
	return 0, false
}

// FrameStatus is the per-buffer completion status reported by the SDK.
type FrameStatus int32

const (
	FrameStatusSuccess          FrameStatus = 0
	FrameStatusIncomplete       FrameStatus = -1
	FrameStatusInvalidImageInfo FrameStatus = -2
)

func (s FrameStatus) String() string {
	switch s {
	case FrameStatusSuccess:
		return "success"
	case FrameStatusIncomplete:
		return "incomplete"
	case FrameStatusInvalidImageInfo:
		return "invalid image info"
	}
	return fmt.Sprintf("FrameStatus(%d)", int32(s))
}

// RawFrame is a buffer lent out by the SDK. Data aliases driver memory and is
// only valid until the frame is handed back with Handle.Release, which must
// happen exactly once.
type RawFrame struct {
	Data      []byte
	Width     int
	Height    int
	Format    PixelFormat
	Status    FrameStatus
	FrameID   uint64
	Timestamp uint64

	// Token is owned by the driver that produced the frame.
	Token any
}

// Info describes an enumerated device.
type Info struct {
	Index        int    `json:"index"`
	Serial       string `json:"serial"`
	Vendor       string `json:"vendor,omitempty"`
	Model        string `json:"model,omitempty"`
	DisplayName  string `json:"display_name,omitempty"`
	DeviceClass  string `json:"device_class,omitempty"`
	AccessStatus string `json:"access_status,omitempty"`
}

// Feature identifies a camera feature the pipeline touches during setup.
type Feature int

const (
	FeatureTriggerMode Feature = iota
	FeatureAcquisitionMode
	FeatureFrameRateMode
	FeatureFrameRate
	FeaturePixelFormat
	FeatureExposureTime
	FeatureGain
)

func (f Feature) String() string {
	switch f {
	case FeatureTriggerMode:
		return "TriggerMode"
	case FeatureAcquisitionMode:
		return "AcquisitionMode"
	case FeatureFrameRateMode:
		return "AcquisitionFrameRateMode"
	case FeatureFrameRate:
		return "AcquisitionFrameRate"
	case FeaturePixelFormat:
		return "PixelFormat"
	case FeatureExposureTime:
		return "ExposureTime"
	case FeatureGain:
		return "Gain"
	}
	return fmt.Sprintf("Feature(%d)", int(f))
}

// Enum entries written during configuration.
const (
	TriggerModeOff            int64 = 0
	AcquisitionModeContinuous int64 = 2
	FrameRateModeOff          int64 = 0
	FrameRateModeOn           int64 = 1
)

// FloatRange is the writable range of a float feature.
type FloatRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Clamp limits v to the range.
func (r FloatRange) Clamp(v float64) float64 {
	if v < r.Min {
		return r.Min
	}
	if v > r.Max {
		return r.Max
	}
	return v
}

// Driver is the library-level half of an SDK binding.
type Driver interface {
	// Name identifies the driver in config and logs.
	Name() string

	// InitLibrary and CloseLibrary bracket every other call. Callers go
	// through AcquireLibrary so the pair runs once per driver value, which
	// must therefore be comparable (usually a pointer).
	InitLibrary() error
	CloseLibrary() error

	// Enumerate refreshes the device list, waiting at most timeout.
	Enumerate(timeout time.Duration) ([]Info, error)

	// Open opens the device at the given zero-based enumeration index.
	Open(index int) (Handle, error)
}

// Handle is an open device.
type Handle interface {
	Info() Info

	Implements(f Feature) bool
	SetEnum(f Feature, value int64) error
	FloatRange(f Feature) (FloatRange, error)
	SetFloat(f Feature, value float64) error

	StartStreaming() error
	StopStreaming() error

	// Acquire waits up to timeout for the next filled buffer. It returns
	// ErrTimeout when none arrived.
	Acquire(timeout time.Duration) (*RawFrame, error)
	// Release returns a buffer obtained from Acquire to the driver.
	Release(frame *RawFrame) error

	Close() error
}
