// Package convert turns raw SDK buffers into canonical OpenCV images: 8-bit
// BGR for colour sources and 8-bit single channel for mono, rotated 180
// degrees for the upside-down sensor mount.
package convert

import (
	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/bryanchriswhite/galaxycam/internal/device"
)

var (
	// ErrUnsupportedFormat is returned for pixel formats outside the
	// supported set.
	ErrUnsupportedFormat = errors.New("unsupported pixel format")
	// ErrEmptyFrame is returned for a nil frame, missing data or a
	// non-positive size.
	ErrEmptyFrame = errors.New("empty frame")
	// ErrShortBuffer is returned when the buffer is smaller than its
	// declared geometry.
	ErrShortBuffer = errors.New("buffer shorter than frame geometry")
)

// Demosaic selects the Bayer interpolation algorithm. The same algorithm is
// used for every mosaic phase.
type Demosaic int

const (
	Bilinear Demosaic = iota
	VNG
	EdgeAware
)

func (d Demosaic) String() string {
	switch d {
	case Bilinear:
		return "bilinear"
	case VNG:
		return "vng"
	case EdgeAware:
		return "edge-aware"
	}
	return "unknown"
}

// ParseDemosaic maps a config value onto a Demosaic.
func ParseDemosaic(s string) (Demosaic, bool) {
	switch s {
	case "", "bilinear":
		return Bilinear, true
	case "vng":
		return VNG, true
	case "edge-aware", "ea":
		return EdgeAware, true
	}
	return Bilinear, false
}

// OpenCV names Bayer patterns by the second row's first two pixels, so each
// camera (PFNC) mosaic maps to the OpenCV code one row down.
var bayerCodes = map[device.PixelFormat][3]gocv.ColorConversionCode{
	device.PixelFormatBayerRG8: {gocv.ColorBayerBGToBGR, gocv.ColorBayerBGToBGRVNG, gocv.ColorBayerBGToBGREA},
	device.PixelFormatBayerBG8: {gocv.ColorBayerRGToBGR, gocv.ColorBayerRGToBGRVNG, gocv.ColorBayerRGToBGREA},
	device.PixelFormatBayerGR8: {gocv.ColorBayerGBToBGR, gocv.ColorBayerGBToBGRVNG, gocv.ColorBayerGBToBGREA},
	device.PixelFormatBayerGB8: {gocv.ColorBayerGRToBGR, gocv.ColorBayerGRToBGRVNG, gocv.ColorBayerGRToBGREA},
}

// Supported reports whether ToMat can convert format.
func Supported(format device.PixelFormat) bool {
	switch format {
	case device.PixelFormatMono8, device.PixelFormatBGR8, device.PixelFormatRGB8:
		return true
	}
	_, ok := bayerCodes[format]
	return ok
}

// ToMat converts raw into a new Mat owned by the caller. raw.Data is only
// read; it can be released as soon as ToMat returns. On error the returned
// Mat is the zero value and must not be used.
func ToMat(raw *device.RawFrame, alg Demosaic) (gocv.Mat, error) {
	if raw == nil || len(raw.Data) == 0 || raw.Width <= 0 || raw.Height <= 0 {
		return gocv.Mat{}, ErrEmptyFrame
	}
	if !Supported(raw.Format) {
		return gocv.Mat{}, errors.Wrapf(ErrUnsupportedFormat, "%v", raw.Format)
	}

	need := raw.Width * raw.Height * raw.Format.BytesPerPixel()
	if len(raw.Data) < need {
		return gocv.Mat{}, errors.Wrapf(ErrShortBuffer, "%v %dx%d needs %d bytes, got %d",
			raw.Format, raw.Width, raw.Height, need, len(raw.Data))
	}
	data := raw.Data[:need]

	matType := gocv.MatTypeCV8UC1
	if raw.Format.BytesPerPixel() == 3 {
		matType = gocv.MatTypeCV8UC3
	}
	// src aliases data. Every path below writes into a fresh Mat, so the
	// result never points at driver memory.
	src, err := gocv.NewMatFromBytes(raw.Height, raw.Width, matType, data)
	if err != nil {
		return gocv.Mat{}, errors.Wrap(err, "wrap frame buffer")
	}

	img := src
	switch {
	case raw.Format == device.PixelFormatRGB8:
		img = gocv.NewMat()
		gocv.CvtColor(src, &img, gocv.ColorRGBToBGR)
		src.Close()
	case raw.Format.IsBayer():
		img = gocv.NewMat()
		gocv.CvtColor(src, &img, bayerCodes[raw.Format][alg.index()])
		src.Close()
	}

	out := gocv.NewMat()
	gocv.Rotate(img, &out, gocv.Rotate180Clockwise)
	img.Close()

	if out.Empty() {
		out.Close()
		return gocv.Mat{}, errors.Errorf("conversion of %v %dx%d produced no image", raw.Format, raw.Width, raw.Height)
	}
	return out, nil
}

func (d Demosaic) index() int {
	if d < Bilinear || d > EdgeAware {
		return 0
	}
	return int(d)
}
