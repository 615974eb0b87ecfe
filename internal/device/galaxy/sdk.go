//go:build galaxy

package galaxy

/*
#cgo LDFLAGS: -lgxiapi
#include <stdbool.h>
#include <stdlib.h>
#include "GxIAPI.h"
*/
import "C"

import (
	"sync"
	"time"
	"unsafe"

	"github.com/pkg/errors"

	"github.com/bryanchriswhite/galaxycam/internal/device"
)

var featureIDs = map[device.Feature]C.GX_FEATURE_ID_CMD{
	device.FeatureTriggerMode:     C.GX_ENUM_TRIGGER_MODE,
	device.FeatureAcquisitionMode: C.GX_ENUM_ACQUISITION_MODE,
	device.FeatureFrameRateMode:   C.GX_ENUM_ACQUISITION_FRAME_RATE_MODE,
	device.FeatureFrameRate:       C.GX_FLOAT_ACQUISITION_FRAME_RATE,
	device.FeaturePixelFormat:     C.GX_ENUM_PIXEL_FORMAT,
	device.FeatureExposureTime:    C.GX_FLOAT_EXPOSURE_TIME,
	device.FeatureGain:            C.GX_FLOAT_GAIN,
}

func status(s C.GX_STATUS) error {
	return device.Status(int32(s)).Err()
}

type driver struct {
	opts Options

	mu    sync.Mutex
	infos []device.Info
}

func newDriver(opts Options) (device.Driver, error) {
	return &driver{opts: opts}, nil
}

func (d *driver) Name() string { return Name }

// libgxiapi is process-global; every driver value shares one init.
var (
	sdkMu   sync.Mutex
	sdkRefs int
)

func (d *driver) InitLibrary() error {
	sdkMu.Lock()
	defer sdkMu.Unlock()
	if sdkRefs == 0 {
		if err := status(C.GXInitLib()); err != nil {
			return err
		}
	}
	sdkRefs++
	return nil
}

func (d *driver) CloseLibrary() error {
	sdkMu.Lock()
	defer sdkMu.Unlock()
	if sdkRefs == 0 {
		return device.StatusNotInitAPI
	}
	sdkRefs--
	if sdkRefs > 0 {
		return nil
	}
	return status(C.GXCloseLib())
}

func (d *driver) Enumerate(timeout time.Duration) ([]device.Info, error) {
	var n C.uint32_t
	if err := status(C.GXUpdateDeviceList(&n, C.uint32_t(timeout.Milliseconds()))); err != nil {
		return nil, errors.Wrap(err, "update device list")
	}
	if n == 0 {
		return nil, nil
	}

	base := make([]C.GX_DEVICE_BASE_INFO, int(n))
	size := C.size_t(uintptr(n) * unsafe.Sizeof(base[0]))
	if err := status(C.GXGetAllDeviceBaseInfo(&base[0], &size)); err != nil {
		return nil, errors.Wrap(err, "get device info")
	}

	infos := make([]device.Info, len(base))
	for i := range base {
		infos[i] = device.Info{
			Index:       i,
			Serial:      C.GoString(&base[i].szSN[0]),
			Vendor:      C.GoString(&base[i].szVendorName[0]),
			Model:       C.GoString(&base[i].szModelName[0]),
			DisplayName: C.GoString(&base[i].szDisplayName[0]),
		}
	}

	d.mu.Lock()
	d.infos = infos
	d.mu.Unlock()
	return infos, nil
}

func (d *driver) Open(index int) (device.Handle, error) {
	var h C.GX_DEV_HANDLE
	// The SDK counts devices from 1.
	if err := status(C.GXOpenDeviceByIndex(C.uint32_t(index+1), &h)); err != nil {
		return nil, errors.Wrapf(err, "open device %d", index)
	}
	if d.opts.AcquisitionBuffers > 0 {
		if err := status(C.GXSetAcqusitionBufferNumber(h, C.uint64_t(d.opts.AcquisitionBuffers))); err != nil {
			C.GXCloseDevice(h)
			return nil, errors.Wrap(err, "set acquisition buffer count")
		}
	}
	info := device.Info{Index: index}
	d.mu.Lock()
	if index < len(d.infos) {
		info = d.infos[index]
	}
	d.mu.Unlock()
	return &handle{h: h, info: info}, nil
}

type handle struct {
	h    C.GX_DEV_HANDLE
	info device.Info

	mu     sync.Mutex
	closed bool
}

func (h *handle) Info() device.Info { return h.info }

func (h *handle) Implements(f device.Feature) bool {
	id, ok := featureIDs[f]
	if !ok {
		return false
	}
	var implemented C.bool
	if status(C.GXIsImplemented(h.h, id, &implemented)) != nil {
		return false
	}
	return bool(implemented)
}

func (h *handle) SetEnum(f device.Feature, value int64) error {
	id, ok := featureIDs[f]
	if !ok {
		return device.ErrNotImplemented
	}
	return status(C.GXSetEnum(h.h, id, C.int64_t(value)))
}

func (h *handle) FloatRange(f device.Feature) (device.FloatRange, error) {
	id, ok := featureIDs[f]
	if !ok {
		return device.FloatRange{}, device.ErrNotImplemented
	}
	var r C.GX_FLOAT_RANGE
	if err := status(C.GXGetFloatRange(h.h, id, &r)); err != nil {
		return device.FloatRange{}, err
	}
	return device.FloatRange{Min: float64(r.dMin), Max: float64(r.dMax)}, nil
}

func (h *handle) SetFloat(f device.Feature, value float64) error {
	id, ok := featureIDs[f]
	if !ok {
		return device.ErrNotImplemented
	}
	return status(C.GXSetFloat(h.h, id, C.double(value)))
}

func (h *handle) StartStreaming() error {
	return status(C.GXStreamOn(h.h))
}

func (h *handle) StopStreaming() error {
	return status(C.GXStreamOff(h.h))
}

func (h *handle) Acquire(timeout time.Duration) (*device.RawFrame, error) {
	var fb C.PGX_FRAME_BUFFER
	if err := status(C.GXDQBuf(h.h, &fb, C.uint32_t(timeout.Milliseconds()))); err != nil {
		return nil, err
	}

	frame := &device.RawFrame{
		Width:     int(fb.nWidth),
		Height:    int(fb.nHeight),
		Format:    device.PixelFormat(uint32(fb.nPixelFormat)),
		Status:    device.FrameStatus(int32(fb.nStatus)),
		FrameID:   uint64(fb.nFrameID),
		Timestamp: uint64(fb.nTimestamp),
		Token:     fb,
	}
	if fb.pImgBuf != nil && fb.nImgSize > 0 {
		frame.Data = unsafe.Slice((*byte)(fb.pImgBuf), int(fb.nImgSize))
	}
	return frame, nil
}

func (h *handle) Release(frame *device.RawFrame) error {
	fb, ok := frame.Token.(C.PGX_FRAME_BUFFER)
	if !ok || fb == nil {
		return errors.Wrap(device.StatusInvalidParameter, "frame not from this driver")
	}
	frame.Token = nil
	frame.Data = nil
	return status(C.GXQBuf(h.h, fb))
}

func (h *handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	return status(C.GXCloseDevice(h.h))
}
