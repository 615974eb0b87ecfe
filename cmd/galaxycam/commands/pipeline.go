package commands

import (
	"github.com/pkg/errors"

	"github.com/bryanchriswhite/galaxycam/internal/capture"
	"github.com/bryanchriswhite/galaxycam/internal/config"
	"github.com/bryanchriswhite/galaxycam/internal/convert"
	"github.com/bryanchriswhite/galaxycam/internal/device"
	"github.com/bryanchriswhite/galaxycam/internal/queue"

	// Drivers register themselves with the device registry.
	_ "github.com/bryanchriswhite/galaxycam/internal/device/galaxy"
	_ "github.com/bryanchriswhite/galaxycam/internal/device/sim"
)

// lookupDriver builds the configured driver
func lookupDriver(cam config.CameraConfig) (device.Driver, error) {
	d, err := device.Lookup(cam.Driver, cam.DriverOptions)
	if err != nil {
		return nil, errors.Wrapf(err, "camera driver %q (available: %v)", cam.Driver, device.Drivers())
	}
	return d, nil
}

// cameraOptions turns the camera config section into capture options
func cameraOptions(cam config.CameraConfig) (capture.Options, error) {
	opts := capture.DefaultOptions()

	d, err := lookupDriver(cam)
	if err != nil {
		return opts, err
	}
	opts.Driver = d
	opts.DeviceSelector = cam.DeviceSelector

	opts.Settings = device.Settings{
		ExposureMS: cam.ExposureMS,
		Gain:       cam.Gain,
		FrameRate:  cam.FrameRate,
	}
	for _, name := range cam.PixelFormats {
		pf, ok := device.ParsePixelFormat(name)
		if !ok {
			return opts, errors.Errorf("unknown pixel format %q", name)
		}
		opts.Settings.Formats = append(opts.Settings.Formats, pf)
	}

	if cam.QueueCapacity > 0 {
		opts.QueueCapacity = cam.QueueCapacity
	}
	if cam.Overflow != "" {
		policy, ok := queue.ParsePolicy(cam.Overflow)
		if !ok {
			return opts, errors.Errorf("unknown overflow policy %q", cam.Overflow)
		}
		opts.Overflow = policy
	}
	if cam.Demosaic != "" {
		alg, ok := convert.ParseDemosaic(cam.Demosaic)
		if !ok {
			return opts, errors.Errorf("unknown demosaic algorithm %q", cam.Demosaic)
		}
		opts.Demosaic = alg
	}
	if t := cam.AcquireTimeout(); t > 0 {
		opts.AcquireTimeout = t
	}
	if t := cam.IdleInterval(); t > 0 {
		opts.IdleInterval = t
	}
	if t := cam.EnumerateTimeout(); t > 0 {
		opts.EnumerateTimeout = t
	}
	return opts, nil
}
