// Package sim is a simulated Galaxy camera. It honours the same contract as
// the SDK binding (library lifetime, feature ranges, a finite buffer pool
// that must be returned) and renders a moving test pattern in any supported
// pixel format. Tests use it to inject faults.
package sim

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"

	"github.com/bryanchriswhite/galaxycam/internal/device"
)

// Name is the registry name of the simulated driver.
const Name = "sim"

func init() {
	device.Register(Name, func(options map[string]any) (device.Driver, error) {
		opts, err := DecodeOptions(options)
		if err != nil {
			return nil, err
		}
		return New(opts), nil
	})
}

// Options shape the simulated cameras.
type Options struct {
	Width       int      `mapstructure:"width"`
	Height      int      `mapstructure:"height"`
	PixelFormat string   `mapstructure:"pixel_format"`
	Formats     []string `mapstructure:"formats"`
	FPS         float64  `mapstructure:"fps"`
	Serials     []string `mapstructure:"serials"`
	PoolSize    int      `mapstructure:"pool_size"`
	// Unimplemented lists feature names (see device.Feature.String) the
	// simulated camera reports as missing.
	Unimplemented []string `mapstructure:"unimplemented"`
}

// DefaultOptions describe one 640x480 BayerRG8 camera at 30 fps.
func DefaultOptions() Options {
	return Options{
		Width:       640,
		Height:      480,
		PixelFormat: device.PixelFormatBayerRG8.String(),
		FPS:         30,
		Serials:     []string{"SIM00001"},
		PoolSize:    4,
	}
}

// DecodeOptions builds Options from a config block, starting from
// DefaultOptions.
func DecodeOptions(raw map[string]any) (Options, error) {
	opts := DefaultOptions()
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &opts,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return opts, errors.Wrap(err, "build options decoder")
	}
	if err := dec.Decode(raw); err != nil {
		return opts, errors.Wrap(err, "decode simulator options")
	}
	return opts, opts.validate()
}

func (o Options) validate() error {
	if o.Width < 2 || o.Height < 2 {
		return errors.Errorf("simulator size %dx%d too small", o.Width, o.Height)
	}
	if o.PoolSize < 1 {
		return errors.Errorf("simulator pool_size %d must be positive", o.PoolSize)
	}
	if _, ok := device.ParsePixelFormat(o.PixelFormat); !ok {
		return errors.Errorf("simulator pixel_format %q unknown", o.PixelFormat)
	}
	for _, f := range o.Formats {
		if _, ok := device.ParsePixelFormat(f); !ok {
			return errors.Errorf("simulator format %q unknown", f)
		}
	}
	return nil
}

// Driver is the simulated SDK.
type Driver struct {
	opts Options

	// Fault injection, set before the driver is used.
	InitErr   error
	OpenErr   error
	StreamErr error
	Faults    FaultPlan

	mu          sync.Mutex
	initialized bool
	inits       int
	closes      int
	opened      []*Camera
}

// New returns a simulated driver.
func New(opts Options) *Driver {
	if len(opts.Serials) == 0 {
		opts.Serials = []string{"SIM00001"}
	}
	if opts.PoolSize < 1 {
		opts.PoolSize = 4
	}
	return &Driver{opts: opts}
}

func (d *Driver) Name() string { return Name }

func (d *Driver) InitLibrary() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.InitErr != nil {
		return d.InitErr
	}
	d.initialized = true
	d.inits++
	return nil
}

func (d *Driver) CloseLibrary() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.initialized {
		return device.StatusNotInitAPI
	}
	d.initialized = false
	d.closes++
	return nil
}

func (d *Driver) Enumerate(timeout time.Duration) ([]device.Info, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.initialized {
		return nil, device.StatusNotInitAPI
	}
	infos := make([]device.Info, len(d.opts.Serials))
	for i, sn := range d.opts.Serials {
		infos[i] = device.Info{
			Index:        i,
			Serial:       sn,
			Vendor:       "Daheng Imaging",
			Model:        "MER2-SIM",
			DisplayName:  fmt.Sprintf("MER2-SIM(%s)", sn),
			DeviceClass:  "simulated",
			AccessStatus: "readwrite",
		}
	}
	return infos, nil
}

func (d *Driver) Open(index int) (device.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.initialized {
		return nil, device.StatusNotInitAPI
	}
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	if index < 0 || index >= len(d.opts.Serials) {
		return nil, errors.Wrapf(device.StatusInvalidParameter, "device index %d", index)
	}
	info := device.Info{
		Index:  index,
		Serial: d.opts.Serials[index],
		Vendor: "Daheng Imaging",
		Model:  "MER2-SIM",
	}
	cam := newCamera(info, d.opts, d.StreamErr, d.Faults)
	d.opened = append(d.opened, cam)
	return cam, nil
}

// Counts reports how many times the library was initialised and closed.
func (d *Driver) Counts() (inits, closes int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inits, d.closes
}

// Opened returns every camera opened through this driver, oldest first.
func (d *Driver) Opened() []*Camera {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Camera(nil), d.opened...)
}
