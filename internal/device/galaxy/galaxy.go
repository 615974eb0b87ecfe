// Package galaxy binds the Daheng Imaging Galaxy SDK (libgxiapi) to the
// device contract.
//
// The binding needs cgo and the vendor SDK, so it is only compiled with the
// galaxy build tag:
//
//	CGO_CFLAGS=-I/opt/Galaxy_camera/inc go build -tags galaxy ./cmd/galaxycam
//
// Without the tag the driver is still registered but refuses to build, so
// configs naming it fail with a clear error instead of an unknown driver.
package galaxy

import (
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"

	"github.com/bryanchriswhite/galaxycam/internal/device"
)

// Name is the registry name of the SDK driver.
const Name = "galaxy"

// ErrNotCompiled is returned when the binary was built without the galaxy
// tag.
var ErrNotCompiled = errors.New("galaxy driver not compiled in (build with -tags galaxy)")

// Options for the SDK driver.
type Options struct {
	// AcquisitionBuffers is the number of stream buffers the SDK allocates.
	// Zero keeps the SDK default.
	AcquisitionBuffers int `mapstructure:"acquisition_buffers"`
}

func init() {
	device.Register(Name, func(raw map[string]any) (device.Driver, error) {
		var opts Options
		if err := mapstructure.Decode(raw, &opts); err != nil {
			return nil, errors.Wrap(err, "decode galaxy options")
		}
		return newDriver(opts)
	})
}
