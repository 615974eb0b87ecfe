//go:build !galaxy

package galaxy

import "github.com/bryanchriswhite/galaxycam/internal/device"

func newDriver(Options) (device.Driver, error) {
	return nil, ErrNotCompiled
}
