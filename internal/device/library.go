package device

import (
	"sync"

	"github.com/pkg/errors"
)

// A driver's SDK must be initialised once no matter how many cameras are
// open through it, and closed only after the last one is gone. Counts are
// kept per driver value; drivers whose SDK is process-global share it
// themselves.
var (
	libMu   sync.Mutex
	libRefs = map[Driver]int{}
)

// Library is one reference to an initialised SDK.
type Library struct {
	driver Driver
	once   sync.Once
	err    error
}

// AcquireLibrary takes a reference to the driver's SDK, initialising it if
// this is the first one.
func AcquireLibrary(d Driver) (*Library, error) {
	libMu.Lock()
	defer libMu.Unlock()

	if libRefs[d] == 0 {
		if err := d.InitLibrary(); err != nil {
			return nil, errors.Wrapf(err, "initialise %s library", d.Name())
		}
	}
	libRefs[d]++
	return &Library{driver: d}, nil
}

// Driver returns the driver this reference belongs to.
func (l *Library) Driver() Driver {
	return l.driver
}

// Release drops the reference. The SDK is closed when the count reaches
// zero. Calling Release more than once has no further effect.
func (l *Library) Release() error {
	l.once.Do(func() {
		libMu.Lock()
		defer libMu.Unlock()

		d := l.driver
		libRefs[d]--
		if libRefs[d] > 0 {
			return
		}
		delete(libRefs, d)
		if err := d.CloseLibrary(); err != nil {
			l.err = errors.Wrapf(err, "close %s library", d.Name())
		}
	})
	return l.err
}

// LibraryRefs reports the live references held across every driver with
// the given name.
func LibraryRefs(name string) int {
	libMu.Lock()
	defer libMu.Unlock()
	n := 0
	for d, refs := range libRefs {
		if d.Name() == name {
			n += refs
		}
	}
	return n
}
