package device

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// Factory builds a driver from its free-form options block in the config
// file.
type Factory func(options map[string]any) (Driver, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a driver available by name. Driver packages call it from
// init. Registering the same name twice panics.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if f == nil {
		panic("device: Register factory is nil")
	}
	if _, dup := registry[name]; dup {
		panic("device: Register called twice for driver " + name)
	}
	registry[name] = f
}

// Lookup builds the named driver.
func Lookup(name string, options map[string]any) (Driver, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrUnknownDriver, "%q (have %v)", name, Drivers())
	}
	d, err := f(options)
	if err != nil {
		return nil, errors.Wrapf(err, "build %s driver", name)
	}
	return d, nil
}

// Drivers returns the registered driver names, sorted.
func Drivers() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
