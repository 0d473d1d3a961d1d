package driver

import (
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/bplink/internal/device"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

var (
	registryMu sync.RWMutex
	registry   = orderedmap.New[string, Factory]()
)

func canonicalModel(model string) string {
	return strings.ToUpper(strings.TrimSpace(model))
}

// Register makes a device model constructable by name. Model matching is
// case-insensitive. Panics on duplicate registration, which indicates a
// program bug.
func Register(model string, factory Factory) {
	key := canonicalModel(model)
	if key == "" {
		panic("driver: empty model name")
	}
	if factory == nil {
		panic("driver: nil factory for model " + model)
	}

	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry.Get(key); dup {
		panic("driver: duplicate registration for model " + model)
	}
	registry.Set(key, factory)
}

// Lookup returns the factory registered for the given model.
func Lookup(model string) (Factory, error) {
	registryMu.RLock()
	factory, ok := registry.Get(canonicalModel(model))
	registryMu.RUnlock()

	if !ok {
		known := Models()
		if len(known) == 0 {
			return nil, fmt.Errorf("unknown device model %q: no drivers registered", model)
		}
		return nil, fmt.Errorf("unknown device model %q (registered: %s)", model, strings.Join(known, ", "))
	}
	return factory, nil
}

// New builds a driver for the given model bound to the link.
func New(model string, link device.Link, logger *logrus.Logger) (Driver, error) {
	factory, err := Lookup(model)
	if err != nil {
		return nil, err
	}
	return factory(link, logger)
}

// Models lists registered model names in registration order.
func Models() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	out := make([]string, 0, registry.Len())
	for pair := registry.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Key)
	}
	return out
}
