package directions

import (
	"fmt"
	"sort"

	"github.com/fiberlab/tracto/sphere"
)

// FactoryConfig carries everything a family factory may need. Optional
// fields (Sphere, NumGaussians) fall back to family defaults when zero.
type FactoryConfig struct {
	InputSize int
	Dropout   float64
	Seed      uint64

	// Sphere selects the class set for sphere-classification; nil means
	// the default 724-vertex discretization.
	Sphere *sphere.Sphere
	// NumGaussians sets the mixture size for gaussian-mixture; zero
	// means DefaultNumGaussians.
	NumGaussians int
}

// Factory builds a head for one distribution family.
type Factory func(cfg FactoryConfig) (DirectionGetter, error)

// registry is the fixed family-key-to-factory mapping consumed by
// configuration and checkpoint loading. It is populated once here and
// never mutated at runtime.
var registry = map[string]Factory{
	KeyCosineRegression: func(cfg FactoryConfig) (DirectionGetter, error) {
		return NewCosineRegression(cfg.InputSize, cfg.Dropout, cfg.Seed)
	},
	KeyL2Regression: func(cfg FactoryConfig) (DirectionGetter, error) {
		return NewL2Regression(cfg.InputSize, cfg.Dropout, cfg.Seed)
	},
	KeySphereClassification: func(cfg FactoryConfig) (DirectionGetter, error) {
		return NewSphereClassification(cfg.InputSize, cfg.Dropout, cfg.Sphere, cfg.Seed)
	},
	KeyGaussian: func(cfg FactoryConfig) (DirectionGetter, error) {
		return NewSingleGaussian(cfg.InputSize, cfg.Dropout, cfg.Seed)
	},
	KeyGaussianMixture: func(cfg FactoryConfig) (DirectionGetter, error) {
		n := cfg.NumGaussians
		if n == 0 {
			n = DefaultNumGaussians
		}
		return NewGaussianMixture(cfg.InputSize, cfg.Dropout, n, cfg.Seed)
	},
	KeyFisherVonMises: func(cfg FactoryConfig) (DirectionGetter, error) {
		return NewFisherVonMises(cfg.InputSize, cfg.Dropout, cfg.Seed)
	},
	KeyFisherVonMisesMixture: func(cfg FactoryConfig) (DirectionGetter, error) {
		return NewFisherVonMisesMixture(cfg.InputSize, cfg.Dropout, cfg.NumGaussians, cfg.Seed)
	},
}

// New constructs the head registered under key. An unrecognized key is
// a configuration error and fails immediately.
func New(key string, cfg FactoryConfig) (DirectionGetter, error) {
	factory, ok := registry[key]
	if !ok {
		return nil, fmt.Errorf("unrecognized direction getter key %q (known keys: %v)", key, Keys())
	}
	return factory(cfg)
}

// Keys returns all registered family keys, sorted.
func Keys() []string {
	keys := make([]string, 0, len(registry))
	for k := range registry {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
