package fingerprint

import (
	"fmt"
	"sort"
	"sync"
)

// DefaultGeneratorName names the canonical MD5 tree hasher.
const DefaultGeneratorName = "default"

var (
	registryMu sync.RWMutex
	generators = map[string]Generator{
		DefaultGeneratorName: NewTreeHasher("MD5"),
		"tree-md5":           NewTreeHasher("MD5"),
		"tree-sha1":          NewTreeHasher("SHA-1"),
		"tree-sha256":        NewTreeHasher("SHA-256"),
	}
)

// Default returns the canonical tree-hash generator.
func Default() Generator {
	g, _ := Lookup(DefaultGeneratorName)
	return g
}

// Register makes a generator available under name for configuration.
// Registering a name twice is an error.
func Register(name string, g Generator) error {
	if name == "" || g == nil {
		return fmt.Errorf("register generator: name and generator are required")
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := generators[name]; exists {
		return fmt.Errorf("register generator: %q already registered", name)
	}
	generators[name] = g
	return nil
}

// Lookup returns the generator registered under name.
// An empty name selects the default generator.
func Lookup(name string) (Generator, error) {
	if name == "" {
		name = DefaultGeneratorName
	}
	registryMu.RLock()
	defer registryMu.RUnlock()
	g, ok := generators[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownGenerator, name)
	}
	return g, nil
}

// Names lists the registered generator names in sorted order.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(generators))
	for name := range generators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
