package hostapi

import "fmt"

// InitializeHostAPIs registers all available host API factories
func InitializeHostAPIs(registry HostAPIRegistry) error {
	factories := []HostAPIFactory{
		NewNetAPIFactory(),
	}

	for _, factory := range factories {
		if err := registry.Register(factory); err != nil {
			return fmt.Errorf("failed to register %s: %w", factory.Name(), err)
		}
	}

	return nil
}
