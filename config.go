package fnhost

import "github.com/giantswarm/fnhost/internal/core"

// hostConfig holds configuration for a Host. This unexported type wraps
// core.ManagerConfig via embedding, keeping internal/core types out of the
// public API signature while avoiding field-by-field duplication.
type hostConfig struct {
	core.ManagerConfig
}

// toCoreConfig returns the embedded core.ManagerConfig.
func (c hostConfig) toCoreConfig() core.ManagerConfig {
	return c.ManagerConfig
}
