package core

import (
	"fmt"
	"strings"
)

// AppType selects how an app's functions are run.
type AppType int

const (
	// AppTypeJar apps run in one shared worker process reached over RPC.
	AppTypeJar AppType = iota + 1
	// AppTypeWasm apps run in exclusive, pooled Wasm sandboxes.
	AppTypeWasm
	// AppTypeNative apps are stateless and need no runtime.
	AppTypeNative
)

// IsValid reports whether t is a known app type.
func (t AppType) IsValid() bool {
	switch t {
	case AppTypeJar, AppTypeWasm, AppTypeNative:
		return true
	default:
		return false
	}
}

// String returns the lower-case type name.
func (t AppType) String() string {
	switch t {
	case AppTypeJar:
		return "jar"
	case AppTypeWasm:
		return "wasm"
	case AppTypeNative:
		return "native"
	default:
		return fmt.Sprintf("AppType(%d)", int(t))
	}
}

// ParseAppType parses the names returned by String, ignoring case.
func ParseAppType(s string) (AppType, error) {
	switch strings.ToLower(s) {
	case "jar":
		return AppTypeJar, nil
	case "wasm":
		return AppTypeWasm, nil
	case "native":
		return AppTypeNative, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedAppType, s)
	}
}
