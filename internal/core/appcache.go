package core

import (
	"github.com/giantswarm/fnhost/internal/procproto"
)

// EachAppCache is the per-app entry of the manager registry. It is
// implemented only by *ownedAppCache and *sharedAppCache.
type EachAppCache interface {
	appType() AppType
}

var (
	_ EachAppCache = (*ownedAppCache)(nil)
	_ EachAppCache = (*sharedAppCache)(nil)
)

// ownedAppCache pools the sandboxes of a Wasm app.
type ownedAppCache struct {
	pool *Pool
}

func (*ownedAppCache) appType() AppType { return AppTypeWasm }

// sharedAppCache holds the single worker of a Jar app.
type sharedAppCache struct {
	inst *SharedInstance
}

func (*sharedAppCache) appType() AppType { return AppTypeJar }

// verifyEntry applies an AppStarted record to the registry entry of its app.
func verifyEntry(c EachAppCache, rec *procproto.AppStarted) error {
	switch c := c.(type) {
	case nil:
		return ErrAppNotLoaded
	case *ownedAppCache:
		return ErrNotShared
	case *sharedAppCache:
		return c.inst.verify(rec)
	default:
		panic("fnhost: unknown app cache type")
	}
}
