package fnhost

import (
	"github.com/giantswarm/fnhost/internal/core"
	"github.com/giantswarm/fnhost/internal/procproto"
)

// AppType selects how an app's functions run.
type AppType = core.AppType

// App types.
const (
	AppTypeJar    = core.AppTypeJar
	AppTypeWasm   = core.AppTypeWasm
	AppTypeNative = core.AppTypeNative
)

// ParseAppType parses "jar", "wasm" or "native", ignoring case.
func ParseAppType(s string) (AppType, error) {
	return core.ParseAppType(s)
}

// Instance is a loaded function instance: an *OwnedInstance, a
// *SharedInstance or a *NativeInstance.
type Instance = core.Instance

// Concrete instance types returned by LoadInstance.
type (
	OwnedInstance  = core.OwnedInstance
	SharedInstance = core.SharedInstance
	NativeInstance = core.NativeInstance
)

// Sandbox is the exclusive runtime behind an OwnedInstance.
type Sandbox = core.Sandbox

// SandboxFactory creates the sandbox for a Wasm app on a pool miss.
type SandboxFactory = core.SandboxFactory

// WorkerSpec describes the worker of a Jar app to WithProcessCommand.
type WorkerSpec = core.WorkerSpec

// TaskID identifies an invocation across the cluster.
type TaskID = procproto.FnTaskID

// Execution tracking.
type (
	ExecContext = core.ExecContext
	ExecHandle  = core.ExecHandle
	ExecKind    = core.ExecKind
)

// Execution kinds.
const (
	ExecSync  = core.ExecSync
	ExecAsync = core.ExecAsync
)

// Environment variables set for every worker.
const (
	EnvAppID     = core.EnvAppID
	EnvAgentSock = core.EnvAgentSock
)
