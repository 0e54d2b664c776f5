// Package fnhost is the control plane of a serverless function host.
//
// A Host loads function instances for three kinds of apps:
//
//   - Wasm apps run in exclusive sandboxes taken from a per-app pool. At most
//     WithAdmissionLimit sandboxes of one app are in use at once; released
//     sandboxes are kept for reuse until they expire.
//   - Jar apps run in one long-lived worker process per app. The worker
//     connects back over a unix socket, announces itself with an AppStarted
//     handshake and then serves function calls and issues key-value requests.
//   - Native apps are stateless and need nothing loaded.
//
// # Basic Usage
//
//	host := fnhost.NewHost(
//	    fnhost.WithRuntimeDir("/var/run/fnhost"),
//	    fnhost.WithAppsDir("/srv/apps"),
//	)
//	if err := host.Initialize(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer host.Shutdown()
//
//	inst, err := host.LoadInstance(ctx, fnhost.AppTypeWasm, "img")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer host.FinishUsing("img", inst)
//
//	owned := inst.(*fnhost.OwnedInstance)
//	res, err := owned.Call("resize", int32(640), int32(480))
//
// # Shared Workers
//
// The first LoadInstance of a Jar app starts its worker with
// FNHOST_APP_ID and FNHOST_AGENT_SOCK in the environment and waits for the
// handshake. Later loads return the same SharedInstance. Functions of the
// app are invoked with CallFunc:
//
//	ret, err := host.CallFunc(ctx, nil, "calc", "add", "{a:1,b:2}")
//
// One host owns a runtime directory at a time; a second host using the same
// directory fails to initialize with ErrRuntimeDirLocked.
package fnhost
