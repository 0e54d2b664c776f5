// Package metrics defines the Prometheus collectors exported by the function
// host. A Metrics value is created once per manager and handed to the pool,
// the manager, and the RPC server.
package metrics
