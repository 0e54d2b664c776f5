// Package admin serves the host's operator HTTP endpoints: health, metrics,
// app teardown and direct function calls.
package admin
