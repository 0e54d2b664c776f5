// Package core implements the function host control plane.
//
// Manager keeps one cache per app: a Pool of exclusive Wasm sandboxes for
// owned apps, or the single worker process behind a shared app. It runs the
// RPC server that shared workers connect to, and answers their verification
// handshakes. Pool bounds how many owned instances of one app are in use at
// a time, independently of how many idle ones it keeps.
package core
