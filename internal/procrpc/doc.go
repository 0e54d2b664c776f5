// Package procrpc is the host side of the worker process protocol.
//
// A Server listens on a unix domain socket. Every worker connects, sends an
// AppStarted frame and, once the Verifier accepts it, is addressed by its app
// id. The server correlates responses with outstanding calls by task id and
// serves the requests a worker makes on its own behalf (checkpoint notices and
// key-value operations).
//
// Client is the worker side of the same protocol. Worker SDKs and tests use it
// to connect, verify and answer calls.
package procrpc
