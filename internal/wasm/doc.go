// Package wasm runs owned function instances as wasmer sandboxes.
//
// A Loader reads and compiles <apps-dir>/<app>/app.wasm once per app and
// keeps the serialized result; every sandbox it creates deserializes that
// into its own store. Sandboxes are not safe for concurrent
// use; the instance pool hands each one to a single invocation at a time.
package wasm
