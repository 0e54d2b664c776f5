// Package kv is the key-value store behind the KvRequest messages workers send
// to the host. Values live in a SQLite database; recently read keys are kept
// in an in-memory recency cache.
package kv
