package wasm

// CompilesForTesting returns how many modules l has compiled.
func (l *Loader) CompilesForTesting() int64 {
	return l.compiles.Load()
}
