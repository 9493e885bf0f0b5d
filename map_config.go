package weakmap

// ============================================================================
// Configuration
// ============================================================================

// MapConfig defines configurable options for Map initialization.
type MapConfig struct {
	// capacity provides an estimate of the expected number of entries.
	// It is used to pre-allocate the backing table, reducing the need for
	// resizing during initial population. If zero or negative, the
	// default minimum capacity is used.
	capacity int

	// onReclaim is called with the key of every entry removed because its
	// value was collected. It is never called for Delete, Clear or
	// replacement by Set.
	onReclaim func(key string)
}

// WithCapacity configures a new Map instance with capacity enough to hold
// cap entries. If cap is zero or negative, the value is ignored.
func WithCapacity(cap int) func(*MapConfig) {
	return func(c *MapConfig) {
		c.capacity = cap
	}
}

// WithReclaimHook registers fn to observe reclamation.
//
// fn receives the key of each entry the map dropped because the garbage
// collector reclaimed its value, either from the runtime cleanup goroutine
// or from Sweep. It runs after the entry is gone and outside any internal
// lock, so it may call back into the map.
//
// Usage:
//
//	m := weakmap.New[string, Image](weakmap.WithReclaimHook(func(key string) {
//		log.Printf("image %q evicted", key)
//	}))
//
// Notes:
//   - fn may run concurrently with itself and with any other map method
//   - keep fn short; it delays other cleanups queued behind it
func WithReclaimHook(fn func(key string)) func(*MapConfig) {
	return func(c *MapConfig) {
		c.onReclaim = fn
	}
}
