//go:build !race

package opt

// Race_ reports whether the race detector is enabled. Stress tests scale
// their iteration counts down when it is.
const Race_ = false
