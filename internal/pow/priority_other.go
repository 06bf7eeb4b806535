//go:build !linux

package pow

// LowerThreadPriority is a no-op where per-thread priorities are unavailable.
func LowerThreadPriority() error {
	return nil
}
