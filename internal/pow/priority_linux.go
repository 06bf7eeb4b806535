//go:build linux

package pow

import "golang.org/x/sys/unix"

// lowest scheduling priority (highest niceness)
const niceLowest = 19

// LowerThreadPriority drops the calling OS thread to the lowest scheduling
// priority. The goroutine must be locked to its thread.
func LowerThreadPriority() error {
	return unix.Setpriority(unix.PRIO_PROCESS, unix.Gettid(), niceLowest)
}
