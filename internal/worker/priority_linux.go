//go:build linux

package worker

import "golang.org/x/sys/unix"

// setThreadPriority renices the calling thread. On linux PRIO_PROCESS with a
// thread id targets that single thread.
func setThreadPriority(p Priority) error {
	return unix.Setpriority(unix.PRIO_PROCESS, unix.Gettid(), p.niceness())
}
