//go:build !linux

package worker

func setThreadPriority(Priority) error {
	return nil
}
