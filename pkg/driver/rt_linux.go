//go:build linux

package driver

import "golang.org/x/sys/unix"

func setRealtimePriority() error {
	return unix.SchedSetAttr(0, &unix.SchedAttr{
		Policy:   unix.SCHED_FIFO,
		Priority: realtimePriority,
	}, 0)
}
