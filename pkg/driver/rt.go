package driver

import (
	"runtime"

	"go.uber.org/zap"
)

// realtimePriority is the SCHED_FIFO priority requested for the real-time
// task.
const realtimePriority = 80

// runRealtime runs fn on a goroutine locked to its own OS thread with
// real-time scheduling and waits for it to return. The thread is never
// unlocked, so it exits with the goroutine and the elevated priority does
// not leak into the scheduler's thread pool.
func runRealtime(logger *zap.SugaredLogger, fn func()) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		runtime.LockOSThread()
		if err := setRealtimePriority(); err != nil {
			logger.Debugw("running without real-time priority", "error", err)
		}
		fn()
	}()
	<-done
}
