package executor

import (
	"time"

	"go.uber.org/zap"
)

// waitDrained blocks until wait returns. In-flight iterations are never
// abandoned; once grace has passed a warning reports how many are left.
func waitDrained(wait func(), grace time.Duration, logger *zap.Logger, inFlight func() int) {
	done := make(chan struct{})
	go func() {
		wait()
		close(done)
	}()

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-done:
		return
	case <-timer.C:
		logger.Warn("drain exceeds gracefulStop, still waiting for in-flight iterations",
			zap.Duration("gracefulStop", grace),
			zap.Int("inFlight", inFlight()),
		)
	}
	<-done
}
