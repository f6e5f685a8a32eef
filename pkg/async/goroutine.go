package async

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/sirupsen/logrus"
)

// SafeGo executes a function in a goroutine with:
// - Detachment from the parent's cancellation (values such as request id are kept)
// - Panic recovery
// - Timeout enforcement
// - Error logging
//
// The returned channel is closed once fn has returned or panicked.
//
// Example:
//
//	async.SafeGo(r.Context(), logger, 5*time.Second, "refresh token purge", func(ctx context.Context) error {
//	    _, err := store.DeleteExpired(ctx, time.Now())
//	    return err
//	})
func SafeGo(parentCtx context.Context, logger logrus.FieldLogger, timeout time.Duration, taskName string, fn func(context.Context) error) <-chan struct{} {
	done := make(chan struct{})
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	go func() {
		defer close(done)

		ctx, cancel := context.WithTimeout(context.WithoutCancel(parentCtx), timeout)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				logger.WithFields(logrus.Fields{
					"task":  taskName,
					"panic": fmt.Sprint(r),
					"stack": string(debug.Stack()),
				}).Error("background task panicked")
			}
		}()

		if err := fn(ctx); err != nil {
			logger.WithField("task", taskName).WithError(err).Warn("background task failed")
		}
	}()

	return done
}
