package safe

import (
	"chatwave/logger"
	"chatwave/tools/errs"

	"go.uber.org/zap"
)

// Go starts a goroutine that recovers from panic, so a faulty handler
// can not crash the process. onPanic may be nil.
func Go(f func(), onPanic func(error)) {
	go Run(f, onPanic)
}

// Run executes f on the current goroutine with the same recovery as Go.
func Run(f func(), onPanic func(error)) {
	defer func() {
		if r := recover(); r != nil {
			err := errs.ErrPanic(r)
			logger.Error("[safe] panic recovered", zap.Error(err))
			if onPanic != nil {
				onPanic(err)
			}
		}
	}()
	f()
}
