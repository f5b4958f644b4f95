package utils

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/imhunterand/iDA-projectile/logging"
)

// SlowLogger starts a goroutine that warns every few seconds until the returned function is
// called or ctx is done. The first warning comes after 2s, the second 3s later and then every 5s.
func SlowLogger(ctx context.Context, clk clock.Clock, msg, fieldName string, fieldVal interface{}, logger logging.Logger) func() {
	slowTimer := clk.Timer(2 * time.Second)
	firstTick := true

	ctxWithCancel, cancel := context.WithCancel(ctx)
	startTime := clk.Now()
	go func() {
		for {
			select {
			case <-slowTimer.C:
				elapsed := clk.Since(startTime).Round(time.Second).String()
				logger.Warnw(msg, fieldName, fieldVal, "time_elapsed", elapsed)
				if firstTick {
					slowTimer.Reset(3 * time.Second)
					firstTick = false
				} else {
					slowTimer.Reset(5 * time.Second)
				}
			case <-ctxWithCancel.Done():
				return
			}
		}
	}()
	return func() { slowTimer.Stop(); cancel() }
}
