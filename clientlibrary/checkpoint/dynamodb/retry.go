package dynamodb

import (
	"time"

	"github.com/streamworks/kcl/clientlibrary/utils"
	"github.com/streamworks/kcl/logger"
)

// throttleRetryDelay is the fixed delay between retries of a classified
// throttling failure. Retries are unbounded: a throttled coordination
// store is expected to recover, and there is no safe fallback for a
// lease/checkpoint write.
const throttleRetryDelay = 1 * time.Second

// withThrottleRetry runs fn, retrying indefinitely on a classified
// throttling error with a fixed delay. Any other error propagates
// immediately.
func withThrottleRetry(log logger.Logger, op string, fn func() error) error {
	for {
		err := fn()
		if err == nil {
			return nil
		}

		if !utils.IsThrottlingError(err) {
			return err
		}

		log.Warnf("dynamodb: %s throttled, retrying in %s", op, throttleRetryDelay)
		time.Sleep(throttleRetryDelay)
	}
}
