package executor

import "errors"

// ErrRejected reports an order rejected by the execution venue. The engine
// treats it as a cancelled attempt, not a fatal condition.
var ErrRejected = errors.New("executor: order rejected")
