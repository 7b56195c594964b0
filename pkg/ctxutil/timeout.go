package ctxutil

import (
	"context"
	"time"
)

// TimeoutContext provides a context for a single client request. It
// expires after the timeout or when Cancel is called. A non-positive
// timeout keeps the deadline of ctx.
func TimeoutContext(ctx context.Context, timeout time.Duration) context.Context {
	if timeout <= 0 {
		return CancelContext(ctx)
	}
	return cancelContext(context.WithTimeout(ctx, timeout))
}
