package ctxutil

import (
	"context"
)

type key string

var cancelkey = key("cancel")

// CancelContext provides a cancelable context, which can be
// cancelled by any holder of the context with Cancel.
func CancelContext(ctx context.Context) context.Context {
	return cancelContext(context.WithCancel(ctx))
}

func cancelContext(ctx context.Context, cancel context.CancelFunc) context.Context {
	return context.WithValue(ctx, cancelkey, cancel)
}

// Cancel cancels a context created by this package. It is a no-op
// for other contexts.
func Cancel(ctx context.Context) {
	if f, ok := ctx.Value(cancelkey).(context.CancelFunc); ok {
		f()
	}
}
