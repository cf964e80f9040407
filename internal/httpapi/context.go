package httpapi

import "context"

// serverBaseCtx bounds handler work by the server's lifetime: store reads
// in flight during shutdown stop instead of racing the database close.
// serve mode installs its signal context here; Background is the fallback.
var serverBaseCtx = context.Background()

// SetBaseContext installs the lifetime context handlers derive from.
// A nil ctx resets to Background.
func SetBaseContext(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	serverBaseCtx = ctx
}

// joinContexts derives a context that ends with whichever of the server
// lifetime or the request finishes first. The cancel func must be called
// when the handler returns to release the watcher goroutine.
func joinContexts(server, request context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-server.Done():
		case <-request.Done():
		case <-ctx.Done():
		}
		cancel()
	}()
	return ctx, cancel
}
