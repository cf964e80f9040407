package httpapi

import (
	"context"
	"testing"
	"time"
)

func TestJoinContextsFollowsServerShutdown(t *testing.T) {
	server, cancelServer := context.WithCancel(context.Background())
	defer cancelServer()

	ctx, cancel := joinContexts(server, context.Background())
	defer cancel()

	select {
	case <-ctx.Done():
		t.Fatal("joined context canceled before either parent")
	default:
	}

	cancelServer()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("joined context did not follow server shutdown")
	}
}

func TestJoinContextsFollowsRequest(t *testing.T) {
	request, cancelRequest := context.WithCancel(context.Background())
	ctx, cancel := joinContexts(context.Background(), request)
	defer cancel()

	cancelRequest()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("joined context did not follow request cancellation")
	}
}

func TestSetBaseContextNilResets(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	SetBaseContext(ctx)
	defer SetBaseContext(nil)

	if serverBaseCtx.Err() == nil {
		t.Fatal("base context not installed")
	}
	SetBaseContext(nil)
	if serverBaseCtx.Err() != nil {
		t.Fatal("nil must reset the base context")
	}
}
