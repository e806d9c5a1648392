package main

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/go-mcpgw/mcpool/lib/session"
)

// loopbackHandle is a stand-in backend session. Protocol bindings replace
// this factory with one that opens real gateway sessions (stdio, SSE,
// websocket) against the target.
type loopbackHandle struct {
	id        string
	target    string
	createdAt time.Time
}

func newLoopbackFactory() session.Factory {
	return session.FuncFactory{
		CreateFunc: func(ctx context.Context, target string) (session.Handle, error) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return &loopbackHandle{
				id:        uuid.NewString(),
				target:    target,
				createdAt: time.Now(),
			}, nil
		},
		DestroyFunc: func(handle session.Handle) error {
			return nil
		},
		PingFunc: func(handle session.Handle) bool {
			return handle != nil
		},
	}
}
