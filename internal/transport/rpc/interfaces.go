package rpc

import (
	"context"
	"encoding/json"

	"github.com/fsdevblog/escrow-gateway/internal/gateway"
	"github.com/fsdevblog/escrow-gateway/internal/pool"
)

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

type Caller interface {
	Call(ctx context.Context, operation string, raw json.RawMessage, cc gateway.CallerContext) (any, error)
}

type PoolStatuser interface {
	Status() pool.Status
}

type Pinger interface {
	Ping(ctx context.Context) error
}
