// Package rpc транспорт вызываемых операций поверх gin.
package rpc

import (
	"github.com/fsdevblog/escrow-gateway/internal/transport/rpc/middlewares"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const (
	CallRoute   = "/rpc/:operation"
	HealthRoute = "/healthz"
)

type RouterArgs struct {
	Logger     *logrus.Logger
	Dispatcher Caller
	// Pool nil, если реляционный бекенд выключен.
	Pool PoolStatuser
	// Docs nil, если хранилище документов не используется.
	Docs            Pinger
	JWTUserSecret   []byte
	JWTClientSecret []byte
	Production      bool
}

func New(args RouterArgs) *gin.Engine {
	if args.Production {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middlewares.RequestID())
	if args.Logger != nil {
		r.Use(middlewares.Logger(args.Logger))
	}

	healthHandler := NewHealthHandler(args.Pool, args.Docs)
	r.GET(HealthRoute, healthHandler.Index)

	callHandler := NewCallHandler(args.Dispatcher, args.Production)
	r.POST(CallRoute,
		middlewares.Identity(args.JWTUserSecret, args.Production),
		middlewares.ClientAttestation(args.JWTClientSecret),
		callHandler.Call,
	)
	return r
}
