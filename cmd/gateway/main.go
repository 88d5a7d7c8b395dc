package main

import (
	"context"
	"errors"
	"os"

	"github.com/fsdevblog/escrow-gateway/internal/app"
	"github.com/fsdevblog/escrow-gateway/internal/config"
	"github.com/fsdevblog/escrow-gateway/internal/logger"
)

func main() {
	conf := config.MustLoadConfig()
	l := logger.New(os.Stdout, conf.IsProduction())

	if err := app.New(conf, l).Run(); err != nil {
		if errors.Is(err, context.Canceled) {
			l.Info("graceful shutdown")
			os.Exit(0)
		}
		l.WithError(err).Fatal("escrow gateway stopped")
	}
}
