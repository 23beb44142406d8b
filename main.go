package main

import (
	"flag"

	"github.com/bdgdview/bdgd-api/internal/auth"
	"github.com/bdgdview/bdgd-api/internal/config"
	"github.com/bdgdview/bdgd-api/internal/metrics"
	"github.com/bdgdview/bdgd-api/internal/registry"
	"github.com/bdgdview/bdgd-api/internal/repository"
	"github.com/bdgdview/bdgd-api/internal/server"
	"github.com/bdgdview/bdgd-api/internal/session"
	"github.com/bdgdview/bdgd-api/internal/tabledata"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func main() {
	var configPath = flag.String("config", "./config/config.yaml", "path to config file")
	var dev = flag.Bool("dev", false, "development logging")
	flag.Parse()

	newLogger := zap.NewProduction
	if *dev {
		newLogger = zap.NewDevelopment
	}

	newConfig := func() (*config.Config, error) {
		return config.New(*configPath)
	}

	app := fx.New(
		fx.Provide(
			newLogger,
			newConfig,
			repository.NewPostgres,
			session.NewStore,
			auth.NewGateway,
			registry.New,
			tabledata.NewService,
			metrics.New,
			server.New,
		),
		fx.Invoke(server.RegisterHooks),
	)

	app.Run()
}
