package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"bookshelf-service/pkg/config"
	"bookshelf-service/pkg/logger"
)

func main() {
	root := &cobra.Command{
		Use:           "bookshelf-service",
		Short:         "Multi-tenant bookshelf API",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}
	root.AddCommand(serveCmd(), workerCmd(), migrateCmd(), provisionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// bootstrap loads the configuration and initializes the global logger
func bootstrap() (*config.Config, *zap.Logger, error) {
	appConfig, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.InitLogger(&logger.LogConfig{
		Level:       appConfig.Log.Level,
		Environment: appConfig.Server.Env,
		ServiceName: appConfig.ServiceName,
		File:        appConfig.Log.File,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	log.Info("Configuration loaded", appConfig.LogConfig()...)
	return appConfig, log, nil
}
