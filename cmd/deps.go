package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"bookshelf-service/internal/repository"
	"bookshelf-service/pkg/config"
	"bookshelf-service/pkg/database"
	"bookshelf-service/pkg/maintenance"
	"bookshelf-service/prometheus"
)

// app is everything the subcommands share. Fields are built once per process.
type app struct {
	config      *config.Config
	log         *zap.Logger
	db          *gorm.DB
	redis       *redis.Client
	schemas     database.Schemas
	flag        maintenance.Flag
	metrics     *prometheus.Metrics
	repos       *repository.Repositories
	registry    *repository.TenantRegistry
	provisioner *database.Provisioner
}

func newApp(ctx context.Context, appConfig *config.Config, log *zap.Logger) (*app, error) {
	db, err := database.InitDB(&appConfig.DB)
	if err != nil {
		return nil, err
	}
	log.Info("Database connection established")

	client := redis.NewClient(&redis.Options{
		Addr:     appConfig.Redis.Addr(),
		Password: appConfig.Redis.Password,
		DB:       appConfig.Redis.DB,
	})

	var flag maintenance.Flag
	switch appConfig.Maintenance.Backend {
	case "redis":
		flag = maintenance.NewRedis(client, maintenance.DefaultRedisKey, log)
		if appConfig.Maintenance.Enabled {
			if err := flag.Set(ctx, true); err != nil {
				return nil, fmt.Errorf("failed to enable maintenance mode: %w", err)
			}
		}
	default:
		flag = maintenance.NewStatic(appConfig.Maintenance.Enabled)
	}

	metrics := prometheus.InitMetrics(appConfig.Metrics.Prefix)
	log.Info("Prometheus metrics initialized", zap.String("metrics_prefix", appConfig.Metrics.Prefix))

	schemas := database.Schemas{Shared: appConfig.Schema.Shared, Template: appConfig.Schema.Tenant}
	router := database.NewRouter(db, schemas, flag)
	limits := repository.Limits{Default: appConfig.Pagination.DefaultLimit, Max: appConfig.Pagination.MaxLimit}
	repos := repository.NewRepositories(router, limits, metrics)

	return &app{
		config:      appConfig,
		log:         log,
		db:          db,
		redis:       client,
		schemas:     schemas,
		flag:        flag,
		metrics:     metrics,
		repos:       repos,
		registry:    repository.NewTenantRegistry(repos.Tenants),
		provisioner: database.NewProvisioner(db, schemas, log, metrics),
	}, nil
}

// provisionTenants provisions the schemas of the given tenant rows
func (a *app) provisionTenants(ctx context.Context, ids []int64) error {
	schemas, err := a.registry.SchemasFor(ctx, ids)
	if err != nil {
		return err
	}
	for _, schema := range schemas {
		if err := a.provisioner.Provision(ctx, schema); err != nil {
			return fmt.Errorf("provision %s: %w", schema, err)
		}
	}
	return nil
}

func (a *app) close() {
	if err := a.redis.Close(); err != nil {
		a.log.Warn("Failed to close redis client", zap.Error(err))
	}
	if err := database.Close(a.db); err != nil {
		a.log.Warn("Failed to close database", zap.Error(err))
	}
	_ = a.log.Sync()
}
