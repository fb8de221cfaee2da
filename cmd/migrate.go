package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"bookshelf-service/internal/model"
	"bookshelf-service/internal/queue"
	"bookshelf-service/pkg/database"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Migrate the shared and template schemas and re-clone every tenant",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appConfig, log, err := bootstrap()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), appConfig, log)
			if err != nil {
				return err
			}
			defer a.close()

			if err := database.Migrate(cmd.Context(), a.db, a.schemas, model.Migrations(), log); err != nil {
				log.Error("Migration failed", zap.Error(err))
				return err
			}
			log.Info("Migration completed")
			return nil
		},
	}
}

// provisionCmd queues provision_tenant jobs, for tenants whose schema
// creation failed at signup
func provisionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "provision [tenant identifier...]",
		Short: "Queue schema provisioning for the given tenants, or all of them",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, log, err := bootstrap()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, appConfig, log)
			if err != nil {
				return err
			}
			defer a.close()

			var schemas []string
			if len(args) == 0 {
				tenants, err := a.registry.List(ctx)
				if err != nil {
					return err
				}
				for _, t := range tenants {
					schemas = append(schemas, t.SchemaName)
				}
			} else {
				for _, identifier := range args {
					schema, err := a.registry.SchemaFor(ctx, identifier)
					if err != nil {
						return err
					}
					schemas = append(schemas, schema)
				}
			}

			payloads := make([]any, len(schemas))
			for i, s := range schemas {
				payloads[i] = queue.ProvisionTenantPayload{SchemaName: s}
			}
			q := queue.New(a.redis, appConfig.Redis.Queue)
			ids, err := q.EnqueueMany(ctx, queue.JobProvisionTenant, payloads)
			if err != nil {
				return err
			}
			log.Info("Provisioning queued", zap.Int("tenants", len(ids)), zap.Strings("job_ids", ids))
			return nil
		},
	}
}
