package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"bookshelf-service/internal/queue"
)

func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Process background jobs from the redis queue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appConfig, log, err := bootstrap()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, appConfig, log)
			if err != nil {
				log.Error("Failed to initialize", zap.Error(err))
				return err
			}
			defer a.close()

			q := queue.New(a.redis, appConfig.Redis.Queue)
			w := queue.NewWorker(q, log, a.metrics)
			queue.RegisterJobs(w, queue.JobDeps{
				Provisioner: a.provisioner,
				Books:       a.repos.Books,
			})

			return w.Run(ctx)
		},
	}
}
