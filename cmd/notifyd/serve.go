package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/practiceflow/notify-engine/internal/handler"
	"github.com/practiceflow/notify-engine/internal/infra/postgresql/migrations"
	"github.com/practiceflow/notify-engine/internal/queue"
	"github.com/practiceflow/notify-engine/internal/service"
	"github.com/practiceflow/notify-engine/internal/transport"
)

const (
	shutdownTimeout   = 10 * time.Second
	consumerPrefetch  = 10
	rabbitDialTimeout = 15 * time.Second
)

func newServeCmd() *cobra.Command {
	var skipMigrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the optional scheduler and the optional event intake",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadRuntime()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			ctx, stop := commandContext(cmd)
			defer stop()

			c, err := buildComponents(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer c.Close()

			if !skipMigrate {
				if err := migrations.Migrate(c.db); err != nil {
					return fmt.Errorf("database migrations failed: %w", err)
				}
			}

			app := transport.NewApp(logger, c.metrics)
			handler.RegisterHealthRoutes(app,
				handler.PostgresCheck(c.sqlDB),
				handler.RedisCheck(c.redis),
				handler.GatewayCheck(c.dispatcher, cfg.GatewayStatusMaxAge),
			)
			if err := handler.RegisterNotificationRoutes(app, c.dispatcher); err != nil {
				return err
			}
			if err := handler.RegisterGatewayRoutes(app, c.dispatcher, cfg.GatewayStatusMaxAge); err != nil {
				return err
			}
			if err := handler.RegisterTriggerRoutes(app, c.dispatcher, []byte(cfg.TriggerSecret), logger); err != nil {
				return err
			}

			var scheduler *service.Scheduler
			if cfg.SchedulerInterval > 0 {
				scheduler, err = service.NewScheduler(c.dispatcher, cfg.SchedulerInterval, logger)
				if err != nil {
					return err
				}
			}

			var intake *service.EventIntake
			if cfg.EventIntakeEnabled() {
				dialCtx, cancelDial := context.WithTimeout(ctx, rabbitDialTimeout)
				rabbit, err := queue.NewRabbitMQ(dialCtx, cfg.RabbitMQURL, logger)
				cancelDial()
				if err != nil {
					return fmt.Errorf("rabbitmq initialization failed: %w", err)
				}
				defer rabbit.Close() //nolint:errcheck

				consumer := queue.NewRabbitMQConsumer(rabbit, consumerPrefetch, logger)
				intake, err = service.NewEventIntake(consumer, c.dispatcher, c.metrics, logger)
				if err != nil {
					return err
				}
			}

			g, gctx := errgroup.WithContext(ctx)

			g.Go(func() error {
				addr := fmt.Sprintf(":%d", cfg.APIPort)
				logger.Info("notify-engine api started", zap.String("addr", addr))
				if err := app.Listen(addr); err != nil {
					return fmt.Errorf("http server exited: %w", err)
				}
				return nil
			})

			g.Go(func() error {
				<-gctx.Done()
				logger.Info("shutting down http server")
				return app.ShutdownWithTimeout(shutdownTimeout)
			})

			if scheduler != nil {
				g.Go(func() error {
					logger.Info("scheduler started", zap.Duration("interval", cfg.SchedulerInterval))
					return scheduler.Start(gctx)
				})
			}

			if intake != nil {
				g.Go(func() error {
					return intake.Start(gctx)
				})
			}

			err = g.Wait()
			if err != nil && ctx.Err() == nil {
				return err
			}
			logger.Info("notify-engine stopped")
			return nil
		},
	}

	cmd.Flags().BoolVar(&skipMigrate, "skip-migrate", false, "do not apply database migrations on start")
	return cmd
}
