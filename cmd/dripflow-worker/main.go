package main

import (
	"context"
	"os"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/dripflow/dripflow/pkg/cmd"
	"github.com/dripflow/dripflow/pkg/dispatch"
	"github.com/dripflow/dripflow/pkg/eventbus"
	"github.com/dripflow/dripflow/pkg/log"
	"github.com/dripflow/dripflow/pkg/otelhelper"
	"github.com/dripflow/dripflow/pkg/tracking"
)

func main() {
	command := &cli.Command{
		Name:                  "dripflow-worker",
		EnableShellCompletion: true,
		Usage:                 "Start workers to execute drip campaign flows",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:     "event-bus",
				Usage:    "Event bus type (kafka, gochannel)",
				Required: true,
				Sources:  cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "lock-url",
				Usage:   "Redis URL for the shared lead lock (in-process lock if empty)",
				Value:   "",
				Sources: cli.EnvVars("LOCK_URL"),
			},
			&cli.StringFlag{
				Name:     "tracking-secret",
				Usage:    "HMAC secret for signing open/click tracking tokens",
				Required: true,
				Sources:  cli.EnvVars("TRACKING_SECRET"),
			},
			&cli.StringFlag{
				Name:     "tracking-base-url",
				Usage:    "Public base URL for open/click tracking endpoints",
				Required: true,
				Sources:  cli.EnvVars("TRACKING_BASE_URL"),
			},
			&cli.StringFlag{
				Name:    "smtp-host",
				Usage:   "SMTP relay host",
				Value:   "localhost",
				Sources: cli.EnvVars("SMTP_HOST"),
			},
			&cli.IntFlag{
				Name:    "smtp-port",
				Usage:   "SMTP relay port",
				Value:   587,
				Sources: cli.EnvVars("SMTP_PORT"),
			},
			&cli.StringFlag{
				Name:    "smtp-username",
				Usage:   "SMTP username",
				Value:   "",
				Sources: cli.EnvVars("SMTP_USERNAME"),
			},
			&cli.StringFlag{
				Name:    "smtp-password",
				Usage:   "SMTP password",
				Value:   "",
				Sources: cli.EnvVars("SMTP_PASSWORD"),
			},
			&cli.StringFlag{
				Name:     "smtp-from",
				Usage:    "Sender address for outbound mail",
				Required: true,
				Sources:  cli.EnvVars("SMTP_FROM"),
			},
			&cli.StringFlag{
				Name:    "smtp-from-name",
				Usage:   "Sender display name for outbound mail",
				Value:   "",
				Sources: cli.EnvVars("SMTP_FROM_NAME"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("dripflow-worker").With("workerId", workerID)

			logger.InfoContext(ctx, "Initializing Dripflow Worker")

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), logger)
			if err != nil {
				return err
			}

			tracer, err := otelhelper.NewTracer(ctx, "dripflow-worker")
			if err != nil {
				logger.WarnContext(ctx, "Tracing disabled", "error", err)
			} else if watermillBus, ok := eventBus.(*eventbus.WatermillEventBus); ok {
				watermillBus.UseTracer(tracer)
			}

			defer func() {
				err := eventBus.Close()
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				err := persistence.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			locker, err := cmd.NewLocker(ctx, logger, command.String("lock-url"))
			if err != nil {
				return err
			}

			defer func() {
				err := locker.Close()
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close locker", "error", err)
				}
			}()

			signer := tracking.NewTokenSigner(command.String("tracking-secret"))
			instrumenter := dispatch.NewInstrumenter(command.String("tracking-base-url"), signer)

			dispatcher := dispatch.NewSMTPDispatcher(dispatch.SMTPConfig{
				Host:     command.String("smtp-host"),
				Port:     command.Int("smtp-port"),
				Username: command.String("smtp-username"),
				Password: command.String("smtp-password"),
				From:     command.String("smtp-from"),
				FromName: command.String("smtp-from-name"),
			}, instrumenter, logger)

			worker := NewWorkerManager(
				workerID,
				persistence,
				eventBus,
				locker,
				dispatcher,
				logger,
			)

			err = worker.Start(ctx)
			if err != nil {
				logger.ErrorContext(ctx, "Failed to start event-driven worker", "error", err)
			}

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
