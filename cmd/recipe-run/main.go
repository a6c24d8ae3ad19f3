package main

import (
	"context"
	"fmt"
	"os"
	"time"

	cli "github.com/urfave/cli/v3"

	"report-dispatcher/internal/app"
	"report-dispatcher/internal/athena"
	"report-dispatcher/internal/awsclient"
	"report-dispatcher/internal/config"
	"report-dispatcher/internal/logging"
	"report-dispatcher/internal/queue"
	"report-dispatcher/internal/telemetry"
)

func main() {
	if err := newCommand().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:  "recipe-run",
		Usage: "Run one report recipe in-process and print the result",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "payload",
				Aliases:  []string{"p"},
				Usage:    "Path to the execution request JSON (- for stdin)",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "recipe-dir",
				Usage:   "Directory of recipe YAML files overriding the built-in ones",
				Sources: cli.EnvVars("RECIPE_DIR"),
			},
			&cli.StringFlag{
				Name:    "message-backend",
				Usage:   "Outbound notification queue (sqs, redis)",
				Value:   "sqs",
				Sources: cli.EnvVars("MESSAGE_BACKEND"),
			},
			&cli.StringFlag{
				Name:    "dispatch-policy",
				Usage:   "Behaviour after a failed recipient (halt, isolate)",
				Value:   "halt",
				Sources: cli.EnvVars("DISPATCH_POLICY"),
			},
			&cli.StringFlag{
				Name:    "workgroup",
				Usage:   "Athena work group for recipes that do not name one",
				Value:   "commcore",
				Sources: cli.EnvVars("ATHENA_WORKGROUP"),
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Usage:   "Upper bound for the whole run",
				Value:   15 * time.Minute,
				Sources: cli.EnvVars("QUERY_TIMEOUT"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			cfg := applyFlags(config.Load(), command)
			logging.Setup(cfg.LogLevel)
			logger := logging.WithModule("recipe-run")

			req, err := readPayload(command.String("payload"), os.Stdin)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(ctx, cfg.QueryTimeout)
			defer cancel()

			tracer, shutdown, err := telemetry.NewTracer(ctx, cfg.ServiceName, cfg.TracingEnabled)
			if err != nil {
				return fmt.Errorf("init tracer: %w", err)
			}
			defer func() {
				if err := shutdown(context.WithoutCancel(ctx)); err != nil {
					logger.Error("shutdown tracer", "error", err)
				}
			}()

			clients, err := awsclient.New(ctx, cfg)
			if err != nil {
				return err
			}
			cat, err := app.LoadCatalog(ctx, cfg, clients.S3)
			if err != nil {
				return err
			}
			rdb := queue.NewClient(cfg)
			defer rdb.Close()
			enqueuer, err := app.NewEnqueuer(cfg, clients.SQS, rdb)
			if err != nil {
				return err
			}
			handler, err := app.NewHandler(cfg, app.Components{
				Catalog:  cat,
				Engine:   athena.NewEngine(clients.Athena, cfg.AthenaOutputLocation),
				Enqueuer: enqueuer,
				Logger:   logger,
				Tracer:   tracer,
			})
			if err != nil {
				return err
			}

			report, runErr := handler(ctx, req)
			if err := printReport(command.Root().Writer, report, runErr); err != nil {
				return err
			}
			return runErr
		},
	}
}

// applyFlags layers explicit flags over the environment configuration.
func applyFlags(cfg config.Config, command *cli.Command) config.Config {
	cfg.RecipeDir = command.String("recipe-dir")
	cfg.MessageBackend = command.String("message-backend")
	cfg.DispatchPolicy = command.String("dispatch-policy")
	cfg.AthenaWorkGroup = command.String("workgroup")
	cfg.QueryTimeout = command.Duration("timeout")
	cfg.LogLevel = command.String("log-level")
	return cfg
}
