// Package app wires the pipeline together with uber-fx and drives one
// command execution per process.
package app

import (
	"context"
	"time"

	"go.uber.org/fx"

	"github.com/tigerroll/nwpfetch/internal/cli"
	storageAdapter "github.com/tigerroll/nwpfetch/pkg/nwp/adapter/storage"
	"github.com/tigerroll/nwpfetch/pkg/nwp/adapter/storage/gcs"
	"github.com/tigerroll/nwpfetch/pkg/nwp/adapter/storage/local"
	"github.com/tigerroll/nwpfetch/pkg/nwp/core/config"
	infraMetrics "github.com/tigerroll/nwpfetch/pkg/nwp/infrastructure/metrics"
	"github.com/tigerroll/nwpfetch/pkg/nwp/support/util/exception"
	"github.com/tigerroll/nwpfetch/pkg/nwp/support/util/logger"
)

// RunApplication sets up and runs the application using uber-fx. It returns
// the process exit code: 0 on success, 1 on a failed command, 2 on a usage
// error.
func RunApplication(appCtx context.Context, envFilePath string, embeddedConfig config.EmbeddedConfig, embeddedMapping config.EmbeddedMapping, args []string) int {
	// Context setting and signal handling stay in main.go.

	cfg, err := config.LoadConfig(envFilePath, embeddedConfig)
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// Set log level based on loaded configuration
	logger.SetLogLevel(cfg.Nwpfetch.System.Logging.Level)
	logger.Infof("Log level set to: %s", cfg.Nwpfetch.System.Logging.Level)

	cmd, err := cli.Parse(args, cfg, time.Now)
	if err != nil {
		logger.Errorf("%s", exception.ExtractErrorMessage(err))
		return 2
	}

	exitCode := 0

	app := fx.New(
		fx.Supply(
			embeddedConfig,
			embeddedMapping,
			cfg,
			cmd,
			fx.Annotate(
				appCtx,
				fx.As(new(context.Context)),
				fx.ResultTags(`name:"appCtx"`),
			),
		),

		logger.Module,
		config.Module,
		infraMetrics.Module,

		storageAdapter.Module,
		local.Module,
		gcs.Module,

		Module,

		// Start the main application logic
		fx.Invoke(fx.Annotate(startCommandExecution(&exitCode), fx.ParamTags(
			"",              // lc fx.Lifecycle
			"",              // shutdowner fx.Shutdowner
			"",              // executor *cli.Executor
			"",              // cmd *cli.Command
			`name:"appCtx"`, // appCtx context.Context
		))),
	)

	// Execute the application
	app.Run()

	if app.Err() != nil {
		logger.Errorf("Application run failed: %v", app.Err())
		return 1
	}
	return exitCode
}

// startCommandExecution returns the Fx invoke hook that runs the parsed
// command once the dependency graph is up.
func startCommandExecution(exitCode *int) func(fx.Lifecycle, fx.Shutdowner, *cli.Executor, *cli.Command, context.Context) {
	return func(lc fx.Lifecycle, shutdowner fx.Shutdowner, executor *cli.Executor, cmd *cli.Command, appCtx context.Context) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				go func() {
					defer func() {
						if r := recover(); r != nil {
							logger.Errorf("Panic recovered in command execution: %v", r)
							*exitCode = 1
						}
						if err := shutdowner.Shutdown(); err != nil {
							logger.Errorf("Failed to shutdown application: %v", err)
						}
					}()

					logger.Infof("Executing command '%s'...", cmd.Action)
					if err := executor.Execute(appCtx, cmd); err != nil {
						logger.Errorf("Command '%s' failed: %s", cmd.Action, exception.ExtractErrorMessage(err))
						*exitCode = 1
						return
					}
					logger.Infof("Command '%s' finished.", cmd.Action)
				}()
				return nil
			},
			OnStop: func(ctx context.Context) error {
				logger.Infof("Application is shutting down.")
				return nil
			},
		})
	}
}
