// Package cmd defines and implements the CLI commands for the sbir executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/sbir-solicitations/internal/api"
	"github.com/JakeFAU/sbir-solicitations/internal/app"
	"github.com/JakeFAU/sbir-solicitations/internal/config"
	"github.com/JakeFAU/sbir-solicitations/internal/logging"
	"github.com/JakeFAU/sbir-solicitations/internal/pipeline"
)

const closeTimeout = 10 * time.Second

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is the set of services the commands use.
type App interface {
	Config() config.Config
	Logger() *zap.Logger
	Migrate(ctx context.Context) error
	Pipeline() (*pipeline.Pipeline, error)
	APIServer() *api.Server
	Close(ctx context.Context) error
}

// newApp is the application factory. Tests replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.New(ctx, cfg, logger)
}

// session owns the App built by the root command so it can be closed even
// when a subcommand fails.
type session struct {
	cfgFile string
	app     App
}

func (s *session) close() {
	if s.app == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	logger := s.app.Logger()
	if err := s.app.Close(ctx); err != nil {
		logger.Warn("failed to close application services", zap.Error(err))
	}
	_ = logger.Sync() //nolint:errcheck // best-effort flush
	s.app = nil
}

func newRootCmd(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sbir",
		Short: "Ingests SBIR solicitations and serves them over HTTP.",
		Long: `sbir mirrors the public SBIR solicitations API into a relational store.

The etl command fetches every page, validates each solicitation, topic, and
subtopic, and replaces the stored data set. The serve command exposes the
stored data through a read-only JSON API.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(s.cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			s.app = appInstance
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&s.cfgFile, "config", "", "config file (YAML); SBIR_* environment variables override it")

	cmd.AddCommand(newETLCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newMigrateCmd())

	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point. It exits non-zero when the command fails.
func Execute() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	s := &session{}
	defer s.close()

	root := newRootCmd(s)
	root.SetArgs(args)
	root.SetOut(stdout)
	if err := root.ExecuteContext(ctx); err != nil {
		return fmt.Errorf("%s: %w", root.Name(), err)
	}
	return nil
}
