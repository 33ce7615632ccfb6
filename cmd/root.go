// Package cmd defines and implements the CLI commands for the globaltender executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/globaltender/internal/app"
	"github.com/JakeFAU/globaltender/internal/config"
	"github.com/JakeFAU/globaltender/internal/crawler"
	"github.com/JakeFAU/globaltender/internal/logging"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// skipAppAnnotation marks commands that run without application services.
const skipAppAnnotation = "skip-app"

// App is what subcommands use from the application. Tests swap in a fake.
type App interface {
	Crawl(ctx context.Context) (crawler.Summary, error)
	Serve(ctx context.Context) error
	Logger() *zap.Logger
	Close() error
}

// newApp is the application factory.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func newRootCmd() *cobra.Command {
	var cfgFile, envFile string

	cmd := &cobra.Command{
		Use:   "globaltender",
		Short: "Crawls public tender listings and serves them over HTTP.",
		Long: `globaltender collects tender notices from procurement portals such as
the Indian Central Public Procurement Portal, normalizes each listing row into a
tender record and stores it for the query API.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[skipAppAnnotation] == "true" {
				return nil
			}
			if err := loadEnvFile(envFile); err != nil {
				return err
			}
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := applyFlagOverrides(cmd, &cfg); err != nil {
				return err
			}

			logger, err := logging.New(logging.Options{
				Development: cfg.Logging.Development,
				Level:       cfg.Logging.Level,
				Encoding:    cfg.Logging.Encoding,
				Service:     "globaltender",
			})
			if err != nil {
				return err
			}
			zap.ReplaceGlobals(logger)

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				_ = logger.Sync()
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file with TENDER_* variables; skipped when missing")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

// loadEnvFile exports the variables in path that are not already set. A
// missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// applyFlagOverrides copies explicitly set command flags over the loaded
// configuration and validates the result.
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) error {
	changed := func(name string) bool {
		f := cmd.Flags().Lookup(name)
		return f != nil && f.Changed
	}
	var err error
	if changed("quota") {
		cfg.Crawler.Quota, err = cmd.Flags().GetInt("quota")
		if err != nil {
			return err
		}
	}
	if changed("seed") {
		cfg.Crawler.StartURLs, err = cmd.Flags().GetStringSlice("seed")
		if err != nil {
			return err
		}
	}
	if changed("port") {
		cfg.Server.Port, err = cmd.Flags().GetInt("port")
		if err != nil {
			return err
		}
	}
	if changed("schedule") {
		cfg.Crawler.Schedule, err = cmd.Flags().GetString("schedule")
		if err != nil {
			return err
		}
	}
	return cfg.Validate()
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// withApp adapts fn into a RunE that releases the application services on
// every return path.
func withApp(fn func(cmd *cobra.Command, appInstance App) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		appInstance, err := resolveApp(cmd.Context())
		if err != nil {
			return err
		}
		defer func() {
			if cerr := appInstance.Close(); cerr != nil {
				appInstance.Logger().Warn("failed to release services", zap.Error(cerr))
			}
			_ = appInstance.Logger().Sync()
		}()
		return fn(cmd, appInstance)
	}
}

// Execute runs the root command until it finishes or the process receives
// SIGINT or SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
