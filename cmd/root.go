// Package cmd defines and implements the CLI commands for the policycrawler executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/policyfund-crawler/internal/app"
	"github.com/JakeFAU/policyfund-crawler/internal/config"
	"github.com/JakeFAU/policyfund-crawler/internal/notice"
	"github.com/JakeFAU/policyfund-crawler/internal/pipeline"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// Runner executes one crawl; *pipeline.Pipeline satisfies it.
type Runner interface {
	Run(ctx context.Context, opts pipeline.Options) ([]pipeline.SourceResult, error)
	Status() any
}

// Migrator applies schema and repair migrations; *postgres.PolicyStore satisfies it.
type Migrator interface {
	EnsureSchema(ctx context.Context) error
	BackfillSearchURLs(ctx context.Context, source string, builder notice.Builder, dryRun bool) (int, error)
	DeleteDuplicateTitles(ctx context.Context, dryRun bool) (int, error)
}

// LinkChecker resolves the link stored for a notice.
type LinkChecker interface {
	SafeLink(ctx context.Context, builder notice.Builder, title, originalURL string) string
}

// App defines the services commands use, so tests can inject a fake.
type App interface {
	Close()
	Logger() *zap.Logger
	Config() config.Config
	Builder(source string) (notice.Builder, error)
	Crawler(ctx context.Context, opts app.RunOptions) (Runner, error)
	Migrator(ctx context.Context) (Migrator, error)
	LinkChecker() LinkChecker
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(cfgFile string) (App, error) {
	a, err := app.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	return services{a}, nil
}

// services adapts *app.App to the App interface.
type services struct {
	*app.App
}

func (s services) Crawler(ctx context.Context, opts app.RunOptions) (Runner, error) {
	p, err := s.BuildPipeline(ctx, opts)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s services) Migrator(ctx context.Context) (Migrator, error) {
	store, err := s.PolicyStore(ctx)
	if err != nil {
		return nil, err
	}
	return store, nil
}

func (s services) LinkChecker() LinkChecker {
	return s.Validator()
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "policycrawler",
		Short: "Collects government policy-funding notices and stores structured metadata.",
		Long: `policycrawler discovers policy-funding notices on the K-Startup and Bizinfo
portals, fetches their detail pages through a headless browser, extracts
eligibility metadata with Gemini, and upserts the results into Postgres or a
JSON file.`,
		SilenceUsage: true,

		// Build the services after flags are parsed and before the subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			holder, ok := cmd.Context().Value(appKey).(*appHolder)
			if !ok {
				holder = &appHolder{}
				cmd.SetContext(context.WithValue(cmd.Context(), appKey, holder))
			}
			holder.app = appInstance
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); env vars use the POLICYCRAWLER_ prefix")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newCheckLinkCmd())
	cmd.AddCommand(newMigrateCmd())
	return cmd
}

// appHolder carries the App from PersistentPreRunE back to executeRoot, which
// closes it whether or not the command failed.
type appHolder struct {
	app App
}

func executeRoot(ctx context.Context, cmd *cobra.Command) error {
	holder := &appHolder{}
	err := cmd.ExecuteContext(context.WithValue(ctx, appKey, holder))
	if holder.app != nil {
		holder.app.Close()
	}
	return err
}

// Execute is the main entry point.
func Execute() {
	if err := executeRoot(context.Background(), newRootCmd()); err != nil {
		zap.L().Error("command execution failed", zap.Error(err))
		_ = zap.L().Sync() //nolint:errcheck // exiting anyway
		os.Exit(1)
	}
}

func resolveApp(ctx context.Context) (App, error) {
	holder, ok := ctx.Value(appKey).(*appHolder)
	if !ok || holder.app == nil {
		return nil, errors.New("application services not initialized")
	}
	return holder.app, nil
}

// sourceTag maps a single-source selector to its site tag.
func sourceTag(selector string, cfg config.SourcesConfig) (string, error) {
	if selector == app.SelectAll || selector == "" {
		return "", fmt.Errorf("%w: pick kstartup or bizinfo", app.ErrUnknownSource)
	}
	// Explicit selectors ignore the enabled flags, so one tag comes back.
	tags, err := app.ParseSources(selector, cfg)
	if err != nil {
		return "", err
	}
	return tags[0], nil
}
