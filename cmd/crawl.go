package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/policyfund-crawler/internal/api"
	"github.com/JakeFAU/policyfund-crawler/internal/app"
	"github.com/JakeFAU/policyfund-crawler/internal/pipeline"
)

type crawlFlags struct {
	source       string
	limit        int
	maxDetails   int
	noDB         bool
	output       string
	skipAnalysis bool
	force        bool
	metricsAddr  string
}

// newCrawlCmd creates the 'crawl' subcommand.
func newCrawlCmd() *cobra.Command {
	var f crawlFlags
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawls notices, extracts metadata and stores the records",
		Long: `Fetches the list page of each selected portal, resolves every notice to its
detail or search URL, fetches detail bodies, extracts metadata with Gemini and
upserts the records. Notices already stored with a summary are skipped unless
--force is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawlCommand(cmd, f)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&f.source, "source", app.SelectAll, "portal to crawl: kstartup, bizinfo or all")
	flags.IntVar(&f.limit, "limit", 0, "maximum notices to read from each list (default crawler.max_items)")
	flags.IntVar(&f.maxDetails, "max-details", 0, "maximum detail pages to fetch per source (default crawler.max_details)")
	flags.BoolVar(&f.noDB, "no-db", false, "write records to a JSON file instead of Postgres")
	flags.StringVar(&f.output, "output", "", "JSON output path for --no-db (default storage.output_path)")
	flags.BoolVar(&f.skipAnalysis, "skip-analysis", false, "store notices without calling the language model")
	flags.BoolVar(&f.force, "force", false, "re-fetch and re-analyze notices that are already stored")
	flags.StringVar(&f.metricsAddr, "metrics-addr", "", "serve /metrics and /v1/run on this address while crawling (default metrics.addr)")
	return cmd
}

func runCrawlCommand(cmd *cobra.Command, f crawlFlags) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := appInstance.Config()
	logger := appInstance.Logger()

	opts := pipeline.Options{
		MaxItems:     cfg.Crawler.MaxItems,
		MaxDetails:   cfg.Crawler.MaxDetails,
		SkipAnalysis: f.skipAnalysis,
		Force:        f.force,
	}
	if cmd.Flags().Changed("limit") {
		opts.MaxItems = f.limit
	}
	if cmd.Flags().Changed("max-details") {
		opts.MaxDetails = f.maxDetails
	}
	if opts.MaxItems < 0 || opts.MaxDetails < 0 {
		return fmt.Errorf("--limit and --max-details must be >= 0")
	}
	metricsAddr := cfg.Metrics.Addr
	if cmd.Flags().Changed("metrics-addr") {
		metricsAddr = f.metricsAddr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner, err := appInstance.Crawler(ctx, app.RunOptions{
		Source:       f.source,
		NoDB:         f.noDB,
		OutputPath:   f.output,
		SkipAnalysis: f.skipAnalysis,
	})
	if err != nil {
		return fmt.Errorf("build crawler: %w", err)
	}

	stopServer := startStatusServer(ctx, metricsAddr, runner, logger)
	results, runErr := runner.Run(ctx, opts)
	stopServer()

	printSummary(cmd.OutOrStdout(), results)
	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			logger.Warn("crawl interrupted", zap.Error(runErr))
		}
		return fmt.Errorf("run crawler: %w", runErr)
	}
	logger.Info("Crawl command finished.")
	return nil
}

// startStatusServer serves operator endpoints until the returned func is called.
func startStatusServer(ctx context.Context, addr string, runner Runner, logger *zap.Logger) func() {
	if addr == "" {
		return func() {}
	}
	srvCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	server := api.NewServer(runner.Status, logger)
	go func() {
		defer close(done)
		if err := server.Serve(srvCtx, addr); err != nil {
			logger.Error("status server failed", zap.Error(err))
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func printSummary(w io.Writer, results []pipeline.SourceResult) {
	if len(results) == 0 {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tDISCOVERED\tFETCHED\tANALYZED\tSTORED\tFAILED\tSKIPPED\tNOTE")
	for _, r := range results {
		c := r.Counters
		note := ""
		switch {
		case r.Err != nil:
			note = r.Err.Error()
		case r.QuotaExceeded:
			note = "quota exhausted"
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t%s\n",
			r.Source, c.Discovered, c.Fetched, c.Analyzed, c.Stored, c.Failed, c.Skipped, note)
	}
	_ = tw.Flush()
}
