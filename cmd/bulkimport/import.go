package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/poiesic/bulkimport"
	"github.com/poiesic/bulkimport/importer"
	"github.com/poiesic/bulkimport/source"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
)

func importFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "source-type",
			Usage: "Source kind (fs, csv); guessed from the path when empty",
		},
		&cli.StringFlag{
			Name:  "target",
			Usage: "Target path the imported tree is placed under",
			Value: "/",
		},
		&cli.BoolFlag{
			Name:  "include-hidden",
			Usage: "Import dot files and dot directories",
		},
		&cli.StringSliceFlag{
			Name:  "container-type",
			Usage: "CSV document types treated as containers",
			Value: cli.NewStringSlice("Folder"),
		},
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "YAML file with importer settings; flags override it",
			EnvVars: []string{envPrefix + "CONFIG"},
		},
		&cli.IntFlag{
			Name:  "batch-size",
			Usage: "Number of documents committed per batch",
			Value: 30,
		},
		&cli.IntFlag{
			Name:  "max-workers",
			Usage: "Upper bound of concurrent workers",
			Value: 5,
		},
		&cli.DurationFlag{
			Name:  "batch-timeout",
			Usage: "Commit a partial batch after this long (0 disables)",
			Value: 5 * time.Second,
		},
		&cli.DurationFlag{
			Name:  "shutdown-timeout",
			Usage: "How long to wait for workers to finish (0 waits forever)",
			Value: 2 * time.Minute,
		},
		&cli.Float64Flag{
			Name:  "max-rate",
			Usage: "Dispatch at most N documents per second (0 for unlimited)",
		},
		&cli.BoolFlag{
			Name:  "no-flush-containers",
			Usage: "Do not commit a batch after every container",
		},
		&cli.BoolFlag{
			Name:  "no-update-existing",
			Usage: "Skip documents that already exist instead of updating them",
		},
		&cli.BoolFlag{
			Name:  "dry-run",
			Usage: "Walk and dispatch the source without writing anything",
		},
		&cli.StringFlag{
			Name:    "metrics-addr",
			Usage:   "Serve Prometheus metrics on this address, e.g. :9102",
			EnvVars: []string{envPrefix + "METRICS_ADDR"},
		},
		&cli.BoolFlag{
			Name:  "progress",
			Usage: "Print progress to stderr",
			Value: true,
		},
		&cli.Int64Flag{
			Name:  "report-interval",
			Usage: "Report progress every N documents",
			Value: 1000,
		},
	}
}

func importCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("expected exactly one source path, got %d", c.NArg())
	}
	srcPath := c.Args().First()

	cfg, err := importConfig(c)
	if err != nil {
		return err
	}

	var store *bulkimport.Store
	if !c.Bool("dry-run") {
		store, err = openStore(c)
		if err != nil {
			return err
		}
		defer store.Close()
	}

	src, err := openSource(c, srcPath)
	if err != nil {
		return err
	}
	if closer, ok := src.(io.Closer); ok {
		defer closer.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := []importer.Option{
		importer.WithConfig(cfg),
		importer.WithLogger(slog.Default()),
	}
	if c.Bool("progress") {
		opts = append(opts, importer.WithProgress(importer.NewProgressTracker(os.Stderr, 0, c.Int64("report-interval"))))
	}
	if addr := c.String("metrics-addr"); addr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		opts = append(opts, importer.WithMetrics(importer.NewMetrics(reg)))

		srv := serveMetrics(addr, reg)
		defer srv.Close()
	}

	var d *importer.Dispatcher
	if store == nil {
		d, err = importer.NewDispatcher(src, importer.CountingConsumers(nil), opts...)
	} else {
		d, err = store.NewImporter(src, opts...)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "Source: %s\n", src.Name())
	if c.Bool("dry-run") {
		fmt.Fprintln(os.Stderr, "Store: none (dry run)")
	} else {
		fmt.Fprintf(os.Stderr, "Store: %s (%s)\n", c.String("db"), c.String("engine"))
	}
	fmt.Fprintf(os.Stderr, "Batch size: %d, max workers: %d\n", cfg.BatchSize, cfg.MaxWorkers)
	fmt.Fprintln(os.Stderr)

	result, runErr := d.Run(ctx)
	if result != nil {
		printResult(c.App.Writer, result)
	}
	if runErr != nil {
		return fmt.Errorf("import failed: %w", runErr)
	}
	return nil
}

// importConfig builds the importer config from defaults, the optional config
// file and finally the flags set on the command line.
func importConfig(c *cli.Context) (*importer.Config, error) {
	cfg := importer.DefaultConfig()
	if path := c.String("config"); path != "" {
		fileCfg, err := importer.LoadConfigFile(path)
		if err != nil {
			return nil, err
		}
		cfg = fileCfg
	}

	var opts []importer.ConfigOption
	if c.IsSet("batch-size") {
		opts = append(opts, importer.WithBatchSize(c.Int("batch-size")))
	}
	if c.IsSet("max-workers") {
		opts = append(opts, importer.WithMaxWorkers(c.Int("max-workers")))
	}
	if c.IsSet("batch-timeout") {
		opts = append(opts, importer.WithBatchTimeout(c.Duration("batch-timeout")))
	}
	if c.IsSet("shutdown-timeout") {
		opts = append(opts, importer.WithShutdownTimeout(c.Duration("shutdown-timeout")))
	}
	if c.IsSet("max-rate") {
		opts = append(opts, importer.WithMaxRate(c.Float64("max-rate")))
	}
	if c.Bool("no-flush-containers") {
		opts = append(opts, importer.WithFlushContainers(false))
	}
	if c.Bool("no-update-existing") {
		opts = append(opts, importer.WithUpdateExisting(false))
	}
	for _, opt := range opts {
		opt(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openSource(c *cli.Context, path string) (source.Source, error) {
	kind := strings.ToLower(c.String("source-type"))
	if kind == "" {
		kind = "fs"
		if strings.EqualFold(filepath.Ext(path), ".csv") {
			kind = "csv"
		}
	}

	switch kind {
	case "fs":
		return source.NewFileSystemSource(path,
			source.WithTargetPath(c.String("target")),
			source.WithSkipHidden(!c.Bool("include-hidden")),
		)
	case "csv":
		return source.OpenCSVFile(path,
			source.WithCSVTargetPath(c.String("target")),
			source.WithContainerTypes(c.StringSlice("container-type")...),
		)
	default:
		return nil, fmt.Errorf("unknown source type %q: must be fs or csv", kind)
	}
}

func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "addr", addr, "err", err)
		}
	}()
	slog.Info("serving metrics", "addr", addr)
	return srv
}

func printResult(w io.Writer, result *importer.Result) {
	r := result.Report
	fmt.Fprintf(w, "Job:            %s\n", result.JobID)
	fmt.Fprintf(w, "Elapsed:        %s\n", result.EndedAt.Sub(result.StartedAt).Round(time.Millisecond))
	fmt.Fprintf(w, "Dispatched:     %s\n", humanize.Comma(r.Dispatched))
	fmt.Fprintf(w, "Committed:      %s in %s batches\n", humanize.Comma(r.Committed), humanize.Comma(r.CommittedBatches))
	fmt.Fprintf(w, "Created:        %s\n", humanize.Comma(r.Created))
	fmt.Fprintf(w, "Updated:        %s\n", humanize.Comma(r.Updated))
	fmt.Fprintf(w, "Workers:        %d\n", r.Workers)
	if r.Skipped > 0 || r.Errors > 0 {
		fmt.Fprintf(w, "Skipped:        %s\n", humanize.Comma(r.Skipped))
		fmt.Fprintf(w, "Errors:         %s\n", humanize.Comma(r.Errors))
		for _, issue := range r.Issues {
			fmt.Fprintf(w, "  %s %s", issue.Status, issue.Source)
			if issue.Path != "" {
				fmt.Fprintf(w, " %s", issue.Path)
			}
			fmt.Fprintf(w, ": %s\n", issue.Message)
		}
		if kept := int64(len(r.Issues)); kept < r.Skipped+r.Errors {
			fmt.Fprintf(w, "  ... %s more not shown\n", humanize.Comma(r.Skipped+r.Errors-kept))
		}
	}
	if r.FailedBatches > 0 {
		fmt.Fprintf(w, "Failed:         %s in %s batches\n", humanize.Comma(r.Failed), humanize.Comma(r.FailedBatches))
		for _, f := range result.Failures {
			fmt.Fprintf(w, "  %v\n", f)
		}
	}
}
