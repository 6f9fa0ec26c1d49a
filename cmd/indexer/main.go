package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/klauspost/compress/gzip"

	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/internal/docmeta"
	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/pkg/postgres"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	input := flag.String("input", "-", "JSONL corpus, optionally gzipped; - reads stdin")
	pageViewsTable := flag.String("pageviews-table", "", "copy the configured CSV page-view table into this Postgres table")
	pageRankTable := flag.String("pagerank-table", "", "copy the configured CSV PageRank table into this Postgres table")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := build(ctx, cfg, *input); err != nil {
		slog.Error("index build failed", "error", err)
		os.Exit(1)
	}
	exports := map[string]config.SignalSource{}
	if *pageViewsTable != "" {
		exports[*pageViewsTable] = cfg.Signals.PageViews
	}
	if *pageRankTable != "" {
		exports[*pageRankTable] = cfg.Signals.PageRank
	}
	if len(exports) > 0 {
		if err := exportSignals(ctx, cfg.Postgres, exports); err != nil {
			slog.Error("signal export failed", "error", err)
			os.Exit(1)
		}
	}
}

func build(ctx context.Context, cfg *config.Config, input string) error {
	m := metrics.New()
	if cfg.Metrics.Enabled {
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Metrics.Port))
		if err != nil {
			return fmt.Errorf("metrics listener: %w", err)
		}
		metricsCtx, stopMetrics := context.WithCancel(ctx)
		defer stopMetrics()
		go func() {
			if err := m.Serve(metricsCtx, ln); err != nil {
				slog.Error("metrics server error", "error", err)
			}
		}()
	}

	r, closeInput, err := openInput(input)
	if err != nil {
		return err
	}
	defer closeInput()

	b, err := indexer.NewBuilder(cfg, m)
	if err != nil {
		return err
	}
	slog.Info("reading corpus", "input", input, "workers", cfg.Builder.Workers)
	n, err := b.AddJSONL(ctx, r)
	if err != nil {
		return fmt.Errorf("reading corpus: %w", err)
	}
	slog.Info("corpus read", "documents", n)

	stats, err := b.Build(ctx)
	if err != nil {
		return err
	}
	slog.Info("artifacts written",
		"documents", stats.Documents,
		"terms", stats.Terms,
		"shards", stats.Shards,
		"duration", stats.Duration,
	)
	return nil
}

func openInput(path string) (io.Reader, func(), error) {
	var f *os.File
	if path == "-" {
		f = os.Stdin
	} else {
		var err error
		if f, err = os.Open(path); err != nil {
			return nil, nil, fmt.Errorf("opening corpus: %w", err)
		}
	}
	closeFile := func() {
		if f != os.Stdin {
			f.Close()
		}
	}
	br := bufio.NewReaderSize(f, 1<<20)
	magic, _ := br.Peek(2)
	if strings.HasSuffix(path, ".gz") || (len(magic) == 2 && magic[0] == 0x1f && magic[1] == 0x8b) {
		zr, err := gzip.NewReader(br)
		if err != nil {
			closeFile()
			return nil, nil, fmt.Errorf("opening gzip corpus: %w", err)
		}
		return zr, func() { zr.Close(); closeFile() }, nil
	}
	return br, closeFile, nil
}

func exportSignals(ctx context.Context, pgCfg config.PostgresConfig, exports map[string]config.SignalSource) error {
	pg, err := postgres.New(pgCfg)
	if err != nil {
		return err
	}
	defer pg.Close()
	for table, src := range exports {
		if src.Source != config.SourceCSV {
			return fmt.Errorf("signal export into %s needs a csv source, got %q", table, src.Source)
		}
		t, err := docmeta.LoadCSV(table, src.Path)
		if err != nil {
			return err
		}
		if err := docmeta.SavePostgres(ctx, pg, table, t); err != nil {
			return err
		}
		slog.Info("signal table exported", "table", table, "entries", t.Len())
	}
	return nil
}
