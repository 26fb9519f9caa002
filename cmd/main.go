package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/schollz/progressbar/v3"
	"github.com/xhad/marginalia/internal/models"
	"github.com/xhad/marginalia/internal/types"
	"github.com/xhad/marginalia/pkg/chunker"
	cfgPkg "github.com/xhad/marginalia/pkg/config"
	"github.com/xhad/marginalia/pkg/ingest"
	"github.com/xhad/marginalia/pkg/llm"
	"github.com/xhad/marginalia/pkg/pipeline"
	"github.com/xhad/marginalia/pkg/reader"
	"github.com/xhad/marginalia/pkg/retriever"
	"github.com/xhad/marginalia/pkg/store"
	"github.com/xhad/marginalia/pkg/tokenizer"
	"github.com/xhad/marginalia/server"
)

type flags struct {
	configPath   string
	sync         bool
	updatedAfter string
	force        bool
	query        string
	topK         int
	minScore     float64
	serve        string
}

func main() {
	_ = godotenv.Load()

	f := parseFlags()
	if err := run(f); err != nil {
		log.Fatal(err)
	}
}

func parseFlags() flags {
	var f flags
	flag.StringVar(&f.configPath, "config", "", "Path to config file")
	flag.BoolVar(&f.sync, "sync", false, "Sync the reading history into the vector index")
	flag.StringVar(&f.updatedAfter, "updated-after", "", "Only sync documents updated after this ISO-8601 timestamp")
	flag.BoolVar(&f.force, "force", false, "Reprocess documents already present in the index")
	flag.StringVar(&f.query, "query", "", "Search the indexed reading history")
	flag.IntVar(&f.topK, "top-k", 0, "Number of passages to return")
	flag.Float64Var(&f.minScore, "min-score", 0, "Minimum passage score")
	flag.StringVar(&f.serve, "serve", "", "Serve the sync/query websocket API on this address")
	flag.Parse()
	return f
}

// app bundles the wired components for one invocation.
type app struct {
	config       *cfgPkg.Config
	ingestConfig ingest.Config
	retriever    *retriever.Retriever
	ledger       types.Ledger
}

func buildApp(ctx context.Context, f flags) (*app, error) {
	config, err := cfgPkg.LoadConfig(f.configPath)
	if err != nil {
		return nil, err
	}
	if errs := config.Validate(); len(errs) > 0 {
		for _, e := range errs {
			color.Red("config: %v", e)
		}
		return nil, fmt.Errorf("invalid configuration")
	}

	counter, err := tokenizer.NewCounter()
	if err != nil {
		return nil, err
	}

	embedder, err := llm.NewEmbedderWithConfig(llm.EmbedderConfig{
		Model:        config.Embedding.Model,
		Dim:          config.Embedding.Dim,
		ContextLimit: config.Embedding.ContextLimit,
		APIKey:       config.Embedding.APIKey,
	}, counter)
	if err != nil {
		return nil, err
	}

	var rewriter types.Rewriter = llm.NoopRewriter{}
	if config.Rewriter.APIKey != "" {
		r, err := llm.NewRewriterWithConfig(ctx, llm.RewriterConfig{
			Model:  config.Rewriter.Model,
			APIKey: config.Rewriter.APIKey,
		})
		if err != nil {
			return nil, err
		}
		rewriter = r
	}

	vectorStore, err := store.NewPineconeWithConfig(ctx, store.PineconeConfig{
		APIKey: config.Pinecone.APIKey,
		Index:  config.Pinecone.Index,
		Host:   config.Pinecone.Host,
	})
	if err != nil {
		return nil, err
	}

	var ledger types.Ledger
	if config.Database.URL != "" {
		pg, err := store.NewLedger(ctx, config.Database.URL)
		if err != nil {
			return nil, err
		}
		ledger = pg
	}

	readerClient, err := reader.NewWithConfig(reader.ClientConfig{
		Token:     config.Reader.Token,
		BaseURL:   config.Reader.BaseURL,
		RateLimit: config.Reader.RateLimit,
	})
	if err != nil {
		return nil, err
	}

	ch := chunker.NewWithConfig(chunker.Config{
		MinTokens:   config.Chunker.MinTokens,
		MaxTokens:   config.Chunker.MaxTokens,
		WindowSize:  config.Chunker.WindowSize,
		Threshold:   config.Chunker.Threshold,
		SingleLimit: config.Embedding.ContextLimit - 1000,
	}, counter, embedder)

	processor := pipeline.NewProcessor(counter, embedder, ch, 0)

	return &app{
		config: config,
		ingestConfig: ingest.Config{
			Reader:    readerClient,
			Store:     vectorStore,
			Ledger:    ledger,
			Processor: processor,
			Dim:       config.Embedding.Dim,
		},
		retriever: retriever.NewWithConfig(retriever.Config{
			TopK:           config.Retriever.TopK,
			HeaderTopK:     config.Retriever.HeaderTopK,
			MinScore:       config.Retriever.MinScore,
			HeaderMinScore: config.Retriever.HeaderMinScore,
		}, vectorStore, embedder, rewriter),
		ledger: ledger,
	}, nil
}

func run(f flags) error {
	ctx := context.Background()

	a, err := buildApp(ctx, f)
	if err != nil {
		return err
	}
	if a.ledger != nil {
		defer a.ledger.Close()
	}

	switch {
	case f.sync:
		return runSync(ctx, a, f)
	case f.query != "":
		return runQuery(ctx, a, f)
	case f.serve != "":
		color.Cyan("Serving sync/query API on %s", f.serve)
		return server.NewWSServer(server.Config{
			Ingest:    a.ingestConfig,
			Retriever: a.retriever,
		}).Start(f.serve)
	default:
		flag.Usage()
		return nil
	}
}

func runSync(ctx context.Context, a *app, f flags) error {
	updatedAfter := f.updatedAfter
	if updatedAfter == "" {
		updatedAfter = a.config.Sync.LastSyncTime
	}

	color.Blue("\nStarting reading-history sync")

	var bar *progressbar.ProgressBar
	a.ingestConfig.Progress = ingest.Progress{
		OnPhase: func(phase string, total int) {
			switch phase {
			case "fetch":
				bar = getSpinner("Fetching reading history...")
			case "tfidf":
				bar.Finish()
				fmt.Println()
				color.Green("✓ Fetched %d new documents", total)
				bar = getSpinner("Building term statistics...")
			case "process":
				bar.Finish()
				fmt.Println()
				bar = getProgressBar(total, "Processing documents...")
			}
		},
		OnDocument: func(doc models.Document, err error) {
			bar.Add(1)
			if err != nil {
				color.Red("\n✗ %s: %v", doc.Title, err)
			}
		},
	}

	orchestrator := ingest.NewWithConfig(a.ingestConfig)
	report, err := orchestrator.Sync(ctx, ingest.Options{
		UpdatedAfter: updatedAfter,
		ForceUpdate:  f.force,
	})
	if bar != nil {
		bar.Finish()
	}
	fmt.Println()
	if err != nil {
		return err
	}

	color.Green("✓ Sync complete: %d synced, %d skipped, %d failed, %d chunks written",
		report.Synced, report.Skipped, report.Failed, report.Chunks)
	return nil
}

func runQuery(ctx context.Context, a *app, f flags) error {
	spinner := getSpinner("Searching your reading history...")
	results, err := a.retriever.Search(ctx, f.query, f.topK, float32(f.minScore))
	spinner.Finish()
	fmt.Println()
	if err != nil {
		return err
	}

	formatted, hasSources := retriever.FormatContext(results)
	if !hasSources {
		color.Yellow("No matching notes.")
		return nil
	}
	fmt.Fprintln(os.Stdout, formatted)
	return nil
}

func getProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("docs"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func getSpinner(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}
