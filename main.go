package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/raine/item-appraiser/config"
	"github.com/raine/item-appraiser/internal/app"
	"github.com/raine/item-appraiser/internal/pipeline"
)

const logFileName = "item-appraiser.log"

func main() {
	configPath := flag.String("config", "", "Path to TOML config file")
	nameHint := flag.String("name", "", "What the owner calls the item")
	categoryHint := flag.String("category", "", "Category hint (e.g. coins, electronics)")
	condition := flag.String("condition", "", "Condition override (mint, near_mint, excellent, good, fair, poor)")
	search := flag.Bool("search", false, "Ground pricing in live market search where supported")
	recent := flag.Int("recent", 0, "Print the N most recent valuations and exit")
	logFile := flag.String("log-file", logFileName, "Log file (empty to log to stderr only)")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <image-path>...\n\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	closer := app.SetupLogging(cfg.LogLevel, *logFile)
	defer closer.Close()

	if *recent == 0 && flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.NewAppraiser(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize appraiser")
	}
	defer a.Close()

	if *recent > 0 {
		valuations, err := a.Store.RecentValuations(*recent)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to read valuations")
		}
		printJSON(valuations)
		return
	}

	images := make([][]byte, 0, flag.NArg())
	for _, path := range flag.Args() {
		data, err := os.ReadFile(path)
		if err != nil {
			log.Fatal().Err(err).Str("path", path).Msg("failed to read image")
		}
		images = append(images, data)
	}

	report, err := a.Appraise(ctx, pipeline.Request{
		Images:       images,
		NameHint:     *nameHint,
		CategoryHint: *categoryHint,
		Condition:    *condition,
		Search:       *search,
	})
	if errors.Is(err, pipeline.ErrNoImages) {
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("appraisal failed")
	}

	log.Info().Msg(report.String())
	printJSON(report)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Fatal().Err(err).Msg("failed to encode output")
	}
}
