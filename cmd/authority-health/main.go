package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/raine/item-appraiser/config"
	"github.com/raine/item-appraiser/internal/app"
	"github.com/raine/item-appraiser/internal/authority"
)

func main() {
	configPath := flag.String("config", "", "Path to TOML config file")
	timeout := flag.Duration("timeout", 20*time.Second, "Overall timeout")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	tokens := app.BuildTokenCache(ctx, cfg)
	fetchers := expand(app.BuildFetchers(cfg, tokens))
	if len(fetchers) == 0 {
		fmt.Fprintln(os.Stderr, "no authority sources enabled")
		os.Exit(1)
	}

	results := make([]authority.Health, len(fetchers))
	g := new(errgroup.Group)
	for i, f := range fetchers {
		g.Go(func() error {
			results[i] = f.Health(ctx)
			return nil
		})
	}
	g.Wait()

	unhealthy := 0
	for _, h := range results {
		ev := log.Info()
		if h.Status != authority.StatusHealthy {
			ev = log.Warn()
		}
		if h.Status == authority.StatusUnhealthy {
			unhealthy++
		}
		ev.Str("source", h.Source).Str("status", string(h.Status)).Dur("latency", h.Latency).Str("error", h.Error).Msg("health check")
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(results); err != nil {
		log.Fatal().Err(err).Msg("failed to encode results")
	}
	if unhealthy > 0 {
		os.Exit(1)
	}
}

// expand replaces cascades with their members so every source is probed.
func expand(fetchers []authority.Fetcher) []authority.Fetcher {
	var out []authority.Fetcher
	for _, f := range fetchers {
		if c, ok := f.(*authority.Cascade); ok {
			out = append(out, expand(c.Members())...)
			continue
		}
		out = append(out, f)
	}
	return out
}
