package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"lintang/railroute/pkg/config"
	"lintang/railroute/pkg/kv"
	"lintang/railroute/pkg/route"
	"lintang/railroute/pkg/terrain"
	"lintang/railroute/pkg/util"

	"github.com/go-chi/httplog/v2"
	"github.com/k0kubun/go-ansi"
	"github.com/paulmach/osm"
	"github.com/schollz/progressbar/v3"
)

func newProgressBar(total int) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(ansi.NewAnsiStderr()), //you should install "github.com/k0kubun/go-ansi"
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(30),
		progressbar.OptionShowCount(),
		progressbar.OptionSetDescription("[cyan][railroute][reset] sampling route nodes..."),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}))
}

func main() {
	if err := config.LoadEnv(); err != nil {
		log.Printf("reading .env: %v", err)
	}
	cfg := config.Register(flag.CommandLine)
	relationID := flag.Int64("relation", 0, "route relation id, 0 takes the first relation of the osm file")
	out := flag.String("o", "route.json", "output file, zstd compressed when it ends in .zst")
	noProgress := flag.Bool("quiet", false, "hide the progress bar")
	flag.Parse()

	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}
	if cfg.MapFile == "" && *relationID == 0 {
		log.Fatal("either -f or -relation is required")
	}

	logger := httplog.NewLogger("railroute", httplog.Options{
		LogLevel:         cfg.SlogLevel(),
		Concise:          true,
		MessageFieldName: "message",
		Writer:           os.Stderr,
	})

	sampler, closer, err := terrain.Open(cfg.Terrain, logger.Logger)
	if err != nil {
		log.Fatal(err)
	}
	defer closer.Close()

	var bar *progressbar.ProgressBar
	if !*noProgress {
		cfg.Route.Progress = func(done, total int) {
			if bar == nil {
				bar = newProgressBar(total)
			}
			_ = bar.Set(done)
		}
	}

	builder, err := route.NewBuilder(cfg.RelationSource(), sampler, cfg.Route, route.WithLogger(logger.Logger))
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := builder.Start(ctx, osm.RelationID(*relationID))
	if bar != nil {
		_ = bar.Finish()
	}
	if err != nil {
		logger.Error("route build failed", slog.String("error", err.Error()))
		closer.Close()
		os.Exit(1)
	}

	if err := writeResult(*out, res); err != nil {
		logger.Error("writing result", slog.String("file", *out), slog.String("error", err.Error()))
		closer.Close()
		os.Exit(1)
	}
	logger.Info("route written",
		slog.String("file", *out),
		slog.Int64("relation_id", res.RelationID),
		slog.String("name", res.Name),
		slog.Int("knots", res.Curve.Len()),
		slog.Float64("length_m", res.Curve.Length()),
		slog.Int("anomalies", len(res.Anomalies)),
		slog.Int("stops", len(res.Stops)),
		slog.Float64("track_length_m", util.RoundFloat(res.Stats.TrackLength, 1)),
		slog.Int("samples_failed", res.Stats.SamplesFailed),
	)
}

func writeResult(path string, res *route.Result) error {
	bb, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	if strings.HasSuffix(path, ".zst") {
		if bb, err = kv.Compress(bb); err != nil {
			return err
		}
	}
	return os.WriteFile(path, bb, 0o644)
}
