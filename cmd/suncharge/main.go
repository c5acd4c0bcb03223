package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/carlmjohnson/versioninfo"
	"github.com/google/uuid"
	"github.com/levenlabs/go-lflag"
	"github.com/levenlabs/go-llog"

	"github.com/suncharge/suncharge/pkg/authcache"
	"github.com/suncharge/suncharge/pkg/common"
	"github.com/suncharge/suncharge/pkg/config"
	"github.com/suncharge/suncharge/pkg/inverter"
	"github.com/suncharge/suncharge/pkg/log"
	"github.com/suncharge/suncharge/pkg/run"
	"github.com/suncharge/suncharge/pkg/types"
	"github.com/suncharge/suncharge/pkg/vehicle"
)

func main() {
	// init packages
	store := authcache.Configured()
	cfgSrc := config.Configured()
	car := vehicle.Configured(store)
	ess := inverter.Configured()
	dryRun := lflag.Bool("dry-run", false, "Decide but don't send any charging commands")

	// parse flags
	lflag.Configure()

	var level slog.Level
	// lflag automatically sets llog's level, but we need to set the slog level
	switch llog.GetLevel() {
	case llog.DebugLevel:
		level = slog.LevelDebug
	case llog.InfoLevel:
		level = slog.LevelInfo
	case llog.WarnLevel:
		level = slog.LevelWarn
	case llog.ErrorLevel:
		level = slog.LevelError
	default:
		panic(fmt.Errorf("unknown log level: %s", llog.GetLevel().String()))
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	log.SetDefaultLogLevel(level)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// every log line of this run carries the same runID
	ctx = log.WithAttrs(ctx, slog.String("runID", uuid.NewString()))

	log.Ctx(ctx).InfoContext(ctx, "starting",
		slog.String("version", common.Version()),
		slog.String("build", versioninfo.Short()),
		slog.String("config", cfgSrc.Path()),
		slog.String("tokenCache", store.Path()),
	)

	cfg, err := cfgSrc.Load()
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to load config",
			slog.String("class", types.ErrorClass(err)),
			slog.Any("error", err),
		)
		os.Exit(1)
	}

	if err := car.ApplyCredentials(ctx, cfg.Tesla); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "invalid vehicle credentials", slog.Any("error", err))
		os.Exit(1)
	}
	if err := ess.ApplyCredentials(ctx, cfg.AlphaESS); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "invalid inverter credentials", slog.Any("error", err))
		os.Exit(1)
	}

	r := &run.Runner{
		Vehicle:  car,
		Inverter: ess,
		Policy:   cfg.Charging,
		DryRun:   *dryRun,
	}

	dec, err := r.Once(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "run failed",
			slog.String("class", types.ErrorClass(err)),
			slog.Any("error", err),
		)
		os.Exit(1)
	}

	log.Ctx(ctx).InfoContext(ctx, "run finished",
		slog.String("action", dec.Action.String()),
		slog.Int("amps", dec.Amps),
		slog.String("explanation", dec.Explanation),
	)
}
