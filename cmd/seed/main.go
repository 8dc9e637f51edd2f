package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/evpool/evpool-backend/internal/app"
	"github.com/evpool/evpool-backend/internal/seed"
	"github.com/evpool/evpool-backend/pkg/config"
	"github.com/evpool/evpool-backend/pkg/db"
	"github.com/evpool/evpool-backend/pkg/logger"
	"github.com/evpool/evpool-backend/pkg/migrate"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "seed"})

	_ = godotenv.Load()

	path := flag.String("file", "", "path to the backfill JSON file")
	allowNonEmpty := flag.Bool("allow-non-empty", false, "append to a ledger that already has totals")
	actor := flag.String("actor", "", "user id recorded on reversals")
	validateOnly := flag.Bool("validate", false, "only validate the file")
	flag.Parse()

	if *path == "" {
		fmt.Fprintln(os.Stderr, "missing -file")
		os.Exit(1)
	}

	cfg, err := config.Load()
	requireResource(context.Background(), logg, "config", err)

	logg = logger.New(logger.Options{
		ServiceName: "seed",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"file": *path,
	})

	f, err := os.Open(*path)
	requireResource(ctx, logg, "seed file", err)
	file, err := seed.Load(f)
	_ = f.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid seed file:\n%v\n", err)
		os.Exit(1)
	}
	if *validateOnly {
		fmt.Printf("seed file ok: %d users, %d events\n", len(file.Users), len(file.Events))
		return
	}

	opts := seed.Options{AllowNonEmpty: *allowNonEmpty}
	if *actor != "" {
		id, err := uuid.Parse(*actor)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid -actor: %v\n", err)
			os.Exit(1)
		}
		opts.Actor = &id
	}

	dbClient, err := db.Open(ctx, cfg, logg)
	requireResource(ctx, logg, "database", err)
	defer dbClient.Close()

	err = migrate.MaybeRunDev(ctx, cfg, logg, dbClient)
	requireResource(ctx, logg, "migrations", err)

	svc, err := app.NewServices(dbClient, cfg.Ledger, logg, nil)
	requireResource(ctx, logg, "services", err)

	seeder, err := seed.New(seed.DepsFromServices(svc), logg, opts)
	requireResource(ctx, logg, "seeder", err)

	report, err := seeder.Run(ctx, file)
	if err != nil {
		logg.Error(ctx, "seed failed", err)
		os.Exit(1)
	}

	out, _ := json.MarshalIndent(report, "", "  ")
	fmt.Println(string(out))
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
