// Command seed bulk-imports a YAML-described profile/proxy/message roster
// for one group into the Store, grounded in the teacher's
// cmd/server/seed.go "read YAML, upsert idempotently" idiom.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/relaygrid/fleetsched/internal/adapter/repo/postgres"
	"github.com/relaygrid/fleetsched/internal/config"
)

func main() {
	path := flag.String("file", "", "path to a seed YAML file")
	flag.Parse()
	if *path == "" {
		fmt.Fprintln(os.Stderr, "usage: seed -file path/to/seed.yaml")
		os.Exit(2)
	}

	if err := run(*path); err != nil {
		slog.Error("seed failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(path string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("op=seed.load_config: %w", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("op=seed.read_file: %w", err)
	}

	var doc postgres.SeedDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("op=seed.parse_yaml: %w", err)
	}

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DBURL, cfg.DBMaxConns, cfg.DBMaxConnIdleTime)
	if err != nil {
		return fmt.Errorf("op=seed.connect_db: %w", err)
	}
	defer pool.Close()

	if err := postgres.Migrate(ctx, pool); err != nil {
		return fmt.Errorf("op=seed.migrate: %w", err)
	}

	seeder := postgres.NewSeeder(pool)
	if err := seeder.Apply(ctx, doc); err != nil {
		return fmt.Errorf("op=seed.apply: %w", err)
	}

	slog.Info("seed applied",
		slog.String("group_id", doc.GroupID),
		slog.Int("profiles", len(doc.Profiles)),
		slog.Int("proxies", len(doc.Proxies)),
		slog.Int("messages", len(doc.Messages)),
	)
	return nil
}
