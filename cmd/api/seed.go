package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gamassss/edgelink/internal/logger"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
)

const seedOwner = "loadtest"

type seedOptions struct {
	hot       int
	warm      int
	cold      int
	batchSize int
	workers   int
	truncate  bool
}

var seedOpts seedOptions

// seedCmd fills the links table with hot, warm and cold tiers for load
// testing the redirect path.
var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Insert synthetic links for load testing",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		dbPool, err := setupDatabase(ctx, cfg)
		if err != nil {
			return err
		}
		defer dbPool.Close()

		return (&seeder{pool: dbPool, opts: seedOpts}).run(ctx)
	},
}

func init() {
	f := seedCmd.Flags()
	f.IntVar(&seedOpts.hot, "hot", 100, "links with routing rules")
	f.IntVar(&seedOpts.warm, "warm", 10000, "plain links")
	f.IntVar(&seedOpts.cold, "cold", 1000000, "plain links inserted in parallel")
	f.IntVar(&seedOpts.batchSize, "batch-size", 5000, "rows per batch")
	f.IntVar(&seedOpts.workers, "workers", 4, "parallel writers for cold links")
	f.BoolVar(&seedOpts.truncate, "truncate", false, "delete previously seeded links first")
	rootCmd.AddCommand(seedCmd)
}

type seeder struct {
	pool *pgxpool.Pool
	opts seedOptions
}

const insertSeedLink = `
	INSERT INTO links (slug, owner_id, destination, routing, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $5)
	ON CONFLICT DO NOTHING`

func (s *seeder) run(ctx context.Context) error {
	log := logger.Get()
	start := time.Now()

	if s.opts.batchSize <= 0 {
		s.opts.batchSize = 5000
	}
	if s.opts.workers <= 0 {
		s.opts.workers = 1
	}

	if s.opts.truncate {
		if _, err := s.pool.Exec(ctx, "DELETE FROM links WHERE owner_id = $1", seedOwner); err != nil {
			return fmt.Errorf("clear seeded links: %w", err)
		}
	}

	if err := s.insertRange(ctx, "hot", 1, s.opts.hot); err != nil {
		return err
	}
	if err := s.insertRange(ctx, "warm", 1, s.opts.warm); err != nil {
		return err
	}
	if err := s.insertColdParallel(ctx); err != nil {
		return err
	}

	if _, err := s.pool.Exec(ctx, "ANALYZE links"); err != nil {
		return err
	}

	var count int64
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM links WHERE owner_id = $1", seedOwner).Scan(&count); err != nil {
		return err
	}

	log.Info("Seed completed", "links", count, "duration", time.Since(start))
	return nil
}

// seedRow returns the slug, destination and routing of the i-th link of
// a tier. Hot links carry a device rule so the evaluator is exercised.
func seedRow(tier string, i int) (string, string, []byte) {
	slug := fmt.Sprintf("%s_%07d", tier, i)
	switch tier {
	case "hot":
		routing := fmt.Sprintf(`{"device":{"mobile":"https://m.youtube.com/watch?v=%06d"}}`, i)
		return slug, fmt.Sprintf("https://youtube.com/watch?v=%06d", i), []byte(routing)
	case "warm":
		return slug, fmt.Sprintf("https://github.com/repo/%06d", i), nil
	default:
		return slug, fmt.Sprintf("https://example.com/page/%07d", i), nil
	}
}

func (s *seeder) insertRange(ctx context.Context, tier string, start, end int) error {
	now := time.Now()
	for i := start; i <= end; i += s.opts.batchSize {
		batchEnd := min(i+s.opts.batchSize-1, end)

		batch := &pgx.Batch{}
		for j := i; j <= batchEnd; j++ {
			slug, destination, routing := seedRow(tier, j)
			batch.Queue(insertSeedLink, slug, seedOwner, destination, routing, now.Add(-time.Duration(j)*time.Second))
		}

		br := s.pool.SendBatch(ctx, batch)
		for k := 0; k < batch.Len(); k++ {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("seed %s batch: %w", tier, err)
			}
		}
		if err := br.Close(); err != nil {
			return err
		}
	}
	return nil
}

func (s *seeder) insertColdParallel(ctx context.Context) error {
	if s.opts.cold <= 0 {
		return nil
	}

	workers := min(s.opts.workers, s.opts.cold)
	perWorker := s.opts.cold / workers

	var wg sync.WaitGroup
	errs := make(chan error, workers)

	for w := 0; w < workers; w++ {
		start := w*perWorker + 1
		end := start + perWorker - 1
		if w == workers-1 {
			end = s.opts.cold
		}

		wg.Add(1)
		go func(id, start, end int) {
			defer wg.Done()
			if err := s.insertRange(ctx, "cold", start, end); err != nil {
				errs <- fmt.Errorf("worker %d: %w", id, err)
			}
		}(w, start, end)
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		return err
	}
	return nil
}
