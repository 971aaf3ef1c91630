package main

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bumpti/hydration-cli/internal/model"
	"github.com/bumpti/hydration-cli/internal/store"
)

var (
	workerRecords     string
	workerMaxRuntime  int
	workerConcurrency int
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Claim cities from the queue and process until empty or timeout",
	RunE: func(cmd *cobra.Command, _ []string) error {
		maxRuntime := cfg.Worker.MaxRuntimeSecs
		if workerMaxRuntime > 0 {
			maxRuntime = workerMaxRuntime
		}
		concurrency := cfg.Worker.Concurrency
		if workerConcurrency > 0 {
			concurrency = workerConcurrency
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), time.Duration(maxRuntime)*time.Second)
		defer cancel()

		env, err := initPipeline(ctx, "worker", workerRecords)
		if err != nil {
			return err
		}
		defer env.Close()

		run := func(ctx context.Context, city model.City) error {
			_, err := env.Pipeline.Run(ctx, city)
			return err
		}

		processed, failed := runWorker(ctx, env.Store, run, concurrency)
		zap.L().Info("worker done",
			zap.Int("processed", processed),
			zap.Int("failed", failed),
		)
		return nil
	},
}

// runWorker drains the city queue. Each goroutine claims one city at a
// time; the claim itself is the per-city lock, so goroutines never step on
// each other. Returns counts of completed and failed cities.
func runWorker(ctx context.Context, st store.Store, run func(context.Context, model.City) error, concurrency int) (int, int) {
	if concurrency < 1 {
		concurrency = 1
	}

	var processed, failed atomic.Int64
	g, ctx := errgroup.WithContext(ctx)

	for i := 0; i < concurrency; i++ {
		g.Go(func() error {
			for {
				if ctx.Err() != nil {
					return nil
				}

				city, err := st.ClaimNextCity(ctx)
				if err != nil {
					zap.L().Error("claim city", zap.Error(err))
					return nil
				}
				if city == nil {
					return nil // queue drained
				}

				if err := processCity(ctx, st, run, *city); err != nil {
					failed.Add(1)
				} else {
					processed.Add(1)
				}
			}
		})
	}

	_ = g.Wait()
	return int(processed.Load()), int(failed.Load())
}

// processCity runs one claimed city and records the outcome in the queue.
func processCity(ctx context.Context, st store.Store, run func(context.Context, model.City) error, city model.City) error {
	if city.BBox == (model.BBox{}) {
		city.BBox = deriveBBox(city.Lat, city.Lng, cfg.Pipeline.BBoxHalfWidth, cfg.Pipeline.BBoxHalfHeight)
	}

	zap.L().Info("processing city",
		zap.String("city", city.Name),
		zap.String("city_id", city.ID),
		zap.Int("attempt", city.RetryCount),
	)

	if err := run(ctx, city); err != nil {
		zap.L().Error("city failed",
			zap.String("city", city.Name),
			zap.Error(err),
		)
		if failErr := st.FailCity(ctx, city.ID, err.Error()); failErr != nil {
			zap.L().Error("record city failure", zap.String("city_id", city.ID), zap.Error(failErr))
		}
		return err
	}

	if err := st.CompleteCity(ctx, city.ID); err != nil {
		return eris.Wrap(err, "complete city")
	}
	return nil
}

func init() {
	workerCmd.Flags().StringVar(&workerRecords, "records", "", "path to the NDJSON bulk POI dump (required)")
	workerCmd.Flags().IntVar(&workerMaxRuntime, "max-runtime", 0, "max runtime in seconds (default from config)")
	workerCmd.Flags().IntVar(&workerConcurrency, "concurrency", 0, "cities processed in parallel (default from config)")
	_ = workerCmd.MarkFlagRequired("records")
	rootCmd.AddCommand(workerCmd)
}
