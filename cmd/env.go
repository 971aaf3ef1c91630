package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/bumpti/hydration-cli/internal/curation"
	"github.com/bumpti/hydration-cli/internal/fetcher"
	"github.com/bumpti/hydration-cli/internal/geofence"
	"github.com/bumpti/hydration-cli/internal/hydrate"
	"github.com/bumpti/hydration-cli/internal/iconic"
	"github.com/bumpti/hydration-cli/internal/resolver"
	"github.com/bumpti/hydration-cli/internal/store"
	anthropicpkg "github.com/bumpti/hydration-cli/pkg/anthropic"
	"github.com/bumpti/hydration-cli/pkg/landuse"
)

// pipelineEnv holds the initialized store, curation tables, and pipeline
// shared by the hydrate and worker commands.
type pipelineEnv struct {
	Store    store.Store
	Tables   *curation.Tables
	Pipeline *hydrate.Pipeline
}

// Close releases resources held by the environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initStore opens and migrates the configured store. Callers close it.
func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initPipeline sets up the store, curation tables, providers, and the
// pipeline. recordsPath is the NDJSON bulk dump the pipeline reads from.
// Callers should defer env.Close().
func initPipeline(ctx context.Context, mode, recordsPath string) (*pipelineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	tables, err := curation.Load(cfg.Curation.Dir)
	if err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "load curation tables")
	}

	var polygons hydrate.PolygonProvider
	if cfg.Landuse.ShapefilePath != "" {
		sp, err := landuse.NewShapefileProvider(cfg.Landuse.ShapefilePath)
		if err != nil {
			_ = st.Close()
			return nil, eris.Wrap(err, "open land-use shapefile")
		}
		polygons = sp
		zap.L().Info("land-use polygons enabled", zap.String("shapefile", cfg.Landuse.ShapefilePath))
	} else {
		zap.L().Info("no land-use shapefile configured, boundaries use fallback buffers")
	}

	var matcher hydrate.IconicMarker
	if cfg.Iconic.Enabled {
		client := anthropicpkg.NewClient(cfg.Anthropic.Key, cfg.Anthropic.RPS)
		oracle := iconic.NewOracle(client, cfg.Anthropic.Model, int64(cfg.Anthropic.MaxTokens))
		matcher = iconic.NewMatcher(oracle, st, iconic.Config{
			PrefilterScore: cfg.Iconic.PrefilterScore,
			BatchSize:      cfg.Iconic.BatchSize,
			TimeoutSecs:    cfg.Iconic.TimeoutSecs,
		})
	} else {
		zap.L().Info("iconic matching disabled")
	}

	res := resolver.New(resolver.Config{
		RadiusM:         cfg.Resolver.RadiusM,
		LargeRadiusM:    cfg.Resolver.LargeRadiusM,
		FuzzyThreshold:  cfg.Resolver.FuzzyThreshold,
		LargeCategories: cfg.Resolver.LargeCategories,
	})
	fence := geofence.NewBuilder(geofence.Config{
		PointBufferM:  cfg.Geofence.PointBufferM,
		SearchRadiusM: cfg.Geofence.SearchRadiusM,
		SafetyMarginM: cfg.Geofence.SafetyMarginM,
	})

	records := &fetcher.NDJSONRecords{Path: recordsPath}

	p := hydrate.New(tables, st, records, polygons, matcher, res, fence, hydrate.Config{
		BatchSize:   cfg.Pipeline.BatchSize,
		PauseMillis: cfg.Pipeline.PauseMillis,
	})

	return &pipelineEnv{Store: st, Tables: tables, Pipeline: p}, nil
}
