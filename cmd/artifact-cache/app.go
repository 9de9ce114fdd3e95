package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/wolfeidau/artifact-cache/backend"
	"github.com/wolfeidau/artifact-cache/cache"
	"github.com/wolfeidau/artifact-cache/config"
	"github.com/wolfeidau/artifact-cache/deploy"
	"github.com/wolfeidau/artifact-cache/repository"
	"github.com/wolfeidau/artifact-cache/store"
	"github.com/wolfeidau/artifact-cache/store/metadb"
)

// app holds the components shared by the commands.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	policies *repository.Policies
	index    *metadb.BoltDB
	cache    *cache.Facade
	deployer *deploy.Deployer

	closers []io.Closer
}

// loadApp reads the configuration and builds the logger and policies.
// Logs go to logOut unless a log file is configured.
func loadApp(g *Globals, logOut io.Writer) (*app, error) {
	cfg, err := config.Load(g.Config)
	if err != nil {
		return nil, err
	}
	if g.LogLevel != "" {
		cfg.Log.Level = g.LogLevel
	}

	logger, logCloser, err := newLogger(cfg.Log, logOut)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, closers: []io.Closer{logCloser}}

	a.policies, err = cfg.BuildPolicies(logger)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("building policies: %w", err)
	}
	return a, nil
}

// open creates the store, deployer and cache engine. The index is opened
// only when withIndex is set since bbolt allows one writer process.
func (a *app) open(withIndex bool) error {
	fs, err := backend.NewFilesystem(a.cfg.Storage.CachePath())
	if err != nil {
		return fmt.Errorf("opening cache storage: %w", err)
	}
	b := backend.NewInstrumentedBackend(fs, "filesystem")
	st := store.New(b, store.WithLogger(a.logger.With("component", "store")))

	opts := []cache.Option{cache.WithLogger(a.logger.With("component", "cache"))}
	if withIndex {
		a.index = metadb.NewBoltDB(metadb.WithLogger(a.logger.With("component", "metadb")))
		if err := a.index.Open(a.cfg.Storage.IndexPath); err != nil {
			return fmt.Errorf("opening index: %w", err)
		}
		a.closers = append(a.closers, a.index)
		opts = append(opts, cache.WithIndex(a.index))
	}
	a.cache = cache.New(a.policies, st, opts...)

	deployFS, err := backend.NewFilesystem(a.cfg.Storage.DeployPath)
	if err != nil {
		return fmt.Errorf("opening deploy storage: %w", err)
	}
	a.deployer = deploy.New(deployFS,
		deploy.WithPrefix(a.cfg.Storage.DeployPrefix),
		deploy.WithLogger(a.logger.With("component", "deploy")),
	)
	return nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
