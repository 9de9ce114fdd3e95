package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	artifactcache "github.com/wolfeidau/artifact-cache"
	"github.com/wolfeidau/artifact-cache/server"
	"github.com/wolfeidau/artifact-cache/telemetry"
)

// ServeCmd runs the HTTP proxy.
type ServeCmd struct {
	Listen string `help:"Address to listen on, overriding server.listen."`
}

func (s *ServeCmd) Run(g *Globals) error {
	a, err := loadApp(g, os.Stdout)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if err := a.open(true); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownMetrics, err := telemetry.InitMetrics(ctx, telemetry.MetricsConfig{
		ServiceName:      "artifact-cache",
		ServiceVersion:   version,
		OTLPEndpoint:     a.cfg.Metrics.OTLPEndpoint,
		EnablePrometheus: a.cfg.Metrics.Prometheus,
		FlushInterval:    a.cfg.Metrics.FlushInterval,
	})
	if err != nil {
		return fmt.Errorf("initialising metrics: %w", err)
	}

	listen := a.cfg.Server.Listen
	if s.Listen != "" {
		listen = s.Listen
	}
	srv := server.New(server.Config{
		Address:           listen,
		AuthToken:         a.cfg.Server.AuthToken,
		ReadHeaderTimeout: a.cfg.Server.ReadHeaderTimeout,
		RequestTimeout:    a.cfg.Server.RequestTimeout,
		Logger:            a.logger,
	}, a.cache, server.WithDeployer(a.deployer), server.WithStats(a.index))

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	a.logger.Info("server started",
		"address", srv.Address(),
		"policies", a.policies.Names(),
		"storage", a.cfg.Storage.Path,
	)

	select {
	case <-ctx.Done():
		a.logger.Info("received signal, shutting down")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	err = srv.Shutdown(shutdownCtx)
	if mErr := shutdownMetrics(shutdownCtx); mErr != nil {
		a.logger.Warn("shutting down metrics", "error", mErr)
	}
	return err
}

// CheckConfigCmd validates the configuration.
type CheckConfigCmd struct{}

func (c *CheckConfigCmd) Run(g *Globals) error {
	a, err := loadApp(g, os.Stderr)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	return printPolicies(os.Stdout, a)
}

func printPolicies(w io.Writer, a *app) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "POLICY\tREPOSITORIES")
	for _, name := range a.policies.Names() {
		bp, err := a.policies.Lookup(name)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\n", name, strings.Join(bp.RepositoryNames(), " -> "))
	}
	_, _ = fmt.Fprintln(tw)
	_, _ = fmt.Fprintln(tw, "REPOSITORY\tTYPE\tURL")
	for _, r := range a.cfg.Repositories {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Name, r.Type, r.URL)
	}
	return tw.Flush()
}

// FetchCmd resolves one file through the cache without starting a server.
type FetchCmd struct {
	Policy  string `arg:"" help:"Build policy name."`
	Path    string `arg:"" help:"Repository path, e.g. org/example/demo/1.0/demo-1.0.jar."`
	Output  string `short:"o" help:"Write the file here instead of stdout." type:"path"`
	Tracked bool   `help:"Resolve as a tracked artifact."`
}

func (f *FetchCmd) Run(g *Globals) error {
	a, err := loadApp(g, os.Stderr)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	// The index belongs to the server process.
	if err := a.open(false); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	req, err := artifactcache.ParseRepositoryPath(f.Path)
	if err != nil {
		return err
	}

	var res *artifactcache.ArtifactResult
	if req.Metadata {
		res, err = a.cache.FetchMetadata(ctx, f.Policy, req.Group, req.Coordinate.Target)
	} else {
		res, err = a.cache.FetchArtifact(ctx, f.Policy, req.Coordinate, f.Tracked)
	}
	if err != nil {
		return err
	}
	if res == nil {
		return fmt.Errorf("%s not found in policy %s", f.Path, f.Policy)
	}
	defer func() { _ = res.Close() }()

	var n int64
	if f.Output != "" {
		n, err = writeFile(f.Output, res.Data)
	} else {
		n, err = io.Copy(os.Stdout, res.Data)
	}
	if err != nil {
		return fmt.Errorf("writing %s: %w", f.Path, err)
	}
	a.logger.Info("fetched",
		"path", f.Path,
		"cache", res.Meta(artifactcache.MetaCache),
		"repository", res.Meta(artifactcache.MetaRepository),
		"bytes", n,
	)
	return nil
}

// writeFile copies r into a new file at name. A failed close is reported
// since buffered data may not have reached the disk.
func writeFile(name string, r io.Reader) (int64, error) {
	file, err := os.Create(name)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(file, r)
	if err != nil {
		_ = file.Close()
		return n, err
	}
	return n, file.Close()
}
