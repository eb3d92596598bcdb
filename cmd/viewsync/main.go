// Copyright 2025 Viewsync Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v2"

	"github.com/viewsync/viewsync/internal/api"
	"github.com/viewsync/viewsync/internal/config"
	"github.com/viewsync/viewsync/internal/docmap"
	"github.com/viewsync/viewsync/internal/metrics"
	"github.com/viewsync/viewsync/internal/mzstream"
	"github.com/viewsync/viewsync/internal/sink"
	"github.com/viewsync/viewsync/internal/worker"
)

var (
	// Version is injected at build time.
	Version   = "dev"
	DateBuilt = "unknown"
)

const shutdownTimeout = 5 * time.Second

func main() {
	app := &cli.App{
		Name:    "viewsync",
		Usage:   "keep search indexes continuously in sync with streaming SQL views",
		Version: fmt.Sprintf("%s (built %s)", Version, DateBuilt),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the configuration file",
				Value:   "viewsync.yaml",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn or error",
				Value: "info",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "text or json",
				Value: "text",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "start syncing all configured views",
				Action: runAction,
			},
			{
				Name:   "check",
				Usage:  "validate the configuration and exit",
				Action: checkAction,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func checkAction(c *cli.Context) error {
	if _, err := config.Load(c.String("config")); err != nil {
		return err
	}
	fmt.Println("configuration ok")
	return nil
}

func runAction(c *cli.Context) error {
	conf, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	log, err := buildLogger(c.String("log-level"), c.String("log-format"))
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	dest, err := buildSink(conf, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := dest.Close(context.Background()); err != nil {
			log.Warn("closing sink", "error", err)
		}
	}()

	tuning := worker.Tuning{
		FetchSize:      conf.Tuning.FetchSize,
		BackoffInitial: conf.Tuning.BackoffInitial.Std(),
		BackoffMax:     conf.Tuning.BackoffMax.Std(),
		FlushRetries:   conf.Tuning.FlushRetries,
		FlushBackoff:   conf.Tuning.FlushBackoff.Std(),
		HighWatermark:  conf.Tuning.HighWatermark,
		LowWatermark:   conf.Tuning.LowWatermark,
	}
	sourceConf := mzstream.Config{
		Host:        conf.Source.Host,
		Port:        conf.Source.Port,
		User:        conf.Source.User,
		Password:    conf.Source.Password,
		Database:    conf.Source.Database,
		Cluster:     conf.Source.Cluster,
		TLS:         conf.Source.TLS,
		PollTimeout: conf.Tuning.PollTimeout.Std(),
		Logger:      log.With("component", "mzstream"),
	}
	connector := worker.NewSourceConnector(sourceConf)

	workers := make([]*worker.Worker, 0, len(conf.Syncs))
	for _, sc := range conf.Syncs {
		mapping := docmap.Mapping{
			IDColumn: sc.IDColumn,
			Drop:     sc.Drop,
			Rename:   sc.Rename,
		}
		w := worker.New(
			worker.Sync{
				View:        sc.View,
				Index:       sc.Index,
				Schema:      sc.Schema,
				Transform:   mapping.Transform(),
				Consolidate: sc.Consolidate,
			},
			connector,
			dest,
			tuning,
			worker.WithLogger(log.With("component", "worker")),
			worker.WithMetrics(m.ForIndex(sc.Index)),
		)
		workers = append(workers, w)
	}

	statsFn := func() []api.WorkerStatus {
		out := make([]api.WorkerStatus, 0, len(workers))
		for _, w := range workers {
			out = append(out, api.WorkerStatus{Index: w.Index(), Stats: w.Stats()})
		}
		return out
	}
	admin := &http.Server{
		Addr:    conf.Admin.Address,
		Handler: api.NewRouter(statsFn, registry),
	}
	go func() {
		log.Info("admin API listening", "address", conf.Admin.Address)
		if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("admin API failed", "error", err)
		}
	}()

	// Workers stop through their own cooperative flag, never through
	// context cancellation, so in-flight flushes complete on shutdown.
	runErrs := make(chan error, len(workers))
	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w *worker.Worker) {
			defer wg.Done()
			if err := w.Run(context.Background()); err != nil {
				runErrs <- fmt.Errorf("worker for index %q: %w", w.Index(), err)
			}
		}(w)
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var fatal error
	select {
	case <-sigCtx.Done():
		log.Info("shutdown signal received")
	case fatal = <-runErrs:
		log.Error("worker aborted", "error", fatal)
	}

	for _, w := range workers {
		w.Stop()
	}
	wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := admin.Shutdown(shutdownCtx); err != nil {
		log.Warn("admin API shutdown", "error", err)
	}
	return fatal
}

func buildLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch format {
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
}

func buildSink(conf *config.Config, log *slog.Logger) (sink.Sink, error) {
	switch conf.Sink.Type {
	case "elasticsearch":
		return sink.NewElasticsearch(sink.ElasticsearchConfig{
			URLs:     conf.Sink.URLs,
			Username: conf.Sink.Username,
			Password: conf.Sink.Password,
		}, log.With("component", "sink"))
	case "opensearch":
		return sink.NewOpenSearch(sink.OpenSearchConfig{
			URLs:     conf.Sink.URLs,
			Username: conf.Sink.Username,
			Password: conf.Sink.Password,
		}, log.With("component", "sink"))
	case "memory":
		return sink.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown sink type %q", conf.Sink.Type)
	}
}
