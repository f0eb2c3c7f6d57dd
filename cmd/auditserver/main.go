package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/quicklock/lock-pairing-backend/audit"
	"github.com/quicklock/lock-pairing-backend/cmd/flags"
	"github.com/quicklock/lock-pairing-backend/interfaces"
	"github.com/quicklock/lock-pairing-backend/metrics"
	"github.com/quicklock/lock-pairing-backend/storage"
)

var cliFlags = append([]cli.Flag{
	&cli.StringFlag{
		Name:  "listen-addr",
		Value: "127.0.0.1:8081",
		Usage: "address to listen on for the audit API",
	},
	flags.StorageFlag,
}, flags.CommonFlags...)

func main() {
	app := &cli.App{
		Name:   "auditserver",
		Usage:  "Serve the audit co-signing API",
		Flags:  cliFlags,
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)

	storageFactory := storage.NewStorageBackendFactory(logger)
	locations := make([]interfaces.StorageBackendLocation, 0)
	for _, uri := range cCtx.StringSlice(flags.StorageFlag.Name) {
		locations = append(locations, interfaces.StorageBackendLocation(uri))
	}
	backend, err := storageFactory.CreateMultiBackend(locations)
	if err != nil {
		logger.Error("Failed to create storage backend", "err", err)
		return err
	}

	cosigner := audit.NewCosigner(backend, logger)
	srv := &http.Server{
		Addr:         cCtx.String("listen-addr"),
		Handler:      audit.NewServer(cosigner, logger).Handler(),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	var metricsSrv *http.Server
	if addr := cCtx.String(flags.MetricsAddrFlag.Name); addr != "" {
		metricsSrv = metrics.NewServer(addr)
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server failed", "err", err)
			}
		}()
	}

	go func() {
		logger.Info("Audit server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", "err", err)
		}
	}()

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, os.Interrupt, syscall.SIGTERM)
	<-exit
	logger.Info("Shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Graceful shutdown failed", "err", err)
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(ctx)
	}
	logger.Info("Server shutdown complete")
	return nil
}
