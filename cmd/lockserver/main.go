package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/quicklock/lock-pairing-backend/actuator"
	"github.com/quicklock/lock-pairing-backend/cmd/flags"
	"github.com/quicklock/lock-pairing-backend/cryptoutils"
	"github.com/quicklock/lock-pairing-backend/httpserver"
	"github.com/quicklock/lock-pairing-backend/interfaces"
	"github.com/quicklock/lock-pairing-backend/pairing"
	"github.com/quicklock/lock-pairing-backend/registry"
	"github.com/quicklock/lock-pairing-backend/storage"
	"github.com/quicklock/lock-pairing-backend/unlock"
)

var cliFlags = append([]cli.Flag{
	flags.ListenAddrFlag,
	flags.StorageFlag,
	&cli.StringFlag{
		Name:     "entities-config",
		Required: true,
		Usage:    "YAML file mapping lock entity ids to Home Assistant entities",
	},
	&cli.StringFlag{
		Name:     "ha-url",
		Required: true,
		Usage:    "Home Assistant base URL, e.g. http://homeassistant.local:8123",
	},
	&cli.StringFlag{
		Name:    "ha-token",
		EnvVars: []string{"LOCKD_HA_TOKEN"},
		Usage:   "Home Assistant long-lived access token",
	},
	&cli.StringFlag{
		Name:  "attestation-roots",
		Usage: "PEM file with trusted hardware attestation root certificates; omit to run with a development root that accepts only locally issued chains",
	},
	&cli.DurationFlag{
		Name:  "grace-window",
		Value: 5 * time.Minute,
		Usage: "challenge freshness and clock skew tolerance",
	},
	&cli.DurationFlag{
		Name:  "relock-delay",
		Value: 3 * time.Second,
		Usage: "how long an unlock stays open before the automatic re-lock",
	},
	&cli.DurationFlag{
		Name:  "initial-device-validity",
		Value: 365 * 24 * time.Hour,
		Usage: "access lifetime of the initially enrolled device",
	},
}, flags.CommonFlags...)

func main() {
	app := &cli.App{
		Name:   "lockserver",
		Usage:  "Serve the lock pairing and unlock authorization API",
		Flags:  cliFlags,
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)

	entities, err := actuator.LoadEntities(cCtx.String("entities-config"))
	if err != nil {
		logger.Error("Failed to load entity config", "err", err)
		return err
	}
	entityIDs := make([]interfaces.EntityID, 0, len(entities))
	for id := range entities {
		entityIDs = append(entityIDs, id)
	}

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

	deviceRegistry, err := registry.NewPersistentRegistry(context.Background(), backend, logger)
	if err != nil {
		logger.Error("Failed to load device registry", "err", err)
		return err
	}

	verifier, err := buildVerifier(cCtx, logger)
	if err != nil {
		return err
	}

	pairingCoord := pairing.NewCoordinator(deviceRegistry, verifier, pairing.Config{
		GraceWindow:           cCtx.Duration("grace-window"),
		InitialDeviceValidity: cCtx.Duration("initial-device-validity"),
	}, logger)

	haClient := actuator.NewHomeAssistantClient(
		cCtx.String("ha-url"), cCtx.String("ha-token"), entities, logger)

	unlockCoord := unlock.NewCoordinator(deviceRegistry, haClient, entityIDs, unlock.Config{
		GraceWindow: cCtx.Duration("grace-window"),
		RelockDelay: cCtx.Duration("relock-delay"),
	}, logger)

	handler := httpserver.NewHandler(pairingCoord, unlockCoord, entities, logger).
		WithSecretDisplay(func(secret string) {
			// Stands in for the QR display on the lock hardware.
			fmt.Printf("pairing secret: %s\n", secret)
		})

	srv, err := httpserver.New(flags.ConfigureServer(cCtx, logger), handler)
	if err != nil {
		logger.Error("Failed to create server", "err", err)
		return err
	}
	srv.RunInBackground()

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

	logger.Info("Server is running, press Ctrl+C to stop")
	<-exit
	logger.Info("Shutdown signal received")

	srv.Shutdown()
	logger.Info("Server shutdown complete")
	return nil
}

func buildVerifier(cCtx *cli.Context, logger *slog.Logger) (interfaces.AttestationVerifier, error) {
	grace := cCtx.Duration("grace-window")

	if rootsFile := cCtx.String("attestation-roots"); rootsFile != "" {
		pemData, err := os.ReadFile(rootsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read attestation roots: %w", err)
		}
		roots, err := cryptoutils.LoadTrustedRootsPEM(pemData)
		if err != nil {
			return nil, err
		}
		return cryptoutils.NewAttestationVerifier(roots, grace), nil
	}

	logger.Warn("No attestation roots configured, using development attestation root")
	provider, err := cryptoutils.NewDevAttestationProvider()
	if err != nil {
		return nil, err
	}
	return cryptoutils.NewAttestationVerifier([][]byte{provider.Root()}, grace), nil
}
