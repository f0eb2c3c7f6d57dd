package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/quicklock/lock-pairing-backend/api/clients"
	"github.com/quicklock/lock-pairing-backend/audit"
	"github.com/quicklock/lock-pairing-backend/cryptoutils"
	"github.com/quicklock/lock-pairing-backend/interfaces"
)

var flagState = &cli.StringFlag{
	Name:  "state",
	Value: "lockctl-state.json",
	Usage: "path of the device identity file",
}
var flagLockURL = &cli.StringFlag{
	Name:  "lock-url",
	Value: "http://127.0.0.1:8080",
	Usage: "lock server address",
}
var flagAuditURL = &cli.StringFlag{
	Name:  "audit-url",
	Value: "http://127.0.0.1:8081",
	Usage: "audit co-signer address",
}
var flagEntity = &cli.StringFlag{
	Name:     "entity",
	Required: true,
	Usage:    "lock entity id",
}
var flagChallengeID = &cli.StringFlag{
	Name:     "challenge-id",
	Required: true,
	Usage:    "pairing challenge id",
}

func main() {
	app := &cli.App{
		Name:  "lockctl",
		Usage: "Pair with a lock server and request unlocks",
		Flags: []cli.Flag{
			flagState,
			flagLockURL,
			flagAuditURL,
		},
		Commands: []*cli.Command{
			{
				Name:   "init",
				Usage:  "Generate a device identity and register with the audit co-signer",
				Action: runInit,
			},
			{
				Name:  "pair-initial",
				Usage: "Enroll as the first device using the secret shown by the lock",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "secret",
						Required: true,
						Usage:    "one-time pairing secret from the lock's display",
					},
				},
				Action: runPairInitial,
			},
			{
				Name:   "pair-delegated",
				Usage:  "Request enrollment and wait for an existing device to approve",
				Action: runPairDelegated,
			},
			{
				Name:  "approve",
				Usage: "Approve a pending delegated enrollment",
				Flags: []cli.Flag{
					flagChallengeID,
					&cli.DurationFlag{
						Name:  "valid-for",
						Value: 30 * 24 * time.Hour,
						Usage: "access lifetime granted to the new device",
					},
					&cli.StringSliceFlag{
						Name:  "allow-entity",
						Usage: "entity the new device may unlock; repeat for several, omit to grant your own access",
					},
				},
				Action: runApprove,
			},
			{
				Name:   "unlock",
				Usage:  "Unlock an entity",
				Flags:  []cli.Flag{flagEntity},
				Action: runUnlock,
			},
			{
				Name:   "entities",
				Usage:  "List the lock entities the server exposes",
				Action: runEntities,
			},
			{
				Name:   "logs",
				Usage:  "Show this device's co-signed audit log",
				Action: runLogs,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func loadClient(cCtx *cli.Context) (*clients.DeviceClient, error) {
	attestor, err := cryptoutils.NewDevAttestationProvider()
	if err != nil {
		return nil, err
	}
	return clients.LoadDeviceClient(
		cCtx.String(flagState.Name),
		cCtx.String(flagLockURL.Name),
		attestor,
		audit.NewClient(cCtx.String(flagAuditURL.Name)),
	)
}

func runInit(cCtx *cli.Context) error {
	statePath := cCtx.String(flagState.Name)
	if _, err := os.Stat(statePath); err == nil {
		return fmt.Errorf("device state %s already exists", statePath)
	}

	attestor, err := cryptoutils.NewDevAttestationProvider()
	if err != nil {
		return err
	}
	device, err := clients.NewDeviceClient(
		cCtx.String(flagLockURL.Name), attestor, audit.NewClient(cCtx.String(flagAuditURL.Name)))
	if err != nil {
		return err
	}
	if err := device.RegisterAudit(cCtx.Context); err != nil {
		return err
	}
	if err := device.SaveState(statePath); err != nil {
		return err
	}

	fmt.Printf("device id: %s\n", device.DeviceID())
	return nil
}

func runPairInitial(cCtx *cli.Context) error {
	device, err := loadClient(cCtx)
	if err != nil {
		return err
	}

	deviceID, err := device.PairInitial(cCtx.Context, cCtx.String("secret"))
	if err != nil {
		return err
	}
	fmt.Printf("paired as %s\n", deviceID)
	return nil
}

func runPairDelegated(cCtx *cli.Context) error {
	device, err := loadClient(cCtx)
	if err != nil {
		return err
	}

	challengeID, err := device.StartDelegatedPairing(cCtx.Context)
	if err != nil {
		return err
	}
	fmt.Printf("challenge id: %s\n", challengeID)
	fmt.Println("waiting for approval from an already paired device...")

	ctx, cancel := context.WithTimeout(cCtx.Context, 5*time.Minute)
	defer cancel()
	status, err := device.PollPairStatus(ctx, challengeID, 2*time.Second, 150)
	if err != nil {
		return err
	}
	if status != interfaces.StatusCommitted {
		return fmt.Errorf("pairing not approved: status %s", status)
	}
	fmt.Printf("paired as %s\n", device.DeviceID())
	return nil
}

func runApprove(cCtx *cli.Context) error {
	device, err := loadClient(cCtx)
	if err != nil {
		return err
	}

	var entities []interfaces.EntityID
	for _, e := range cCtx.StringSlice("allow-entity") {
		entities = append(entities, interfaces.EntityID(e))
	}
	expiresAt := time.Now().Add(cCtx.Duration("valid-for")).UnixMilli()

	grantedID, err := device.ApproveDelegation(
		cCtx.Context, interfaces.ChallengeID(cCtx.String(flagChallengeID.Name)), expiresAt, entities)
	if err != nil {
		return err
	}
	fmt.Printf("approved device %s\n", grantedID)
	return nil
}

func runUnlock(cCtx *cli.Context) error {
	device, err := loadClient(cCtx)
	if err != nil {
		return err
	}

	entity := interfaces.EntityID(cCtx.String(flagEntity.Name))
	if err := device.Unlock(cCtx.Context, entity); err != nil {
		return err
	}
	fmt.Printf("unlocked %s\n", entity)
	return nil
}

func runEntities(cCtx *cli.Context) error {
	device, err := loadClient(cCtx)
	if err != nil {
		return err
	}

	entities, err := device.Entities(cCtx.Context)
	if err != nil {
		return err
	}
	for _, e := range entities {
		fmt.Printf("%s\t%s\n", e.ID, e.Name)
	}
	return nil
}

func runLogs(cCtx *cli.Context) error {
	device, err := loadClient(cCtx)
	if err != nil {
		return err
	}

	auditClient := audit.NewClient(cCtx.String(flagAuditURL.Name))
	events, err := auditClient.Logs(cCtx.Context, string(device.DeviceID()))
	if err != nil {
		return err
	}
	for _, e := range events {
		fmt.Printf("%s\t%s\t%x\n", time.UnixMilli(e.Timestamp).Format(time.RFC3339), e.ID, e.EnvelopeHash)
	}
	return nil
}
