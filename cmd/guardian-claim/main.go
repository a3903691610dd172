package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/guardian-os/device-provisioning/api"
	"github.com/guardian-os/device-provisioning/api/clients"
	"github.com/guardian-os/device-provisioning/artifacts"
	"github.com/guardian-os/device-provisioning/cmd/flags"
	"github.com/guardian-os/device-provisioning/common"
	"github.com/guardian-os/device-provisioning/fingerprint"
	"github.com/guardian-os/device-provisioning/handoff"
	"github.com/guardian-os/device-provisioning/interfaces"
	"github.com/guardian-os/device-provisioning/probe"
	"github.com/guardian-os/device-provisioning/provision"
	"github.com/guardian-os/device-provisioning/storage"
	"github.com/urfave/cli/v2"
)

var flagInterval = &cli.DurationFlag{
	Name:    "interval",
	Value:   5 * time.Minute,
	Usage:   "time between attempts",
	EnvVars: []string{"GUARDIAN_RETRY_INTERVAL"},
}

var flagHeartbeatInterval = &cli.DurationFlag{
	Name:    "interval",
	Usage:   "send heartbeats periodically instead of once",
	EnvVars: []string{"GUARDIAN_HEARTBEAT_INTERVAL"},
}

var flagDNSServer = &cli.StringFlag{
	Name:  "dns-server",
	Usage: "resolver to probe with, host:port (default: first nameserver of /etc/resolv.conf)",
}

func main() {
	app := &cli.App{
		Name:  "guardian-claim",
		Usage: "Bind a Guardian device to its parent account",
		Flags: append(flags.CommonFlags, flags.LogServiceFlagFn("guardian-claim")),
		Commands: []*cli.Command{
			{
				Name:  "authenticate",
				Usage: "Exchange parent credentials for a session handed to the claim stage",
				Flags: flags.CredentialFlags,
				Action: func(cCtx *cli.Context) error {
					p, err := newProvisioner(cCtx)
					if err != nil {
						return err
					}
					return p.Authenticate(cCtx.Context, credentials(cCtx))
				},
			},
			{
				Name:  "claim",
				Usage: "Claim the device with the session left by authenticate",
				Action: func(cCtx *cli.Context) error {
					p, err := newProvisioner(cCtx)
					if err != nil {
						return err
					}
					record, err := p.Claim(cCtx.Context)
					if err != nil {
						return err
					}
					printRecord(record)
					return nil
				},
			},
			{
				Name:  "install",
				Usage: "Authenticate and claim in one step",
				Flags: flags.CredentialFlags,
				Action: func(cCtx *cli.Context) error {
					p, err := newProvisioner(cCtx)
					if err != nil {
						return err
					}
					record, err := p.Run(cCtx.Context, credentials(cCtx))
					if err != nil {
						return err
					}
					printRecord(record)
					return nil
				},
			},
			{
				Name:  "reconcile",
				Usage: "Resume a deferred claim once",
				Flags: flags.CredentialFlags,
				Action: func(cCtx *cli.Context) error {
					p, err := newProvisioner(cCtx)
					if err != nil {
						return err
					}
					record, err := p.Reconcile(cCtx.Context, optionalCredentials(cCtx))
					if err != nil {
						return err
					}
					printRecord(record)
					return nil
				},
			},
			{
				Name:  "daemon",
				Usage: "Resume a deferred claim periodically until the device is claimed",
				Flags: append([]cli.Flag{flagInterval}, flags.CredentialFlags...),
				Action: func(cCtx *cli.Context) error {
					p, err := newProvisioner(cCtx)
					if err != nil {
						return err
					}

					ctx, stop := signal.NotifyContext(cCtx.Context, os.Interrupt, syscall.SIGTERM)
					defer stop()

					record, err := p.ReconcileUntilClaimed(ctx, optionalCredentials(cCtx), cCtx.Duration(flagInterval.Name))
					if errors.Is(err, context.Canceled) {
						p.Log.Info("Shutdown signal received, claim still pending")
						return nil
					}
					if err != nil {
						return err
					}
					printRecord(record)
					return nil
				},
			},
			{
				Name:  "heartbeat",
				Usage: "Report liveness of a claimed device",
				Flags: []cli.Flag{flagHeartbeatInterval},
				Action: func(cCtx *cli.Context) error {
					return heartbeat(cCtx)
				},
			},
			{
				Name:  "status",
				Usage: "Print the persisted claim state",
				Action: func(cCtx *cli.Context) error {
					logger := flags.SetupLogger(cCtx)
					store, err := storage.NewFileRecordStore(storage.RecordPathForRoot(flags.Root(cCtx)), logger)
					if err != nil {
						return err
					}
					record, err := store.Load(cCtx.Context)
					if err != nil {
						return err
					}
					printRecord(record)
					return nil
				},
			},
			{
				Name:  "fingerprint",
				Usage: "Print the device fingerprint and the signals it was derived from",
				Action: func(cCtx *cli.Context) error {
					logger := flags.SetupLogger(cCtx)
					deriver := fingerprint.NewHostDeriver(flags.Root(cCtx), logger)
					for _, source := range deriver.Sources {
						_, ok := source.Collect()
						fmt.Printf("%-14s %t\n", source.Name(), ok)
					}
					fmt.Println(deriver.Derive())
					return nil
				},
			},
			{
				Name:  "diagnose",
				Usage: "Check that the backend host resolves",
				Flags: []cli.Flag{flagDNSServer},
				Action: func(cCtx *cli.Context) error {
					cfg, err := flags.BackendConfig(cCtx)
					if err != nil {
						return err
					}
					resolver := probe.NewResolver(cCtx.String(flagDNSServer.Name), 5*time.Second)
					for _, endpoint := range []string{cfg.AuthLoginURL, cfg.ClaimURL, cfg.HeartbeatURL} {
						report := resolver.ProbeURL(cCtx.Context, endpoint)
						if report.Reachable() {
							fmt.Printf("ok    %s %v\n", report.URL, report.Addresses)
						} else {
							fmt.Printf("fail  %s %v\n", report.URL, report.Err)
						}
					}
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		var userErr *interfaces.UserError
		if errors.As(err, &userErr) {
			fmt.Fprintf(os.Stderr, "%s\n%s\n", userErr.Title, userErr.Detail)
			os.Exit(1)
		}
		log.Fatal(err)
	}
}

func newProvisioner(cCtx *cli.Context) (*provision.Provisioner, error) {
	logger := flags.SetupLogger(cCtx)
	root := flags.Root(cCtx)

	cfg, err := flags.BackendConfig(cCtx)
	if err != nil {
		return nil, err
	}

	store, err := storage.NewFileRecordStore(storage.RecordPathForRoot(root), logger)
	if err != nil {
		return nil, err
	}

	deriver := fingerprint.NewHostDeriver(root, logger)

	handoffPath := cCtx.String(flags.HandoffPathFlag.Name)
	if handoffPath == "" {
		handoffPath = handoff.DefaultPath()
	}

	return &provision.Provisioner{
		Deriver:       deriver,
		Authenticator: clients.NewAuthClient(cfg, logger),
		Claimer:       clients.NewClaimClient(cfg, logger),
		Store:         store,
		Artifacts:     artifacts.NewWriter(artifacts.DirForRoot(root), cfg, logger),
		Handoff:       handoff.NewFileHandoff(handoffPath, []byte(deriver.Derive()), logger),
		Log:           logger,
	}, nil
}

func credentials(cCtx *cli.Context) provision.Credentials {
	mode, email, password := flags.Credentials(cCtx)
	return provision.Credentials{Mode: mode, Email: email, Password: password}
}

func optionalCredentials(cCtx *cli.Context) *provision.Credentials {
	creds := credentials(cCtx)
	if creds.Email == "" || creds.Password == "" {
		return nil
	}
	return &creds
}

func heartbeat(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)

	cfg, err := flags.BackendConfig(cCtx)
	if err != nil {
		return err
	}

	env, err := artifacts.LoadDeviceEnv(artifacts.DirForRoot(flags.Root(cCtx)))
	if err != nil {
		return err
	}
	if !env.Claimed() {
		logger.Info("Device not claimed yet, skipping heartbeat")
		return nil
	}

	client := clients.NewHeartbeatClient(env.HeartbeatURL, cfg, logger)
	hostname, _ := os.Hostname()
	request := api.HeartbeatRequest{
		DeviceCode: env.DeviceCode,
		Hostname:   hostname,
		Version:    common.Version,
		Status:     "online",
	}

	interval := cCtx.Duration(flagHeartbeatInterval.Name)
	if interval <= 0 {
		return client.Send(cCtx.Context, env.DeviceJWT, request)
	}

	ctx, stop := signal.NotifyContext(cCtx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := client.Send(ctx, env.DeviceJWT, request); err != nil {
			logger.Warn("Heartbeat failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func printRecord(record interfaces.ReconciliationRecord) {
	fmt.Printf("state:       %s\n", record.State)
	if record.Fingerprint != "" {
		fmt.Printf("fingerprint: %s\n", record.Fingerprint)
	}
	if record.ParentEmail != "" {
		fmt.Printf("parent:      %s\n", record.ParentEmail)
	}
	switch record.State {
	case interfaces.StateClaimed:
		fmt.Printf("device code: %s\n", record.DeviceCode)
		fmt.Printf("claimed at:  %s\n", record.ClaimedAt.Format(time.RFC3339))
	case interfaces.StateClaimPending:
		fmt.Printf("queued at:   %s\n", record.QueuedAt.Format(time.RFC3339))
		fmt.Printf("reason:      %s\n", record.PendingReason)
	}
}
