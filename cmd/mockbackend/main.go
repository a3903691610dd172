package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/guardian-os/device-provisioning/api/backendmock"
	"github.com/guardian-os/device-provisioning/cmd/flags"
	"github.com/guardian-os/device-provisioning/httpserver"
	"github.com/urfave/cli/v2"
)

var flagListenAddr = &cli.StringFlag{
	Name:    "listen-addr",
	Value:   "127.0.0.1:8080",
	Usage:   "address to listen on for API",
	EnvVars: []string{"MOCKBACKEND_LISTEN_ADDR"},
}

var flagParents = &cli.StringSliceFlag{
	Name:    "parent",
	Usage:   "pre-registered parent account as email:password, may be repeated",
	EnvVars: []string{"MOCKBACKEND_PARENTS"},
}

func main() {
	app := &cli.App{
		Name:  "mockbackend",
		Usage: "Serve a local fake of the family backend for installer development",
		Flags: append([]cli.Flag{flagListenAddr, flagParents, flags.LogServiceFlagFn("mockbackend")}, flags.ServerFlags...),
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)

			backend := backendmock.New(logger)
			for _, parent := range cCtx.StringSlice(flagParents.Name) {
				email, password, ok := strings.Cut(parent, ":")
				if !ok || email == "" {
					return fmt.Errorf("invalid parent %q, expected email:password", parent)
				}
				backend.AddParent(email, password)
				logger.Info("Parent account added", "email", email)
			}

			cfg := flags.ConfigureServer(cCtx, logger, cCtx.String(flagListenAddr.Name))
			server := httpserver.New(cfg, backend)

			logger.Info("Starting server")
			server.RunInBackground()

			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

			logger.Info("Server is running, press Ctrl+C to stop",
				"supabase_url", "http://"+cfg.ListenAddr)
			<-exit
			logger.Info("Shutdown signal received")

			server.Shutdown()
			logger.Info("Server shutdown complete")

			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
