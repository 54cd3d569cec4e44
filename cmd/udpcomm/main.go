// SPDX-FileCopyrightText: Copyright (C) 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/katzenpost/communicator/internal/cli"
	"github.com/katzenpost/communicator/server"
	"github.com/katzenpost/communicator/server/config"
)

// Config holds the command line configuration
type Config struct {
	ConfigFile string
	GenOnly    bool
}

// newRootCommand creates the root cobra command
func newRootCommand() *cobra.Command {
	var cfg Config

	cmd := &cobra.Command{
		Use:   "udpcomm",
		Short: "UDP communicator daemon",
		Long: `The UDP communicator carries authenticated and encrypted datagrams
between peers over UDP/IP.

A first message to a peer goes out in a key exchange signed with our long
term identity key.  The receiving side provisions single use keys derived
from the exchanged secret and acknowledges them, after which messages are
sent in small, padded boxes, one key each.  Secrets are replaced in band
after a configurable time or volume of traffic.

Optionally the daemon announces its address on the local networks with
signed beacons, sent as IPv4 broadcasts and to the IPv6 multicast group
ff05::13b.`,
		Example: `  # Start the daemon with the default configuration file
  udpcomm

  # Start the daemon with a specific configuration file
  udpcomm -f /etc/udpcomm/udpcomm.toml

  # Generate the identity key and exit
  udpcomm -f /etc/udpcomm/udpcomm.toml --generate-only`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cfg)
		},
	}

	cmd.Flags().StringVarP(&cfg.ConfigFile, "config", "f", "udpcomm.toml",
		"path to the configuration file (TOML format)")
	cmd.Flags().BoolVarP(&cfg.GenOnly, "generate-only", "g", false,
		"generate the identity key and exit without starting the daemon")

	return cmd
}

func main() {
	cli.Execute(newRootCommand())
}

func runServer(cfg Config) error {
	if cfg.ConfigFile == "" {
		return fmt.Errorf("config file must be specified")
	}

	// Set the umask to something "paranoid".
	syscall.Umask(0077)

	serverCfg, err := config.LoadFile(cfg.ConfigFile, cfg.GenOnly)
	if err != nil {
		return fmt.Errorf("failed to load config file '%v': %v", cfg.ConfigFile, err)
	}

	// Setup the signal handling.
	haltCh := make(chan os.Signal, 1)
	signal.Notify(haltCh, os.Interrupt, syscall.SIGTERM)

	rotateCh := make(chan os.Signal, 1)
	signal.Notify(rotateCh, syscall.SIGHUP)

	// Start up the server.
	svr, err := server.New(serverCfg)
	if err != nil {
		if errors.Is(err, server.ErrGenerateOnly) {
			return nil
		}
		return fmt.Errorf("failed to spawn server instance: %v", err)
	}
	defer svr.Shutdown()

	// Halt the server gracefully on SIGINT/SIGTERM.
	go func() {
		<-haltCh
		svr.Shutdown()
	}()

	// Rotate server logs upon SIGHUP.
	go func() {
		for range rotateCh {
			svr.RotateLog()
		}
	}()

	// Wait for the server to explode or be terminated.
	svr.Wait()
	return nil
}
