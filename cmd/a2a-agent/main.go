// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

// Command a2a-agent serves an agent over the A2A protocol and talks to
// A2A agents from the command line.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	a2a "github.com/go-a2a/a2a-coordinator"
	"github.com/go-a2a/a2a-coordinator/internal/config"
)

func init() {
	// Enable the use of the random pool for UUID generation.
	uuid.EnableRandPool()
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// newRootCommand creates the root cobra command.
func newRootCommand() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "a2a-agent",
		Short: "Serve and talk to agents over the A2A protocol",
		Long: `a2a-agent runs an agent behind the A2A JSON-RPC protocol and offers
client commands for sending tasks and receiving push notifications.

EXAMPLES:
  a2a-agent serve                              # echo agent on localhost:10000
  a2a-agent serve --config a2a-agent.yaml      # agent and server from YAML
  a2a-agent send --url http://localhost:10000 "hello"
  a2a-agent send --stream "hello"
  a2a-agent listen --agent-url http://localhost:10000`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultConfigFile, "Path to the YAML configuration file")

	rootCmd.AddCommand(newServeCommand(&configPath))
	rootCmd.AddCommand(newSendCommand())
	rootCmd.AddCommand(newListenCommand())
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the A2A protocol version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "a2a-agent (A2A protocol %s)\n", a2a.Version)
		},
	}
}
