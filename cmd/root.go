// File: cmd/root.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/momentics/hioload-reactor/cmd/serve"
)

const Version = "1.0.0"

var (
	// RootCmd represents the base command when called without subcommands
	RootCmd = &cobra.Command{
		Use:   "hioload-reactor",
		Short: "non-blocking TCP connection reactor",
		Long: fmt.Sprintf(`hioload-reactor (v%s)

A non-blocking TCP endpoint built on epoll: acceptor and poller loops,
pooled per-connection state, optional TLS handshake stepping and
zero-copy sendfile, with protocol logic plugged in behind a handler
interface.`, Version),
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of hioload-reactor",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("hioload-reactor v%s\n", Version)
		},
	}
)

func init() {
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(versionCmd)
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
