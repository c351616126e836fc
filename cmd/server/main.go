package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "wiresignal",
		Short:         "WebRTC signaling relay with buffered message expiry",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "path to config file (default $WIRESIGNAL_CONFIG_DEFAULT_PATH or ./config.yaml)")

	root.AddCommand(newServeCmd(), newTokenCmd())
	return root
}
