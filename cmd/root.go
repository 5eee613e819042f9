package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/ttlKV/cmd/kv"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "ttlkv",
		Short: "embedded key-value store with key expiry",
		Long: fmt.Sprintf(`ttlKV (v%s)

An embedded, typed key-value store written in Go that tracks an expiry
for every key and reports expired keys in expiry order.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of ttlKV",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("ttlKV v%s\n", Version)
		},
	}
)

func init() {
	RootCmd.AddCommand(kv.KeyValueCommands)
	RootCmd.AddCommand(versionCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
