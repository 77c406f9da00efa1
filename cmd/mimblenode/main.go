// Command mimblenode is a thin operational CLI over the storage/consensus
// engine in pkg/chain and pkg/txpool: it opens a data directory exactly the
// way a long-running node would and runs a single inspection or maintenance
// operation against it, rather than serving any network interface.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mimblenode/node/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var dataDir string
	var logLevel string

	root := &cobra.Command{
		Use:   "mimblenode",
		Short: "Inspect and maintain a mimblenode chain-storage data directory",
	}
	root.PersistentFlags().StringVar(&dataDir, "data-dir", "./mimblenode-data", "chain data directory")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	cfgFor := func() config.Config {
		cfg := config.Default(dataDir)
		cfg.LogLevel = logLevel
		return cfg
	}

	root.AddCommand(newRootsCmd(cfgFor))
	root.AddCommand(newCompactCmd(cfgFor))
	root.AddCommand(newPoolStatusCmd(cfgFor))
	return root
}
