// Command sessionindex indexes AI coding-agent transcript logs and serves
// search and daily statistics over MCP.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dshills/sessionindex/internal/storage"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

// rootOptions are the persistent flags shared by every subcommand
type rootOptions struct {
	configPath string
	dbPath     string
	logLevel   string
}

func main() {
	if err := rootCMD().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCMD() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "sessionindex",
		Short:         "Index and search AI coding-agent session logs",
		Version:       fmt.Sprintf("%s (built %s, %s build, driver %s)", version, buildTime, storage.BuildMode, storage.DriverName),
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default ./config.yaml or ~/.sessionindex/config.yaml)")
	root.PersistentFlags().StringVar(&opts.dbPath, "db", "", "index database path (overrides db_path)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error (overrides log.level)")

	root.AddCommand(
		serveCMD(opts),
		refreshCMD(opts),
		rebuildCMD(opts),
		statusCMD(opts),
		searchCMD(opts),
		rollupsCMD(opts),
		migrateCMD(opts),
	)
	return root
}
