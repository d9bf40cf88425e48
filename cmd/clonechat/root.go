package main

import (
	"github.com/spf13/cobra"
)

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	config  string
	envFile string
	verbose bool
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	cmd := &cobra.Command{
		Use:           "clonechat",
		Short:         "Clone, download and publish Telegram chat content",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&g.config, "config", "", "TOML config file (default clonechat.toml)")
	cmd.PersistentFlags().StringVar(&g.envFile, "env-file", "", "environment file (default .env)")
	cmd.PersistentFlags().BoolVar(&g.verbose, "verbose", false, "enable debug logging")

	cmd.AddCommand(
		newSyncCmd(g),
		newDownloadCmd(g),
		newPublishCmd(g),
		newListChatsCmd(g),
		newListTopicsCmd(g),
		newTestResolveCmd(g),
		newInitDatabaseCmd(g),
		newVersionCmd(),
	)
	return cmd
}
