package main

import (
	"github.com/spf13/cobra"
	"tools.zach/dev/protoncord/internal/paths"
	"tools.zach/dev/protoncord/internal/scanner"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configDir  string
	runtimeDir string
	procRoot   string
}

func (g *globalFlags) configPaths() paths.ConfigDir {
	return paths.ConfigDir{Root: g.configDir}
}

func (g *globalFlags) runtimePaths() paths.RuntimeDir {
	return paths.RuntimeDir{Root: g.runtimeDir}
}

// newRootCmd builds the command tree. The root command runs the daemon.
func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	var foreground bool

	root := &cobra.Command{
		Use:           "protoncord",
		Short:         "Show Steam Proton games as Discord Rich Presence",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context(), g, foreground)
		},
	}

	root.PersistentFlags().StringVar(&g.configDir, "config-dir", paths.DefaultConfigDir(), "directory holding config.toml")
	root.PersistentFlags().StringVar(&g.runtimeDir, "runtime-dir", paths.DefaultRuntimeDir(), "directory for the PID file, log and page cache")
	root.PersistentFlags().StringVar(&g.procRoot, "proc-root", scanner.DefaultRoot, "procfs mount point")
	_ = root.PersistentFlags().MarkHidden("proc-root")
	root.Flags().BoolVar(&foreground, "foreground", false, "also write log records to stderr")

	root.AddCommand(
		newScanCmd(g),
		newResolveCmd(g),
		newLogsCmd(g),
		newVersionCmd(),
	)
	return root
}
