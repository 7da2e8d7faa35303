package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"tools.zach/dev/protoncord/internal/config"
	"tools.zach/dev/protoncord/internal/logger"
	"tools.zach/dev/protoncord/internal/store"
)

// ///////////////////////////////////////////////
// scan
// ///////////////////////////////////////////////

func newScanCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "List running Proton games once and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(g.configDir)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			handles, err := newScanner(cfg, g.procRoot).Scan()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(handles) == 0 {
				fmt.Fprintln(out, "no Proton games running")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PID\tAPP ID\tSTARTED\tIGNORED\tEXECUTABLE")
			for _, h := range handles {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%t\t%s\n",
					h.PID, h.Identifier,
					h.StartTime.Local().Format(time.DateTime),
					cfg.IsIgnored(h.Identifier, h.Executable),
					h.Executable,
				)
			}
			return tw.Flush()
		},
	}
}

// ///////////////////////////////////////////////
// resolve
// ///////////////////////////////////////////////

func newResolveCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <app-id>",
		Short: "Look up a Steam app in the store and print its metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(g.configDir)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			client, err := store.NewClient(storeOptions(cfg, g.runtimePaths()))
			if err != nil {
				return fmt.Errorf("create store client: %w", err)
			}
			e, err := client.Resolve(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "app id\t%s\n", e.Identifier)
			fmt.Fprintf(tw, "title\t%s\n", e.Title)
			fmt.Fprintf(tw, "icon\t%s\n", e.IconURL)
			fmt.Fprintf(tw, "header\t%s\n", e.HeaderURL)
			fmt.Fprintf(tw, "poster\t%s\n", e.PosterURL)
			return tw.Flush()
		},
	}
}

// ///////////////////////////////////////////////
// logs
// ///////////////////////////////////////////////

func newLogsCmd(g *globalFlags) *cobra.Command {
	var lines int
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the end of the daemon log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tail, err := logger.ReadTail(g.runtimePaths().Log(), lines)
			if err != nil {
				return fmt.Errorf("read log: %w", err)
			}
			if tail != "" {
				fmt.Fprintln(cmd.OutOrStdout(), tail)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "number of lines to print")
	return cmd
}

// ///////////////////////////////////////////////
// version
// ///////////////////////////////////////////////

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "protoncord", resolveVersion())
		},
	}
}
