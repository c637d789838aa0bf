package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show daemon health, capabilities and worker tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			health, err := ctx.client().Health(cmd.Context())
			if err != nil {
				return ctx.wrapDaemonError(err)
			}
			if done, err := writeStructured(cmd, ctx, health); done {
				return err
			}

			stdout := cmd.OutOrStdout()
			colorize := shouldColorize(stdout)

			for _, line := range renderSectionHeader("Daemon", colorize) {
				fmt.Fprintln(stdout, line)
			}
			fmt.Fprintln(stdout, renderStatusLine("API", statusOK, ctx.apiAddress(), colorize))
			fmt.Fprintln(stdout, renderStatusLine("Upload dir", statusInfo, health.TempDir, colorize))
			fmt.Fprintln(stdout, renderStatusLine("Artifact dir", statusInfo, health.FinalDir, colorize))
			if health.FreeBytes > 0 {
				fmt.Fprintln(stdout, renderStatusLine("Free space", statusInfo, formatBytes(health.FreeBytes), colorize))
			}
			fmt.Fprintln(stdout)

			for _, line := range renderSectionHeader("Capabilities", colorize) {
				fmt.Fprintln(stdout, line)
			}
			for _, capability := range health.Capabilities {
				fmt.Fprintln(stdout, renderStatusLine(capability.Name, capabilityKind(capability), capability.Detail, colorize))
			}

			if len(health.Tasks) == 0 {
				return nil
			}
			fmt.Fprintln(stdout)
			rows := make([][]string, 0, len(health.Tasks))
			for _, task := range health.Tasks {
				started := ""
				if !task.StartedAt.IsZero() {
					started = task.StartedAt.Local().Format(time.DateTime)
				}
				rows = append(rows, []string{task.Pool, task.Key, task.Kind, string(task.State), started, task.Error})
			}
			fmt.Fprintln(stdout, renderTable(
				[]string{"Pool", "Key", "Kind", "State", "Started", "Error"},
				rows,
				nil,
			))
			return nil
		},
	}
}
