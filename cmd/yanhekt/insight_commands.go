package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/yang-kun-long/YanheKt-AI/internal/api"
	"github.com/yang-kun-long/YanheKt-AI/internal/objectid"
)

func newInsightCommands(ctx *commandContext) []*cobra.Command {
	startCmd := &cobra.Command{
		Use:   "start <objectId>",
		Short: "Launch an insight run for a merged recording",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			objectID, err := objectIDArg(args[0])
			if err != nil {
				return err
			}
			resp, err := ctx.client().Start(cmd.Context(), objectID)
			if err != nil {
				return ctx.wrapDaemonError(err)
			}
			if done, err := writeStructured(cmd, ctx, resp); done {
				return err
			}
			stdout := cmd.OutOrStdout()
			if resp.Stage != "" && resp.Progress != nil {
				fmt.Fprintf(stdout, "Run already in progress: %s (%s)\n", resp.Stage, formatProgress(*resp.Progress))
				return nil
			}
			fmt.Fprintf(stdout, "Insight run started for %s\n", objectID)
			return nil
		},
	}

	resumeCmd := &cobra.Command{
		Use:   "resume <objectId>",
		Short: "Resume an interrupted insight run from its last checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			objectID, err := objectIDArg(args[0])
			if err != nil {
				return err
			}
			if err := ctx.client().Resume(cmd.Context(), objectID); err != nil {
				return ctx.wrapDaemonError(err)
			}
			if done, err := writeStructured(cmd, ctx, api.OKResponse{OK: true}); done {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Resume requested for %s\n", objectID)
			return nil
		},
	}

	refreshCmd := &cobra.Command{
		Use:   "refresh <objectId>",
		Short: "Check the transcription task once and record result URLs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			objectID, err := objectIDArg(args[0])
			if err != nil {
				return err
			}
			resp, err := ctx.client().Refresh(cmd.Context(), objectID)
			if err != nil {
				return ctx.wrapDaemonError(err)
			}
			if done, err := writeStructured(cmd, ctx, resp); done {
				return err
			}
			stdout := cmd.OutOrStdout()
			status := resp.TaskStatus
			if status == "" {
				status = "no task"
			}
			fmt.Fprintf(stdout, "Task status: %s\n", status)
			keys := make([]string, 0, len(resp.Result))
			for k := range resp.Result {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(stdout, "  %s: %s\n", k, resp.Result[k])
			}
			return nil
		},
	}

	statusCmd := &cobra.Command{
		Use:     "status <objectId>",
		Aliases: []string{"show"},
		Short:   "Show the insight status of one recording",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			objectID, err := objectIDArg(args[0])
			if err != nil {
				return err
			}
			status, err := ctx.client().Status(cmd.Context(), objectID)
			if err != nil {
				return ctx.wrapDaemonError(err)
			}
			if done, err := writeStructured(cmd, ctx, status); done {
				return err
			}
			stdout := cmd.OutOrStdout()
			colorize := shouldColorize(stdout)
			for _, line := range renderSectionHeader("Insight "+status.ObjectID, colorize) {
				fmt.Fprintln(stdout, line)
			}
			fmt.Fprintln(stdout, renderStatusLine("Stage", stageKind(status.Stage), status.Stage, colorize))
			fmt.Fprintln(stdout, renderStatusLine("Progress", statusInfo, formatProgress(status.Progress), colorize))
			if status.Message != "" {
				fmt.Fprintln(stdout, renderStatusLine("Message", statusInfo, status.Message, colorize))
			}
			fmt.Fprintln(stdout, renderStatusLine("Attempts", statusInfo, strconv.Itoa(status.Attempts), colorize))
			if status.Error != "" {
				fmt.Fprintln(stdout, renderStatusLine("Error", statusError, status.Error, colorize))
			}
			if t := api.Time(status.UpdatedAt); !t.IsZero() {
				fmt.Fprintln(stdout, renderStatusLine("Updated", statusInfo, t.Local().Format(time.DateTime), colorize))
			}
			return nil
		},
	}

	var stageFilter []string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List insight runs recorded in the state registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := ctx.client().List(cmd.Context(), stageFilter)
			if err != nil {
				return ctx.wrapDaemonError(err)
			}
			if done, err := writeStructured(cmd, ctx, list); done {
				return err
			}
			stdout := cmd.OutOrStdout()
			if len(list.Items) == 0 {
				fmt.Fprintln(stdout, "No insight runs recorded")
				return nil
			}
			rows := make([][]string, 0, len(list.Items))
			for _, item := range list.Items {
				updated := ""
				if t := api.Time(item.UpdatedAt); !t.IsZero() {
					updated = t.Local().Format(time.DateTime)
				}
				rows = append(rows, []string{
					item.ObjectID,
					item.Stage,
					formatProgress(item.Progress),
					strconv.Itoa(item.Attempts),
					updated,
					truncate(item.Message, 48),
				})
			}
			fmt.Fprintln(stdout, renderTable(
				[]string{"Object", "Stage", "Progress", "Attempts", "Updated", "Message"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignLeft},
			))
			return nil
		},
	}
	listCmd.Flags().StringSliceVar(&stageFilter, "stage", nil, "Only list runs in these stages (repeatable)")

	return []*cobra.Command{startCmd, resumeCmd, refreshCmd, statusCmd, listCmd}
}

func objectIDArg(raw string) (string, error) {
	id := strings.ToLower(strings.TrimSpace(raw))
	if !objectid.Valid(id) {
		return "", fmt.Errorf("invalid object id %q: expected %d hex characters", raw, objectid.Length)
	}
	return id, nil
}

func truncate(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit-1]) + "…"
}
