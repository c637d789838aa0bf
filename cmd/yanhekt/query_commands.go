package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/yang-kun-long/YanheKt-AI/internal/objectid"
)

func newResolveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <sessionId>",
		Short: "Map a course session id to its object id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := ctx.client().Resolve(cmd.Context(), strings.TrimSpace(args[0]))
			if err != nil {
				return ctx.wrapDaemonError(err)
			}
			if done, err := writeStructured(cmd, ctx, resp); done {
				return err
			}
			stdout := cmd.OutOrStdout()
			fmt.Fprintln(stdout, resp.ObjectID)
			if title, _ := resp.Meta["courseTitle"].(string); title != "" {
				fmt.Fprintf(stdout, "  title: %s\n", title)
			}
			return nil
		},
	}
}

func newSearchCommand(ctx *commandContext) *cobra.Command {
	var videoID string
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search one recording's transcript and slide cards",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			resp, err := ctx.client().Search(cmd.Context(), query, videoID)
			if err != nil {
				return ctx.wrapDaemonError(err)
			}
			if done, err := writeStructured(cmd, ctx, resp); done {
				return err
			}
			stdout := cmd.OutOrStdout()
			if resp.Count == 0 {
				fmt.Fprintf(stdout, "No matches for %q\n", resp.Query)
				return nil
			}
			rows := make([][]string, 0, len(resp.Hits))
			for _, hit := range resp.Hits {
				rows = append(rows, []string{
					strconv.FormatFloat(hit.Score, 'f', 2, 64),
					hit.Type,
					hit.TimeStr,
					truncate(strings.ReplaceAll(hit.Content, "\n", " "), 60),
				})
			}
			fmt.Fprintln(stdout, renderTable(
				[]string{"Score", "Type", "At", "Content"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}
	cmd.Flags().StringVar(&videoID, "video", "", "Object id of the recording to search")
	_ = cmd.MarkFlagRequired("video")
	return cmd
}

func newObjectIDCommand(ctx *commandContext) *cobra.Command {
	var d objectid.Descriptor
	cmd := &cobra.Command{
		Use:         "objectid",
		Short:       "Compute the object id of a recording descriptor",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			d.CourseID = strings.TrimSpace(d.CourseID)
			d.StartedAt = strings.TrimSpace(d.StartedAt)
			if d.CourseID == "" || d.StartedAt == "" {
				return fmt.Errorf("--course and --started are required")
			}
			id := objectid.Compute(d)
			if done, err := writeStructured(cmd, ctx, map[string]string{"objectId": id}); done {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	cmd.Flags().StringVar(&d.CourseID, "course", "", "Course id")
	cmd.Flags().Int64Var(&d.VideoID, "video", 0, "Video id")
	cmd.Flags().StringVar(&d.VideoType, "type", objectid.DefaultVideoType, "Video type")
	cmd.Flags().StringVar(&d.StartedAt, "started", "", "Session start time as reported by the course site")
	return cmd
}
