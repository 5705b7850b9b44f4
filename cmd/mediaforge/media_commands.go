package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"mediaforge/internal/api"
)

func newMediaCommand(ctx *commandContext) *cobra.Command {
	mediaCmd := &cobra.Command{
		Use:   "media",
		Short: "Register media and inspect catalog entries",
	}
	mediaCmd.AddCommand(newMediaRegisterCommand(ctx))
	mediaCmd.AddCommand(newMediaShowCommand(ctx))
	mediaCmd.AddCommand(newMediaArtifactsCommand(ctx))
	mediaCmd.AddCommand(newMediaLabelCommand(ctx, api.LabelTag, "tag", "Attach tags to a media item"))
	mediaCmd.AddCommand(newMediaLabelCommand(ctx, api.LabelPerformer, "performer", "Attach performers to a media item"))
	return mediaCmd
}

func parseMediaID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimPrefix(strings.TrimSpace(raw), "#"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid media id %q", raw)
	}
	return id, nil
}

func newMediaRegisterCommand(ctx *commandContext) *cobra.Command {
	var (
		modTime string
		size    int64
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "register <path>",
		Short: "Add or refresh a media file in the catalog",
		Long: "Register a file relative to the media root. A changed modification time\n" +
			"marks the file's artifacts stale so they are regenerated.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := api.RegisterMediaRequest{Path: args[0], ModTime: strings.TrimSpace(modTime), Size: size}
			return ctx.withControl(cmd.Context(), func(ctl controlAPI, _ bool) error {
				resp, err := ctl.RegisterMedia(cmd.Context(), req)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Media #%d %s (%s)\n", resp.Media.ID, resp.Media.Path, resp.Outcome)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&modTime, "mtime", "", "Modification time (RFC 3339); read from disk when omitted")
	cmd.Flags().Int64Var(&size, "size", 0, "File size in bytes; read from disk when omitted")
	jsonFlag(cmd, &asJSON)
	return cmd
}

func newMediaShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <media-id>",
		Short: "Show a media item with its tags and performers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseMediaID(args[0])
			if err != nil {
				return err
			}
			return ctx.withControl(cmd.Context(), func(ctl controlAPI, _ bool) error {
				media, err := ctl.GetMedia(cmd.Context(), id)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, media)
				}
				for _, line := range mediaDetailLines(media) {
					fmt.Fprintln(cmd.OutOrStdout(), line)
				}
				return nil
			})
		},
	}
	jsonFlag(cmd, &asJSON)
	return cmd
}

func mediaDetailLines(media api.Media) []string {
	lines := []string{
		fmt.Sprintf("ID:         %d", media.ID),
		"Path:       " + media.Path,
		fmt.Sprintf("Size:       %d", media.Size),
	}
	if media.ModTime != "" {
		lines = append(lines, "Modified:   "+media.ModTime)
	}
	if media.DurationSeconds > 0 {
		lines = append(lines, fmt.Sprintf("Duration:   %.1fs", media.DurationSeconds))
	}
	if media.Width > 0 && media.Height > 0 {
		lines = append(lines, fmt.Sprintf("Resolution: %dx%d", media.Width, media.Height))
	}
	if media.Format != "" {
		lines = append(lines, "Format:     "+media.Format)
	}
	if len(media.Tags) > 0 {
		lines = append(lines, "Tags:       "+strings.Join(media.Tags, ", "))
	}
	if len(media.Performers) > 0 {
		lines = append(lines, "Performers: "+strings.Join(media.Performers, ", "))
	}
	return lines
}

func newMediaArtifactsCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "artifacts <media-id>",
		Short: "List generated artifacts for a media item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseMediaID(args[0])
			if err != nil {
				return err
			}
			return ctx.withControl(cmd.Context(), func(ctl controlAPI, _ bool) error {
				resp, err := ctl.ArtifactsForMedia(cmd.Context(), id)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp)
				}
				if len(resp.Artifacts) == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "No artifacts for media #%d\n", id)
					return nil
				}
				rows := make([][]string, 0, len(resp.Artifacts))
				for _, a := range resp.Artifacts {
					note := a.Path
					if a.Error != "" {
						note = a.Error
					}
					rows = append(rows, []string{a.Type, a.Status, note, shortID(a.JobID), a.GeneratedAt})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"Type", "Status", "Path", "Job", "Generated"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
	jsonFlag(cmd, &asJSON)
	return cmd
}

func newMediaLabelCommand(ctx *commandContext, kind, use, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <media-id> <name>...",
		Short: short,
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseMediaID(args[0])
			if err != nil {
				return err
			}
			return ctx.withControl(cmd.Context(), func(ctl controlAPI, _ bool) error {
				media, err := ctl.LinkLabels(cmd.Context(), id, kind, args[1:])
				if err != nil {
					return err
				}
				names := media.Tags
				if kind == api.LabelPerformer {
					names = media.Performers
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Media #%d %ss: %s\n", media.ID, use, strings.Join(names, ", "))
				return nil
			})
		},
	}
}
