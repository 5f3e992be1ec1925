package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/OmGuptaIND/rekordr/recorder"
	"github.com/OmGuptaIND/rekordr/uploader"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func NewRecoverCmd(deps *Dependencies) *cobra.Command {
	var upload bool
	var out string

	cmd := &cobra.Command{
		Use:   "recover [session...]",
		Short: "Assemble recordings left in the spool",
		Long:  "Assembles spooled sessions that were never uploaded. Without arguments every spooled session is recovered.",
		RunE: func(cmd *cobra.Command, args []string) error {
			artifacts := map[string]*recorder.Artifact{}

			if len(args) == 0 {
				all, err := deps.Spool.RecoverAll()
				if err != nil {
					return err
				}
				artifacts = all
			}

			for _, id := range args {
				a, err := deps.Spool.Recover(id)
				if err != nil {
					return err
				}
				artifacts[id] = a
			}

			if len(artifacts) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Nothing to recover")
				return nil
			}

			ids := make([]string, 0, len(artifacts))
			for id := range artifacts {
				ids = append(ids, id)
			}
			sort.Strings(ids)

			for _, id := range ids {
				a := artifacts[id]

				if !upload {
					path := filepath.Join(out, fmt.Sprintf("%s.%s", id, a.Extension))
					if err := os.WriteFile(path, a.Data, 0o644); err != nil {
						return err
					}

					fmt.Fprintf(cmd.OutOrStdout(), "%s: saved %s (%d bytes)\n", id, path, a.Size())
					continue
				}

				videoID := fmt.Sprintf("video_%d", time.Now().UnixMilli())

				url, err := deps.Uploader.Upload(cmd.Context(), a, videoID, nil)
				if err != nil {
					return fmt.Errorf("uploading %s: %w", id, err)
				}

				if err := deps.Spool.Discard(id); err != nil {
					deps.Logger.Warn("failed to discard spool", zap.String("session", id), zap.Error(err))
				}

				fmt.Fprintf(cmd.OutOrStdout(), "%s: uploaded %s\n", id, url)
			}

			return nil
		},
	}

	cmd.Flags().BoolVarP(&upload, "upload", "u", false, "Upload recovered videos and clear them from the spool")
	cmd.Flags().StringVarP(&out, "out", "o", ".", "Directory recovered videos are written to")

	return cmd
}

func NewFetchCmd(deps *Dependencies) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch <video-id> [path]",
		Short: "Download an uploaded video",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]

			for _, ext := range []string{"webm", "mkv"} {
				key := uploader.ObjectKey(id, ext)

				exists, err := deps.Cloud.Exists(cmd.Context(), key)
				if err != nil {
					return err
				}
				if !exists {
					continue
				}

				path := key
				if len(args) == 2 {
					path = args[1]
				}

				if err := deps.Cloud.DownloadFile(cmd.Context(), key, path); err != nil {
					return err
				}

				fmt.Fprintf(cmd.OutOrStdout(), "Downloaded %s to %s\n", deps.Cloud.ObjectURL(key), path)

				return nil
			}

			return fmt.Errorf("video %s not found", id)
		},
	}

	return cmd
}
