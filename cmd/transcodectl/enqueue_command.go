package main

import (
	"fmt"
	"path"
	"strings"
	"time"

	"transcoding_service/internal/transcode/domain"

	"github.com/spf13/cobra"
)

func newEnqueueCommand(ctx *commandContext) *cobra.Command {
	var videoName string
	var token string
	var owner string

	cmd := &cobra.Command{
		Use:   "enqueue <s3Key>",
		Short: "Queue a transcode job for an object already in the bucket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := ctx.ensureDeps()
			if err != nil {
				return err
			}

			key := strings.TrimSpace(args[0])
			name := strings.TrimSpace(videoName)
			if name == "" {
				// uploads/clip.mov -> clip
				if name, _, err = domain.VideoNameFromFile(path.Base(key)); err != nil {
					return err
				}
			}
			job := domain.Job{
				SourceKey:  key,
				VideoName:  name,
				Token:      token,
				Owner:      owner,
				EnqueuedAt: time.Now().UTC(),
			}
			if err := job.Validate(); err != nil {
				return err
			}
			body, err := job.Encode()
			if err != nil {
				return err
			}

			q, err := deps.Queue(cmd.Context())
			if err != nil {
				return err
			}
			if err := q.Enqueue(cmd.Context(), body); err != nil {
				return fmt.Errorf("enqueue %s: %w", name, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queued %s (%s)\n", name, key)
			return nil
		},
	}

	cmd.Flags().StringVar(&videoName, "video-name", "", "Video name, defaults to the key's base name")
	cmd.Flags().StringVar(&token, "token", "", "Caller token forwarded with the job")
	cmd.Flags().StringVar(&owner, "owner", "", "Owner recorded in the metadata ledger")
	return cmd
}
