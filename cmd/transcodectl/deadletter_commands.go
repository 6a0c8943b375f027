package main

import (
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newDeadLettersCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "deadletters",
		Aliases: []string{"dlq"},
		Short:   "Inspect and recover dead-lettered jobs",
	}

	cmd.AddCommand(newDeadLettersListCommand(ctx))
	cmd.AddCommand(newDeadLettersRequeueCommand(ctx))
	cmd.AddCommand(newDeadLettersPurgeCommand(ctx))
	return cmd
}

func newDeadLettersListCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dead letters, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := ctx.ensureDeps()
			if err != nil {
				return err
			}
			repo, err := deps.DeadLetterRepo(cmd.Context())
			if err != nil {
				return err
			}
			letters, err := repo.List(cmd.Context(), limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(letters) == 0 {
				fmt.Fprintln(out, "No dead letters")
				return nil
			}

			rows := make([][]string, 0, len(letters))
			for _, dl := range letters {
				video := dl.VideoName
				if video == "" {
					video = "-"
				}
				rows = append(rows, []string{
					dl.ID,
					video,
					dl.Kind,
					strconv.Itoa(dl.ReceiveCount),
					humanize.Bytes(uint64(len(dl.Body))),
					humanize.Time(dl.CreatedAt),
					dl.Reason,
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"ID", "Video", "Kind", "Receives", "Body", "Created", "Reason"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum rows, 0 for all")
	return cmd
}

func newDeadLettersRequeueCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "requeue <id>",
		Short: "Put a dead letter's body back on the job queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := ctx.ensureDeps()
			if err != nil {
				return err
			}
			repo, err := deps.DeadLetterRepo(cmd.Context())
			if err != nil {
				return err
			}
			dl, err := repo.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			q, err := deps.Queue(cmd.Context())
			if err != nil {
				return err
			}
			if err := q.Enqueue(cmd.Context(), dl.Body); err != nil {
				return fmt.Errorf("requeue %s: %w", dl.ID, err)
			}
			// 已重新排入, 刪除失敗只會留下重複的紀錄
			if err := repo.Delete(cmd.Context(), dl.ID); err != nil {
				return fmt.Errorf("requeued %s but delete failed: %w", dl.ID, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "requeued %s\n", dl.ID)
			return nil
		},
	}
}

func newDeadLettersPurgeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "purge <id>",
		Short: "Delete a dead letter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := ctx.ensureDeps()
			if err != nil {
				return err
			}
			repo, err := deps.DeadLetterRepo(cmd.Context())
			if err != nil {
				return err
			}
			if err := repo.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %s\n", args[0])
			return nil
		},
	}
}
