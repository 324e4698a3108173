package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newHistoryCmd(opts *globalOptions) *cobra.Command {
	var remove bool
	cmd := &cobra.Command{
		Use:   "history [job-id]",
		Short: "Show recorded job history",
		Long: `Without arguments, history lists every job that has been followed.
Given a job id, it prints the updates recorded for that job.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newPrinter(cmd.OutOrStdout(), opts.output)
			if err != nil {
				return err
			}
			if remove && len(args) == 0 {
				return fmt.Errorf("--delete needs a job id")
			}

			app, err := opts.openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			switch {
			case remove:
				deleted, err := app.Store.DeleteJob(args[0])
				if err != nil {
					return err
				}
				if !deleted {
					return fmt.Errorf("no history recorded for job %s", args[0])
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted history for %s\n", args[0])
				return nil
			case len(args) == 1:
				msgs, err := app.Store.ListMessages(args[0])
				if err != nil {
					return err
				}
				if len(msgs) == 0 {
					return fmt.Errorf("no history recorded for job %s", args[0])
				}
				if err := p.messages(msgs); err != nil {
					return err
				}
			default:
				jobs, err := app.Store.ListJobs()
				if err != nil {
					return err
				}
				if err := p.jobs(jobs); err != nil {
					return err
				}
			}
			return p.flush()
		},
	}

	cmd.Flags().BoolVar(&remove, "delete", false, "delete the recorded history of the job")
	return cmd
}
