package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newVersionCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the jobwatch version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.output == formatText {
				fmt.Fprintf(cmd.OutOrStdout(), "jobwatch %s\n", opts.version)
				return nil
			}
			p, err := newPrinter(cmd.OutOrStdout(), opts.output)
			if err != nil {
				return err
			}
			if err := p.value(map[string]string{"version": opts.version}); err != nil {
				return err
			}
			return p.flush()
		},
	}
}
