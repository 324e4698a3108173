package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/journi/jobwatch/internal/core"
)

// ErrJobUnsuccessful is returned by follow when the job ends failed or
// cancelled.
var ErrJobUnsuccessful = errors.New("job did not complete")

// globalOptions holds the persistent flags shared by every subcommand.
type globalOptions struct {
	configFile string
	output     string
	version    string
}

func (o *globalOptions) openApp() (*core.App, error) {
	return core.New(o.configFile, o.version)
}

// NewRootCmd builds the jobwatch command tree.
func NewRootCmd(version string) *cobra.Command {
	opts := &globalOptions{version: version}

	root := &cobra.Command{
		Use:   "jobwatch",
		Short: "Follow the progress of long-running backend jobs",
		Long: `Jobwatch subscribes to a job's progress over a WebSocket, falls back
to HTTP polling when the socket is unavailable, and records every update
it sees in a local history database.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "config file (default is ./config.yml)")
	root.PersistentFlags().StringVarP(&opts.output, "output", "o", "text", "output format: text, json or yaml")

	root.AddCommand(
		newFollowCmd(opts),
		newHistoryCmd(opts),
		newCreateCmd(opts),
		newVersionCmd(opts),
	)
	return root
}

// Execute runs the root command
func Execute(version string) error {
	return NewRootCmd(version).Execute()
}
