// Package cli implements the stagequeue command line.
package cli

import (
	"fmt"
	"io"

	"github.com/davidroman0O/stagequeue/internal/config"
	"github.com/davidroman0O/stagequeue/internal/logging"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// app carries state shared by every command of one invocation.
type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     *config.Config
	logger  *logging.Logger
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:   "stagequeue",
		Short: "Simulate staged deferred-action queues",
		Long: `stagequeue replays scenario files describing projects, the actions they
defer until after evaluation, and the plugins they apply. Each project is
evaluated against a real staged queue and its execution trace is printed.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default: ./stagequeue.yaml if present)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.Bool("no-color", false, "disable colored output")

	root.AddCommand(a.newSimulateCmd())
	root.AddCommand(a.newStagesCmd())
	root.AddCommand(a.newDescribeCmd())

	return root
}

// Execute runs the command line with the process arguments.
func Execute() error {
	return NewRootCommand().Execute()
}

func (a *app) init(cmd *cobra.Command) error {
	if err := a.v.BindPFlag(config.KeyLogLevel, cmd.Flags().Lookup("log-level")); err != nil {
		return err
	}
	if noColor, _ := cmd.Flags().GetBool("no-color"); noColor {
		a.v.Set(config.KeyColor, false)
	}

	cfg, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	a.cfg = cfg

	if !cfg.Color {
		color.NoColor = true
	}
	a.logger = logging.New(cmd.ErrOrStderr(), cfg.LogLevel, cfg.Color)
	if used := a.v.ConfigFileUsed(); used != "" {
		a.logger.Debug("Using config file %s", used)
	}
	return nil
}

func fprintf(w io.Writer, format string, args ...interface{}) {
	_, _ = fmt.Fprintf(w, format, args...)
}
