package cli

import (
	"github.com/davidroman0O/stagequeue"
	"github.com/spf13/cobra"
)

func (a *app) newStagesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stages",
		Short: "List stages in drain order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for i, s := range stagequeue.Stages() {
				marker := ""
				if s == stagequeue.DefaultStage {
					marker = " (default)"
				}
				fprintf(out, "%d. %s%s\n", i+1, s, marker)
			}
			return nil
		},
	}
}
