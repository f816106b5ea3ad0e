package cli

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/davidroman0O/stagequeue"
	"github.com/davidroman0O/stagequeue/extensions"
	"github.com/davidroman0O/stagequeue/internal/scenario"
	"github.com/spf13/cobra"
)

func (a *app) newDescribeCmd() *cobra.Command {
	var schema string

	cmd := &cobra.Command{
		Use:   "describe <file>",
		Short: "Replay a scenario and list the extensions attached to each project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := scenario.Load(args[0])
			if err != nil {
				return err
			}

			runner := scenario.NewRunner(
				scenario.WithDeferringPlugins(a.cfg.DeferringPlugins...),
				scenario.WithConcurrency(a.cfg.Concurrency),
			)
			results, err := runner.Run(cmd.Context(), sc)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, res := range results {
				container := res.Project.Extensions()
				fprintf(out, "Project %s\n", res.Project.Path())
				for _, name := range container.Names() {
					typeName, err := container.TypeName(name)
					if err != nil {
						return err
					}
					system := ""
					if meta, err := container.GetMetadata(name); err == nil && meta.HasTag(stagequeue.TagSystem) {
						system = " [system]"
					}
					fprintf(out, "  %s: %s%s\n", name, typeName, system)
				}
			}

			if schema == "" {
				return nil
			}
			return printSchema(cmd, results, schema)
		},
	}

	cmd.Flags().StringVar(&schema, "schema", scenario.ExtensionReport,
		fmt.Sprintf("extension whose JSON schema is printed; %q prints the queue statistics schema, empty disables", stagequeue.ExtensionQueue))

	return cmd
}

func printSchema(cmd *cobra.Command, results []*scenario.Result, name string) error {
	var schema map[string]interface{}
	if name == stagequeue.ExtensionQueue {
		// The queue's own fields are unexported; describe what it reports.
		schema = extensions.TypeToSchema(reflect.TypeOf(stagequeue.QueueStats{}))
	} else {
		if len(results) == 0 {
			return nil
		}
		var err error
		if schema, err = results[0].Project.Extensions().Schema(name); err != nil {
			return err
		}
	}

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return err
	}
	fprintf(cmd.OutOrStdout(), "\nSchema of %s\n%s\n", name, data)
	return nil
}
