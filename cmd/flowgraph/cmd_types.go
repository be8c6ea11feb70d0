package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wehubfusion/flowgraph/pkg/nodes/all"
	"github.com/wehubfusion/flowgraph/pkg/nodes/script"
)

func newTypesCmd(_ *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "types",
		Short: "List the built-in node types and their parameters",
		RunE: func(cmd *cobra.Command, _ []string) error {
			engine, err := script.NewEngine()
			if err != nil {
				return err
			}
			defer engine.Close()
			reg, err := all.NewRegistry(engine)
			if err != nil {
				return err
			}

			t := newTable(cmd.OutOrStdout(), "Type", "Parameters", "Outputs", "Description")
			for _, name := range reg.Types() {
				desc, err := reg.Resolve(name)
				if err != nil {
					return err
				}
				params := make([]string, len(desc.Parameters))
				for i, p := range desc.Parameters {
					mark := ""
					if p.Required {
						mark = "*"
					}
					params[i] = fmt.Sprintf("%s%s:%s", p.Name, mark, p.Type)
				}
				outputs := make([]string, len(desc.Outputs))
				for i, o := range desc.Outputs {
					outputs[i] = fmt.Sprintf("%s:%s", o.Name, o.Type)
				}
				if desc.DynamicOutputs {
					outputs = append(outputs, "...")
				}
				t.AppendRow([]any{name, strings.Join(params, " "), strings.Join(outputs, " "), desc.Description})
			}
			t.Render()
			return nil
		},
	}
}
