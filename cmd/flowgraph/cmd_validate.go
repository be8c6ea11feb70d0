package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wehubfusion/flowgraph/pkg/contract"
)

type validateFlags struct {
	file   string
	params string
}

func newValidateCmd(root *rootFlags) *cobra.Command {
	flags := &validateFlags{}
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a workflow's structure and parameter declarations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runValidate(cmd, root, flags)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&flags.file, "file", "f", "", "Workflow definition (YAML or JSON)")
	f.StringVar(&flags.params, "params", "", "Per-node parameter overrides (YAML or JSON)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func runValidate(cmd *cobra.Command, root *rootFlags, flags *validateFlags) error {
	ws, err := openWorkspace(root, flags.file)
	if err != nil {
		return err
	}
	defer ws.close()

	overrides, err := loadParams(flags.params)
	if err != nil {
		return err
	}

	structural := ws.graph.Validate()
	issues := contract.ValidateDeclarations(ws.graph, overrides)

	out := cmd.OutOrStdout()
	if len(structural.Diagnostics) == 0 && len(issues) == 0 {
		fmt.Fprintf(out, "Workflow %q is valid (%d nodes, %d connections)\n",
			ws.graph.Name(), len(ws.graph.Nodes()), len(ws.graph.Connections()))
		return nil
	}

	t := newTable(out, "Severity", "Code", "Node", "Parameter", "Message")
	for _, d := range structural.Diagnostics {
		t.AppendRow([]any{d.Severity, d.Code, d.NodeID, "", d.Message})
	}
	for _, i := range issues {
		t.AppendRow([]any{i.Severity, i.Code, i.NodeID, i.Parameter, i.Message})
	}
	t.Render()

	errCount := len(structural.Errors()) + len(contract.Errors(issues))
	if errCount > 0 {
		return fmt.Errorf("workflow %q has %d error(s)", ws.graph.Name(), errCount)
	}
	fmt.Fprintf(out, "Workflow %q is valid with %d warning(s)\n", ws.graph.Name(),
		len(structural.Diagnostics)+len(issues))
	return nil
}

