package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

type planFlags struct {
	file string
}

func newPlanCmd(root *rootFlags) *cobra.Command {
	flags := &planFlags{}
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the execution plan: step order, waves and cyclic regions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPlan(cmd, root, flags)
		},
	}
	cmd.Flags().StringVarP(&flags.file, "file", "f", "", "Workflow definition (YAML or JSON)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func runPlan(cmd *cobra.Command, root *rootFlags, flags *planFlags) error {
	ws, err := openWorkspace(root, flags.file)
	if err != nil {
		return err
	}
	defer ws.close()

	plan := ws.graph.Plan()
	out := cmd.OutOrStdout()

	wave := make(map[int]int, len(plan.Steps))
	for w, steps := range plan.Waves {
		for _, i := range steps {
			wave[i] = w
		}
	}

	t := newTable(out, "#", "Wave", "Kind", "Step", "Nodes")
	for i, s := range plan.Steps {
		t.AppendRow([]any{i + 1, wave[i], s.Kind, s.ID(), strings.Join(s.Nodes(), ", ")})
	}
	t.Render()

	if len(plan.Regions) == 0 {
		return nil
	}
	fmt.Fprintln(out)
	rt := newTable(out, "Region", "Entry", "Max iterations", "On limit", "Exit node", "Back edges")
	for _, r := range plan.Regions {
		policy := ws.graph.Policy(r.ID)
		exit := "-"
		if policy.Exit != nil {
			exit = policy.Exit.NodeID
		}
		edges := make([]string, len(r.BackEdges))
		for i, e := range r.BackEdges {
			edges[i] = e.String()
		}
		rt.AppendRow([]any{r.ID, r.Entry, policy.MaxIterations, policy.OnLimit, exit, strings.Join(edges, ", ")})
	}
	rt.Render()
	return nil
}
