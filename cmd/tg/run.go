package main

import (
	"context"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"taskgraph/internal/domain"
	"taskgraph/internal/engine"
)

func runCmd() *cobra.Command {
	run := &cobra.Command{
		Use:   "run",
		Short: "Track workflow runs of a task",
		Long:  "A run moves pending -> running -> completed or failed. Steps follow the same states and record their output.",
	}
	run.AddCommand(runStartCmd())
	run.AddCommand(runUpdateCmd())
	run.AddCommand(runListCmd())
	run.AddCommand(stepCmd())
	return run
}

func itoa(n int) string { return fmt.Sprintf("%d", n) }

func printRuns(runs []domain.WorkflowRun) error {
	return printResult(runs, func(tw table.Writer) {
		tw.AppendHeader(table.Row{"ID", "Task", "Type", "Status", "Steps", "Created", "Completed"})
		for _, r := range runs {
			tw.AppendRow(table.Row{r.ID, "#" + itoa(r.TaskNumber), r.Type, r.Status, len(r.Steps), since(r.CreatedAt), since(deref(r.CompletedAt))})
		}
	})
}

func printSteps(steps []domain.WorkflowStep) error {
	return printResult(steps, func(tw table.Writer) {
		tw.AppendHeader(table.Row{"ID", "Name", "Status", "Started", "Completed", "Output"})
		for _, s := range steps {
			tw.AppendRow(table.Row{s.ID, s.Name, s.Status, since(deref(s.StartedAt)), since(deref(s.CompletedAt)), deref(s.Output)})
		}
	})
}

func runStartCmd() *cobra.Command {
	var typ string
	cmd := &cobra.Command{
		Use:   "start <project> <number>",
		Short: "Start a workflow run",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			project, number, err := projectAndNumber(args)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				r, err := e.StartWorkflowRun(ctx, project, number, typ, actor())
				if err != nil {
					return err
				}
				return printRuns([]domain.WorkflowRun{r})
			})
		},
	}
	cmd.Flags().StringVar(&typ, "type", "", "workflow type")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func runUpdateCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "update <run-id>",
		Short: "Change a run's status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				r, err := e.UpdateWorkflowRun(ctx, args[0], status, actor())
				if err != nil {
					return err
				}
				return printRuns([]domain.WorkflowRun{r})
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "pending, running, completed or failed")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func runListCmd() *cobra.Command {
	var steps bool
	cmd := &cobra.Command{
		Use:   "list <project> <number>",
		Short: "List the runs of a task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			project, number, err := projectAndNumber(args)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				runs, err := e.ListWorkflowRuns(ctx, project, number)
				if err != nil {
					return err
				}
				if !steps || jsonOutput() {
					return printRuns(runs)
				}
				for _, r := range runs {
					full, err := e.GetWorkflowRun(ctx, r.ID)
					if err != nil {
						return err
					}
					if full == nil {
						continue
					}
					fmt.Printf("%s  %s  %s\n", full.ID, full.Type, full.Status)
					if err := printSteps(full.Steps); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&steps, "steps", false, "show the steps of each run")
	return cmd
}

func stepCmd() *cobra.Command {
	step := &cobra.Command{Use: "step", Short: "Manage run steps"}
	step.AddCommand(&cobra.Command{
		Use:   "add <run-id> <name>",
		Short: "Append a step to a run",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.AddWorkflowStep(ctx, args[0], args[1], actor())
				if err != nil {
					return err
				}
				return printSteps([]domain.WorkflowStep{s})
			})
		},
	})
	var status, output string
	update := &cobra.Command{
		Use:   "update <step-id>",
		Short: "Change a step's status and output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := changedString(cmd, "output", output)
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.UpdateWorkflowStep(ctx, args[0], status, out, actor())
				if err != nil {
					return err
				}
				return printSteps([]domain.WorkflowStep{s})
			})
		},
	}
	update.Flags().StringVar(&status, "status", "", "pending, running, completed or failed")
	update.Flags().StringVar(&output, "output", "", "step output")
	_ = update.MarkFlagRequired("status")
	step.AddCommand(update)
	return step
}
