package main

import (
	"context"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"taskgraph/internal/domain"
	"taskgraph/internal/engine"
)

func projectCmd() *cobra.Command {
	prj := &cobra.Command{
		Use:   "project",
		Short: "Manage projects",
		Long:  "Projects hold the numbered tasks. They live in a workspace (the configured one by default) or nest inside another project.",
	}
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectRenameCmd())
	prj.AddCommand(projectDescribeCmd())
	prj.AddCommand(projectDeleteCmd())
	return prj
}

func parentFlags(cmd *cobra.Command, workspace, parent *string) {
	cmd.Flags().StringVar(workspace, "workspace", "", "parent workspace (default: configured workspace)")
	cmd.Flags().StringVar(parent, "parent", "", "parent project")
}

func parentFrom(workspace, parent string) domain.ParentRef {
	switch {
	case parent != "":
		return domain.ParentRef{Kind: domain.ParentProject, Name: parent}
	case workspace != "":
		return domain.ParentRef{Kind: domain.ParentWorkspace, Name: workspace}
	}
	return domain.ParentRef{}
}

func printProjects(items []domain.Project) error {
	return printResult(items, func(tw table.Writer) {
		tw.AppendHeader(table.Row{"Name", "Description", "Parent", "Created"})
		for _, p := range items {
			tw.AppendRow(table.Row{p.Name, p.Description, fmt.Sprintf("%s:%s", p.ParentKind, p.ParentName), since(p.CreatedAt)})
		}
	})
}

func projectListCmd() *cobra.Command {
	var workspace, parent string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListProjects(ctx, parentFrom(workspace, parent))
				if err != nil {
					return err
				}
				return printProjects(items)
			})
		},
	}
	parentFlags(cmd, &workspace, &parent)
	return cmd
}

func projectCreateCmd() *cobra.Command {
	var workspace, parent, desc string
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.CreateProject(ctx, parentFrom(workspace, parent), args[0], desc, actor())
				if err != nil {
					return err
				}
				return printProjects([]domain.Project{p})
			})
		},
	}
	parentFlags(cmd, &workspace, &parent)
	cmd.Flags().StringVar(&desc, "description", "", "description")
	return cmd
}

func projectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Show a project with its tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				sum, err := e.ProjectSummary(ctx, args[0])
				if err != nil {
					return err
				}
				if sum == nil {
					return domain.NotFoundf("project %q", args[0])
				}
				return printResult(sum, func(tw table.Writer) {
					tw.SetTitle("%s  %s", sum.Project.Name, sum.Project.Description)
					tw.AppendHeader(table.Row{"#", "Description", "Status", "Module"})
					for _, t := range sum.Tasks {
						tw.AppendRow(table.Row{t.Number, t.Description, t.Status, t.Module})
					}
					tw.AppendFooter(table.Row{"", fmt.Sprintf("%d tasks", len(sum.Tasks)), countsLine(sum.Counts), ""})
				})
			})
		},
	}
}

func countsLine(counts map[domain.Status]int) string {
	out := ""
	for _, st := range domain.Statuses {
		if n := counts[st]; n > 0 {
			if out != "" {
				out += " "
			}
			out += fmt.Sprintf("%s=%d", st, n)
		}
	}
	return out
}

func projectRenameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <old> <new>",
		Short: "Rename a project and move its attachments",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, moved, err := e.RenameProject(ctx, args[0], args[1], actor())
				if err != nil {
					return err
				}
				return printResult(map[string]any{"project": p, "moved_attachments": moved}, func(tw table.Writer) {
					tw.AppendHeader(table.Row{"Name", "Moved attachments"})
					tw.AppendRow(table.Row{p.Name, moved})
				})
			})
		},
	}
}

func projectDescribeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "describe <name> <description>",
		Short: "Set a project's description",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.DescribeProject(ctx, args[0], args[1], actor())
				if err != nil {
					return err
				}
				return printProjects([]domain.Project{p})
			})
		},
	}
}

func projectDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete an empty project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ok, err := e.DeleteProject(ctx, args[0], actor())
				if err != nil {
					return err
				}
				if !ok {
					return domain.NotFoundf("project %q", args[0])
				}
				fmt.Printf("deleted project %s\n", args[0])
				return nil
			})
		},
	}
}
