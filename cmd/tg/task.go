package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"taskgraph/internal/domain"
	"taskgraph/internal/engine"
)

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
		Long:  "Tasks are numbered per project. They move todo -> work -> done (or hold), can depend on other tasks of the same project and can have subtasks.",
	}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskGetCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskUpdateCmd())
	task.AddCommand(taskDeleteCmd())
	task.AddCommand(taskSearchCmd())
	task.AddCommand(depCmd())
	task.AddCommand(subtaskCmd())
	return task
}

func parseNumber(field, v string) (int, error) {
	n, err := strconv.Atoi(strings.TrimPrefix(v, "#"))
	if err != nil || n <= 0 {
		return 0, domain.InvalidArgument(field, v, "must be a positive task number")
	}
	return n, nil
}

// projectAndNumber parses the common "<project> <number>" arguments.
func projectAndNumber(args []string) (string, int, error) {
	n, err := parseNumber("number", args[1])
	return args[0], n, err
}

func taskCreateFlags(cmd *cobra.Command, opts *engine.TaskCreateOptions) {
	cmd.Flags().StringVar(&opts.Description, "description", "", "one line summary")
	cmd.Flags().IntVar(&opts.Number, "number", 0, "explicit task number (default: next free)")
	cmd.Flags().StringVar(&opts.Status, "status", "", "initial status (todo, work, done, hold)")
	cmd.Flags().StringVar(&opts.Module, "module", "", "module")
	cmd.Flags().StringVar(&opts.Branch, "branch", "", "git branch")
	cmd.Flags().StringVar(&opts.Body, "body", "", "body section")
	cmd.Flags().StringVar(&opts.Plan, "plan", "", "plan section")
	cmd.Flags().IntSliceVar(&opts.DependsOn, "depends-on", nil, "dependency task number (repeatable)")
	_ = cmd.MarkFlagRequired("description")
}

func taskCreateCmd() *cobra.Command {
	var opts engine.TaskCreateOptions
	cmd := &cobra.Command{
		Use:   "create <project>",
		Short: "Create a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Project = args[0]
			opts.Actor = actor()
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CreateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printTask(t)
			})
		},
	}
	taskCreateFlags(cmd, &opts)
	return cmd
}

func taskGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <project> <number>",
		Short: "Show a task with its sections",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			project, number, err := projectAndNumber(args)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.GetTask(ctx, project, number)
				if err != nil {
					return err
				}
				if t == nil {
					return domain.NotFoundf("task %s/%d", project, number)
				}
				return printTask(*t)
			})
		},
	}
}

func taskListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <project>",
		Short: "List the top-level tasks of a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tasks, err := e.ListTasks(ctx, args[0])
				if err != nil {
					return err
				}
				return printTasks(tasks)
			})
		},
	}
}

func taskUpdateCmd() *cobra.Command {
	var description, status, module, branch, started, completed string
	var body, plan, report, review, blocks string
	var dependsOn []int
	cmd := &cobra.Command{
		Use:   "update <project> <number>",
		Short: "Update task fields; an empty value clears a field",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			project, number, err := projectAndNumber(args)
			if err != nil {
				return err
			}
			patch := domain.TaskPatch{
				Description: changedString(cmd, "description", description),
				Module:      changedString(cmd, "module", module),
				Branch:      changedString(cmd, "branch", branch),
				Started:     changedString(cmd, "started", started),
				Completed:   changedString(cmd, "completed", completed),
				Body:        changedString(cmd, "body", body),
				Plan:        changedString(cmd, "plan", plan),
				Report:      changedString(cmd, "report", report),
				Review:      changedString(cmd, "review", review),
				Blocks:      changedString(cmd, "blocks", blocks),
			}
			if cmd.Flags().Changed("status") {
				st := domain.Status(status)
				patch.Status = &st
			}
			if cmd.Flags().Changed("depends-on") {
				patch.DependsOn = &dependsOn
			}
			if patch.Empty() {
				return domain.InvalidArgument("update", "", "no fields given")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.UpdateTask(ctx, project, number, patch, actor())
				if err != nil {
					return err
				}
				return printTask(t)
			})
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "summary")
	cmd.Flags().StringVar(&status, "status", "", "todo, work, done or hold")
	cmd.Flags().StringVar(&module, "module", "", "module")
	cmd.Flags().StringVar(&branch, "branch", "", "git branch")
	cmd.Flags().StringVar(&started, "started", "", "start timestamp")
	cmd.Flags().StringVar(&completed, "completed", "", "completion timestamp")
	cmd.Flags().StringVar(&body, "body", "", "body section")
	cmd.Flags().StringVar(&plan, "plan", "", "plan section")
	cmd.Flags().StringVar(&report, "report", "", "report section")
	cmd.Flags().StringVar(&review, "review", "", "review section")
	cmd.Flags().StringVar(&blocks, "blocks", "", "blockers section")
	cmd.Flags().IntSliceVar(&dependsOn, "depends-on", nil, "replace dependencies (repeatable)")
	return cmd
}

func taskDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <project> <number>",
		Short: "Delete a task with its sections, findings and attachments",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			project, number, err := projectAndNumber(args)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ok, err := e.DeleteTask(ctx, project, number, actor())
				if err != nil {
					return err
				}
				if !ok {
					return domain.NotFoundf("task %s/%d", project, number)
				}
				fmt.Printf("deleted task %s/#%d\n", project, number)
				return nil
			})
		},
	}
}

func taskSearchCmd() *cobra.Command {
	var status, module string
	cmd := &cobra.Command{
		Use:   "search <project> <keyword>...",
		Short: "Find tasks containing every keyword",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tasks, err := e.SearchTasks(ctx, args[0], strings.Join(args[1:], " "), status, module)
				if err != nil {
					return err
				}
				return printTasks(tasks)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&module, "module", "", "module filter")
	return cmd
}

func depCmd() *cobra.Command {
	dep := &cobra.Command{Use: "dep", Short: "Manage task dependencies"}
	dep.AddCommand(&cobra.Command{
		Use:   "add <project> <number> <depends-on>",
		Short: "Make a task depend on another",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			project, from, err := projectAndNumber(args)
			if err != nil {
				return err
			}
			to, err := parseNumber("depends_on", args[2])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.AddDependency(ctx, project, from, to, actor()); err != nil {
					return err
				}
				fmt.Printf("#%d now depends on #%d\n", from, to)
				return nil
			})
		},
	})
	dep.AddCommand(&cobra.Command{
		Use:   "remove <project> <number> <depends-on>",
		Short: "Remove a dependency",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			project, from, err := projectAndNumber(args)
			if err != nil {
				return err
			}
			to, err := parseNumber("depends_on", args[2])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ok, err := e.RemoveDependency(ctx, project, from, to, actor())
				if err != nil {
					return err
				}
				if !ok {
					return domain.NotFoundf("dependency #%d -> #%d", from, to)
				}
				fmt.Printf("#%d no longer depends on #%d\n", from, to)
				return nil
			})
		},
	})
	dep.AddCommand(&cobra.Command{
		Use:   "list <project> <number>",
		Short: "List the direct dependencies of a task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			project, number, err := projectAndNumber(args)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				deps, err := e.Dependencies(ctx, project, number)
				if err != nil {
					return err
				}
				return printTasks(deps)
			})
		},
	})
	return dep
}

func subtaskCmd() *cobra.Command {
	sub := &cobra.Command{Use: "subtask", Short: "Manage subtasks"}
	var opts engine.TaskCreateOptions
	create := &cobra.Command{
		Use:   "create <project> <parent>",
		Short: "Create a subtask; it takes the next number of the project",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			project, parent, err := projectAndNumber(args)
			if err != nil {
				return err
			}
			opts.Project = project
			opts.Actor = actor()
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CreateSubtask(ctx, parent, opts)
				if err != nil {
					return err
				}
				return printTask(t)
			})
		},
	}
	taskCreateFlags(create, &opts)
	sub.AddCommand(create)
	sub.AddCommand(&cobra.Command{
		Use:   "list <project> <parent>",
		Short: "List subtasks",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			project, parent, err := projectAndNumber(args)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tasks, err := e.ListSubtasks(ctx, project, parent)
				if err != nil {
					return err
				}
				return printTasks(tasks)
			})
		},
	})
	return sub
}

func sectionCmd() *cobra.Command {
	sec := &cobra.Command{
		Use:   "section",
		Short: "Read and write task sections",
		Long:  "Content sections are body, plan, report, review and blocks. Review sections (security, testing...) hold findings; manage those with 'tg finding'.",
	}
	sec.AddCommand(&cobra.Command{
		Use:   "get <project> <number> <type>",
		Short: "Print a section",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			project, number, err := projectAndNumber(args)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.GetSection(ctx, project, number, args[2])
				if err != nil {
					return err
				}
				if s == nil {
					return domain.NotFoundf("%s section of task %s/%d", args[2], project, number)
				}
				if jsonOutput() {
					return printJSON(s)
				}
				fmt.Println(s.Content)
				return nil
			})
		},
	})
	var content, file string
	set := &cobra.Command{
		Use:   "set <project> <number> <type>",
		Short: "Create or replace a section (content from --content, --file or stdin)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			project, number, err := projectAndNumber(args)
			if err != nil {
				return err
			}
			text, err := sectionInput(cmd, content, file)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.SetSection(ctx, project, number, args[2], text, actor())
				if err != nil {
					return err
				}
				return printResult(s, func(tw table.Writer) {
					tw.AppendHeader(table.Row{"Type", "Length", "Updated"})
					tw.AppendRow(table.Row{s.Type, len(s.Content), since(s.UpdatedAt)})
				})
			})
		},
	}
	set.Flags().StringVar(&content, "content", "", "section content")
	set.Flags().StringVar(&file, "file", "", "read content from file ('-' for stdin)")
	sec.AddCommand(set)
	sec.AddCommand(&cobra.Command{
		Use:   "delete <project> <number> <type>",
		Short: "Delete a section and, for review sections, its findings",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			project, number, err := projectAndNumber(args)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ok, err := e.DeleteSection(ctx, project, number, args[2], actor())
				if err != nil {
					return err
				}
				if !ok {
					return domain.NotFoundf("%s section of task %s/%d", args[2], project, number)
				}
				fmt.Printf("deleted %s section of %s/#%d\n", args[2], project, number)
				return nil
			})
		},
	})
	return sec
}

func sectionInput(cmd *cobra.Command, content, file string) (string, error) {
	switch {
	case cmd.Flags().Changed("content"):
		return content, nil
	case file == "" || file == "-":
		data, err := io.ReadAll(os.Stdin)
		return string(data), err
	default:
		data, err := os.ReadFile(file)
		if os.IsNotExist(err) {
			return "", fmt.Errorf("content file %s: %w", file, domain.ErrSourceNotFound)
		}
		return string(data), err
	}
}
