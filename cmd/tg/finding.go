package main

import (
	"context"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"taskgraph/internal/domain"
	"taskgraph/internal/engine"
)

func findingCmd() *cobra.Command {
	f := &cobra.Command{
		Use:   "finding",
		Short: "Manage review findings",
		Long:  "Findings are review remarks grouped by review type (code-review, security, testing, performance, documentation, architecture). They start open and end resolved or declined.",
	}
	f.AddCommand(findingAddCmd())
	f.AddCommand(findingListCmd())
	f.AddCommand(findingResolveCmd())
	f.AddCommand(findingDeclineCmd())
	f.AddCommand(findingReplyCmd())
	return f
}

func printFindings(items []domain.Finding) error {
	return printResult(items, func(tw table.Writer) {
		tw.AppendHeader(table.Row{"ID", "Type", "Status", "Severity", "Location", "Text", "Comments"})
		for _, f := range items {
			tw.AppendRow(table.Row{f.ID, f.ReviewType, f.Status, f.Severity, location(f), f.Text, countComments(f.Comments)})
		}
	})
}

func location(f domain.Finding) string {
	loc := deref(f.File)
	if f.LineStart != nil {
		loc += ":" + itoa(*f.LineStart)
		if f.LineEnd != nil && *f.LineEnd != *f.LineStart {
			loc += "-" + itoa(*f.LineEnd)
		}
	}
	return loc
}

func countComments(cs []domain.Comment) int {
	n := len(cs)
	for _, c := range cs {
		n += countComments(c.Replies)
	}
	return n
}

func findingAddCmd() *cobra.Command {
	var reviewType string
	var nf domain.NewFinding
	var lineStart, lineEnd int
	cmd := &cobra.Command{
		Use:   "add <project> <number>",
		Short: "Add a finding to a task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			project, number, err := projectAndNumber(args)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("line-start") {
				nf.LineStart = &lineStart
			}
			if cmd.Flags().Changed("line-end") {
				nf.LineEnd = &lineEnd
			}
			if nf.Author == "" {
				nf.Author = actor()
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				f, err := e.AddReviewFinding(ctx, project, number, reviewType, nf)
				if err != nil {
					return err
				}
				return printFindings([]domain.Finding{f})
			})
		},
	}
	cmd.Flags().StringVar(&reviewType, "type", "code-review", "review type")
	cmd.Flags().StringVar(&nf.Text, "text", "", "finding text")
	cmd.Flags().StringVar(&nf.Author, "author", "", "author (default: --actor)")
	cmd.Flags().StringVar(&nf.Severity, "severity", "", "severity")
	cmd.Flags().StringVar(&nf.File, "file", "", "file path")
	cmd.Flags().IntVar(&lineStart, "line-start", 0, "first line")
	cmd.Flags().IntVar(&lineEnd, "line-end", 0, "last line")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}

func findingListCmd() *cobra.Command {
	var reviewType, status string
	cmd := &cobra.Command{
		Use:   "list <project> <number>",
		Short: "List the findings of a task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			project, number, err := projectAndNumber(args)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListReviewFindings(ctx, project, number, reviewType, status)
				if err != nil {
					return err
				}
				return printFindings(items)
			})
		},
	}
	cmd.Flags().StringVar(&reviewType, "type", "", "review type filter")
	cmd.Flags().StringVar(&status, "status", "", "open, resolved or declined")
	return cmd
}

func findingResolveCmd() *cobra.Command {
	var response string
	cmd := &cobra.Command{
		Use:   "resolve <finding-id>",
		Short: "Resolve an open finding",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				f, err := e.ResolveFinding(ctx, args[0], response, actor())
				if err != nil {
					return err
				}
				return printFindings([]domain.Finding{f})
			})
		},
	}
	cmd.Flags().StringVar(&response, "response", "", "how it was addressed")
	return cmd
}

func findingDeclineCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "decline <finding-id>",
		Short: "Decline an open finding",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				f, err := e.DeclineFinding(ctx, args[0], reason, actor())
				if err != nil {
					return err
				}
				return printFindings([]domain.Finding{f})
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the finding does not apply")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func findingReplyCmd() *cobra.Command {
	var text, author string
	var toComment bool
	cmd := &cobra.Command{
		Use:   "reply <finding-or-comment-id>",
		Short: "Comment on a finding, or reply to a comment with --comment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if author == "" {
				author = actor()
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var c domain.Comment
				var err error
				if toComment {
					c, err = e.ReplyToComment(ctx, args[0], text, author)
				} else {
					c, err = e.ReplyToFinding(ctx, args[0], text, author)
				}
				if err != nil {
					return err
				}
				return printResult(c, func(tw table.Writer) {
					tw.AppendHeader(table.Row{"ID", "Author", "Text"})
					tw.AppendRow(table.Row{c.ID, c.Author, c.Text})
				})
			})
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "comment text")
	cmd.Flags().StringVar(&author, "author", "", "author (default: --actor)")
	cmd.Flags().BoolVar(&toComment, "comment", false, "the id names a comment rather than a finding")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}
