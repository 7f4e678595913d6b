package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"taskgraph/internal/domain"
	"taskgraph/internal/engine"
)

func attachCmd() *cobra.Command {
	att := &cobra.Command{Use: "attach", Short: "Manage task attachments"}
	att.AddCommand(attachPutCmd())
	att.AddCommand(attachGetCmd())
	att.AddCommand(attachListCmd())
	att.AddCommand(attachDeleteCmd())
	att.AddCommand(attachURLCmd())
	return att
}

func printAttachments(items []domain.Attachment) error {
	return printResult(items, func(tw table.Writer) {
		tw.AppendHeader(table.Row{"Name", "Size"})
		var total int64
		for _, a := range items {
			tw.AppendRow(table.Row{a.Name, humanize.Bytes(uint64(a.Size))})
			total += a.Size
		}
		tw.AppendFooter(table.Row{fmt.Sprintf("%d files", len(items)), humanize.Bytes(uint64(total))})
	})
}

func attachPutCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "put <project> <number> <path>",
		Short: "Attach a local file to a task",
		Args:  cobra.ExactArgs(3),
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
				a, err := e.CopyAttachment(ctx, project, number, args[2], name)
				if err != nil {
					return err
				}
				return printAttachments([]domain.Attachment{a})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "stored file name (default: base name of path)")
	return cmd
}

func attachGetCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "get <project> <number> <filename>",
		Short: "Download an attachment (to stdout unless --out is given)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			project, number, err := projectAndNumber(args)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				data, err := e.GetAttachmentBytes(ctx, project, number, args[2])
				if err != nil {
					return err
				}
				if data == nil {
					return domain.NotFoundf("attachment %q of task %s/%d", args[2], project, number)
				}
				if out == "" {
					_, err = os.Stdout.Write(data)
					return err
				}
				if err := os.WriteFile(out, data, 0o644); err != nil {
					return err
				}
				fmt.Fprintf(os.Stderr, "wrote %s (%s)\n", out, humanize.Bytes(uint64(len(data))))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file")
	return cmd
}

func attachListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <project> <number>",
		Short: "List the attachments of a task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			project, number, err := projectAndNumber(args)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListAttachments(ctx, project, number)
				if err != nil {
					return err
				}
				return printAttachments(items)
			})
		},
	}
}

func attachDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <project> <number> <filename>",
		Short: "Delete an attachment",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			project, number, err := projectAndNumber(args)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ok, err := e.DeleteAttachment(ctx, project, number, args[2])
				if err != nil {
					return err
				}
				if !ok {
					return domain.NotFoundf("attachment %q of task %s/%d", args[2], project, number)
				}
				fmt.Printf("deleted %s\n", args[2])
				return nil
			})
		},
	}
}

func attachURLCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "url <project> <number> <filename>",
		Short: "Print a presigned download URL",
		Long:  "Requires storage.signing_key and storage.public_url; the URL is served by 'tg serve' on /blobs.",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			project, number, err := projectAndNumber(args)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := e.AttachmentURL(ctx, project, number, args[2])
				if err != nil {
					return err
				}
				if u == "" {
					return domain.NotFoundf("attachment %q of task %s/%d", args[2], project, number)
				}
				if jsonOutput() {
					return printJSON(map[string]string{"url": u})
				}
				fmt.Println(u)
				return nil
			})
		},
	}
}
