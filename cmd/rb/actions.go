package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"remedyboard/internal/coordinator"
	"remedyboard/internal/domain"
	"remedyboard/internal/duedate"
	"remedyboard/internal/query"
)

func actionCmd() *cobra.Command {
	action := &cobra.Command{
		Use:     "action",
		Aliases: []string{"actions"},
		Short:   "Manage remediation actions",
		Long:    "Actions are remediation work items. They start open, flow through the board columns and are stamped when they reach resolved, verified or closed.",
	}
	action.AddCommand(actionCreateCmd())
	action.AddCommand(actionListCmd())
	action.AddCommand(actionShowCmd())
	action.AddCommand(actionUpdateCmd())
	action.AddCommand(actionDeleteCmd())
	action.AddCommand(actionAssignCmd())
	action.AddCommand(actionStatusCmd())
	action.AddCommand(actionVerifyCmd())
	action.AddCommand(actionHistoryCmd())
	action.AddCommand(actionBulkCmd())
	return action
}

func parseDue(s string) (*time.Time, error) {
	t, err := duedate.Parse(s, time.Now())
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func printAction(a domain.Action) error {
	if viper.GetBool("json") {
		return printJSON(domain.NewView(a, time.Now()))
	}
	now := time.Now()
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	assignee := "-"
	if a.AssignedTo != nil {
		assignee = *a.AssignedTo
	}
	tw.AppendRows([]table.Row{
		{"ID", a.ID},
		{"Title", a.Title},
		{"Description", a.Description},
		{"Status", fmt.Sprintf("%s (%d%%)", a.Status.Label(), a.Progress())},
		{"Priority", a.Priority},
		{"Assigned to", assignee},
		{"Due", dueCell(a, now)},
		{"Category", a.Category},
		{"Tags", strings.Join(a.Tags, ", ")},
		{"Notes", a.Notes},
		{"Version", a.Version},
		{"Updated", a.UpdatedAt.Format(time.RFC3339)},
	})
	tw.Render()
	return nil
}

func dueCell(a domain.Action, now time.Time) string {
	if a.DueDate == nil {
		return "-"
	}
	s := a.DueDate.Format("2006-01-02") + " (" + duedate.Humanize(a.DueDate, now) + ")"
	if a.Overdue(now) {
		s += " OVERDUE"
	}
	return s
}

func actionCreateCmd() *cobra.Command {
	var in domain.ActionInput
	var priority, due string
	var estimate, actual float64
	var sla int
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an action",
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Priority = domain.Priority(priority)
			if due != "" {
				t, err := parseDue(due)
				if err != nil {
					return err
				}
				in.DueDate = t
			}
			if cmd.Flags().Changed("estimate") {
				in.EstimatedEffortHours = &estimate
			}
			if cmd.Flags().Changed("actual") {
				in.ActualEffortHours = &actual
			}
			if cmd.Flags().Changed("sla-hours") {
				in.SLAHours = &sla
			}
			return withService(cmd.Context(), func(ctx context.Context, rt runtime) error {
				out, err := rt.submit(ctx, coordinator.Create(in))
				if err != nil {
					return err
				}
				return printAction(out.Action)
			})
		},
	}
	cmd.Flags().StringVar(&in.Title, "title", "", "title")
	cmd.Flags().StringVar(&in.Description, "description", "", "description")
	cmd.Flags().StringVar(&priority, "priority", "", "low, medium, high or critical (defaults from config)")
	cmd.Flags().StringVar(&in.AssignedTo, "assign", "", "assignee user id")
	cmd.Flags().StringVar(&due, "due", "", "due date: YYYY-MM-DD, RFC3339, +3d or a phrase like \"next friday\"")
	cmd.Flags().Float64Var(&estimate, "estimate", 0, "estimated effort in hours")
	cmd.Flags().Float64Var(&actual, "actual", 0, "actual effort in hours")
	cmd.Flags().StringVar(&in.Category, "category", "", "category")
	cmd.Flags().StringArrayVar(&in.Tags, "tag", nil, "tag (repeatable)")
	cmd.Flags().StringVar(&in.Notes, "notes", "", "notes")
	cmd.Flags().IntVar(&sla, "sla-hours", 0, "SLA in hours")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("description")
	return cmd
}

func addFilterFlags(cmd *cobra.Command, v *query.Values) {
	cmd.Flags().StringVar(&v.Search, "search", "", "case-insensitive match on title or description")
	cmd.Flags().StringVar(&v.Status, "status", "", "status filter (or all)")
	cmd.Flags().StringVar(&v.Priority, "priority", "", "priority filter (or all)")
	cmd.Flags().StringVar(&v.AssignedTo, "assigned-to", "", "assignee filter, unassigned or all")
	cmd.Flags().StringVar(&v.Category, "category", "", "category filter")
	cmd.Flags().StringVar(&v.Tag, "tag", "", "tag filter")
	cmd.Flags().BoolVar(&v.OverdueOnly, "overdue", false, "only overdue actions")
	cmd.Flags().StringVar(&v.DueBefore, "due-before", "", "due before date")
	cmd.Flags().StringVar(&v.DueAfter, "due-after", "", "due after date")
	cmd.Flags().StringVar(&v.CreatedAfter, "created-after", "", "created after date")
	cmd.Flags().StringVar(&v.CreatedBefore, "created-before", "", "created before date")
	cmd.Flags().StringVar(&v.SortBy, "sort", "", "created_at, updated_at, due_date, priority, status or title")
	cmd.Flags().StringVar(&v.SortOrder, "order", "", "asc or desc")
}

func actionListCmd() *cobra.Command {
	var v query.Values
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List actions",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := v.Parse()
			if err != nil {
				return err
			}
			return withService(cmd.Context(), func(ctx context.Context, rt runtime) error {
				list, err := rt.Service.ListActions(ctx, rt.OrgID, f)
				if err != nil {
					return err
				}
				now := time.Now()
				if viper.GetBool("json") {
					items := make([]domain.View, 0, len(list.Actions))
					for _, a := range list.Actions {
						items = append(items, domain.NewView(a, now))
					}
					return printJSON(map[string]any{"actions": items, "total": list.Total, "page": list.Page, "limit": list.Limit})
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Priority", "Assignee", "Due", "Progress"})
				for _, a := range list.Actions {
					assignee := ""
					if a.AssignedTo != nil {
						assignee = *a.AssignedTo
					}
					tw.AppendRow(table.Row{a.ID, a.Title, a.Status, a.Priority, assignee, dueCell(a, now), fmt.Sprintf("%d%%", a.Progress())})
				}
				tw.AppendFooter(table.Row{"", fmt.Sprintf("page %d, %d of %d", list.Page, len(list.Actions), list.Total)})
				tw.Render()
				return nil
			})
		},
	}
	addFilterFlags(cmd, &v)
	cmd.Flags().IntVar(&v.Page, "page", 1, "page number")
	cmd.Flags().IntVar(&v.Limit, "limit", 0, "page size (defaults from config)")
	return cmd
}

func actionShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show an action",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(ctx context.Context, rt runtime) error {
				a, err := rt.Service.GetAction(ctx, rt.OrgID, args[0])
				if err != nil {
					return err
				}
				return printAction(a)
			})
		},
	}
}

func actionUpdateCmd() *cobra.Command {
	var title, description, priority, assign, due, category, notes string
	var tags []string
	var estimate, actual float64
	var sla, expected int
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Edit action fields",
		Long:  "Only the flags given are changed. --assign \"\" unassigns and --due none clears the deadline. --expected-version rejects the edit if someone else changed the action first.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var p domain.ActionPatch
			changed := cmd.Flags().Changed
			if changed("title") {
				p.Title = &title
			}
			if changed("description") {
				p.Description = &description
			}
			if changed("priority") {
				pr := domain.Priority(priority)
				p.Priority = &pr
			}
			if changed("assign") {
				p.AssignedTo = &assign
			}
			if changed("due") {
				if due == "" || strings.EqualFold(due, "none") {
					p.ClearDueDate = true
				} else {
					t, err := parseDue(due)
					if err != nil {
						return err
					}
					p.DueDate = t
				}
			}
			if changed("estimate") {
				p.EstimatedEffortHours = &estimate
			}
			if changed("actual") {
				p.ActualEffortHours = &actual
			}
			if changed("category") {
				p.Category = &category
			}
			if changed("tag") {
				p.Tags = &tags
			}
			if changed("notes") {
				p.Notes = &notes
			}
			if changed("sla-hours") {
				p.SLAHours = &sla
			}
			if changed("expected-version") {
				p.ExpectedVersion = &expected
			}
			return withService(cmd.Context(), func(ctx context.Context, rt runtime) error {
				out, err := rt.submit(ctx, coordinator.Update(args[0], p))
				if err != nil {
					return err
				}
				return printAction(out.Action)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&priority, "priority", "", "priority")
	cmd.Flags().StringVar(&assign, "assign", "", "assignee user id; empty unassigns")
	cmd.Flags().StringVar(&due, "due", "", "due date; none clears it")
	cmd.Flags().Float64Var(&estimate, "estimate", 0, "estimated effort in hours")
	cmd.Flags().Float64Var(&actual, "actual", 0, "actual effort in hours")
	cmd.Flags().StringVar(&category, "category", "", "category")
	cmd.Flags().StringArrayVar(&tags, "tag", nil, "replace tags (repeatable)")
	cmd.Flags().StringVar(&notes, "notes", "", "notes")
	cmd.Flags().IntVar(&sla, "sla-hours", 0, "SLA in hours")
	cmd.Flags().IntVar(&expected, "expected-version", 0, "fail unless the stored version matches")
	return cmd
}

func actionDeleteCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an action (requires --yes)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(ctx context.Context, rt runtime) error {
				if _, err := rt.submit(ctx, coordinator.Delete(args[0], yes)); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"deleted": args[0]})
				}
				fmt.Printf("deleted %s\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")
	return cmd
}

func actionAssignCmd() *cobra.Command {
	var comment string
	cmd := &cobra.Command{
		Use:   "assign <id> <user-id>",
		Short: "Assign an action",
		Long:  "Assigns the action. An open action moves to assigned unless the org config turns advance_on_assign off.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(ctx context.Context, rt runtime) error {
				out, err := rt.submit(ctx, coordinator.Assign(args[0], args[1], comment))
				if err != nil {
					return err
				}
				return printAction(out.Action)
			})
		},
	}
	cmd.Flags().StringVar(&comment, "comment", "", "comment recorded with the change")
	return cmd
}

func actionStatusCmd() *cobra.Command {
	var comment string
	cmd := &cobra.Command{
		Use:   "status <id> <status>",
		Short: "Move an action to a status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(ctx context.Context, rt runtime) error {
				out, err := rt.submit(ctx, coordinator.SetStatus(args[0], domain.Status(args[1]), comment))
				if err != nil {
					return err
				}
				return printAction(out.Action)
			})
		},
	}
	cmd.Flags().StringVar(&comment, "comment", "", "comment recorded with the change")
	return cmd
}

func actionVerifyCmd() *cobra.Command {
	var comment string
	var rejected bool
	cmd := &cobra.Command{
		Use:   "verify <id>",
		Short: "Record a verification outcome",
		Long:  "Moves the action to verified, or back to resolved with --rejected.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(ctx context.Context, rt runtime) error {
				out, err := rt.submit(ctx, coordinator.Verify(args[0], !rejected, comment))
				if err != nil {
					return err
				}
				return printAction(out.Action)
			})
		},
	}
	cmd.Flags().StringVar(&comment, "comment", "", "verification note")
	cmd.Flags().BoolVar(&rejected, "rejected", false, "verification failed")
	return cmd
}

func actionHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <id>",
		Short: "Show the change history of an action, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(ctx context.Context, rt runtime) error {
				evs, err := rt.Service.ActionHistory(ctx, rt.OrgID, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(evs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"TS", "Type", "Actor", "Payload"})
				for _, evt := range evs {
					tw.AppendRow(table.Row{evt.TS, evt.Type, evt.ActorID, evt.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func actionBulkCmd() *cobra.Command {
	var op string
	var ids []string
	var data map[string]string
	cmd := &cobra.Command{
		Use:   "bulk",
		Short: "Apply one operation to many actions",
		Long:  "Operations: assign (data assigned_to), update_status (data status), update_priority (data priority), add_tag and remove_tag (data tag), delete. Each id succeeds or fails on its own.",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := domain.BulkRequest{ActionIDs: ids, Operation: domain.BulkOperation(op), Data: data}
			return withService(cmd.Context(), func(ctx context.Context, rt runtime) error {
				out, err := rt.submit(ctx, coordinator.Bulk(req))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(out.Bulk)
				}
				fmt.Printf("%d succeeded, %d failed\n", out.Bulk.Success, out.Bulk.Failed)
				for _, e := range out.Bulk.Errors {
					fmt.Println("  " + e)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&op, "op", "", "bulk operation")
	cmd.Flags().StringSliceVar(&ids, "ids", nil, "action ids (comma separated)")
	cmd.Flags().StringToStringVar(&data, "data", nil, "operation data, e.g. --data status=resolved")
	_ = cmd.MarkFlagRequired("op")
	_ = cmd.MarkFlagRequired("ids")
	return cmd
}
