package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"remedyboard/internal/board"
	"remedyboard/internal/domain"
	"remedyboard/internal/query"
	"remedyboard/internal/stats"
)

var (
	mutedColor = lipgloss.Color("#6B7280")
	alertColor = lipgloss.Color("#EF4444")

	columnStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1).
			Width(24)
	columnTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("#7C3AED"))
	cardStyle = lipgloss.NewStyle().
			MarginTop(1)
	metaStyle = lipgloss.NewStyle().
			Foreground(mutedColor)
	overdueStyle = lipgloss.NewStyle().
			Foreground(alertColor).
			Bold(true)

	priorityColors = map[domain.Priority]lipgloss.Color{
		domain.PriorityLow:      lipgloss.Color("#10B981"),
		domain.PriorityMedium:   lipgloss.Color("#06B6D4"),
		domain.PriorityHigh:     lipgloss.Color("#F59E0B"),
		domain.PriorityCritical: alertColor,
	}
)

func renderCard(a domain.Action, now time.Time) string {
	title := a.Title
	if r := []rune(title); len(r) > 40 {
		title = string(r[:39]) + "…"
	}
	prio := lipgloss.NewStyle().Foreground(priorityColors[a.Priority]).Render(string(a.Priority))
	lines := []string{title, prio + metaStyle.Render(" "+shortID(a.ID))}
	if a.AssignedTo != nil {
		lines = append(lines, metaStyle.Render("@"+*a.AssignedTo))
	}
	if a.DueDate != nil {
		due := "due " + a.DueDate.Format("2006-01-02")
		if a.Overdue(now) {
			lines = append(lines, overdueStyle.Render(due+" overdue"))
		} else {
			lines = append(lines, metaStyle.Render(due))
		}
	}
	return cardStyle.Render(strings.Join(lines, "\n"))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func renderBoard(cols []board.Column, now time.Time) string {
	rendered := make([]string, 0, len(cols))
	for _, c := range cols {
		parts := []string{columnTitleStyle.Render(fmt.Sprintf("%s (%d)", c.Title, c.Count)), metaStyle.Render(c.ID)}
		for _, a := range c.Actions {
			parts = append(parts, renderCard(a, now))
		}
		rendered = append(rendered, columnStyle.Render(strings.Join(parts, "\n")))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, rendered...)
}

func boardCmd() *cobra.Command {
	var v query.Values
	cmd := &cobra.Command{
		Use:   "board",
		Short: "Show actions grouped into status columns",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := v.Parse()
			if err != nil {
				return err
			}
			return withService(cmd.Context(), func(ctx context.Context, rt runtime) error {
				view := board.NewView(rt.Service, rt.OrgID, f)
				if err := view.Refresh(ctx); err != nil {
					return err
				}
				snap, _ := view.Snapshot()
				cols := view.Columns()
				if viper.GetBool("json") {
					return printJSON(map[string]any{"columns": cols, "total": snap.Total, "stats": snap.Stats})
				}
				fmt.Println(renderBoard(cols, time.Now()))
				fmt.Printf("%d shown of %d matching; %d open, %d overdue (%d critical)\n",
					len(snap.Actions), snap.Total, snap.Stats.OpenActions, snap.Stats.OverdueActions, snap.Stats.CriticalOverdue)
				return nil
			})
		},
	}
	addFilterFlags(cmd, &v)
	cmd.Flags().IntVar(&v.Limit, "limit", 0, "cards to load (defaults from config)")
	return cmd
}

func moveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "move <action-id> <drop-target>",
		Short: "Drop an action onto a column or onto another action",
		Long:  "The drop target is a status (in_progress), a column id (in_progress:column) or the id of another action, whose status is adopted. Drops that change nothing send no request.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(ctx context.Context, rt runtime) error {
				if rt.Client != nil {
					res, err := rt.Client.Drop(ctx, rt.OrgID, args[0], args[1])
					if err != nil {
						return err
					}
					if res.NoOp || res.Action == nil {
						fmt.Println("nothing to do")
						return nil
					}
					return printAction(*res.Action)
				}
				out := rt.coordinator().Drop(ctx, args[0], args[1])
				if out.Err != nil {
					return out.Err
				}
				if out.NoOp {
					if viper.GetBool("json") {
						return printJSON(map[string]any{"noop": true})
					}
					fmt.Println("nothing to do")
					return nil
				}
				return printAction(out.Action)
			})
		},
	}
	return cmd
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show org-wide action statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(ctx context.Context, rt runtime) error {
				s, err := rt.Service.GetStats(ctx, rt.OrgID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(s)
				}
				renderStats(s)
				return nil
			})
		},
	}
}

func renderStats(s stats.Summary) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Metric", "Value"})
	avg := "n/a"
	if s.AvgCompletionHours != nil {
		avg = fmt.Sprintf("%.2fh", *s.AvgCompletionHours)
	}
	sla := "n/a"
	if s.SLAComplianceRate != nil {
		sla = fmt.Sprintf("%.2f%%", *s.SLAComplianceRate)
	}
	tw.AppendRows([]table.Row{
		{"Total", s.TotalActions},
		{"Open", s.OpenActions},
		{"Resolved", s.ResolvedActions},
		{"In progress", s.InProgressActions},
		{"Overdue", s.OverdueActions},
		{"Critical overdue", s.CriticalOverdue},
		{"Avg completion", avg},
		{"SLA compliance", sla},
	})
	tw.AppendSeparator()
	for _, st := range domain.Statuses {
		tw.AppendRow(table.Row{st.Label(), s.ByStatus[st]})
	}
	tw.AppendSeparator()
	for _, p := range domain.Priorities {
		tw.AppendRow(table.Row{"priority " + string(p), s.ByPriority[p]})
	}
	tw.Render()
}
