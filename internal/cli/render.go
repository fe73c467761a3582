package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/drewfead/tascade/internal/task"
)

// pad right-pads s to width visible cells.
func pad(s string, width int) string {
	if w := lipgloss.Width(s); w < width {
		return s + strings.Repeat(" ", width-w)
	}
	return s
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

// TaskTable writes tasks as an aligned table. Subtasks are nested under
// their parent when the parent is in the list.
func TaskTable(w io.Writer, tasks []*task.Task) {
	if len(tasks) == 0 {
		fmt.Fprintln(w, GrayText("No tasks."))
		return
	}

	byID := make(map[string]bool, len(tasks))
	children := make(map[string][]*task.Task)
	for _, t := range tasks {
		byID[t.ID] = true
	}
	var roots []*task.Task
	for _, t := range tasks {
		if t.ParentID != "" && byID[t.ParentID] {
			children[t.ParentID] = append(children[t.ParentID], t)
			continue
		}
		roots = append(roots, t)
	}

	type row struct{ id, title, status, priority, deps string }
	var rows []row
	var walk func(t *task.Task, prefix string)
	walk = func(t *task.Task, prefix string) {
		rows = append(rows, row{
			id:       prefix + t.ID,
			title:    truncate(t.Title, 48),
			status:   StatusText(string(t.Status)),
			priority: PriorityText(string(t.Priority)),
			deps:     strings.Join(t.Dependencies, ","),
		})
		kids := children[t.ID]
		for i, c := range kids {
			branch := TreeBranch + " "
			if i == len(kids)-1 {
				branch = TreeLastBranch + " "
			}
			walk(c, strings.Repeat(" ", lipgloss.Width(prefix))+branch)
		}
	}
	for _, t := range roots {
		walk(t, "")
	}

	header := row{id: "ID", title: "TITLE", status: "STATUS", priority: "PRIORITY", deps: "DEPENDS ON"}
	widths := [4]int{}
	for _, r := range append([]row{header}, rows...) {
		widths[0] = max(widths[0], lipgloss.Width(r.id))
		widths[1] = max(widths[1], lipgloss.Width(r.title))
		widths[2] = max(widths[2], lipgloss.Width(r.status))
		widths[3] = max(widths[3], lipgloss.Width(r.priority))
	}

	line := func(r row) string {
		return strings.TrimRight(strings.Join([]string{
			pad(r.id, widths[0]), pad(r.title, widths[1]), pad(r.status, widths[2]), pad(r.priority, widths[3]), r.deps,
		}, "  "), " ")
	}
	fmt.Fprintln(w, Bolden(line(header)))
	for _, r := range rows {
		fmt.Fprintln(w, line(r))
	}
}

// TaskMarkdown renders a task as a markdown document.
func TaskMarkdown(t *task.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s: %s\n\n", t.ID, t.Title)
	fmt.Fprintf(&b, "**Status:** %s  \n**Priority:** %s  \n", t.Status, t.Priority)
	if t.ParentID != "" {
		fmt.Fprintf(&b, "**Parent:** %s  \n", t.ParentID)
	}
	if t.ComplexityScore != nil {
		fmt.Fprintf(&b, "**Complexity:** %.1f/10  \n", *t.ComplexityScore)
	}
	if t.EstimatedEffortHours != nil {
		fmt.Fprintf(&b, "**Estimated effort:** %.1fh  \n", *t.EstimatedEffortHours)
	}
	if t.Description != "" {
		fmt.Fprintf(&b, "\n%s\n", t.Description)
	}
	section := func(title string, items []string) {
		if len(items) == 0 {
			return
		}
		fmt.Fprintf(&b, "\n## %s\n\n", title)
		for _, it := range items {
			fmt.Fprintf(&b, "- %s\n", it)
		}
	}
	section("Dependencies", t.Dependencies)
	section("Subtasks", t.Subtasks)
	section("Verification Criteria", task.Criteria(t))
	if t.ImplementationGuide != "" {
		fmt.Fprintf(&b, "\n## Implementation Guide\n\n%s\n", t.ImplementationGuide)
	}
	if len(t.History) > 0 {
		var lines []string
		for _, h := range t.History {
			lines = append(lines, fmt.Sprintf("%s (%s): %s", h.Timestamp.Format("2006-01-02 15:04"), h.User, h.Change))
		}
		section("History", lines)
	}
	return b.String()
}

// RenderMarkdown renders markdown for the terminal, returning the raw text
// when colors are disabled or rendering fails.
func RenderMarkdown(content string, width int) string {
	if !ColorsEnabled() {
		return content
	}
	if width < 40 {
		width = 40
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return content
	}
	out, err := r.Render(content)
	if err != nil {
		return content
	}
	return out
}

// VerificationReport writes a verification result.
func VerificationReport(w io.Writer, v task.Verification) {
	verdict := RedText(CrossMark + " not verified")
	if v.Verified {
		verdict = GreenText(CheckMark + " verified")
	}
	fmt.Fprintf(w, "%s  %s (%d%%)\n", Bolden(v.TaskID), verdict, v.Score)
	fmt.Fprintln(w, v.Assessment)
	for _, c := range v.Criteria {
		fmt.Fprintf(w, "  %3d%%  %s\n", c.Score, c.Criterion)
	}
	if len(v.Recommendations) > 0 {
		fmt.Fprintln(w, Bolden("Recommendations:"))
		for _, r := range v.Recommendations {
			fmt.Fprintf(w, "  %s %s\n", Bullet, r)
		}
	}
}

// ComplexityReport writes a complexity analysis.
func ComplexityReport(w io.Writer, a task.ComplexityAnalysis) {
	fmt.Fprintf(w, "%s  complexity %s  effort %.1fh  %s\n",
		Bolden(a.TaskID), BoldCyan(fmt.Sprintf("%.1f/10", a.ComplexityScore)), a.EstimatedEffortHours, GrayText("("+a.Source+")"))
	for _, r := range a.Recommendations {
		fmt.Fprintf(w, "  %s %s\n", Bullet, r)
	}
}
