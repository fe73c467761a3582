package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/drewfead/tascade/internal/cli"
	"github.com/drewfead/tascade/internal/control"
	"github.com/drewfead/tascade/internal/session"
	"github.com/drewfead/tascade/internal/store"
	"github.com/drewfead/tascade/internal/task"
)

type serverInfo struct {
	Name          string                   `json:"name"`
	Version       string                   `json:"version"`
	Commands      []string                 `json:"commands"`
	Resources     []string                 `json:"resources"`
	Connections   []control.ConnectionInfo `json:"connections"`
	ActiveContext string                   `json:"active_context"`
	AIProvider    string                   `json:"ai_provider"`
	UptimeSeconds int                      `json:"uptime_seconds"`
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printSuccess(msg string) {
	fmt.Printf("%s %s\n", cli.GreenText(cli.CheckMark), msg)
}

func printError(msg string) {
	fmt.Fprintf(os.Stderr, "%s\n", cli.RedText("Error: "+msg))
}

func printStatusSummary(tasks []*task.Task) {
	counts := make(map[task.Status]int)
	for _, t := range tasks {
		counts[t.Status]++
	}
	var parts []string
	for _, s := range task.Statuses {
		if n := counts[s]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s %d", cli.StatusText(string(s)), n))
		}
	}
	fmt.Println()
	fmt.Println(cli.Dimmed(fmt.Sprintf("%d tasks", len(tasks))) + "  " + strings.Join(parts, "  "))
}

func printTools(tools []control.ToolInfo) {
	width := 0
	for _, t := range tools {
		width = max(width, len(t.Name))
	}
	for _, t := range tools {
		fmt.Printf("%s  %s\n", cli.BoldCyan(t.Name+strings.Repeat(" ", width-len(t.Name))), t.Description)
		for _, p := range t.Parameters {
			req := ""
			if p.Required {
				req = cli.YellowText(" (required)")
			}
			fmt.Printf("%s  %s %s%s %s\n",
				strings.Repeat(" ", width), p.Name, cli.GrayText(p.Type), req, cli.Dimmed(p.Description))
		}
	}
}

// printBatchResults prints one line per result and returns the number of failures.
func printBatchResults(results []control.BatchResult) int {
	failed := 0
	for i, r := range results {
		if r.Err != nil {
			failed++
			fmt.Printf("%s %d %s  %s\n", cli.RedText(cli.CrossMark), i+1, r.Command, cli.RedText(r.Err.Error()))
			continue
		}
		summary := ""
		if id, ok := r.Result["task_id"].(string); ok && r.Command == "add-task" {
			summary = id
		}
		fmt.Printf("%s %d %s  %s\n", cli.GreenText(cli.CheckMark), i+1, r.Command, cli.GrayText(summary))
	}
	return failed
}

func printContexts(live []session.Summary, archived []store.ArchivedContext) {
	if len(live) == 0 && len(archived) == 0 {
		fmt.Println(cli.GrayText("No contexts. Create one with: tascade context create"))
		return
	}
	if len(live) > 0 {
		fmt.Println(cli.Bolden("Contexts"))
		for _, c := range live {
			marker := cli.Circle
			if c.Active {
				marker = cli.GreenText(cli.Bullet)
			}
			fmt.Printf("  %s %s  %s  %s\n", marker, cli.BoldCyan(c.ID),
				cli.GrayText(fmt.Sprintf("%d steps", c.Steps)),
				cli.Dimmed("updated "+c.Updated.Local().Format("Jan 2 15:04")))
		}
	}
	if len(archived) > 0 {
		fmt.Println(cli.Bolden("Archived"))
		for _, c := range archived {
			fmt.Printf("  %s %s  %s  %s\n", cli.Pause, c.ID,
				cli.GrayText(fmt.Sprintf("%d steps", c.Steps)),
				cli.Dimmed("archived "+c.ArchivedAt.Local().Format("Jan 2 15:04")))
		}
	}
}

func printContext(exp *session.Export) {
	fmt.Printf("%s  %s\n", cli.BoldCyan(exp.ID), cli.GrayText("updated "+exp.Updated))
	if len(exp.Data) > 0 {
		data, _ := json.MarshalIndent(exp.Data, "  ", "  ")
		fmt.Printf("  %s\n", data)
	}
	if len(exp.Steps) == 0 {
		fmt.Println(cli.GrayText("  No steps"))
	}
	for i, st := range exp.Steps {
		branch := cli.TreeBranch
		if i == len(exp.Steps)-1 {
			branch = cli.TreeLastBranch
		}
		line := fmt.Sprintf("  %s %d %s  %s", branch, st.Index, st.Name, cli.GrayText(st.Timestamp))
		if len(st.Data) > 0 {
			data, _ := json.Marshal(st.Data)
			line += "  " + cli.Dimmed(string(data))
		}
		fmt.Println(line)
	}
	if n := len(exp.History); n > 0 {
		fmt.Println(cli.Dimmed(fmt.Sprintf("  %d earlier revisions", n)))
	}
}

func printServerInfo(info serverInfo) {
	fmt.Printf("%s %s\n", cli.Bolden(info.Name), cli.GrayText("v"+info.Version))
	uptime := (time.Duration(info.UptimeSeconds) * time.Second).String()
	fmt.Printf("  uptime       %s\n", uptime)
	provider := info.AIProvider
	if provider == "" {
		provider = cli.YellowText("none")
	}
	fmt.Printf("  ai provider  %s\n", provider)
	active := info.ActiveContext
	if active == "" {
		active = cli.GrayText("none")
	}
	fmt.Printf("  context      %s\n", active)
	fmt.Printf("  commands     %d\n", len(info.Commands))
	fmt.Printf("  resources    %s\n", strings.Join(info.Resources, ", "))
	fmt.Printf("  connections  %d\n", len(info.Connections))
	for _, c := range info.Connections {
		fmt.Printf("    %s %s  %s\n", cli.GreenText(cli.Bullet), c.RemoteAddr,
			cli.GrayText("since "+c.ConnectedAt.Local().Format("15:04:05")))
	}
}
