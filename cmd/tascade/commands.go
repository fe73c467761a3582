package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"gopkg.in/yaml.v3"

	"github.com/drewfead/tascade/internal/cli"
	"github.com/drewfead/tascade/internal/control"
	"github.com/drewfead/tascade/internal/session"
	"github.com/drewfead/tascade/internal/store"
	"github.com/drewfead/tascade/internal/task"
	"github.com/drewfead/tascade/internal/tui/monitor"
)

func newClient() (*control.Client, error) {
	url := flagURL
	if url == "" {
		url = cfg.ClientURL()
	}
	opts := control.ClientOptions{
		URL:                  url,
		RequestTimeout:       cfg.Client.RequestTimeout,
		MaxReconnectAttempts: cfg.Client.MaxReconnectAttempts,
		ReconnectBaseDelay:   cfg.Client.ReconnectBaseDelay,
		ProbeTimeout:         cfg.Client.ProbeTimeout,
		SessionID:            flagSession,
	}
	if len(cfg.Client.ProbePorts) > 0 {
		opts.PortProviders = []control.PortProvider{control.StaticPorts(cfg.Client.ProbePorts), control.AdjacentPorts(5)}
	}
	return control.NewClient(opts)
}

// getClient returns a connected client.
func getClient(ctx context.Context) (*control.Client, error) {
	client, err := newClient()
	if err != nil {
		return nil, err
	}
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect to %s: %w (is tascaded running?)", client.URL(), err)
	}
	return client, nil
}

// send runs one command on a fresh connection.
func send(command string, params any) (control.Result, error) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Client.RequestTimeout+10*time.Second)
	defer cancel()

	client, err := getClient(ctx)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	return client.SendCommand(ctx, command, params)
}

func runSimple(command string, params any, success string) error {
	res, err := send(command, params)
	if err != nil {
		return err
	}
	if flagJSON {
		return printJSON(res)
	}
	printSuccess(success)
	return nil
}

// Task commands

func runTaskList(status, parent string) error {
	params := map[string]any{}
	if status != "" {
		params["status"] = status
	}
	if parent != "" {
		params["parent_id"] = parent
	}
	res, err := send("get-tasks", params)
	if err != nil {
		return err
	}
	if flagJSON {
		return printJSON(res)
	}

	var out struct {
		Tasks []*task.Task `json:"tasks"`
	}
	if err := res.Decode(&out); err != nil {
		return err
	}
	if len(out.Tasks) == 0 {
		fmt.Println(cli.GrayText("No tasks. Create one with: tascade tasks add \"title\""))
		return nil
	}
	cli.TaskTable(os.Stdout, out.Tasks)
	printStatusSummary(out.Tasks)
	return nil
}

func fetchTask(id string) (*task.Task, control.Result, error) {
	res, err := send("get-task", map[string]any{"id": id})
	if err != nil {
		return nil, nil, err
	}
	t, err := decodeTask(res)
	return t, res, err
}

func decodeTask(res control.Result) (*task.Task, error) {
	var out struct {
		Task *task.Task `json:"task"`
	}
	if err := res.Decode(&out); err != nil {
		return nil, err
	}
	if out.Task == nil {
		return nil, errors.New("response has no task")
	}
	return out.Task, nil
}

func runTaskShow(id string) error {
	t, res, err := fetchTask(id)
	if err != nil {
		return err
	}
	if flagJSON {
		return printJSON(res)
	}
	fmt.Print(cli.RenderMarkdown(cli.TaskMarkdown(t), cli.TerminalWidth(100)))
	return nil
}

func runTaskAdd(title, description, priority string, deps []string, criteria, guide string) error {
	params := map[string]any{"title": title}
	if description != "" {
		params["description"] = description
	}
	if priority != "" {
		params["priority"] = priority
	}
	if len(deps) > 0 {
		params["dependencies"] = deps
	}
	if criteria != "" {
		params["verification_criteria"] = criteria
	}
	if guide != "" {
		params["implementation_guide"] = guide
	}

	res, err := send("add-task", params)
	if err != nil {
		return err
	}
	if flagJSON {
		return printJSON(res)
	}
	t, err := decodeTask(res)
	if err != nil {
		return err
	}
	printSuccess(fmt.Sprintf("Created task %s  %s", cli.BoldCyan(t.ID), t.Title))
	return nil
}

func runTaskStatus(id, status string) error {
	st, err := task.ParseStatus(status)
	if err != nil {
		return err
	}
	res, err := send("set-task-status", map[string]any{"id": id, "status": st, "user": os.Getenv("USER")})
	if err != nil {
		return err
	}
	if flagJSON {
		return printJSON(res)
	}
	printSuccess(fmt.Sprintf("%s → %s", id, cli.StatusText(string(st))))
	return nil
}

func runTaskDelete(id string) error {
	return runSimple("delete-task", map[string]any{"id": id}, "Deleted task "+id)
}

func runTaskDepend(id, dependsOn string, remove bool) error {
	command := "add-task-dependency"
	if remove {
		command = "remove-task-dependency"
	}
	res, err := send(command, map[string]any{"id": id, "depends_on": dependsOn})
	if err != nil {
		return err
	}
	if flagJSON {
		return printJSON(res)
	}
	changed, _ := res["changed"].(bool)
	switch {
	case !changed:
		fmt.Println(cli.YellowText("No change"))
	case remove:
		printSuccess(fmt.Sprintf("%s no longer depends on %s", id, dependsOn))
	default:
		printSuccess(fmt.Sprintf("%s now depends on %s", id, dependsOn))
	}
	return nil
}

func runTaskDeps(id string) error {
	res, err := send("get-task-dependencies", map[string]any{"id": id})
	if err != nil {
		return err
	}
	if flagJSON {
		return printJSON(res)
	}
	var out struct {
		Dependencies []*task.Task `json:"dependencies"`
		Missing      []string     `json:"missing"`
	}
	if err := res.Decode(&out); err != nil {
		return err
	}
	if len(out.Dependencies) == 0 && len(out.Missing) == 0 {
		fmt.Println(cli.GrayText("No dependencies"))
		return nil
	}
	cli.TaskTable(os.Stdout, out.Dependencies)
	for _, m := range out.Missing {
		fmt.Printf("%s %s\n", cli.RedText("missing"), m)
	}
	return nil
}

func runTaskSplit(id, strategy string, n int) error {
	if _, err := task.ParseStrategy(strategy); err != nil {
		return err
	}
	params := map[string]any{"id": id, "strategy": strategy}
	if n > 0 {
		params["num_subtasks"] = n
	}
	res, err := send("split-task", params)
	if err != nil {
		return err
	}
	if flagJSON {
		return printJSON(res)
	}
	var out struct {
		Strategy string       `json:"strategy"`
		Subtasks []*task.Task `json:"subtasks"`
	}
	if err := res.Decode(&out); err != nil {
		return err
	}
	printSuccess(fmt.Sprintf("Split %s into %d subtasks (%s)", id, len(out.Subtasks), out.Strategy))
	cli.TaskTable(os.Stdout, out.Subtasks)
	return nil
}

func runTaskComplexity(id string) error {
	res, err := send("analyze-complexity", map[string]any{"id": id})
	if err != nil {
		return err
	}
	if flagJSON {
		return printJSON(res)
	}
	var out struct {
		Analysis task.ComplexityAnalysis `json:"analysis"`
	}
	if err := res.Decode(&out); err != nil {
		return err
	}
	cli.ComplexityReport(os.Stdout, out.Analysis)
	return nil
}

func runTaskVerify(id string, artifactArgs []string) error {
	artifacts, err := parseArtifacts(artifactArgs)
	if err != nil {
		return err
	}
	res, err := send("verify-task", map[string]any{"id": id, "artifacts": artifacts})
	if err != nil {
		return err
	}
	if flagJSON {
		return printJSON(res)
	}
	var out struct {
		Verification task.Verification `json:"verification"`
	}
	if err := res.Decode(&out); err != nil {
		return err
	}
	cli.VerificationReport(os.Stdout, out.Verification)
	return nil
}

// parseArtifacts turns name=value pairs into an artifact map. Values
// starting with @ name a file to read.
func parseArtifacts(args []string) (map[string]any, error) {
	artifacts := make(map[string]any, len(args))
	for _, a := range args {
		name, value, ok := strings.Cut(a, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid artifact %q: want name=value", a)
		}
		if path, isFile := strings.CutPrefix(value, "@"); isFile {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("read artifact %s: %w", name, err)
			}
			value = string(data)
		}
		artifacts[name] = value
	}
	return artifacts, nil
}

func runTaskEvents(id string, limit int) error {
	res, err := send("get-task-events", map[string]any{"id": id, "limit": limit})
	if err != nil {
		return err
	}
	if flagJSON {
		return printJSON(res)
	}
	var out struct {
		Events []store.TaskEvent `json:"events"`
	}
	if err := res.Decode(&out); err != nil {
		return err
	}
	if len(out.Events) == 0 {
		fmt.Println(cli.GrayText("No events"))
		return nil
	}
	for _, e := range out.Events {
		fmt.Printf("%s  %s\n", cli.GrayText(e.Timestamp.Local().Format("Jan 2 15:04:05")), cli.CyanText(string(e.Type)))
	}
	return nil
}

func runGenerate(path string, n int) error {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return err
	}

	params := map[string]any{"prd": string(data)}
	if n > 0 {
		params["num_tasks"] = n
	}
	res, err := send("generate-tasks", params)
	if err != nil {
		return err
	}
	if flagJSON {
		return printJSON(res)
	}
	var out struct {
		Tasks []*task.Task `json:"tasks"`
	}
	if err := res.Decode(&out); err != nil {
		return err
	}
	printSuccess(fmt.Sprintf("Generated %d tasks", len(out.Tasks)))
	cli.TaskTable(os.Stdout, out.Tasks)
	return nil
}

// Raw protocol commands

func runTools() error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Client.RequestTimeout+10*time.Second)
	defer cancel()

	client, err := getClient(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	tools, err := client.DiscoverTools(ctx)
	if err != nil {
		return err
	}
	if flagJSON {
		return printJSON(tools)
	}
	printTools(tools)
	return nil
}

func runCall(command, rawParams string) error {
	var params any
	if rawParams != "" {
		if err := json.Unmarshal([]byte(rawParams), &params); err != nil {
			return fmt.Errorf("invalid params JSON: %w", err)
		}
	}
	res, err := send(command, params)
	if err != nil {
		return err
	}
	return printJSON(res)
}

func runBatch(path string, continueOnError bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var cmds []control.BatchCommand
	if err := yaml.Unmarshal(data, &cmds); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	if len(cmds) == 0 {
		return fmt.Errorf("%s has no commands", path)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := getClient(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	results := client.BatchCommands(ctx, cmds, control.BatchOptions{
		ContinueOnError: continueOnError,
		Timeout:         cfg.Client.RequestTimeout,
	})
	if flagJSON {
		return printJSON(batchJSON(results))
	}

	failed := printBatchResults(results)
	if skipped := len(cmds) - len(results); skipped > 0 {
		fmt.Println(cli.GrayText(fmt.Sprintf("%d commands not sent", skipped)))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d commands failed", failed, len(results))
	}
	return nil
}

func batchJSON(results []control.BatchResult) []map[string]any {
	out := make([]map[string]any, len(results))
	for i, r := range results {
		entry := map[string]any{"command": r.Command}
		if r.Err != nil {
			entry["error"] = r.Err.Error()
		} else {
			entry["result"] = r.Result
		}
		out[i] = entry
	}
	return out
}

// Context commands

func runContextList() error {
	res, err := send("list-contexts", nil)
	if err != nil {
		return err
	}
	if flagJSON {
		return printJSON(res)
	}
	var out struct {
		Contexts []session.Summary      `json:"contexts"`
		Archived []store.ArchivedContext `json:"archived"`
	}
	if err := res.Decode(&out); err != nil {
		return err
	}
	printContexts(out.Contexts, out.Archived)
	return nil
}

func runContextCreate(id, rawData string) error {
	params := map[string]any{}
	if id != "" {
		params["id"] = id
	}
	if rawData != "" {
		var data map[string]any
		if err := json.Unmarshal([]byte(rawData), &data); err != nil {
			return fmt.Errorf("invalid data JSON: %w", err)
		}
		params["data"] = data
	}
	res, err := send("create-context", params)
	if err != nil {
		return err
	}
	if flagJSON {
		return printJSON(res)
	}
	created, _ := res["context_id"].(string)
	printSuccess("Created context " + cli.BoldCyan(created))
	return nil
}

func fetchContext(id string) (*session.Export, control.Result, error) {
	params := map[string]any{}
	if id != "" {
		params["id"] = id
	}
	res, err := send("export-context", params)
	if err != nil {
		return nil, nil, err
	}
	var out struct {
		Context *session.Export `json:"context"`
	}
	if err := res.Decode(&out); err != nil {
		return nil, nil, err
	}
	if out.Context == nil {
		return nil, nil, errors.New("response has no context")
	}
	return out.Context, res, nil
}

func runContextShow(id string) error {
	exp, res, err := fetchContext(id)
	if err != nil {
		return err
	}
	if flagJSON {
		return printJSON(res)
	}
	printContext(exp)
	return nil
}

func runContextStep(id, name, rawData string) error {
	params := map[string]any{"name": name}
	if id != "" {
		params["id"] = id
	}
	if rawData != "" {
		var data map[string]any
		if err := json.Unmarshal([]byte(rawData), &data); err != nil {
			return fmt.Errorf("invalid data JSON: %w", err)
		}
		params["data"] = data
	}
	res, err := send("add-step", params)
	if err != nil {
		return err
	}
	if flagJSON {
		return printJSON(res)
	}
	var out struct {
		ContextID string               `json:"context_id"`
		Step      session.ExportedStep `json:"step"`
	}
	if err := res.Decode(&out); err != nil {
		return err
	}
	printSuccess(fmt.Sprintf("Step %d %q recorded in %s", out.Step.Index, out.Step.Name, out.ContextID))
	return nil
}

func runContextExport(id string) error {
	exp, _, err := fetchContext(id)
	if err != nil {
		return err
	}
	return printJSON(exp)
}

func runContextImport(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var exp session.Export
	if err := json.Unmarshal(data, &exp); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return runSimple("import-context", map[string]any{"context": exp}, "Imported context "+exp.ID)
}

func runMonitor() error {
	client, err := newClient()
	if err != nil {
		return err
	}
	defer client.Close()

	m := monitor.New(client)
	defer m.Close()

	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err = p.Run()
	return err
}

func runServerInfo() error {
	res, err := send("get-server-info", nil)
	if err != nil {
		return err
	}
	if flagJSON {
		return printJSON(res)
	}
	var info serverInfo
	if err := res.Decode(&info); err != nil {
		return err
	}
	printServerInfo(info)
	return nil
}
