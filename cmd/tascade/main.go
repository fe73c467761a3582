// Command tascade is the command-line client for a tascaded server.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/drewfead/tascade/internal/cli"
	"github.com/drewfead/tascade/internal/config"
)

var (
	cfg *config.Config

	flagURL     string
	flagSession string
	flagJSON    bool
	flagNoColor bool
)

func main() {
	var err error
	cfg, err = config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if err := rootCmd.Execute(); err != nil {
		printError(err.Error())
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "tascade",
	Short: "AI-assisted task management over WebSocket",
	Long: `tascade talks to a tascaded server to manage tasks, split them into
subtasks, verify them against artifacts and track working contexts.

Examples:
  tascade tasks                         # Task tree
  tascade tasks add "Build login" -p high
  tascade tasks split 3f2a -s technical -n 4
  tascade generate docs/prd.md -n 8     # Tasks from a requirements document
  tascade call get-server-info          # Raw command
  tascade monitor                       # Live connection view`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if flagNoColor {
			cli.ForceColors(false)
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTaskList("", "")
	},
}

// Task commands
var tasksCmd = &cobra.Command{
	Use:     "tasks",
	Aliases: []string{"task", "t"},
	Short:   "Manage tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		parent, _ := cmd.Flags().GetString("parent")
		return runTaskList(status, parent)
	},
}

var tasksListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List tasks as a tree",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		parent, _ := cmd.Flags().GetString("parent")
		return runTaskList(status, parent)
	},
}

var tasksShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTaskShow(args[0])
	},
}

var tasksAddCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Create a task",
	Long: `Create a task.

Examples:
  tascade tasks add "Write migration" -d "Add the users table" -p high
  tascade tasks add "Deploy" --depends-on 3f2a --depends-on 9c1d
  tascade tasks add "Login form" --criteria "form validates email
submit posts credentials"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		description, _ := cmd.Flags().GetString("description")
		priority, _ := cmd.Flags().GetString("priority")
		deps, _ := cmd.Flags().GetStringSlice("depends-on")
		criteria, _ := cmd.Flags().GetString("criteria")
		guide, _ := cmd.Flags().GetString("guide")
		return runTaskAdd(args[0], description, priority, deps, criteria, guide)
	},
}

var tasksStatusCmd = &cobra.Command{
	Use:   "status <id> <status>",
	Short: "Set a task's status",
	Long:  "Statuses: pending, in_progress, completed, blocked, review, deferred, cancelled.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTaskStatus(args[0], args[1])
	},
}

var tasksDeleteCmd = &cobra.Command{
	Use:     "delete <id>",
	Aliases: []string{"rm"},
	Short:   "Delete a task",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTaskDelete(args[0])
	},
}

var tasksDependCmd = &cobra.Command{
	Use:   "depend <id> <depends-on>",
	Short: "Add or remove a dependency between tasks",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		remove, _ := cmd.Flags().GetBool("remove")
		return runTaskDepend(args[0], args[1], remove)
	},
}

var tasksDepsCmd = &cobra.Command{
	Use:   "deps <id>",
	Short: "Show a task's dependencies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTaskDeps(args[0])
	},
}

var tasksSplitCmd = &cobra.Command{
	Use:   "split <id>",
	Short: "Split a task into subtasks",
	Long: `Split a task into dependent subtasks.

Strategies: auto, functional, technical, development_stage, risk_based.
With auto, the strategy is chosen from the task description.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		strategy, _ := cmd.Flags().GetString("strategy")
		n, _ := cmd.Flags().GetInt("num")
		return runTaskSplit(args[0], strategy, n)
	},
}

var tasksComplexityCmd = &cobra.Command{
	Use:   "complexity <id>",
	Short: "Analyze a task's complexity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTaskComplexity(args[0])
	},
}

var tasksVerifyCmd = &cobra.Command{
	Use:   "verify <id>",
	Short: "Verify a task against artifacts",
	Long: `Score a task's verification criteria against artifacts.

Artifacts are name=value pairs; a value starting with @ is read from a file.

Examples:
  tascade tasks verify 3f2a -a summary="login form validates email"
  tascade tasks verify 3f2a -a diff=@changes.patch`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		artifacts, _ := cmd.Flags().GetStringArray("artifact")
		return runTaskVerify(args[0], artifacts)
	},
}

var tasksEventsCmd = &cobra.Command{
	Use:   "events <id>",
	Short: "Show a task's change history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return runTaskEvents(args[0], limit)
	},
}

var generateCmd = &cobra.Command{
	Use:   "generate <prd-file>",
	Short: "Generate tasks from a requirements document",
	Long:  "Generate tasks from a requirements document. Use - to read from stdin.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, _ := cmd.Flags().GetInt("num")
		return runGenerate(args[0], n)
	},
}

// Raw protocol commands
var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the commands the server offers",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTools()
	},
}

var callCmd = &cobra.Command{
	Use:   "call <command> [json-params]",
	Short: "Send a single command",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		params := ""
		if len(args) > 1 {
			params = args[1]
		}
		return runCall(args[0], params)
	},
}

var batchCmd = &cobra.Command{
	Use:   "batch <file>",
	Short: "Send commands from a YAML file in order",
	Long: `Send commands from a YAML file, one at a time, in order.

File format:
  - command: add-task
    params:
      title: Write docs
  - command: get-tasks

Without --continue-on-error the batch stops at the first failure.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cont, _ := cmd.Flags().GetBool("continue-on-error")
		return runBatch(args[0], cont)
	},
}

// Context commands
var contextCmd = &cobra.Command{
	Use:     "context",
	Aliases: []string{"ctx"},
	Short:   "Manage working contexts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runContextList()
	},
}

var contextCreateCmd = &cobra.Command{
	Use:   "create [id] [json-data]",
	Short: "Create a context and make it active",
	Args:  cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, data := argAt(args, 0), argAt(args, 1)
		return runContextCreate(id, data)
	},
}

var contextShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show a context and its steps",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runContextShow(argAt(args, 0))
	},
}

var contextStepCmd = &cobra.Command{
	Use:   "step <name> [json-data]",
	Short: "Record a step in a context",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _ := cmd.Flags().GetString("id")
		return runContextStep(id, args[0], argAt(args, 1))
	},
}

var contextUseCmd = &cobra.Command{
	Use:   "use <id>",
	Short: "Make a context the active one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSimple("set-active-context", map[string]any{"id": args[0]}, "Active context: "+args[0])
	},
}

var contextExportCmd = &cobra.Command{
	Use:   "export [id]",
	Short: "Print a context as JSON",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runContextExport(argAt(args, 0))
	},
}

var contextImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import a context exported as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runContextImport(args[0])
	},
}

var contextArchiveCmd = &cobra.Command{
	Use:   "archive [id]",
	Short: "Persist a context to the server database",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		remove, _ := cmd.Flags().GetBool("remove")
		return runSimple("archive-context", map[string]any{"id": argAt(args, 0), "remove": remove}, "Context archived")
	},
}

var contextRestoreCmd = &cobra.Command{
	Use:   "restore <id>",
	Short: "Load an archived context back into memory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSimple("restore-context", map[string]any{"id": args[0]}, "Context restored: "+args[0])
	},
}

var contextDeleteCmd = &cobra.Command{
	Use:     "delete <id>",
	Aliases: []string{"rm"},
	Short:   "Delete a context",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSimple("delete-context", map[string]any{"id": args[0]}, "Context deleted: "+args[0])
	},
}

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Watch the connection and task updates live",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMonitor()
	},
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Server information",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServerInfo()
	},
}

var serverInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show server name, version, commands and connections",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServerInfo()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagURL, "url", "", "Server URL (default from config)")
	rootCmd.PersistentFlags().StringVar(&flagSession, "session", "", "Session ID sent as the request context")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "Print raw JSON results")
	rootCmd.PersistentFlags().BoolVar(&flagNoColor, "no-color", false, "Disable colors")

	// Task flags
	for _, c := range []*cobra.Command{tasksCmd, tasksListCmd} {
		c.Flags().StringP("status", "s", "", "Filter by status")
		c.Flags().String("parent", "", "Filter by parent task ID")
	}
	tasksAddCmd.Flags().StringP("description", "d", "", "Task description")
	tasksAddCmd.Flags().StringP("priority", "p", "", "Priority: low, medium, high")
	tasksAddCmd.Flags().StringSlice("depends-on", nil, "IDs of tasks this task depends on")
	tasksAddCmd.Flags().String("criteria", "", "Verification criteria, one per line")
	tasksAddCmd.Flags().String("guide", "", "Implementation guide")
	tasksDependCmd.Flags().Bool("remove", false, "Remove the dependency instead")
	tasksSplitCmd.Flags().StringP("strategy", "s", "auto", "Split strategy")
	tasksSplitCmd.Flags().IntP("num", "n", 0, "Number of subtasks (default from complexity)")
	tasksVerifyCmd.Flags().StringArrayP("artifact", "a", nil, "Artifact as name=value or name=@file")
	tasksEventsCmd.Flags().IntP("limit", "l", 20, "Maximum number of events")
	tasksCmd.AddCommand(tasksListCmd, tasksShowCmd, tasksAddCmd, tasksStatusCmd, tasksDeleteCmd,
		tasksDependCmd, tasksDepsCmd, tasksSplitCmd, tasksComplexityCmd, tasksVerifyCmd, tasksEventsCmd)

	generateCmd.Flags().IntP("num", "n", 0, "Maximum number of tasks")
	batchCmd.Flags().Bool("continue-on-error", false, "Keep going after a failed command")

	// Context flags
	contextStepCmd.Flags().String("id", "", "Context ID (default: session, then active context)")
	contextArchiveCmd.Flags().Bool("remove", false, "Delete the live context after archiving")
	contextCmd.AddCommand(contextCreateCmd, contextShowCmd, contextStepCmd, contextUseCmd,
		contextExportCmd, contextImportCmd, contextArchiveCmd, contextRestoreCmd, contextDeleteCmd)

	serverCmd.AddCommand(serverInfoCmd)

	rootCmd.AddCommand(tasksCmd, generateCmd, toolsCmd, callCmd, batchCmd, contextCmd, monitorCmd, serverCmd)
}

func argAt(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return ""
}
