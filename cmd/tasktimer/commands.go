package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/GoCodeAlone/tasktimer/comms"
	"github.com/GoCodeAlone/tasktimer/internal/version"
	"github.com/GoCodeAlone/tasktimer/task"
	"github.com/GoCodeAlone/tasktimer/timer"
	"github.com/GoCodeAlone/tasktimer/update"
)

const defaultServer = "http://localhost:9191"

type taskJSON struct {
	task.Task
	Warning string `json:"warning,omitempty"`
}

type viewJSON struct {
	timer.View
	Button  string `json:"button"`
	Warning string `json:"warning,omitempty"`
}

type completeJSON struct {
	Completed bool      `json:"completed"`
	Task      *taskJSON `json:"task"`
	Timer     viewJSON  `json:"timer"`
	Warning   string    `json:"warning,omitempty"`
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("TASKTIMER")
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:           "tasktimer",
		Short:         "tasktimer - track time against a personal task list",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("server", defaultServer, "tasktimer server URL (or $TASKTIMER_SERVER)")
	_ = v.BindPFlag("server", root.PersistentFlags().Lookup("server"))

	newClient := func() *Client {
		return &Client{
			BaseURL:    strings.TrimRight(v.GetString("server"), "/"),
			HTTPClient: &http.Client{Timeout: 15 * time.Second},
		}
	}

	root.AddCommand(
		versionCmd(),
		statusCmd(newClient),
		listCmd(newClient),
		addCmd(newClient),
		renameCmd(newClient),
		toggleCmd(newClient),
		doneCmd(newClient),
		resetCmd(newClient),
		watchCmd(newClient),
		updateCmd(),
	)
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "tasktimer %s (commit %s, built %s)\n",
				version.Version, version.Commit, version.BuildDate)
		},
	}
}

func updateCmd() *cobra.Command {
	var checkOnly bool
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update the tasktimer CLI to the latest release",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			u := update.New(version.Version)
			rel, err := u.Check(cmd.Context())
			if err != nil {
				return err
			}
			if rel == nil {
				fmt.Fprintf(out, "tasktimer %s is up to date\n", version.Version)
				return nil
			}
			if checkOnly {
				fmt.Fprintf(out, "update available: %s\n", rel.Version)
				return nil
			}
			exe, err := os.Executable()
			if err != nil {
				return fmt.Errorf("locate executable: %w", err)
			}
			if err := u.Apply(cmd.Context(), rel, exe); err != nil {
				return err
			}
			fmt.Fprintf(out, "updated to %s\n", rel.Version)
			return nil
		},
	}
	cmd.Flags().BoolVar(&checkOnly, "check", false, "only report whether an update is available")
	return cmd
}

func statusCmd(newClient func() *Client) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show server and timer status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := newClient()
			var st map[string]string
			if err := c.get(cmd.Context(), "/api/status", &st); err != nil {
				return err
			}
			var view viewJSON
			if err := c.get(cmd.Context(), "/api/timer", &view); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "status:  %s\n", st["status"])
			fmt.Fprintf(out, "version: %s\n", st["version"])
			fmt.Fprintf(out, "timer:   %s %s\n", view.State, view.Display)
			if view.TaskID != "" {
				fmt.Fprintf(out, "task:    %s\n", view.TaskID)
			}
			return nil
		},
	}
}

func listCmd(newClient func() *Client) *cobra.Command {
	var stored bool
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"tasks", "ls"},
		Short:   "List tasks, newest first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := "/api/tasks?order=display"
			if stored {
				path = "/api/tasks"
			}
			var tasks []task.Task
			if err := newClient().get(cmd.Context(), path, &tasks); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(tasks) == 0 {
				fmt.Fprintln(out, "no tasks")
				return nil
			}
			fmt.Fprintf(out, "%-36s %-30s %-6s %-10s\n", "ID", "NAME", "DONE", "TIME")
			fmt.Fprintln(out, strings.Repeat("-", 85))
			for _, t := range tasks {
				done := ""
				if t.Completed {
					done = "yes"
				}
				fmt.Fprintf(out, "%-36s %-30s %-6s %-10s\n", t.ID, truncate(t.Name, 29), done, t.Time)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&stored, "stored", false, "list in insertion order instead of newest first")
	return cmd
}

func addCmd(newClient func() *Client) *cobra.Command {
	return &cobra.Command{
		Use:   "add <name>",
		Short: "Add a task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var t taskJSON
			body := map[string]string{"name": strings.Join(args, " ")}
			if err := newClient().post(cmd.Context(), "/api/tasks", body, &t); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if t.ID == "" {
				fmt.Fprintln(out, "ignored: task name is empty")
				return nil
			}
			fmt.Fprintf(out, "added task %s\n", t.ID)
			printWarning(cmd, t.Warning)
			return nil
		},
	}
}

func renameCmd(newClient func() *Client) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <id> <name>",
		Short: "Rename a task",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient()
			id, err := resolveID(cmd, c, args[0])
			if err != nil {
				return err
			}
			var t taskJSON
			body := map[string]string{"name": strings.Join(args[1:], " ")}
			if err := c.patch(cmd.Context(), "/api/tasks/"+id, body, &t); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "task %s is now %q\n", t.ID, t.Name)
			printWarning(cmd, t.Warning)
			return nil
		},
	}
}

func toggleCmd(newClient func() *Client) *cobra.Command {
	return &cobra.Command{
		Use:     "toggle <id>",
		Aliases: []string{"start", "pause"},
		Short:   "Start, pause or resume the timer for a task",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient()
			id, err := resolveID(cmd, c, args[0])
			if err != nil {
				return err
			}
			var view viewJSON
			if err := c.post(cmd.Context(), "/api/tasks/"+id+"/toggle", nil, &view); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "timer %s %s\n", view.State, view.Display)
			printWarning(cmd, view.Warning)
			return nil
		},
	}
}

func doneCmd(newClient func() *Client) *cobra.Command {
	return &cobra.Command{
		Use:     "done <id>",
		Aliases: []string{"complete"},
		Short:   "Complete the task being timed and record its time",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient()
			id, err := resolveID(cmd, c, args[0])
			if err != nil {
				return err
			}
			var resp completeJSON
			if err := c.post(cmd.Context(), "/api/tasks/"+id+"/complete", nil, &resp); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !resp.Completed {
				fmt.Fprintln(out, "timer is not running; nothing to complete")
				return nil
			}
			if resp.Task != nil {
				fmt.Fprintf(out, "completed %q in %s\n", resp.Task.Name, resp.Task.Time)
			}
			printWarning(cmd, resp.Warning)
			return nil
		},
	}
}

func resetCmd(newClient func() *Client) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Discard the current timer session without recording it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var view viewJSON
			if err := newClient().post(cmd.Context(), "/api/timer/reset", nil, &view); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "timer %s\n", view.State)
			return nil
		},
	}
}

func watchCmd(newClient func() *Client) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream timer events until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := newClient()
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, c.BaseURL+"/events", nil)
			if err != nil {
				return err
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			defer resp.Body.Close() //nolint:errcheck
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("server returned %d", resp.StatusCode)
			}
			err = streamEvents(resp.Body, cmd.OutOrStdout())
			if cmd.Context().Err() != nil {
				return nil
			}
			return err
		},
	}
}

// streamEvents prints one line per SSE event read from r.
func streamEvents(r io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line, ok := strings.CutPrefix(scanner.Text(), "data: ")
		if !ok {
			continue
		}
		var ev struct {
			Type    comms.EventType `json:"type"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			continue
		}
		switch ev.Type {
		case comms.TypeTick:
			var v timer.View
			if json.Unmarshal(ev.Payload, &v) == nil {
				fmt.Fprintf(out, "%s %s\n", v.State, v.Display)
			}
		case comms.TypeSnapshot:
			var s timer.Snapshot
			if json.Unmarshal(ev.Payload, &s) == nil {
				fmt.Fprintf(out, "[%s] %d tasks, timer %s %s\n", ev.Type, len(s.Tasks), s.Timer.State, s.Timer.Display)
			}
		case comms.TypeTaskCompleted:
			var t task.Task
			if json.Unmarshal(ev.Payload, &t) == nil {
				fmt.Fprintf(out, "completed %q in %s\n", t.Name, t.Time)
			}
		case comms.TypePersistWarning:
			fmt.Fprintf(out, "warning: %s\n", string(ev.Payload))
		}
	}
	return scanner.Err()
}

// resolveID accepts a full task ID or a unique prefix of one.
func resolveID(cmd *cobra.Command, c *Client, ref string) (string, error) {
	var tasks []task.Task
	if err := c.get(cmd.Context(), "/api/tasks", &tasks); err != nil {
		return "", err
	}
	var match string
	for _, t := range tasks {
		if t.ID == ref {
			return ref, nil
		}
		if strings.HasPrefix(t.ID, ref) {
			if match != "" {
				return "", fmt.Errorf("task reference %q is ambiguous", ref)
			}
			match = t.ID
		}
	}
	if match == "" {
		return "", errors.New("no task matches " + ref)
	}
	return match, nil
}

func printWarning(cmd *cobra.Command, warning string) {
	if warning != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", warning)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
