package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/tandem/internal/task"
)

// requestTimeout bounds the REST fetch so an unresponsive server does
// not hang the command.
const requestTimeout = 10 * time.Second

// TasksOptions holds flags for the tasks command.
type TasksOptions struct {
	*RootOptions
	Addr string
}

// BoardColumn groups the tasks of one column in display order.
type BoardColumn struct {
	Name  string      `json:"name"`
	Tasks []task.Task `json:"tasks"`
}

// BoardListing holds the board snapshot grouped by column.
type BoardListing struct {
	Columns []BoardColumn `json:"columns"`
	Total   int           `json:"total"`
}

// NewTasksCommand creates the tasks command.
func NewTasksCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TasksOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List the board of a running server",
		Long: `List the tasks on a running server's board.

Fetches the board snapshot over the REST endpoint and prints it grouped
by column, in board order: configured column order first, fractional
position order within each column.

Examples:
  tandem tasks
  tandem tasks --addr localhost:9000
  tandem tasks --format json
  tandem tasks --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTasks(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "localhost:8080", "server address (host:port or URL)")

	return cmd
}

func runTasks(opts *TasksOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, serverBaseURL(opts.Addr)+"/api/tasks", nil)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid server address", err)
	}

	client := &http.Client{Timeout: requestTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to reach server", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		message := readServerError(resp.Body)
		if opts.Format == "json" {
			_ = writeJSONResponse(cmd.OutOrStdout(), CLIResponse{
				Status: "error",
				Error:  &CLIError{Code: strconv.Itoa(resp.StatusCode), Message: message},
			})
		}
		return NewExitError(ExitFailure, fmt.Sprintf("server returned %d: %s", resp.StatusCode, message))
	}

	var tasks []task.Task
	if err := json.NewDecoder(resp.Body).Decode(&tasks); err != nil {
		return WrapExitError(ExitFailure, "failed to decode server response", err)
	}

	listing := groupColumns(tasks)

	if opts.Format == "json" {
		return writeJSONResponse(cmd.OutOrStdout(), CLIResponse{Status: "ok", Data: listing})
	}
	return outputTasksText(cmd, listing, opts.Verbose)
}

// serverBaseURL normalizes --addr into a base URL. Bare host:port and
// listen-style :port forms get an http scheme and host filled in.
func serverBaseURL(addr string) string {
	if strings.Contains(addr, "://") {
		return strings.TrimRight(addr, "/")
	}
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr
}

// readServerError extracts the message from a REST error body.
func readServerError(r io.Reader) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(r).Decode(&body); err != nil || body.Error == "" {
		return "unknown error"
	}
	return body.Error
}

// groupColumns folds the flat snapshot into per-column listings. The
// server already returns tasks in board order, so first appearance
// fixes each column's slot.
func groupColumns(tasks []task.Task) BoardListing {
	listing := BoardListing{Columns: []BoardColumn{}, Total: len(tasks)}
	index := make(map[string]int)
	for _, tk := range tasks {
		i, ok := index[tk.Column]
		if !ok {
			i = len(listing.Columns)
			index[tk.Column] = i
			listing.Columns = append(listing.Columns, BoardColumn{Name: tk.Column, Tasks: []task.Task{}})
		}
		listing.Columns[i].Tasks = append(listing.Columns[i].Tasks, tk)
	}
	return listing
}

// outputTasksText prints the board listing as text.
func outputTasksText(cmd *cobra.Command, listing BoardListing, verbose bool) error {
	w := cmd.OutOrStdout()

	if listing.Total == 0 {
		fmt.Fprintln(w, "No tasks on the board.")
		return nil
	}

	for i, col := range listing.Columns {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "=== %s (%d) ===\n", col.Name, len(col.Tasks))
		for n, tk := range col.Tasks {
			fmt.Fprintf(w, "  %d. %s\n", n+1, tk.Title)
			if verbose {
				fmt.Fprintf(w, "     id=%s version=%d position=%s updated=%s\n",
					tk.ID, tk.Version, tk.Position, tk.UpdatedAt.Format(time.RFC3339))
				if tk.Description != "" {
					fmt.Fprintf(w, "     %s\n", tk.Description)
				}
			}
		}
	}
	return nil
}
