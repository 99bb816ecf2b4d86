package cli

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/yardcam/internal/store"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Run     string
	End     string
	Outcome string
	Limit   int
	Runs    bool
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history <journal>",
		Short: "Show dispatch attempts from a journal",
		Long: `Read the dispatch journal written by "yardcam run" and list dispatch
attempts, newest last. The journal is opened read-only, so it can be read
while the service is running.

Examples:
  yardcam history yardcam.db
  yardcam history yardcam.db --end E1 --outcome failed
  yardcam history yardcam.db --runs
  yardcam history yardcam.db --format json --limit 0`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Run, "run", "", "only attempts from this run id")
	cmd.Flags().StringVar(&opts.End, "end", "", "only attempts for this End region")
	cmd.Flags().StringVar(&opts.Outcome, "outcome", "", "only attempts with this outcome (dispatched|aborted|failed)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "most recent attempts to show (0 for all)")
	cmd.Flags().BoolVar(&opts.Runs, "runs", false, "list runs instead of attempts")

	return cmd
}

func runHistory(opts *HistoryOptions, path string, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	if _, err := os.Stat(path); err != nil {
		return NewExitError(ExitCommandError, fmt.Sprintf("journal not found: %s", path))
	}
	switch opts.Outcome {
	case "", "dispatched", "aborted", "failed":
	default:
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid outcome %q", opts.Outcome))
	}
	if opts.Limit < 0 {
		return NewExitError(ExitCommandError, "limit must be non-negative")
	}

	st, err := store.OpenReadOnly(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer st.Close()

	ctx := cmd.Context()

	if opts.Runs {
		runs, err := st.ListRuns(ctx)
		if err != nil {
			out.Error(CodeJournal, "failed to read runs", err.Error())
			return WrapExitError(ExitFailure, "failed to read runs", err)
		}
		if out.JSON() {
			return out.Success(runs)
		}
		rows := make([][]string, 0, len(runs))
		for _, r := range runs {
			rows = append(rows, []string{
				r.ID,
				r.StartedAt.Format(time.RFC3339),
				strconv.Itoa(r.Transitions),
				strconv.Itoa(r.Attempts),
				strconv.Itoa(r.Dispatched),
			})
		}
		return out.Table([]string{"run", "started", "transitions", "attempts", "dispatched"}, rows)
	}

	attempts, err := st.ReadAttempts(ctx, store.AttemptFilter{
		RunID:   opts.Run,
		End:     opts.End,
		Outcome: opts.Outcome,
		Limit:   opts.Limit,
	})
	if err != nil {
		out.Error(CodeJournal, "failed to read attempts", err.Error())
		return WrapExitError(ExitFailure, "failed to read attempts", err)
	}
	if out.JSON() {
		return out.Success(attempts)
	}
	if len(attempts) == 0 {
		fmt.Fprintln(out.Writer, "No dispatch attempts.")
		return nil
	}

	rows := make([][]string, 0, len(attempts))
	for _, a := range attempts {
		rows = append(rows, []string{
			a.At.Format(time.RFC3339),
			strconv.FormatInt(a.Seq, 10),
			a.End,
			a.Start,
			strconv.FormatUint(a.Cycle, 10),
			a.Outcome,
			dash(a.Reason),
			dash(a.OrderID),
			dash(a.Code),
		})
	}
	return out.Table([]string{"at", "seq", "end", "start", "cycle", "outcome", "reason", "order", "code"}, rows)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
