package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/yardcam/internal/rcsmock"
)

// DefaultMockAddr is where mock-rcs listens by default.
const DefaultMockAddr = ":7000"

// MockRCSOptions holds flags for the mock-rcs command.
type MockRCSOptions struct {
	*RootOptions
	Addr      string
	FailEvery int
	Delay     time.Duration
}

// NewMockRCSCommand creates the mock-rcs command.
func NewMockRCSCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MockRCSOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "mock-rcs",
		Short: "Serve a mock work-order receiver",
		Long: `Accept work orders on ` + rcsmock.AddTaskPath + ` the way the fleet
controller does, log them, and list them on ` + rcsmock.OrdersPath + `.

Point dispatch.url at http://127.0.0.1:7000` + rcsmock.AddTaskPath + ` to try
the service without a fleet controller. --fail-every and --delay inject
rejections and slow replies.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMockRCS(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", DefaultMockAddr, "listen address")
	cmd.Flags().IntVar(&opts.FailEvery, "fail-every", 0, "reject every Nth order (0 accepts all)")
	cmd.Flags().DurationVar(&opts.Delay, "delay", 0, "delay before each reply")

	return cmd
}

func runMockRCS(opts *MockRCSOptions, cmd *cobra.Command) error {
	if opts.FailEvery < 0 {
		return NewExitError(ExitCommandError, "fail-every must be non-negative")
	}
	if opts.Delay < 0 {
		return NewExitError(ExitCommandError, "delay must be non-negative")
	}

	logger, err := opts.logger(cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	rcs := rcsmock.New(
		rcsmock.WithLogger(logger),
		rcsmock.WithFailEvery(opts.FailEvery),
		rcsmock.WithDelay(opts.Delay),
	)

	ctx, cancel := signalContext(cmd.Context(), logger)
	defer cancel()

	if err := rcs.Serve(ctx, opts.Addr); err != nil {
		return WrapExitError(ExitFailure, "mock receiver failed", err)
	}
	logger.Info("mock receiver stopped", "orders", len(rcs.Orders()))
	return nil
}
