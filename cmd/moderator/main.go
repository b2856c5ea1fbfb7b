// Command moderator runs the meeting moderator service and its admin tools.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/meetingmod/moderator/internal/dotenv"
	"github.com/meetingmod/moderator/pkg/gateway/config"
)

// app carries the process-level hooks commands use, so tests can replace
// them.
type app struct {
	loadConfig   func() (config.Config, error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
	isTerminal   func(w io.Writer) bool
	runViewer    func(ctx context.Context, m reviewModel, out io.Writer) error
}

func defaultApp() app {
	return app{
		loadConfig: config.LoadFromEnv,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
		isTerminal: writerIsTerminal,
		runViewer:  runReviewProgram,
	}
}

func writerIsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func newRootCmd(a app) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "moderator",
		Short:         "Real-time meeting moderator",
		Long:          "moderator transcribes live meetings, watches them for topic drift,\nprinciple violations and participation imbalance, and interjects.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(
		newServeCmd(a),
		newMigrateCmd(a),
		newPrinciplesCmd(a),
		newReviewCmd(a),
	)
	return cmd
}

func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, a app) int {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	if err := dotenv.LoadFiles(".env"); err != nil {
		fmt.Fprintf(stderr, "moderator: %v\n", err)
		return 1
	}

	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "moderator: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Args[1:], os.Stdout, os.Stderr, defaultApp()))
}
