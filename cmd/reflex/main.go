package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"

	rerrors "github.com/shhac/reflex/internal/errors"
	"github.com/shhac/reflex/internal/format"
)

const (
	exitOK        = 0
	exitError     = 1
	exitUsage     = 2
	exitFatal     = 3
	exitCancelled = 130
)

func main() {
	c := &cli{stdin: os.Stdin, stdout: os.Stdout, stderr: os.Stderr}
	os.Exit(c.run(os.Args[1:]))
}

// cli holds the process streams so commands can run against buffers in
// tests.
type cli struct {
	stdin          io.Reader
	stdout, stderr io.Writer
	noLogFile      bool

	// errPrinter renders failures; commands replace it once their output
	// flags are parsed.
	errPrinter *format.Printer
}

// run executes one command line and returns the process exit code.
func (c *cli) run(args []string) int {
	c.errPrinter = format.NewPrinter(c.stderr, format.Text, false, false)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err := c.runApp(ctx, args)
	if err == nil {
		return exitOK
	}

	var ue *usageError
	if errors.As(err, &ue) {
		if ue.help {
			fmt.Fprint(c.stdout, ue.usage)
			return exitOK
		}
		fmt.Fprintf(c.stderr, "Error: %s\n", ue.msg)
		if ue.usage != "" {
			fmt.Fprint(c.stderr, "\n"+ue.usage)
		}
		return exitUsage
	}

	rep := rerrors.Classify(err)
	if perr := c.errPrinter.Error(rep); perr != nil {
		fmt.Fprintf(c.stderr, "Error: %v\n", err)
	}
	switch rep.Severity {
	case rerrors.SeverityInfo:
		return exitCancelled
	case rerrors.SeverityFatal:
		return exitFatal
	default:
		return exitError
	}
}

// runApp dispatches to a subcommand with panic recovery.
func (c *cli) runApp(ctx context.Context, args []string) (err error) {
	// Bootstrap logger for failures before the app logger exists
	tempLogger := slog.New(slog.NewTextHandler(c.stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	defer func() {
		if r := recover(); r != nil {
			tempLogger.Error("panic recovered",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			err = &rerrors.Report{
				Err:      fmt.Errorf("panic: %v", r),
				Severity: rerrors.SeverityFatal,
				Title:    "Internal Error",
				Message:  fmt.Sprintf("panic: %v", r),
				Code:     -1,
			}
		}
	}()

	if len(args) == 0 {
		return &usageError{msg: "missing command", usage: rootUsage}
	}

	cmd, cmdArgs := args[0], args[1:]
	switch cmd {
	case "list":
		return c.cmdList(ctx, cmdArgs)
	case "describe":
		return c.cmdDescribe(ctx, cmdArgs)
	case "call":
		return c.cmdCall(ctx, cmdArgs)
	case "run":
		return c.cmdRun(ctx, cmdArgs)
	case "saved":
		return c.cmdSaved(cmdArgs)
	case "history":
		return c.cmdHistory(cmdArgs)
	case "servers":
		return c.cmdServers(cmdArgs)
	case "help", "-h", "--help":
		return c.cmdHelp(cmdArgs)
	default:
		return &usageError{msg: fmt.Sprintf("unknown command %q", cmd), usage: rootUsage}
	}
}

func (c *cli) cmdHelp(args []string) error {
	if len(args) == 0 {
		fmt.Fprint(c.stdout, rootUsage)
		return nil
	}
	usage, ok := commandUsage[args[0]]
	if !ok {
		return &usageError{msg: fmt.Sprintf("unknown help topic %q", args[0]), usage: rootUsage}
	}
	fmt.Fprint(c.stdout, usage)
	return nil
}

// usageError reports a malformed command line.
type usageError struct {
	msg   string
	usage string
	help  bool // -h was given; print usage and succeed
}

func (e *usageError) Error() string { return e.msg }
