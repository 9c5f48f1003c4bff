package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/xkilldash9x/glimpse-cli/cmd"
	"github.com/xkilldash9x/glimpse-cli/internal/observability"
)

const panicLogFile = "panic.log"

const banner = `
   ___ _ _                       
  / __| (_)_ __  _ __  ___ ___   
 | (_ | | | '  \| '_ \(_-</ -_)  
  \___|_|_|_|_|_| .__/___/\___|  
                |_|   browser + pointing

`

// Swappable for tests.
var (
	osWriteFile           = os.WriteFile
	osExit                = os.Exit
	stderr      io.Writer = os.Stderr
	execute               = cmd.Execute
)

func main() {
	defer handlePanic()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	osExit(run(ctx, os.Args[1:]))
}

// run executes the CLI and returns the process exit code. With no arguments
// it opens the interactive shell.
func run(ctx context.Context, args []string) int {
	if len(args) == 0 {
		fmt.Fprint(os.Stdout, banner)
		os.Args = append(os.Args[:1], "shell")
	}
	if err := execute(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return 0
		}
		return 1
	}
	return 0
}

// handlePanic writes the stack of an unrecovered panic to panic.log.
func handlePanic() {
	r := recover()
	if r == nil {
		return
	}
	observability.Sync()

	msg := fmt.Sprintf("panic: %v\n\n%s", r, debug.Stack())
	if err := osWriteFile(panicLogFile, []byte(msg), 0o644); err != nil {
		fmt.Fprintf(stderr, "CRITICAL: Failed to write panic log: %v\n", err)
		fmt.Fprintf(stderr, "Panic details:\n%s\n", msg)
		osExit(2)
		return
	}
	fmt.Fprintf(stderr, "glimpse crashed. Details logged to %s\n", panicLogFile)
	osExit(2)
}
