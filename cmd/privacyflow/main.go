package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/specialistvlad/privacyflow/internal/app"
	"github.com/specialistvlad/privacyflow/internal/cli"
	"github.com/specialistvlad/privacyflow/internal/hcl_adapter"
)

// main is the entrypoint for the privacyflow application.
func main() {
	// Use a minimal logger until the full one is configured.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Stdout, os.Stderr, os.Args[1:])
	stop()
	if err != nil {
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, exitErr.Message)
			os.Exit(exitErr.Code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.CodeRuntime)
	}
}

// run wires the HCL loader into the command tree and turns start-up panics
// into errors.
func run(ctx context.Context, outW, errW io.Writer, args []string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &cli.ExitError{Code: cli.CodeRuntime, Message: fmt.Sprintf("application startup panicked: %v", r)}
		}
	}()

	newApp := func(logW io.Writer, cfg *app.Config) *app.App {
		return app.NewApp(logW, cfg, hcl_adapter.NewLoader())
	}
	return cli.Execute(ctx, args, cli.Streams{Out: outW, Err: errW}, newApp)
}
