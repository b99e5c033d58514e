package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/specialistvlad/privacyflow/internal/app"
	"github.com/specialistvlad/privacyflow/internal/privacyerr"
	"github.com/specialistvlad/privacyflow/internal/requeststore"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// Exit codes.
const (
	CodeRuntime = 1
	CodeUsage   = 2
)

// AppFactory builds the application for one command. Logs go to logW.
type AppFactory func(logW io.Writer, cfg *app.Config) *app.App

// Streams are the writers commands print to.
type Streams struct {
	Out io.Writer
	Err io.Writer
}

// globalOptions are the flags shared by every command.
type globalOptions struct {
	configPaths       []string
	stateDir          string
	logLevel          string
	logFormat         string
	workers           int
	retries           int
	requestTimeout    time.Duration
	callTimeout       time.Duration
	healthcheckPort   int
	checkpointTTL     time.Duration
	retention         time.Duration
	retentionSchedule string
	maxSelfRefDepth   int
	maskingSalt       string
}

func (o *globalOptions) addFlags(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.StringSliceVarP(&o.configPaths, "config", "c", nil, "HCL configuration file or directory (repeatable)")
	f.StringVar(&o.stateDir, "state-dir", ".privacyflow", "Directory holding checkpoints and the request store")
	f.StringVar(&o.logLevel, "log-level", "info", "Logging level: debug, info, warn or error")
	f.StringVar(&o.logFormat, "log-format", "text", "Log output format: text or json")
	f.IntVar(&o.workers, "workers", 10, "Number of concurrent connector workers")
	f.IntVar(&o.retries, "retries", 3, "Retries per collection after a recoverable failure")
	f.DurationVar(&o.requestTimeout, "request-timeout", 0, "Upper bound for a whole request, 0 disables it")
	f.DurationVar(&o.callTimeout, "call-timeout", 0, "Default bound for one connector call (default 30s)")
	f.IntVar(&o.healthcheckPort, "healthcheck-port", 0, "Port for the health and metrics server in serve mode, 0 disables it")
	f.DurationVar(&o.checkpointTTL, "checkpoint-ttl", 0, "How long node checkpoints are kept (default 168h)")
	f.DurationVar(&o.retention, "retention", app.DefaultRetentionWindow, "How long finished requests are kept")
	f.StringVar(&o.retentionSchedule, "retention-schedule", "@hourly", "Cron schedule of the retention sweep in serve mode")
	f.IntVar(&o.maxSelfRefDepth, "max-self-ref-depth", 0, "Bound for self-referencing collections (default 5)")
	f.StringVar(&o.maskingSalt, "masking-salt", "", "Salt for the hash masking strategy")
}

func (o *globalOptions) appConfig() (*app.Config, error) {
	cfg, err := app.NewConfig(app.Config{
		ConfigPaths:       o.configPaths,
		StateDir:          o.stateDir,
		LogFormat:         o.logFormat,
		LogLevel:          o.logLevel,
		HealthcheckPort:   o.healthcheckPort,
		WorkerCount:       o.workers,
		Retries:           o.retries,
		RequestTimeout:    o.requestTimeout,
		CallTimeout:       o.callTimeout,
		CheckpointTTL:     o.checkpointTTL,
		RetentionWindow:   o.retention,
		RetentionSchedule: o.retentionSchedule,
		MaxSelfRefDepth:   o.maxSelfRefDepth,
		MaskingSalt:       o.maskingSalt,
	})
	if err != nil {
		return nil, &ExitError{Code: CodeUsage, Message: err.Error()}
	}
	return cfg, nil
}

// runner builds the app for a command, runs fn and closes the app.
type runner struct {
	opts    *globalOptions
	streams Streams
	newApp  AppFactory
}

func (r *runner) with(fn func(a *app.App) error) error {
	cfg, err := r.opts.appConfig()
	if err != nil {
		return err
	}
	a := r.newApp(r.streams.Err, cfg)
	runErr := fn(a)
	if cerr := a.Close(); cerr != nil && runErr == nil {
		runErr = cerr
	}
	return runErr
}

// NewRootCommand builds the privacyflow command tree.
func NewRootCommand(streams Streams, newApp AppFactory) *cobra.Command {
	opts := &globalOptions{}
	r := &runner{opts: opts, streams: streams, newApp: newApp}

	root := &cobra.Command{
		Use:   "privacyflow",
		Short: "Run privacy access and erasure requests across connected data stores",
		Long: `privacyflow plans a traversal of every configured dataset reachable from a
person's identity, collects their data, and masks or deletes it on erasure.

Configuration is read from HCL files that declare connections, datasets,
policies and an optional export target.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(streams.Out)
	root.SetErr(streams.Err)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &ExitError{Code: CodeUsage, Message: err.Error()}
	})
	opts.addFlags(root)

	root.AddCommand(
		newCmdRun(r),
		newCmdResume(r),
		newCmdStatus(r),
		newCmdResult(r),
		newCmdPurge(r),
		newCmdTestConnection(r),
		newCmdServe(r),
	)
	return root
}

// Execute runs the command tree and converts failures into ExitErrors.
func Execute(ctx context.Context, args []string, streams Streams, newApp AppFactory) error {
	root := NewRootCommand(streams, newApp)
	root.SetArgs(args)
	return classify(root.ExecuteContext(ctx))
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr
	}
	var vErr *privacyerr.ValidationError
	var pErr *privacyerr.PlanningError
	if errors.As(err, &vErr) || errors.As(err, &pErr) || errors.Is(err, requeststore.ErrNotFound) {
		return &ExitError{Code: CodeUsage, Message: err.Error()}
	}
	if msg := err.Error(); strings.HasPrefix(msg, "unknown command") || strings.HasPrefix(msg, "accepts ") || strings.HasPrefix(msg, "requires ") {
		return &ExitError{Code: CodeUsage, Message: msg}
	}
	return &ExitError{Code: CodeRuntime, Message: err.Error()}
}

func runtimeErrorf(format string, args ...any) error {
	return &ExitError{Code: CodeRuntime, Message: fmt.Sprintf(format, args...)}
}
