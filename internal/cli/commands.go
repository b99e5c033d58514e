package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/specialistvlad/privacyflow/internal/app"
	"github.com/specialistvlad/privacyflow/internal/connector"
	"github.com/specialistvlad/privacyflow/internal/engine"
	"github.com/specialistvlad/privacyflow/internal/request"
	"github.com/specialistvlad/privacyflow/internal/service"
)

// runOptions defines flags for run.
type runOptions struct {
	id       string
	policy   string
	mode     string
	identity map[string]string
}

func (o *runOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.id, "id", "", "Request id (generated when empty)")
	cmd.Flags().StringVar(&o.policy, "policy", "default", "Policy name")
	cmd.Flags().StringVar(&o.mode, "mode", string(request.ModeAccess), "Request mode: access or erasure")
	cmd.Flags().StringToStringVar(&o.identity, "identity", nil, "Identity values, e.g. --identity email=a@example.com")
}

func (o *runOptions) request() (*request.Request, error) {
	mode, err := request.ParseMode(o.mode)
	if err != nil {
		return nil, err
	}
	return &request.Request{ID: o.id, Policy: o.policy, Mode: mode, Identity: o.identity}, nil
}

// newCmdRun creates the `run` command.
func newCmdRun(r *runner) *cobra.Command {
	o := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Submit a request and wait for its result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := o.request()
			if err != nil {
				return err
			}
			return r.with(func(a *app.App) error {
				res, err := a.Run(cmd.Context(), req)
				return finish(r.streams, res, err)
			})
		},
	}
	o.addFlags(cmd)
	return cmd
}

// newCmdResume creates the `resume` command.
func newCmdResume(r *runner) *cobra.Command {
	return &cobra.Command{
		Use:   "resume <request-id>",
		Short: "Rerun a failed, cancelled or interrupted request from its checkpoints",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.with(func(a *app.App) error {
				res, err := a.Resume(cmd.Context(), args[0])
				return finish(r.streams, res, err)
			})
		},
	}
}

// newCmdStatus creates the `status` command.
func newCmdStatus(r *runner) *cobra.Command {
	return &cobra.Command{
		Use:   "status <request-id>",
		Short: "Print the status of a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.with(func(a *app.App) error {
				rec, err := a.Service().Record(a.Context(), args[0])
				if err != nil {
					return err
				}
				return printStatus(r.streams.Out, rec)
			})
		},
	}
}

// newCmdResult creates the `result` command.
func newCmdResult(r *runner) *cobra.Command {
	return &cobra.Command{
		Use:   "result <request-id>",
		Short: "Print the merged result of a finished request as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.with(func(a *app.App) error {
				res, err := a.Service().Result(a.Context(), args[0])
				if errors.Is(err, service.ErrNotFinished) {
					return runtimeErrorf("%v", err)
				}
				if err != nil {
					return err
				}
				return printJSON(r.streams.Out, res)
			})
		},
	}
}

// newCmdPurge creates the `purge` command.
func newCmdPurge(r *runner) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Delete records and checkpoints of requests older than the retention window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return r.with(func(a *app.App) error {
				purged, err := a.Purge(cmd.Context())
				fmt.Fprintf(r.streams.Out, "purged %d request(s)\n", len(purged))
				for _, id := range purged {
					fmt.Fprintln(r.streams.Out, id)
				}
				return err
			})
		},
	}
}

// newCmdTestConnection creates the `test-connection` command.
func newCmdTestConnection(r *runner) *cobra.Command {
	return &cobra.Command{
		Use:   "test-connection [connection...]",
		Short: "Check that configured connections are reachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.with(func(a *app.App) error {
				checks, err := a.TestConnections(cmd.Context(), args...)
				if err != nil {
					return &ExitError{Code: CodeUsage, Message: err.Error()}
				}
				if err := printChecks(r.streams.Out, checks); err != nil {
					return err
				}
				failed := 0
				for _, c := range checks {
					if c.Status == connector.StatusFailed {
						failed++
					}
				}
				if failed > 0 {
					return runtimeErrorf("%d of %d connection(s) failed", failed, len(checks))
				}
				return nil
			})
		},
	}
}

// newCmdServe creates the `serve` command.
func newCmdServe(r *runner) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve health and metrics, sweep expired requests and resume interrupted ones until stopped",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return r.with(func(a *app.App) error {
				return a.Serve(cmd.Context())
			})
		},
	}
}

// finish prints a request result and turns a non-complete outcome into a
// runtime exit error.
func finish(streams Streams, res *engine.MergedResult, err error) error {
	if res != nil {
		if perr := printJSON(streams.Out, res); perr != nil {
			return perr
		}
	}
	if err == nil {
		return nil
	}
	if res != nil {
		return runtimeErrorf("%v", err)
	}
	return err
}
