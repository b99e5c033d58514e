package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/specialistvlad/privacyflow/internal/app"
	"github.com/specialistvlad/privacyflow/internal/requeststore"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printStatus(w io.Writer, rec *requeststore.Record) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "id:\t%s\n", rec.ID)
	fmt.Fprintf(tw, "mode:\t%s\n", rec.Mode)
	fmt.Fprintf(tw, "policy:\t%s\n", rec.Policy)
	fmt.Fprintf(tw, "status:\t%s\n", rec.Status)
	fmt.Fprintf(tw, "created:\t%s\n", rec.CreatedAt.Format(time.RFC3339))
	if !rec.FinishedAt.IsZero() {
		fmt.Fprintf(tw, "finished:\t%s\n", rec.FinishedAt.Format(time.RFC3339))
	}
	if rec.Error != "" {
		fmt.Fprintf(tw, "error:\t%s\n", rec.Error)
	}
	return tw.Flush()
}

func printChecks(w io.Writer, checks []app.ConnectionCheck) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CONNECTION\tKIND\tSTATUS\tERROR")
	for _, c := range checks {
		errText := ""
		if c.Err != nil {
			errText = c.Err.Error()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.Connection, c.Kind, c.Status, errText)
	}
	return tw.Flush()
}
