package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/wolfman30/claims-fulfillment/internal/app/bootstrap"
	"github.com/wolfman30/claims-fulfillment/internal/turnlog"
)

type appFactory func(ctx context.Context) (*bootstrap.App, error)

func buildRootCommand(newApp appFactory) *cobra.Command {
	root := &cobra.Command{
		Use:   "claimsctl",
		Short: "Inspect claim conversation transcripts and turn logs",
		Long: strings.TrimSpace(`claimsctl reads the same stores as the fulfillment API.

Backends are selected with the API's environment variables (CASE_STORE,
TURN_LOG_STORE, TRANSCRIPT_ARCHIVE_BUCKET, ...).`),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true

	root.AddCommand(newTranscriptCommand(newApp))
	root.AddCommand(newTurnsCommand(newApp))
	return root
}

func withApp(cmd *cobra.Command, newApp appFactory, fn func(ctx context.Context, app *bootstrap.App) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	app, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(ctx, app)
}

func newTranscriptCommand(newApp appFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transcript",
		Short: "Render or fetch conversation transcripts",
	}

	var caseID string
	render := &cobra.Command{
		Use:     "render <session-id>",
		Short:   "Render a session transcript, optionally after the one stored on a case",
		Example: "  claimsctl transcript render 4f1c2a --case 5003000000D8cuI",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, newApp, func(ctx context.Context, app *bootstrap.App) error {
				doc, err := app.Reconciler.Merge(ctx, args[0], caseID, turnlog.Turn{})
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), doc)
				return nil
			})
		},
	}
	render.Flags().StringVar(&caseID, "case", "", "Case whose stored transcript is prepended")

	archived := &cobra.Command{
		Use:   "archived <case-id> <session-id>",
		Short: "Print a transcript from the S3 archive",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, newApp, func(ctx context.Context, app *bootstrap.App) error {
				if app.Archive == nil {
					return errors.New("TRANSCRIPT_ARCHIVE_BUCKET is not configured")
				}
				doc, err := app.Archive.FetchTranscript(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), doc)
				return nil
			})
		},
	}

	cmd.AddCommand(render, archived)
	return cmd
}

func newTurnsCommand(newApp appFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "turns",
		Short: "Inspect the per-turn conversation log",
	}

	var asJSON bool
	list := &cobra.Command{
		Use:   "list <session-id>",
		Short: "List a session's turns, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, newApp, func(ctx context.Context, app *bootstrap.App) error {
				turns, err := app.Turns.ListOrdered(ctx, args[0])
				if err != nil {
					return err
				}
				if asJSON {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(turns)
				}
				return printTurns(cmd, turns)
			})
		},
	}
	list.Flags().BoolVar(&asJSON, "json", false, "Print turns as JSON")

	cmd.AddCommand(list)
	return cmd
}

func printTurns(cmd *cobra.Command, turns []turnlog.Turn) error {
	if len(turns) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no turns recorded")
		return nil
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tTURN\tSPEAKER\tTEXT")
	for _, t := range turns {
		at := t.Timestamp.UTC().Format(time.RFC3339)
		for _, line := range t.Customer {
			fmt.Fprintf(w, "%s\t%s\tcustomer\t%s\n", at, t.ID, line)
		}
		for _, line := range t.Bot {
			fmt.Fprintf(w, "%s\t%s\tbot\t%s\n", at, t.ID, line)
		}
	}
	return w.Flush()
}
