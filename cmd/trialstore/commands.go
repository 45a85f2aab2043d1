package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/yungbote/trialstore/internal/app"
	"github.com/yungbote/trialstore/internal/domain/optimization"
)

// openApp is replaced in tests.
var openApp = app.New

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "trialstore",
		Short:         "Inspect and maintain a trialstore document store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (TRIALSTORE_* env vars override it)")

	withApp := func(run func(ctx context.Context, cmd *cobra.Command, a *app.App, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			a, err := openApp(ctx, configPath)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())
			return run(ctx, cmd, a, args)
		}
	}

	var bestTrial bool
	studies := &cobra.Command{
		Use:   "studies",
		Short: "List study summaries",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app.App, _ []string) error {
			summaries, err := a.Storage.GetAllStudySummaries(ctx, bestTrial)
			if err != nil {
				return err
			}
			return printStudies(cmd.OutOrStdout(), summaries)
		}),
	}
	studies.Flags().BoolVar(&bestTrial, "best", true, "include the best trial of single-objective studies")

	var states []string
	trials := &cobra.Command{
		Use:   "trials <study-name>",
		Short: "List the trials of a study",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app.App, args []string) error {
			filter, err := parseStates(states)
			if err != nil {
				return err
			}
			studyID, err := a.Storage.GetStudyIDFromName(ctx, args[0])
			if err != nil {
				return err
			}
			list, err := a.Storage.GetAllTrials(ctx, studyID, filter)
			if err != nil {
				return err
			}
			return printTrials(cmd.OutOrStdout(), list)
		}),
	}
	trials.Flags().StringSliceVar(&states, "state", nil, "only trials in these states (RUNNING, WAITING, COMPLETE, PRUNED, FAIL)")

	var yes bool
	deleteStudy := &cobra.Command{
		Use:   "delete-study <study-name>",
		Short: "Delete a study and all of its trials",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app.App, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to delete study %q without --yes", args[0])
			}
			studyID, err := a.Storage.GetStudyIDFromName(ctx, args[0])
			if err != nil {
				return err
			}
			if err := a.Storage.DeleteStudy(ctx, studyID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted study %q (id %d)\n", args[0], studyID)
			return nil
		}),
	}
	deleteStudy.Flags().BoolVar(&yes, "yes", false, "confirm the deletion")

	ensureIndexes := &cobra.Command{
		Use:   "ensure-indexes",
		Short: "Create the indexes the storage engine relies on",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app.App, _ []string) error {
			// Idempotent; opening the app already ran it once.
			if err := a.Storage.EnsureIndexes(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "indexes ok")
			return nil
		}),
	}

	serve := &cobra.Command{
		Use:   "serve-metrics",
		Short: "Serve Prometheus metrics for the configured store until interrupted",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app.App, _ []string) error {
			if a.Cfg.Metrics.Addr == "" {
				return fmt.Errorf("metrics.addr (TRIALSTORE_METRICS_ADDR) is not set")
			}
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			a.Start()
			a.Log.Info("Serving metrics", "addr", a.Cfg.Metrics.Addr)
			<-ctx.Done()
			return nil
		}),
	}

	root.AddCommand(studies, trials, deleteStudy, ensureIndexes, serve)
	return root
}

func parseStates(raw []string) ([]optimization.TrialState, error) {
	var out []optimization.TrialState
	for _, r := range raw {
		s, err := optimization.ParseTrialState(strings.ToUpper(strings.TrimSpace(r)))
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func printStudies(w io.Writer, summaries []optimization.StudySummary) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tDIRECTIONS\tTRIALS\tSTARTED\tBEST")
	for _, s := range summaries {
		dirs := make([]string, len(s.Directions))
		for i, d := range s.Directions {
			dirs[i] = d.String()
		}
		best := "-"
		if s.BestTrial != nil {
			best = fmt.Sprintf("#%d=%s", s.BestTrial.Number, formatValues(s.BestTrial))
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\t%s\n",
			s.StudyID, s.StudyName, strings.Join(dirs, ","), s.NTrials, formatTime(s.DatetimeStart), best)
	}
	return tw.Flush()
}

func printTrials(w io.Writer, trials []*optimization.Trial) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NUMBER\tID\tSTATE\tVALUE\tSTARTED\tCOMPLETED\tPARAMS")
	for _, t := range trials {
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\t%s\t%d\n",
			t.Number, t.ID, t.State, formatValues(t), formatTime(t.DatetimeStart), formatTime(t.DatetimeComplete), len(t.Params))
	}
	return tw.Flush()
}

func formatValues(t *optimization.Trial) string {
	values := t.Objectives()
	if len(values) == 0 {
		return "-"
	}
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strings.Join(parts, ",")
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
