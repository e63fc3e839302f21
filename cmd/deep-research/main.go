package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mikeboe/deep-research/pkg/app"
	"github.com/mikeboe/deep-research/pkg/config"
	"github.com/mikeboe/deep-research/pkg/research"
)

var (
	runID       string
	modeFlag    string
	maxLoops    int
	reportPages int
	outputPath  string
)

func main() {
	cfg := config.Load()
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})
	slog.SetDefault(slog.New(handler))

	rootCmd := &cobra.Command{
		Use:   "deep-research [query|file]",
		Short: "A checkpointed deep research agent",
		Long: `deep-research plans a research query, searches the web in parallel rounds,
reviews the gathered learnings and writes a cited markdown report.
Every step is checkpointed, so an interrupted run continues with --run-id.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, cfg, slog.Default())
			if err != nil {
				return err
			}
			defer a.Close()

			in := bufio.NewReader(os.Stdin)
			h, err := startOrResume(ctx, cmd, a.Engine, args, in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Run %s (next: %s)\n", h.RunID, h.Next)
			if h.Done() {
				return writeReport(cmd.OutOrStdout(), h.State.FinalReport)
			}

			report, err := drive(ctx, a.Engine, h.RunID, in, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			return writeReport(cmd.OutOrStdout(), report)
		},
	}
	rootCmd.Flags().StringVar(&runID, "run-id", "", "Resume this run, or start a new run under this ID")
	rootCmd.Flags().StringVarP(&modeFlag, "mode", "m", cfg.FeedbackMode, "Feedback mode: human or auto")
	rootCmd.Flags().IntVarP(&maxLoops, "max-loops", "l", cfg.MaxFeedbackLoops, "Maximum feedback rounds in auto mode")
	rootCmd.Flags().IntVarP(&reportPages, "report-pages", "p", cfg.ReportPages, "Requested report length in pages")
	rootCmd.PersistentFlags().StringVarP(&outputPath, "output", "o", "", "Write the report to this file instead of stdout")

	rootCmd.AddCommand(reportCmd(cfg), statusCmd(cfg), runsCmd(cfg))

	if err := rootCmd.Execute(); err != nil {
		slog.Error("Command execution failed", "error", err)
		os.Exit(1)
	}
}

func startOrResume(ctx context.Context, cmd *cobra.Command, engine *research.Engine, args []string, in *bufio.Reader) (*research.RunHandle, error) {
	if runID != "" {
		h, err := engine.Resume(ctx, runID)
		if err == nil {
			return h, nil
		}
		if !errors.Is(err, research.ErrNoCheckpoint) {
			return nil, err
		}
	}

	query, err := readQuery(cmd, args, in)
	if err != nil {
		return nil, err
	}
	mode, err := research.ParseMode(modeFlag)
	if err != nil {
		return nil, err
	}
	return engine.Start(ctx, runID, query, mode, maxLoops, research.WithReportPages(reportPages))
}

// readQuery takes the query from the argument, the file it names, or stdin.
func readQuery(cmd *cobra.Command, args []string, in *bufio.Reader) (string, error) {
	if len(args) == 1 {
		if data, err := os.ReadFile(args[0]); err == nil {
			return strings.TrimSpace(string(data)), nil
		}
		return args[0], nil
	}
	fmt.Fprint(cmd.ErrOrStderr(), "Enter research query: ")
	line, err := in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// drive runs until the report is written, asking for feedback whenever the
// run pauses for review.
func drive(ctx context.Context, engine *research.Engine, id string, in *bufio.Reader, w io.Writer) (string, error) {
	out, err := engine.Run(ctx, id)
	for err == nil && out.Paused() {
		printLearnings(w, out.State)
		fmt.Fprint(w, "\nFeedback (empty line to write the report): ")
		line, rerr := in.ReadString('\n')
		if rerr != nil && !errors.Is(rerr, io.EOF) {
			return "", rerr
		}
		if _, err = engine.AdvanceWithFeedback(ctx, id, strings.TrimSpace(line)); err != nil {
			break
		}
		out, err = engine.Run(ctx, id)
	}
	if err != nil {
		return "", err
	}
	return out.State.FinalReport, nil
}

func printLearnings(w io.Writer, s research.RunState) {
	fmt.Fprintf(w, "\nRound %d learnings:\n", s.Round)
	for _, r := range s.Results {
		if r.Failed() {
			fmt.Fprintf(w, "  - %s: failed (%s)\n", r.Query, r.Error)
			continue
		}
		for _, l := range r.Learnings {
			fmt.Fprintf(w, "  - %s\n", l)
		}
	}
}

func writeReport(stdout io.Writer, report string) error {
	if outputPath == "" {
		_, err := fmt.Fprintln(stdout, report)
		return err
	}
	if err := os.WriteFile(outputPath, []byte(report), 0o644); err != nil {
		return err
	}
	slog.Info("Report written", "path", outputPath)
	return nil
}

func reportCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "report <run-id>",
		Short: "Print the final report of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(cmd.Context(), cfg, slog.Default())
			if err != nil {
				return err
			}
			defer a.Close()

			report, ok, err := a.Engine.GetReport(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("run %s has no report yet", args[0])
			}
			return writeReport(cmd.OutOrStdout(), report)
		},
	}
}

func statusCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "status <run-id>",
		Short: "Show where a run stands",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(cmd.Context(), cfg, slog.Default())
			if err != nil {
				return err
			}
			defer a.Close()

			h, err := a.Engine.Resume(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Run:        %s\n", h.RunID)
			fmt.Fprintf(w, "Query:      %s\n", h.State.Query)
			fmt.Fprintf(w, "Mode:       %s\n", h.State.Mode)
			fmt.Fprintf(w, "Next:       %s (checkpoint %d)\n", h.Next, h.Seq)
			fmt.Fprintf(w, "Rounds:     %d\n", h.State.Round)
			fmt.Fprintf(w, "Loops:      %d/%d\n", h.State.LoopCount, h.State.MaxLoops)
			fmt.Fprintf(w, "Learnings:  %d\n", len(h.State.Learnings()))
			fmt.Fprintf(w, "Sources:    %d\n", len(h.State.Sources()))
			return nil
		},
	}
}

func runsCmd(cfg *config.Config) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(cmd.Context(), cfg, slog.Default())
			if err != nil {
				return err
			}
			defer a.Close()

			runs, err := a.Engine.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN\tNEXT\tROUND\tUPDATED\tQUERY")
			for _, h := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", h.RunID, h.Next, h.State.Round, h.State.UpdatedAt.Format("2006-01-02 15:04"), h.State.Query)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs")
	return cmd
}
