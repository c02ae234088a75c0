package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/daviddao/mailreport/internal/db"
	"github.com/daviddao/mailreport/internal/display"
	"github.com/daviddao/mailreport/internal/jobs"
	"github.com/daviddao/mailreport/internal/tasks"
)

const pollInterval = 250 * time.Millisecond

var (
	jobAccount     string
	jobCredentials string
	jobAfter       string
	jobBefore      string
	jobFrom        string
	jobLabels      []string
	jobMaxResults  int
	jobAllMail     bool
	jobLimit       int
	jobNoProgress  bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Fetch new emails from Gmail into the local database",
	Long: `Queue one ingestion task per account and follow it to completion.

Without --after, ingestion resumes from the newest stored email for the
account, or reaches back 72h when nothing is stored yet. Messages already
in the database are skipped, so re-running after a failure only fetches
what is missing.`,
	Example: `  mr ingest
  mr ingest --account user@example.com --after 2025-01-01
  mr ingest --from boss@example.com --label IMPORTANT --all-mail`,
	RunE: func(cmd *cobra.Command, args []string) error {
		root := db.FindProjectRoot()
		if root == "" {
			return fmt.Errorf("could not find project root (no .git directory)")
		}
		accounts := resolveAccounts(root, jobAccount)
		if len(accounts) == 0 {
			return fmt.Errorf("no accounts found, add account directories with credentials.json to the project root")
		}
		return runTasks(cmd, func(ctx context.Context, e *engine, draw func([]tasks.Record)) ([]string, error) {
			return queueIngest(e, accounts)
		})
	},
}

var summarizeCmd = &cobra.Command{
	Use:   "summarize",
	Short: "Summarize stored emails that have no summary yet",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTasks(cmd, func(ctx context.Context, e *engine, draw func([]tasks.Record)) ([]string, error) {
			return queueOne(e, tasks.TypeSummarizeEmails, derivedParams())
		})
	},
}

var embedCmd = &cobra.Command{
	Use:   "embed",
	Short: "Embed stored emails that have no embedding for the configured model",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTasks(cmd, func(ctx context.Context, e *engine, draw func([]tasks.Record)) ([]string, error) {
			return queueOne(e, tasks.TypeGenerateEmbeddings, derivedParams())
		})
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Ingest, then summarize and embed, in one go",
	RunE: func(cmd *cobra.Command, args []string) error {
		root := db.FindProjectRoot()
		if root == "" {
			return fmt.Errorf("could not find project root (no .git directory)")
		}
		accounts := resolveAccounts(root, jobAccount)
		if len(accounts) == 0 {
			return fmt.Errorf("no accounts found, add account directories with credentials.json to the project root")
		}

		return runTasks(cmd, func(ctx context.Context, e *engine, draw func([]tasks.Record)) ([]string, error) {
			ids, err := queueIngest(e, accounts)
			if err != nil {
				return nil, err
			}
			// Derived data needs the mail in place first.
			e.watch(ctx, ids, pollInterval, draw)
			if err := ctx.Err(); err != nil {
				return ids, err
			}
			for _, account := range accounts {
				if r, err := e.sched.StatusForClient(account); err == nil && r.IsFailed() {
					logger.Warn("ingestion failed, continuing with stored mail", "account", account, "error", r.ErrorMessage)
				}
			}

			for _, t := range []tasks.Type{tasks.TypeSummarizeEmails, tasks.TypeGenerateEmbeddings} {
				more, err := queueOne(e, t, derivedParams())
				if err != nil {
					return ids, err
				}
				ids = append(ids, more...)
			}
			return ids, nil
		})
	},
}

func queueIngest(e *engine, accounts []string) ([]string, error) {
	var ids []string
	for _, account := range accounts {
		params := tasks.Params{
			tasks.ParamClientID: account,
			jobs.ParamAccount:   account,
			jobs.ParamAfter:     jobAfter,
			jobs.ParamBefore:    jobBefore,
			jobs.ParamFrom:      jobFrom,
			jobs.ParamLabels:    strings.Join(jobLabels, ","),
			jobs.ParamAllMail:   strconv.FormatBool(jobAllMail),
		}
		if jobMaxResults > 0 {
			params[jobs.ParamMaxResults] = strconv.Itoa(jobMaxResults)
		}
		id, err := e.queue(tasks.TypeIngestEmails, params)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func queueOne(e *engine, t tasks.Type, params tasks.Params) ([]string, error) {
	id, err := e.queue(t, params)
	if err != nil {
		return nil, err
	}
	return []string{id}, nil
}

func derivedParams() tasks.Params {
	params := tasks.Params{
		tasks.ParamClientID: jobAccount,
		jobs.ParamAccount:   jobAccount,
	}
	if jobLimit > 0 {
		params[jobs.ParamLimit] = strconv.Itoa(jobLimit)
	}
	return params
}

// runTasks starts an engine, queues through start and follows every
// task until it is terminal. Tasks live in this process, so the command
// returns only once they have finished; Ctrl-C cancels them.
func runTasks(cmd *cobra.Command, start func(context.Context, *engine, func([]tasks.Record)) ([]string, error)) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	e, err := newEngine(jobCredentials)
	if err != nil {
		return err
	}

	draw := progressPrinter(cmd)
	ids, queueErr := start(ctx, e, draw)
	recs := e.watch(ctx, ids, pollInterval, draw)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if ctx.Err() != nil {
		// Interrupted: cancel running bodies instead of waiting.
		cancel()
	}
	if err := e.close(shutdownCtx); err != nil && ctx.Err() == nil {
		logger.Warn("tasks still running at shutdown", "error", err)
	}
	if len(ids) > 0 {
		recs = e.watch(context.Background(), ids, pollInterval, nil)
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(recs); err != nil {
			return err
		}
	} else if !quietFlag {
		fmt.Fprintln(cmd.OutOrStdout())
		for _, r := range recs {
			fmt.Fprintln(cmd.OutOrStdout(), display.TaskLine(r))
		}
	}

	if queueErr != nil {
		return queueErr
	}
	var failed int
	for _, r := range recs {
		if r.IsFailed() {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d task(s) failed", failed, len(recs))
	}
	return ctx.Err()
}

// progressPrinter prints a task line whenever a task's status or
// percentage changes.
func progressPrinter(cmd *cobra.Command) func([]tasks.Record) {
	if jsonOutput || quietFlag || jobNoProgress {
		return nil
	}
	seen := make(map[string]string)
	return func(recs []tasks.Record) {
		for _, r := range recs {
			key := fmt.Sprintf("%s/%d", r.Status, r.ProgressPercent)
			if seen[r.ID] == key {
				continue
			}
			seen[r.ID] = key
			fmt.Fprintln(cmd.ErrOrStderr(), display.TaskLine(r))
		}
	}
}

func init() {
	for _, c := range []*cobra.Command{ingestCmd, summarizeCmd, embedCmd, runCmd} {
		c.Flags().StringVar(&jobAccount, "account", "", "Limit to one account (default: all accounts)")
		c.Flags().BoolVar(&jobNoProgress, "no-progress", false, "Only print the final task lines")
		rootCmd.AddCommand(c)
	}
	for _, c := range []*cobra.Command{ingestCmd, runCmd} {
		c.Flags().StringVar(&jobCredentials, "credentials", "", "Path to credentials.json")
		c.Flags().StringVar(&jobAfter, "after", "", "Only mail after this date (YYYY-MM-DD or RFC 3339)")
		c.Flags().StringVar(&jobBefore, "before", "", "Only mail before this date")
		c.Flags().StringVar(&jobFrom, "from", "", "Only mail from this sender")
		c.Flags().StringSliceVar(&jobLabels, "label", nil, "Only mail with this label (repeatable)")
		c.Flags().IntVarP(&jobMaxResults, "max-results", "n", 0, "Maximum new messages to fetch per account per run (default from config)")
		c.Flags().BoolVar(&jobAllMail, "all-mail", false, "Include mail outside the inbox")
	}
	for _, c := range []*cobra.Command{summarizeCmd, embedCmd, runCmd} {
		c.Flags().IntVar(&jobLimit, "limit", 0, "Process at most this many emails (default: all pending)")
	}
}
